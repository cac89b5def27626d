// Package deps discovers the packages a Python script declares it needs.
//
// Scripts declare dependencies with a PEP 723 inline metadata block:
//
//	# /// script
//	# dependencies = [
//	#   "requests<3",
//	#   "rich",
//	# ]
//	# ///
//
// Only the dependencies list is read. Everything else in the block
// (requires-python, tool tables) is ignored.
package deps

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// blockPattern matches the "# /// script" ... "# ///" fence. Both markers
	// must sit at the start of a line.
	blockPattern = regexp.MustCompile(`(?m)^#[ \t]*///[ \t]*script[ \t\r]*$([\s\S]*?)^#[ \t]*///[ \t\r]*$`)

	dependenciesPattern = regexp.MustCompile(`dependencies\s*=\s*\[([\s\S]*?)\]`)

	// contentPrefix is the comment prefix every line inside the block carries.
	contentPrefix = regexp.MustCompile(`(?m)^#[ \t]?`)
	lineComment   = regexp.MustCompile(`#[^\n]*`)
	whitespace    = regexp.MustCompile(`\s`)
)

// ExtractDeclared returns the requirements listed in the script's inline
// metadata block, in declaration order and without duplicates.
//
// A missing block, a block without a dependencies key, or a list that does
// not parse all yield an empty result. Malformed metadata is never an error:
// the script still runs, just without the extra packages.
func ExtractDeclared(code string) []string {
	block := blockPattern.FindStringSubmatch(code)
	if block == nil {
		return nil
	}

	// Remove the per-line "# " prefix first so that the comment stripping
	// below only removes real TOML comments, not the list entries themselves.
	toml := contentPrefix.ReplaceAllString(block[1], "")

	list := dependenciesPattern.FindStringSubmatch(toml)
	if list == nil {
		return nil
	}

	normalized := lineComment.ReplaceAllString(list[1], "")
	normalized = whitespace.ReplaceAllString(normalized, "")
	normalized = strings.ReplaceAll(normalized, "'", `"`)
	// TOML arrays may end with a trailing comma; JSON arrays may not.
	normalized = strings.TrimSuffix(normalized, ",")

	var parsed []any
	if err := json.Unmarshal([]byte("["+normalized+"]"), &parsed); err != nil {
		return nil
	}

	var entries []string
	for _, item := range parsed {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		entries = append(entries, s)
	}
	return dedupe(entries)
}

// Merge combines the requirements declared in code with extra ones supplied
// by the caller. Declared requirements come first; later duplicates (exact
// string match) and blank entries are dropped.
func Merge(code string, extra []string) []string {
	declared := ExtractDeclared(code)
	all := make([]string, 0, len(declared)+len(extra))
	all = append(all, declared...)
	for _, s := range extra {
		if strings.TrimSpace(s) == "" {
			continue
		}
		all = append(all, s)
	}
	return dedupe(all)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
