// Package bootstrap holds the Python program every isolated interpreter runs
// and decides where that interpreter installs packages from.
package bootstrap

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"
)

// Source is the request loop executed with `python -u -c Source`.
//
//go:embed bootstrap.py
var Source string

const (
	// DefaultIndexURL is used when no override and no local wheelhouse exist.
	DefaultIndexURL = "https://pypi.org/simple/"

	// DefaultWheelhouse is the packaged-local directory probed before falling
	// back to the remote index.
	DefaultWheelhouse = "wheels"

	EnvIndexURL   = "PYEXEC_INDEX_URL"
	EnvWheelhouse = "PYEXEC_WHEELHOUSE"

	// Variables read by bootstrap.py.
	EnvPipArgs = "PYEXEC_PIP_ARGS"
	EnvSiteDir = "PYEXEC_SITE_DIR"
)

// Index says where pip looks for packages. Exactly one of URL or Wheelhouse
// is set.
type Index struct {
	URL        string
	Wheelhouse string
}

// ResolveIndex picks the package source in order of preference:
//  1. the PYEXEC_INDEX_URL override
//  2. a local wheelhouse directory (PYEXEC_WHEELHOUSE, default ./wheels) if it exists
//  3. the public PyPI index
func ResolveIndex() Index {
	return resolveIndex(os.Getenv, dirExists)
}

// SelectIndex applies the same order to explicit settings (from a config
// file, say) instead of the environment. Empty arguments behave like unset
// variables.
func SelectIndex(indexURL, wheelhouse string) Index {
	getenv := func(key string) string {
		switch key {
		case EnvIndexURL:
			return indexURL
		case EnvWheelhouse:
			return wheelhouse
		}
		return ""
	}
	return resolveIndex(getenv, dirExists)
}

func resolveIndex(getenv func(string) string, exists func(string) bool) Index {
	if v := strings.TrimSpace(getenv(EnvIndexURL)); v != "" {
		return Index{URL: v}
	}

	dir := strings.TrimSpace(getenv(EnvWheelhouse))
	if dir == "" {
		dir = DefaultWheelhouse
	}
	if exists(dir) {
		return Index{Wheelhouse: dir}
	}

	return Index{URL: DefaultIndexURL}
}

// PipArgs returns the pip flags selecting this index. wheelhouse overrides
// the directory path as seen from inside the interpreter (containers mount
// it elsewhere); pass "" to use Index.Wheelhouse as is.
func (i Index) PipArgs(wheelhouse string) []string {
	if i.Wheelhouse == "" {
		return []string{"--index-url", i.URL}
	}
	if wheelhouse == "" {
		wheelhouse = i.Wheelhouse
	}
	return []string{"--no-index", "--find-links", wheelhouse}
}

// Env returns the environment entries bootstrap.py reads.
func Env(pipArgs []string, siteDir string) []string {
	encoded, _ := json.Marshal(pipArgs)
	return []string{
		EnvPipArgs + "=" + string(encoded),
		EnvSiteDir + "=" + siteDir,
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
