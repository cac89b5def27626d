package process_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
	"github.com/sakif/python-sandbox/internal/executor/process"
)

// newWorker returns a Worker backed by a real python3, or skips the test
// when none is available.
func newWorker(t *testing.T) *executor.Worker {
	t.Helper()
	return newWorkerWithIndex(t, bootstrap.Index{URL: bootstrap.DefaultIndexURL})
}

func newWorkerWithIndex(t *testing.T, index bootstrap.Index) *executor.Worker {
	t.Helper()
	if os.Getenv("CI") != "" {
		t.Skip("Skipping python process test in CI environment")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := process.Config{
		Python: "python3",
		Index:  index,
	}
	launcher, err := process.New(cfg, logger)
	require.NoError(t, err)

	w := executor.NewWorker("process", launcher, logger)
	t.Cleanup(w.Close)
	return w
}

func run(t *testing.T, w *executor.Worker, id, code string, bindings map[string]any, timeout time.Duration) *executor.ExecutionResponse {
	t.Helper()
	resp, err := w.Run(context.Background(), executor.ExecutionRequest{
		ID:      id,
		Code:    code,
		Context: bindings,
		Timeout: timeout,
	})
	require.NoError(t, err)
	require.Equal(t, id, resp.ID)
	return resp
}

func TestNew_MissingInterpreter(t *testing.T) {
	_, err := process.New(process.Config{Python: "definitely-not-a-python"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestProcessWorker(t *testing.T) {
	w := newWorker(t)

	t.Run("stdout is captured", func(t *testing.T) {
		resp := run(t, w, "hello", `print("Hello from test sandbox!")`, nil, 10*time.Second)
		assert.True(t, resp.OK)
		assert.Equal(t, "Hello from test sandbox!\n", resp.Stdout)
		assert.Nil(t, resp.Result)
	})

	t.Run("final expression becomes the result", func(t *testing.T) {
		resp := run(t, w, "expr", "x = 40\nx + 2", nil, 10*time.Second)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "42", *resp.Result)
	})

	t.Run("string result passes through", func(t *testing.T) {
		resp := run(t, w, "str", `"abc"`, nil, 10*time.Second)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "abc", *resp.Result)
	})

	t.Run("context bindings are globals", func(t *testing.T) {
		resp := run(t, w, "ctx", "{'sum': a + b, 'name': name}", map[string]any{"a": 2, "b": 3, "name": "py"}, 10*time.Second)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Result)
		assert.JSONEq(t, `{"sum": 5, "name": "py"}`, *resp.Result)
	})

	t.Run("stderr is captured", func(t *testing.T) {
		resp := run(t, w, "stderr", "import sys\nprint('warn', file=sys.stderr)", nil, 10*time.Second)
		assert.True(t, resp.OK)
		assert.Equal(t, "warn\n", resp.Stderr)
	})

	t.Run("exceptions become failures", func(t *testing.T) {
		resp := run(t, w, "div", "1 / 0", nil, 10*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "ZeroDivisionError")
		assert.Contains(t, resp.Stderr, "Traceback")
	})

	t.Run("syntax error", func(t *testing.T) {
		resp := run(t, w, "syntax", `print("Missing parenthesis"`, nil, 10*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "SyntaxError")
	})

	t.Run("sys.exit does not end the loop", func(t *testing.T) {
		resp := run(t, w, "exit", "import sys\nsys.exit(3)", nil, 10*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "SystemExit")
	})

	t.Run("top level await", func(t *testing.T) {
		resp := run(t, w, "await", "import asyncio\nawait asyncio.sleep(0)\n'done'", nil, 10*time.Second)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "done", *resp.Result)
	})

	// Everything above shared one interpreter.
	assert.Equal(t, int64(1), w.Launches())

	t.Run("infinite loop timeout", func(t *testing.T) {
		resp := run(t, w, "loop", "while True: pass", nil, 500*time.Millisecond)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "500ms")

		resp = run(t, w, "after", "print('fresh')", nil, 10*time.Second)
		assert.True(t, resp.OK)
		assert.Equal(t, "fresh\n", resp.Stdout)
		assert.Equal(t, int64(2), w.Launches())
	})

	t.Run("multiline logic", func(t *testing.T) {
		code := strings.Join([]string{
			"def fib(n):",
			"    if n <= 1: return n",
			"    return fib(n-1) + fib(n-2)",
			"print(fib(5))",
		}, "\n")
		resp := run(t, w, "fib", code, nil, 10*time.Second)
		assert.True(t, resp.OK)
		assert.Contains(t, resp.Stdout, "5")
	})
}

func TestProcessWorker_TimeoutKillsSpawnedChildren(t *testing.T) {
	w := newWorker(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	// The child holds the interpreter's stderr pipe open well past the timeout.
	code := "import subprocess, time\nsubprocess.Popen(['sleep', '30'])\ntime.sleep(60)"

	start := time.Now()
	resp := run(t, w, "spawn", code, nil, 500*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, resp.OK)
	assert.True(t, executor.IsTimeout(resp))
	assert.Less(t, elapsed, 3*time.Second)

	resp = run(t, w, "after-spawn", "print('ok')", nil, 10*time.Second)
	assert.True(t, resp.OK)
	assert.Equal(t, "ok\n", resp.Stdout)
}

func TestProcessWorker_ImplicitImports(t *testing.T) {
	// An empty wheelhouse keeps pip offline and fast.
	w := newWorkerWithIndex(t, bootstrap.Index{Wheelhouse: t.TempDir()})

	t.Run("standard library imports install nothing", func(t *testing.T) {
		resp := run(t, w, "stdlib", "import json, os.path\nfrom collections import abc\njson.dumps([1])", nil, 30*time.Second)
		assert.True(t, resp.OK)
		assert.NotContains(t, resp.Stderr, "failed to install")
		require.NotNil(t, resp.Result)
		assert.Equal(t, "[1]", *resp.Result)
	})

	t.Run("missing import is installed best effort", func(t *testing.T) {
		resp := run(t, w, "missing", "import pysandbox_no_such_module", nil, 60*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "ModuleNotFoundError")
		assert.Contains(t, resp.Stderr, "failed to install pysandbox_no_such_module")
	})

	t.Run("relative imports are ignored", func(t *testing.T) {
		resp := run(t, w, "relative", "try:\n    from . import sibling\nexcept ImportError:\n    pass", nil, 30*time.Second)
		assert.True(t, resp.OK)
		assert.NotContains(t, resp.Stderr, "failed to install")
	})
}
