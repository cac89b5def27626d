package docker_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
	"github.com/sakif/python-sandbox/internal/executor/docker"
)

func TestDockerLauncher(t *testing.T) {
	// Skip in CI environments if docker is not available
	if os.Getenv("CI") != "" {
		t.Skip("Skipping docker test in CI environment")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := docker.DefaultConfig()
	cfg.Index = bootstrap.Index{URL: bootstrap.DefaultIndexURL}

	launcher, err := docker.New(cfg, logger)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer launcher.Close()

	w := executor.NewWorker("docker", launcher, logger)
	defer w.Close()

	run := func(id, code string, timeout time.Duration) *executor.ExecutionResponse {
		resp, err := w.Run(context.Background(), executor.ExecutionRequest{ID: id, Code: code, Timeout: timeout})
		require.NoError(t, err)
		require.Equal(t, id, resp.ID)
		return resp
	}

	t.Run("successful execution", func(t *testing.T) {
		resp := run("hello", `print("Hello from test sandbox!")`, 60*time.Second)
		assert.True(t, resp.OK)
		assert.Contains(t, resp.Stdout, "Hello from test sandbox!")
		assert.Empty(t, resp.Stderr)
	})

	t.Run("syntax error", func(t *testing.T) {
		resp := run("syntax", `print("Missing parenthesis"`, 30*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "SyntaxError")
	})

	t.Run("read-only filesystem", func(t *testing.T) {
		resp := run("readonly", `open("/etc/sandbox", "w")`, 30*time.Second)
		assert.False(t, resp.OK)
	})

	t.Run("infinite loop timeout", func(t *testing.T) {
		resp := run("loop", `while True: pass`, 2*time.Second)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Error, "2000ms")

		resp = run("after", `print("fresh container")`, 60*time.Second)
		assert.True(t, resp.OK)
		assert.Equal(t, int64(2), w.Launches())
	})
}
