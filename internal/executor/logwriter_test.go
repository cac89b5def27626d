package executor_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/python-sandbox/internal/executor"
)

func TestLogWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := executor.NewLogWriter(logger, "python stderr")

	n, err := w.Write([]byte("first\nsec"))
	assert.NoError(t, err)
	assert.Equal(t, 9, n)
	_, _ = w.Write([]byte("ond\npartial"))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, `msg="python stderr"`))
	assert.Contains(t, out, "line=first")
	assert.Contains(t, out, "line=second")
	assert.NotContains(t, out, "partial")
}
