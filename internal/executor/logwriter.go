package executor

import (
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LogWriter forwards interpreter-level stderr to a logger line by line.
// User output never arrives here; the bootstrap captures it per request.
type LogWriter struct {
	logger *slog.Logger
	msg    string

	mu  sync.Mutex
	buf strings.Builder
}

var _ io.Writer = (*LogWriter)(nil)

// NewLogWriter logs each complete line at warn level under msg.
func NewLogWriter(logger *slog.Logger, msg string) *LogWriter {
	return &LogWriter{logger: logger, msg: msg}
}

func (w *LogWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(b)
	for {
		s := w.buf.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		w.logger.Warn(w.msg, slog.String("line", s[:i]))
		w.buf.Reset()
		w.buf.WriteString(s[i+1:])
	}
	return len(b), nil
}
