// Package executor runs Python code inside isolated execution contexts.
//
// An isolated context is a Python interpreter we do not share memory with:
// a child process or a container. We talk to it through a Channel that carries
// one JSON request in and one JSON response out, matched by request ID.
//
// The pieces, from the bottom up:
//
//	Channel   a live connection to one isolated interpreter
//	Launcher  creates Channels (process.Launcher, docker.Launcher)
//	Worker    owns at most one Channel, enforces timeouts, replaces it on failure
//	Pool      a fixed set of Workers handed out one caller at a time
package executor

import (
	"context"
	"time"
)

// ExecutionRequest is a self-contained request to run code once.
type ExecutionRequest struct {
	ID           string         `json:"id"`
	Code         string         `json:"code"`
	Context      map[string]any `json:"context"`
	Requirements []string       `json:"requirements"`
	Timeout      time.Duration  `json:"-"`
}

// wireRequest is the JSON line sent to the bootstrap program.
type wireRequest struct {
	ExecutionRequest
	TimeoutMS int64 `json:"timeout_ms"`
}

// ExecutionResponse is the outcome of one request.
//
// OK selects the variant: on success Stdout, Stderr and (optionally) Result
// are set; on failure Error is set and Stderr may carry whatever was captured
// before the failure.
type ExecutionResponse struct {
	ID     string  `json:"id"`
	OK     bool    `json:"ok"`
	Stdout string  `json:"stdout,omitempty"`
	Stderr string  `json:"stderr,omitempty"`
	Result *string `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Success builds a successful response.
func Success(id, stdout, stderr string, result *string) *ExecutionResponse {
	return &ExecutionResponse{ID: id, OK: true, Stdout: stdout, Stderr: stderr, Result: result}
}

// Failure builds a failed response.
func Failure(id, message, stderr string) *ExecutionResponse {
	return &ExecutionResponse{ID: id, OK: false, Error: message, Stderr: stderr}
}

// Message is one event read from a Channel: either a response or a
// channel-level error (the interpreter died, the stream broke).
type Message struct {
	Response *ExecutionResponse
	Err      error
}

// Channel is a live connection to one isolated interpreter.
//
// Messages is closed when the interpreter goes away. Terminate is forceful
// and idempotent; in-flight work is abandoned.
type Channel interface {
	Post(req ExecutionRequest) error
	Messages() <-chan Message
	Terminate() error
}

// Launcher creates isolated interpreters. Launch may be slow (interpreter
// start-up, container creation) and should honour ctx.
type Launcher interface {
	Launch(ctx context.Context) (Channel, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Channel, error)

// Launch calls f(ctx).
func (f LauncherFunc) Launch(ctx context.Context) (Channel, error) {
	return f(ctx)
}

// Runner runs a single request to completion. A returned error means the
// request could not be settled at all (launch failure, caller cancellation);
// execution problems are reported as a Failure response instead.
type Runner interface {
	Run(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error)
}
