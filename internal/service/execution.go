// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (MCP tool, HTTP) → parses requests, writes responses
//	Service (this package)   → validates, builds the request, formats the outcome
//	Executor / Repository    → runs code in isolation, stores history
//
// WHY A SEPARATE SERVICE LAYER?
// python_execute is reachable two ways: as an MCP tool and as a plain JSON
// endpoint. Both need the same validation, the same requirement merging and
// the same text formatting. Putting that here means the handlers only
// translate between their wire format and ExecuteInput/ToolResult.
//
// DEPENDENCY INJECTION:
// ExecutionService takes an executor.Runner (interface), NOT an
// *executor.Pool. Tests pass a single Worker with a stand-in launcher.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/python-sandbox/internal/apperror"
	"github.com/sakif/python-sandbox/internal/deps"
	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/metrics"
	"github.com/sakif/python-sandbox/internal/model"
	"github.com/sakif/python-sandbox/internal/repository"
)

// Output markers. Clients split the combined text on these lines.
const (
	ResultMarker = "__RESULT__:"
	StderrMarker = "__STDERR__:"
)

// Defaults for Limits.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxTimeout    = 10 * time.Minute
	MaxCodeLength        = 100000 // ~100KB of code
	DefaultHistoryLimit  = 20
	MaxHistoryLimit      = 100
	statusInvalid        = "invalid"
	historyWriteDeadline = 5 * time.Second
)

// Limits bound what a single call may ask for.
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxCodeLength  int
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		DefaultTimeout: DefaultTimeout,
		MaxTimeout:     DefaultMaxTimeout,
		MaxCodeLength:  MaxCodeLength,
	}
}

// ExecuteInput is one python_execute call.
//
// Timeout is in milliseconds; nil means "use the default". An explicit
// value must be positive.
type ExecuteInput struct {
	Code         string
	Context      map[string]any
	Timeout      *int
	Requirements []string
}

// ToolResult is the user-facing outcome: one text payload plus an error flag.
// Every path through Execute, apart from validation, ends in one of these.
type ToolResult struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError"`
}

// ExecutionService dispatches python_execute calls to the executor.
type ExecutionService struct {
	runner  executor.Runner
	history repository.ExecutionRepository // nil when history is disabled
	limits  Limits
	logger  *slog.Logger
}

// NewExecutionService creates a new ExecutionService. history may be nil.
// Zero fields in limits fall back to DefaultLimits.
func NewExecutionService(runner executor.Runner, history repository.ExecutionRepository, limits Limits, logger *slog.Logger) *ExecutionService {
	defaults := DefaultLimits()
	if limits.DefaultTimeout <= 0 {
		limits.DefaultTimeout = defaults.DefaultTimeout
	}
	if limits.MaxTimeout <= 0 {
		limits.MaxTimeout = defaults.MaxTimeout
	}
	if limits.MaxCodeLength <= 0 {
		limits.MaxCodeLength = defaults.MaxCodeLength
	}
	return &ExecutionService{
		runner:  runner,
		history: history,
		limits:  limits,
		logger:  logger,
	}
}

// Limits returns the effective limits.
func (s *ExecutionService) Limits() Limits { return s.limits }

// Execute validates in, runs it in an isolated context and formats the
// outcome.
//
// The returned error is only ever a validation error (*apperror.AppError).
// Execution failures, timeouts and broken contexts come back as a
// ToolResult with IsError set.
func (s *ExecutionService) Execute(ctx context.Context, in ExecuteInput) (*ToolResult, error) {
	timeout, err := s.validate(in)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(statusInvalid).Inc()
		return nil, err
	}

	bindings := in.Context
	if bindings == nil {
		bindings = map[string]any{}
	}

	req := executor.ExecutionRequest{
		ID:           xid.New().String(),
		Code:         in.Code,
		Context:      bindings,
		Requirements: deps.Merge(in.Code, in.Requirements),
		Timeout:      timeout,
	}
	metrics.RequirementsRequested.Add(float64(len(req.Requirements)))

	logger := s.logger.With(slog.String("executionID", req.ID))
	logger.Debug("dispatching execution",
		slog.Int("requirements", len(req.Requirements)),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	resp, runErr := s.runner.Run(ctx, req)
	elapsed := time.Since(start)

	var (
		result *ToolResult
		status string
		errMsg string
	)
	switch {
	case runErr != nil:
		status, errMsg = model.StatusInterrupted, runErr.Error()
		result = &ToolResult{Text: "Python execution interrupted: " + runErr.Error(), IsError: true}
	case resp.OK:
		status = model.StatusSuccess
		result = &ToolResult{Text: FormatSuccess(resp)}
	default:
		status, errMsg = model.StatusFailure, resp.Error
		if executor.IsTimeout(resp) {
			status = model.StatusTimeout
		}
		result = &ToolResult{Text: FormatFailure(resp), IsError: true}
	}

	metrics.ExecutionsTotal.WithLabelValues(status).Inc()
	metrics.ExecutionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	logger.Info("execution finished",
		slog.String("status", status),
		slog.Duration("duration", elapsed),
	)

	s.record(ctx, &model.Execution{
		ID:           req.ID,
		CodeSHA256:   codeHash(in.Code),
		Requirements: req.Requirements,
		Status:       status,
		Error:        errMsg,
		Duration:     elapsed,
		CreatedAt:    start,
	})

	return result, nil
}

// History lists recent execution records, newest first. With history
// disabled it returns an empty list.
func (s *ExecutionService) History(ctx context.Context, limit int) ([]model.Execution, error) {
	if s.history == nil {
		return []model.Execution{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	executions, err := s.history.List(ctx, repository.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("service: listing executions: %w", err)
	}
	return executions, nil
}

// Get returns a single execution record.
func (s *ExecutionService) Get(ctx context.Context, id string) (*model.Execution, error) {
	if s.history == nil {
		return nil, apperror.Unavailable("execution history")
	}
	return s.history.GetByID(ctx, id)
}

func (s *ExecutionService) validate(in ExecuteInput) (time.Duration, error) {
	if strings.TrimSpace(in.Code) == "" {
		return 0, apperror.ValidationFailed("code", "code is required")
	}
	if len(in.Code) > s.limits.MaxCodeLength {
		return 0, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be at most %d bytes", s.limits.MaxCodeLength))
	}
	if in.Timeout == nil {
		return s.limits.DefaultTimeout, nil
	}

	ms := *in.Timeout
	if ms <= 0 {
		return 0, apperror.ValidationFailed("timeout", "timeout must be a positive integer")
	}
	// Compared in milliseconds: huge values overflow time.Duration.
	if maxMS := s.limits.MaxTimeout.Milliseconds(); int64(ms) > maxMS {
		return 0, apperror.ValidationFailed("timeout",
			fmt.Sprintf("timeout must be at most %d milliseconds", maxMS))
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// record writes an execution record. Failures are logged; the caller
// already has its result.
func (s *ExecutionService) record(ctx context.Context, e *model.Execution) {
	if s.history == nil {
		return
	}

	// The caller may have gone away (that is one way to get "interrupted"),
	// but the record is still worth keeping.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteDeadline)
	defer cancel()

	if err := s.history.Create(writeCtx, e); err != nil {
		s.logger.Error("failed to record execution",
			slog.String("executionID", e.ID),
			slog.String("error", err.Error()),
		)
	}
}

// FormatSuccess joins the non-empty fragments of a successful run: stdout,
// then the result block, then the stderr block.
func FormatSuccess(resp *executor.ExecutionResponse) string {
	fragments := make([]string, 0, 3)
	if strings.TrimSpace(resp.Stdout) != "" {
		fragments = append(fragments, strings.TrimRight(resp.Stdout, " \t\r\n"))
	}
	if resp.Result != nil && strings.TrimRight(*resp.Result, " \t\r\n") != "" {
		fragments = append(fragments, ResultMarker+"\n"+*resp.Result)
	}
	if strings.TrimSpace(resp.Stderr) != "" {
		fragments = append(fragments, StderrMarker+"\n"+strings.TrimRight(resp.Stderr, " \t\r\n"))
	}
	return strings.Join(fragments, "\n")
}

// FormatFailure renders a failed run as one message, stderr on the lines
// after it.
func FormatFailure(resp *executor.ExecutionResponse) string {
	text := "Python execution failed: " + resp.Error
	if resp.Stderr != "" {
		text += "\n" + resp.Stderr
	}
	return text
}

func codeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
