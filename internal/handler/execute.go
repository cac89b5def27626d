package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/python-sandbox/internal/model"
	"github.com/sakif/python-sandbox/internal/service"
)

// ExecutionService is what the handlers need from the service layer.
// *service.ExecutionService implements it; tests pass a mock.
type ExecutionService interface {
	Execute(ctx context.Context, in service.ExecuteInput) (*service.ToolResult, error)
	History(ctx context.Context, limit int) ([]model.Execution, error)
	Get(ctx context.Context, id string) (*model.Execution, error)
}

var _ ExecutionService = (*service.ExecutionService)(nil)

// ExecuteInput is the python_execute argument object, shared by the MCP tool
// and the JSON endpoint. The jsonschema tags become the tool's input schema.
type ExecuteInput struct {
	Code         string         `json:"code" jsonschema:"Python source to run. A trailing expression is returned as the result."`
	Context      map[string]any `json:"context,omitempty" jsonschema:"Variables made visible to the code, by name."`
	Timeout      *int           `json:"timeout,omitempty" jsonschema:"Timeout in milliseconds, a positive integer. Defaults to 60000."`
	Requirements []string       `json:"requirements,omitempty" jsonschema:"Extra packages to install before running, merged with any PEP 723 dependencies block in the code."`
}

func (in ExecuteInput) toService() service.ExecuteInput {
	return service.ExecuteInput{
		Code:         in.Code,
		Context:      in.Context,
		Timeout:      in.Timeout,
		Requirements: in.Requirements,
	}
}

// TextContent mirrors an MCP text content block.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExecuteResponse mirrors an MCP CallToolResult, so HTTP clients can parse
// both surfaces the same way.
type ExecuteResponse struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ExecuteHandler serves python_execute over plain HTTP.
type ExecuteHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(svc ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleExecute runs the posted code.
//
// HTTP: POST /api/execute
// REQUEST BODY: {"code": "print('hi')", "timeout": 5000}
//
// Execution failures are still 200: the outcome is in the body, flagged with
// "isError". Only a request that can't be run at all (bad JSON, failed
// validation) gets a 4xx.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var in ExecuteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_json",
			Message: "request body must be a JSON object",
		})
		return
	}

	result, err := h.svc.Execute(r.Context(), in.toService())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		Content: []TextContent{{Type: "text", Text: result.Text}},
		IsError: result.IsError,
	})
}
