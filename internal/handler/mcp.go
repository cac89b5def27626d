package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sakif/python-sandbox/internal/apperror"
)

// ToolName is the name clients call.
const ToolName = "python_execute"

const toolDescription = `Execute Python code in an isolated sandbox and return its output.

Standard output is returned as-is. If the last statement is an expression, its value follows a line "__RESULT__:". Anything written to standard error follows a line "__STDERR__:".

Packages can be requested with "requirements" or declared in the code with a PEP 723 block:

# /// script
# dependencies = ["numpy"]
# ///`

// NewMCPServer builds the MCP server exposing python_execute.
func NewMCPServer(svc ExecutionService, version string, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "python-sandbox", Version: version},
		nil,
	)

	tool := &toolHandler{svc: svc, logger: logger}
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolName,
		Title:       "Execute Python in a sandbox",
		Description: toolDescription,
	}, tool.handle)

	return server
}

type toolHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// handle adapts ExecutionService.Execute to the MCP tool signature.
// Every outcome, including invalid input, is a tool result: the model on the
// other side reads the text and can correct itself.
func (h *toolHandler) handle(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, any, error) {
	result, err := h.svc.Execute(ctx, in.toService())
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			h.logger.Error("python_execute failed", slog.String("error", err.Error()))
		}
		return textResult(err.Error(), true), nil, nil
	}
	return textResult(result.Text, result.IsError), nil, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
