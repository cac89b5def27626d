package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/python-sandbox/internal/apperror"
	"github.com/sakif/python-sandbox/internal/handler"
	"github.com/sakif/python-sandbox/internal/model"
	"github.com/sakif/python-sandbox/internal/service"
)

// MockService implements handler.ExecutionService without running anything.
type MockService struct {
	CapturedInput service.ExecuteInput
	ReturnResult  *service.ToolResult
	ReturnErr     error

	Executions []model.Execution
	HistoryErr error
	HistoryArg int
}

func (m *MockService) Execute(_ context.Context, in service.ExecuteInput) (*service.ToolResult, error) {
	m.CapturedInput = in
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnResult, nil
}

func (m *MockService) History(_ context.Context, limit int) ([]model.Execution, error) {
	m.HistoryArg = limit
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	return m.Executions, nil
}

func (m *MockService) Get(_ context.Context, id string) (*model.Execution, error) {
	for _, e := range m.Executions {
		if e.ID == id {
			found := e
			return &found, nil
		}
	}
	return nil, apperror.NotFound("execution", id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteHandler_HandleExecute(t *testing.T) {
	logger := testLogger()

	t.Run("valid execution", func(t *testing.T) {
		mockSvc := &MockService{ReturnResult: &service.ToolResult{Text: "Hello World"}}
		h := handler.NewExecuteHandler(mockSvc, logger)

		reqBody := `{"code":"print('Hello World')","context":{"n":3},"timeout":2000,"requirements":["numpy"]}`
		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(reqBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var res handler.ExecuteResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		require.Len(t, res.Content, 1)
		assert.Equal(t, "text", res.Content[0].Type)
		assert.Equal(t, "Hello World", res.Content[0].Text)
		assert.False(t, res.IsError)

		assert.Equal(t, "print('Hello World')", mockSvc.CapturedInput.Code)
		assert.Equal(t, map[string]any{"n": float64(3)}, mockSvc.CapturedInput.Context)
		require.NotNil(t, mockSvc.CapturedInput.Timeout)
		assert.Equal(t, 2000, *mockSvc.CapturedInput.Timeout)
		assert.Equal(t, []string{"numpy"}, mockSvc.CapturedInput.Requirements)
	})

	t.Run("absent and zero timeout are distinct", func(t *testing.T) {
		mockSvc := &MockService{ReturnResult: &service.ToolResult{Text: "ok"}}
		h := handler.NewExecuteHandler(mockSvc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"1"}`))
		h.HandleExecute(httptest.NewRecorder(), req)
		assert.Nil(t, mockSvc.CapturedInput.Timeout)

		req = httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"1","timeout":0}`))
		h.HandleExecute(httptest.NewRecorder(), req)
		require.NotNil(t, mockSvc.CapturedInput.Timeout)
		assert.Equal(t, 0, *mockSvc.CapturedInput.Timeout)
	})

	t.Run("execution failure is still 200", func(t *testing.T) {
		mockSvc := &MockService{ReturnResult: &service.ToolResult{
			Text:    "Python execution failed: execution timeout after 50ms",
			IsError: true,
		}}
		h := handler.NewExecuteHandler(mockSvc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"while True: pass","timeout":50}`))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t,
			`{"content":[{"type":"text","text":"Python execution failed: execution timeout after 50ms"}],"isError":true}`,
			rr.Body.String())
	})

	t.Run("invalid request body", func(t *testing.T) {
		h := handler.NewExecuteHandler(&MockService{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"invalid_json":`))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		mockSvc := &MockService{ReturnErr: apperror.ValidationFailed("code", "code is required")}
		h := handler.NewExecuteHandler(mockSvc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":""}`))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "validation_error", res.Error)
		assert.Equal(t, "code is required", res.Message)
		assert.Equal(t, "code", res.Field)
	})

	t.Run("unexpected error is hidden", func(t *testing.T) {
		mockSvc := &MockService{ReturnErr: errors.New("database is locked")}
		h := handler.NewExecuteHandler(mockSvc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"1"}`))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "database is locked")
	})
}
