package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

type ErrorCode string

const (
	CodeNotFound     ErrorCode = "not_found"
	CodeInvalid      ErrorCode = "invalid"
	CodeDateConflict ErrorCode = "date_conflict"
	CodeInternal     ErrorCode = "internal"
)

// ToolError is the JSON body of a failed tool call.
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	TaskID  string         `json:"task_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e ToolError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e ToolError) Result() *mcp.CallToolResult {
	data, _ := json.Marshal(e)
	return mcp.NewToolResultError(string(data))
}

func invalid(msg string) *mcp.CallToolResult {
	return ToolError{Code: CodeInvalid, Message: msg}.Result()
}

func taskNotFound(id string) *mcp.CallToolResult {
	return ToolError{Code: CodeNotFound, Message: "task not found", TaskID: id}.Result()
}

// taskError maps a session error for task id onto a tool result.
func taskError(tool, id string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, gateway.ErrNotFound):
		return taskNotFound(id)
	case errors.Is(err, task.ErrInvalidTask):
		return invalid(err.Error())
	case errors.Is(err, gateway.ErrDateConflict):
		return ToolError{Code: CodeDateConflict, Message: err.Error(), TaskID: id}.Result()
	default:
		slog.Error("tool call failed", "tool", tool, "taskId", id, "error", err)
		return ToolError{Code: CodeInternal, Message: err.Error(), Details: map[string]any{"tool": tool}}.Result()
	}
}
