package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

type dateArgs struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (a dateArgs) interval() (task.Interval, error) {
	start, err := task.ParseOptionalDate(a.Start)
	if err != nil {
		return task.Interval{}, err
	}
	end, err := task.ParseOptionalDate(a.End)
	if err != nil {
		return task.Interval{}, err
	}
	iv := task.Interval{Start: start, End: end}
	return iv, iv.Validate()
}

func (s *Server) handleTaskList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parentID := req.GetString("parent_id", "")
	t := s.session.Tree()
	if parentID == "" {
		return jsonResult(t.Tasks())
	}
	if !t.Has(parentID) {
		return taskNotFound(parentID), nil
	}
	children := t.Children(parentID)
	out := make([]task.Task, 0, len(children))
	for _, n := range children {
		out = append(out, n.Task)
	}
	return jsonResult(out)
}

func (s *Server) handleTaskGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return invalid("task_id is required"), nil
	}
	t, err := s.session.Lookup(ctx, id)
	if err != nil {
		return taskError("task_get", id, err), nil
	}
	return jsonResult(t)
}

func (s *Server) handleTaskCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Title    string `json:"title"`
		ParentID string `json:"parent_id"`
		Group    string `json:"group"`
		dateArgs
	}
	if err := req.BindArguments(&args); err != nil {
		return invalid(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	iv, err := args.interval()
	if err != nil {
		return invalid(err.Error()), nil
	}

	created, err := s.session.CreateTask(ctx, task.Task{
		ParentID: args.ParentID,
		Title:    args.Title,
		Group:    args.Group,
		Interval: iv,
	})
	if err != nil {
		return taskError("task_create", args.ParentID, err), nil
	}
	return jsonResult(created)
}

func (s *Server) handleTaskComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		TaskID    string `json:"task_id"`
		Completed *bool  `json:"completed"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalid("completed must be true or false"), nil
	}
	if args.TaskID == "" {
		return invalid("task_id is required"), nil
	}
	completed := args.Completed == nil || *args.Completed

	updated, err := s.session.SetCompleted(ctx, args.TaskID, completed)
	if err != nil {
		return taskError("task_complete", args.TaskID, err), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleTaskSetInterval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		TaskID string `json:"task_id"`
		dateArgs
	}
	if err := req.BindArguments(&args); err != nil {
		return invalid(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.TaskID == "" {
		return invalid("task_id is required"), nil
	}
	iv, err := args.interval()
	if err != nil {
		return invalid(err.Error()), nil
	}

	updated, err := s.session.UpdateInterval(ctx, args.TaskID, iv)
	if err != nil {
		return taskError("task_set_interval", args.TaskID, err), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleTaskCheckConflict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		ParentID string `json:"parent_id"`
		Title    string `json:"title"`
		dateArgs
	}
	if err := req.BindArguments(&args); err != nil {
		return invalid(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	iv, err := args.interval()
	if err != nil {
		return invalid(err.Error()), nil
	}

	res, err := s.session.CheckConflict(ctx, args.ParentID, conflict.Child{Title: args.Title, Interval: iv})
	if err != nil {
		return taskError("task_check_conflict", args.ParentID, err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleTaskDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return invalid("task_id is required"), nil
	}
	if err := s.session.DeleteTask(ctx, id); err != nil {
		return taskError("task_delete", id, err), nil
	}
	return mcp.NewToolResultText(`{"success":true}`), nil
}

type historyResult struct {
	Action *history.Action `json:"action,omitempty"`
	State  history.State   `json:"state"`
}

func (s *Server) historyResult(a *history.Action, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return ToolError{Code: CodeInternal, Message: err.Error()}.Result(), nil
	}
	return jsonResult(historyResult{Action: a, State: s.session.HistoryState()})
}

func (s *Server) handleHistoryUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.historyResult(s.session.Undo(ctx))
}

func (s *Server) handleHistoryRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.historyResult(s.session.Redo(ctx))
}

func (s *Server) handleHistoryState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(historyResult{State: s.session.HistoryState()})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
