package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const dateHint = "Calendar date as YYYY-MM-DD. Omit to leave unset."

func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("task_list",
				mcp.WithDescription("List tasks in tree order. With parent_id, only that task's direct children."),
				mcp.WithString("parent_id", mcp.Description("Parent task ID to filter by")),
			),
			Handler: s.handleTaskList,
		},
		{
			Tool: mcp.NewTool("task_get",
				mcp.WithDescription("Get a task by ID."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
			),
			Handler: s.handleTaskGet,
		},
		{
			Tool: mcp.NewTool("task_create",
				mcp.WithDescription("Create a task. If its dates fall outside the parent's, the parent and its ancestors are widened to fit."),
				mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
				mcp.WithString("parent_id", mcp.Description("Parent task ID; omit for a root task")),
				mcp.WithString("start", mcp.Description(dateHint)),
				mcp.WithString("end", mcp.Description(dateHint)),
				mcp.WithString("group", mcp.Description("Free-form group label")),
			),
			Handler: s.handleTaskCreate,
		},
		{
			Tool: mcp.NewTool("task_complete",
				mcp.WithDescription("Mark a task completed or reopen it. Completing the last open child completes the parent."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
				mcp.WithBoolean("completed", mcp.Description("false reopens the task; defaults to true")),
			),
			Handler: s.handleTaskComplete,
		},
		{
			Tool: mcp.NewTool("task_set_interval",
				mcp.WithDescription("Reschedule a task. Ancestors are widened to contain the new dates."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
				mcp.WithString("start", mcp.Description(dateHint)),
				mcp.WithString("end", mcp.Description(dateHint)),
			),
			Handler: s.handleTaskSetInterval,
		},
		{
			Tool: mcp.NewTool("task_check_conflict",
				mcp.WithDescription("Check whether dates fit inside a parent task without changing anything."),
				mcp.WithString("parent_id", mcp.Required(), mcp.Description("Parent task ID")),
				mcp.WithString("title", mcp.Description("Title used in the conflict message")),
				mcp.WithString("start", mcp.Required(), mcp.Description(dateHint)),
				mcp.WithString("end", mcp.Required(), mcp.Description(dateHint)),
			),
			Handler: s.handleTaskCheckConflict,
		},
		{
			Tool: mcp.NewTool("task_delete",
				mcp.WithDescription("Delete a task and its subtree."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
			),
			Handler: s.handleTaskDelete,
		},
		{
			Tool:    mcp.NewTool("history_undo", mcp.WithDescription("Undo the most recent change.")),
			Handler: s.handleHistoryUndo,
		},
		{
			Tool:    mcp.NewTool("history_redo", mcp.WithDescription("Redo the most recently undone change.")),
			Handler: s.handleHistoryRedo,
		},
		{
			Tool:    mcp.NewTool("history_state", mcp.WithDescription("Show undo and redo availability.")),
			Handler: s.handleHistoryState,
		},
	}
	s.tools = make(map[string]server.ServerTool, len(tools))
	for _, t := range tools {
		s.tools[t.Tool.Name] = t
	}
	s.mcp.AddTools(tools...)
}
