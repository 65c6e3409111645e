package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

var (
	faint = color.New(color.Faint)
	done  = color.New(color.FgGreen)
	bold  = color.New(color.Bold)
	warn  = color.New(color.FgYellow)
)

func formatInterval(iv task.Interval) string {
	if iv.Start == nil && iv.End == nil {
		return ""
	}
	start, end := "…", "…"
	if iv.Start != nil {
		start = task.FormatDate(*iv.Start)
	}
	if iv.End != nil {
		end = task.FormatDate(*iv.End)
	}
	return start + " → " + end
}

func checkbox(t task.Task) string {
	if t.Completed {
		return done.Sprint("[x]")
	}
	return "[ ]"
}

// printTree writes the forest in pre-order, children indented under
// their parent.
func printTree(w io.Writer, t *tree.Tree) {
	if t.Len() == 0 {
		faint.Fprintln(w, "no tasks")
		return
	}

	tbl := uitable.New()
	tbl.MaxColWidth = 60
	tbl.Wrap = true
	t.Walk(func(n tree.Node, depth int) bool {
		title := strings.Repeat("  ", depth) + checkbox(n.Task) + " " + n.Task.Title
		if n.Task.Completed {
			title = strings.Repeat("  ", depth) + checkbox(n.Task) + " " + faint.Sprint(n.Task.Title)
		}
		tbl.AddRow(faint.Sprint(n.Task.ID), title, formatInterval(n.Task.Interval), strings.Join(n.Task.Tags, ","))
		return true
	})
	fmt.Fprintln(w, tbl)
}

func printTask(w io.Writer, t task.Task) {
	line := checkbox(t) + " " + bold.Sprint(t.Title) + " " + faint.Sprint(t.ID)
	if iv := formatInterval(t.Interval); iv != "" {
		line += "  " + iv
	}
	fmt.Fprintln(w, line)
}

func printJournal(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		faint.Fprintln(w, "no history")
		return
	}

	tbl := uitable.New()
	tbl.MaxColWidth = 60
	tbl.AddRow("WHEN", "EVENT", "TYPE", "DESCRIPTION")
	for _, e := range entries {
		event := string(e.Event)
		if e.Event != history.EventRecord {
			event = warn.Sprint(event)
		}
		tbl.AddRow(e.At.Local().Format("2006-01-02 15:04:05"), event, string(e.Action.Type), e.Action.Description)
	}
	fmt.Fprintln(w, tbl)
}
