package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThunderHDs/taskmaster-sub001/cascade"
	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

type dateFlags struct {
	start, end string
}

func (d *dateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&d.end, "end", "", "end date (YYYY-MM-DD)")
}

func (d dateFlags) interval() (task.Interval, error) {
	start, err := task.ParseOptionalDate(d.start)
	if err != nil {
		return task.Interval{}, err
	}
	end, err := task.ParseOptionalDate(d.end)
	if err != nil {
		return task.Interval{}, err
	}
	iv := task.Interval{Start: start, End: end}
	return iv, iv.Validate()
}

func addTree(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:     "tree",
		Aliases: []string{"ls"},
		Short:   "Print the task tree",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, closeSession, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession()

			printTree(cmd.OutOrStdout(), session.Tree())
			return nil
		},
	}
	root.AddCommand(cmd)
}

func addAdd(root *cobra.Command, a *app) {
	var (
		parentID string
		group    string
		tags     []string
		dates    dateFlags
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Long:  "Add a task. If its dates fall outside the parent's, the parent and its ancestors are widened to fit.",
		Example: `
taskmaster add "Ship release" --start 2026-03-01 --end 2026-03-14
taskmaster add "Write notes" --parent <id> --tag docs
`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("requires a title")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := dates.interval()
			if err != nil {
				return err
			}

			session, closeSession, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession()

			before := session.Tree()
			created, err := session.CreateTask(cmd.Context(), task.Task{
				ParentID: parentID,
				Title:    strings.Join(args, " "),
				Interval: iv,
				Tags:     tags,
				Group:    group,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTask(out, created)
			for _, id := range session.Tree().Ancestors(created.ID) {
				prev, _ := before.Find(id)
				cur, _ := session.Get(id)
				if !sameInterval(prev.Task.Interval, cur.Interval) {
					warn.Fprintf(out, "expanded %q to %s\n", cur.Title, formatInterval(cur.Interval))
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&parentID, "parent", "", "parent task id")
	f.StringVar(&group, "group", "", "group label")
	f.StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	dates.register(cmd)
	root.AddCommand(cmd)
}

func sameInterval(a, b task.Interval) bool {
	return formatInterval(a) == formatInterval(b)
}

func addComplete(root *cobra.Command, a *app) {
	var reopen bool

	cmd := &cobra.Command{
		Use:     "complete <id>",
		Aliases: []string{"done"},
		Short:   "Mark a task completed",
		Long:    "Mark a task completed. Parents whose children are now all completed are completed too.",
		Example: `
taskmaster complete <id>
taskmaster complete <id> --undo
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports []cascade.Report
			session, closeSession, err := a.openSession(cmd.Context(),
				engine.WithSyncCascade(),
				engine.WithCascadeReports(func(r cascade.Report) { reports = append(reports, r) }),
			)
			if err != nil {
				return err
			}
			defer closeSession()

			updated, err := session.SetCompleted(cmd.Context(), args[0], !reopen)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTask(out, updated)
			for _, r := range reports {
				for _, id := range r.Completed() {
					if t, ok := session.Get(id); ok {
						done.Fprintf(out, "completed %q (all subtasks done)\n", t.Title)
					}
				}
				if err := r.Err(); err != nil {
					warn.Fprintf(out, "cascade stopped: %v\n", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reopen, "undo", false, "mark the task open again")
	root.AddCommand(cmd)
}

func addCheck(root *cobra.Command, a *app) {
	var (
		title string
		dates dateFlags
	)

	cmd := &cobra.Command{
		Use:   "check <parent-id>",
		Short: "Check whether dates fit inside a parent task",
		Example: `
taskmaster check <parent-id> --start 2026-03-10 --end 2026-03-20
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := dates.interval()
			if err != nil {
				return err
			}

			session, closeSession, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession()

			res, err := session.CheckConflict(cmd.Context(), args[0], conflict.Child{Title: title, Interval: iv})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.HasConflict {
				done.Fprintln(out, "fits inside parent")
				return nil
			}
			warn.Fprintln(out, res.Message)
			if res.SuggestedStart != nil {
				fmt.Fprintf(out, "suggested start: %s\n", task.FormatDate(*res.SuggestedStart))
			}
			if res.SuggestedEnd != nil {
				fmt.Fprintf(out, "suggested end: %s\n", task.FormatDate(*res.SuggestedEnd))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title used in the message")
	dates.register(cmd)
	root.AddCommand(cmd)
}
