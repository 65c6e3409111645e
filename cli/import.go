package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// outlineItem is one task in an imported YAML outline.
type outlineItem struct {
	Title     string        `yaml:"title"`
	Start     string        `yaml:"start"`
	End       string        `yaml:"end"`
	Tags      []string      `yaml:"tags"`
	Group     string        `yaml:"group"`
	Completed bool          `yaml:"completed"`
	Children  []outlineItem `yaml:"children"`
}

func parseOutline(data []byte) ([]outlineItem, error) {
	var items []outlineItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse outline: %w", err)
	}
	return items, nil
}

// importOutline creates items under parentID depth-first and returns how
// many tasks were created. Completed items are marked after their
// children exist, so completion cascades upward like a manual check-off.
func importOutline(ctx context.Context, s *engine.Session, parentID string, items []outlineItem) (int, error) {
	n := 0
	for _, item := range items {
		start, err := task.ParseOptionalDate(item.Start)
		if err != nil {
			return n, fmt.Errorf("%q: %w", item.Title, err)
		}
		end, err := task.ParseOptionalDate(item.End)
		if err != nil {
			return n, fmt.Errorf("%q: %w", item.Title, err)
		}

		created, err := s.CreateTask(ctx, task.Task{
			ParentID: parentID,
			Title:    item.Title,
			Interval: task.Interval{Start: start, End: end},
			Tags:     item.Tags,
			Group:    item.Group,
		})
		if err != nil {
			return n, fmt.Errorf("%q: %w", item.Title, err)
		}
		n++

		m, err := importOutline(ctx, s, created.ID, item.Children)
		n += m
		if err != nil {
			return n, err
		}

		if item.Completed {
			if cur, ok := s.Get(created.ID); ok && cur.Completed {
				continue
			}
			if _, err := s.SetCompleted(ctx, created.ID, true); err != nil {
				return n, fmt.Errorf("%q: %w", item.Title, err)
			}
		}
	}
	return n, nil
}

func addImport(root *cobra.Command, a *app) {
	var parentID string

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a nested task outline",
		Example: `
taskmaster import plan.yaml

# plan.yaml
- title: Release 1.0
  start: 2026-03-01
  end: 2026-03-14
  children:
    - title: Write notes
      tags: [docs]
    - title: Tag build
      completed: true
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			items, err := parseOutline(data)
			if err != nil {
				return err
			}

			session, closeSession, err := a.openSession(cmd.Context(), engine.WithSyncCascade())
			if err != nil {
				return err
			}
			defer closeSession()

			n, err := importOutline(cmd.Context(), session, parentID, items)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tasks\n", n)
			return err
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "import under this task")
	root.AddCommand(cmd)
}
