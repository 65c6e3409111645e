// Package cli is the taskmaster command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/ThunderHDs/taskmaster-sub001/config"
	"github.com/ThunderHDs/taskmaster-sub001/logger"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type app struct {
	v       *viper.Viper
	cfgPath string
	cfg     config.Config
}

func New() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "taskmaster",
		Short:         "Task trees with cascading completion and undo.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "config file (default .taskmaster.yaml in ./ or the data dir)")
	f.String("data-dir", "", "directory for tasks, journal and logs")
	f.String("backend", "", "storage backend: file, sqlite or postgres")
	_ = a.v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = a.v.BindPFlag("backend", f.Lookup("backend"))

	addServe(cmd, a)
	addMCP(cmd, a)
	addTree(cmd, a)
	addAdd(cmd, a)
	addComplete(cmd, a)
	addCheck(cmd, a)
	addImport(cmd, a)
	addHistory(cmd, a)
	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return New().ExecuteContext(ctx)
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	a.cfg = cfg

	// stdout carries command output and, for mcp, the protocol itself.
	logger.Init(logger.Config{DataDir: cfg.DataDir, DevMode: cfg.DevMode, Stderr: true})
	color.NoColor = !isTerminal(os.Stdout)
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
