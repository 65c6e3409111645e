package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ThunderHDs/taskmaster-sub001/config"
	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/gateway/file"
	"github.com/ThunderHDs/taskmaster-sub001/gateway/postgres"
	"github.com/ThunderHDs/taskmaster-sub001/gateway/sqlite"
	"github.com/ThunderHDs/taskmaster-sub001/history"
)

const journalDir = "journal"

// openGateway returns the configured backend and a func releasing it.
func openGateway(ctx context.Context, cfg config.Config) (gateway.Gateway, func(), error) {
	opts := gateway.Options{StrictIntervals: cfg.StrictIntervals}

	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.DataDir, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := file.New(cfg.DataDir, file.WithOptions(opts))
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, func() {}, nil
	}
}

func journalPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, journalDir)
}

// openSession loads a session over the configured backend. The returned
// func closes both.
func (a *app) openSession(ctx context.Context, opts ...engine.Option) (*engine.Session, func(), error) {
	gw, closeGateway, err := openGateway(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}

	opts = append(opts, engine.WithHistoryOptions(
		history.WithLimit(a.cfg.HistoryLimit),
		history.WithToastTTL(a.cfg.ToastTTL),
		history.WithJournal(history.OpenJournal(journalPath(a.cfg))),
	))
	session := engine.New(gateway.Instrument(gw), opts...)
	if err := session.Load(ctx); err != nil {
		session.Close()
		closeGateway()
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	slog.Debug("session loaded", "backend", a.cfg.Backend, "tasks", session.Tree().Len())

	return session, func() {
		session.Close()
		closeGateway()
	}, nil
}
