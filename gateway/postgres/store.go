// Package postgres is the PostgreSQL gateway backend.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	Pool *pgxpool.Pool
	opts gateway.Options
	now  func() time.Time
}

// Open connects and runs migrations. An empty dsn falls back to DATABASE_URL.
func Open(ctx context.Context, dsn string, opts gateway.Options) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool, opts: opts, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate runs the embedded migrations not yet in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return err
	}
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	type mig struct {
		version   int
		name, sql string
	}
	var migs []mig
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(strings.TrimSuffix(f.Name(), ".sql"), "_", 2)[0])
		if err != nil || applied[v] {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return err
		}
		migs = append(migs, mig{v, f.Name(), string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.version, time.Now().Unix()); err != nil {
			return err
		}
	}
	return nil
}

// --- Gateway ---

const taskColumns = `id, parent_id, title, start_date, end_date, original_due_date, completed, tags, group_name, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	return listWhere(ctx, s.Pool, "", nil)
}

func listWhere(ctx context.Context, q querier, where string, args []any) ([]task.Task, error) {
	rows, err := q.Query(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, bool, error) {
	return getTask(ctx, s.Pool, strings.TrimSpace(id))
}

func getTask(ctx context.Context, q querier, id string) (task.Task, bool, error) {
	t, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, false, nil
	}
	if err != nil {
		return task.Task{}, false, err
	}
	return t, true, nil
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	created, err := gateway.PrepareCreate(t, s.now().UTC())
	if err != nil {
		return task.Task{}, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return task.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, found, err := getTask(ctx, tx, created.ID); err != nil {
		return task.Task{}, err
	} else if found {
		return task.Task{}, fmt.Errorf("%w: id %q already exists", task.ErrInvalidTask, created.ID)
	}
	var parent *task.Task
	if created.ParentID != "" {
		p, found, err := getTask(ctx, tx, created.ParentID)
		if err != nil {
			return task.Task{}, err
		}
		if !found {
			return task.Task{}, fmt.Errorf("%w: parent %q not found", task.ErrInvalidTask, created.ParentID)
		}
		parent = &p
	}
	if s.opts.StrictIntervals {
		if err := gateway.CheckIntervals(created, parent, nil, nil); err != nil {
			return task.Task{}, err
		}
	}

	tags, err := json.Marshal(nonNil(created.Tags))
	if err != nil {
		return task.Task{}, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO tasks(id, parent_id, title, start_date, end_date, original_due_date, completed, tags, group_name, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		created.ID, nullString(created.ParentID), created.Title,
		created.Interval.Start, created.Interval.End, created.OriginalDueDate,
		created.Completed, string(tags), created.Group, created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return task.Task{}, err
	}
	return created, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch task.Patch, hint *gateway.ConflictHint) (task.Task, error) {
	if err := patch.Validate(); err != nil {
		return task.Task{}, err
	}
	id = strings.TrimSpace(id)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return task.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}
	if err != nil {
		return task.Task{}, err
	}
	next := gateway.Canonicalize(prev, patch, s.now().UTC())
	if err := next.Interval.Validate(); err != nil {
		return task.Task{}, err
	}
	if s.opts.StrictIntervals && patch.Interval != nil {
		var parent *task.Task
		if next.ParentID != "" {
			if p, ok, err := getTask(ctx, tx, next.ParentID); err != nil {
				return task.Task{}, err
			} else if ok {
				parent = &p
			}
		}
		children, err := listWhere(ctx, tx, "WHERE parent_id = $1", []any{id})
		if err != nil {
			return task.Task{}, err
		}
		if err := gateway.CheckIntervals(next, parent, children, hint); err != nil {
			return task.Task{}, err
		}
	}

	tags, err := json.Marshal(nonNil(next.Tags))
	if err != nil {
		return task.Task{}, err
	}
	_, err = tx.Exec(ctx, `
UPDATE tasks SET title = $1, start_date = $2, end_date = $3, original_due_date = $4, completed = $5, tags = $6, group_name = $7, updated_at = $8
WHERE id = $9`,
		next.Title, next.Interval.Start, next.Interval.End, next.OriginalDueDate,
		next.Completed, string(tags), next.Group, next.UpdatedAt, id)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return task.Task{}, err
	}
	return next, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	var children int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_id = $1`, id).Scan(&children); err != nil {
		return err
	}
	if children > 0 {
		return fmt.Errorf("%w: cannot delete task with children", task.ErrInvalidTask)
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}
	return nil
}

func scanTask(r pgx.Row) (task.Task, error) {
	var (
		t      task.Task
		parent *string
		tags   []byte
	)
	if err := r.Scan(&t.ID, &parent, &t.Title, &t.Interval.Start, &t.Interval.End, &t.OriginalDueDate,
		&t.Completed, &tags, &t.Group, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	if parent != nil {
		t.ParentID = *parent
	}
	if err := json.Unmarshal(tags, &t.Tags); err != nil {
		return task.Task{}, fmt.Errorf("decode tags of %s: %w", t.ID, err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
