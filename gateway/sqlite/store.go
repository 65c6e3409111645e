// Package sqlite is the SQLite gateway backend.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	DB   *sql.DB
	opts gateway.Options
	now  func() time.Time
}

// Open opens dataDir/tasks.sqlite and runs migrations.
func Open(dataDir string, opts gateway.Options) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + filepath.Join(dataDir, "tasks.sqlite") + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{DB: db, opts: opts, now: time.Now}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) initPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(f.Name())
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: f.Name(), SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	v, err := strconv.Atoi(strings.SplitN(base, "_", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

// --- Gateway ---

const taskColumns = `id, parent_id, title, start_date, end_date, original_due_date, completed, tags, group_name, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	return listWhere(ctx, s.DB, "", nil)
}

func listWhere(ctx context.Context, q queryer, where string, args []any) ([]task.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY position`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
	return getTask(ctx, s.DB, strings.TrimSpace(id))
}

func getTask(ctx context.Context, q queryer, id string) (task.Task, bool, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

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
	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks(id, parent_id, title, start_date, end_date, original_due_date, completed, tags, group_name, position, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM tasks), ?, ?)`,
		created.ID, nullString(created.ParentID), created.Title,
		formatTime(created.Interval.Start), formatTime(created.Interval.End), formatTime(created.OriginalDueDate),
		created.Completed, string(tags), created.Group,
		created.CreatedAt.UTC().Format(time.RFC3339Nano), created.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, err
	}
	return created, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch task.Patch, hint *gateway.ConflictHint) (task.Task, error) {
	if err := patch.Validate(); err != nil {
		return task.Task{}, err
	}
	id = strings.TrimSpace(id)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, found, err := getTask(ctx, tx, id)
	if err != nil {
		return task.Task{}, err
	}
	if !found {
		return task.Task{}, fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
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
		children, err := listWhere(ctx, tx, "WHERE parent_id = ?", []any{id})
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
	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET title = ?, start_date = ?, end_date = ?, original_due_date = ?, completed = ?, tags = ?, group_name = ?, updated_at = ?
WHERE id = ?`,
		next.Title, formatTime(next.Interval.Start), formatTime(next.Interval.End), formatTime(next.OriginalDueDate),
		next.Completed, string(tags), next.Group, next.UpdatedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, err
	}
	return next, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	var children int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_id = ?`, id).Scan(&children); err != nil {
		return err
	}
	if children > 0 {
		return fmt.Errorf("%w: cannot delete task with children", task.ErrInvalidTask)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}
	return nil
}

// --- Row mapping ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t                    task.Task
		parent               sql.NullString
		start, end, original sql.NullString
		tags                 string
		created, updated     string
	)
	if err := r.Scan(&t.ID, &parent, &t.Title, &start, &end, &original, &t.Completed, &tags, &t.Group, &created, &updated); err != nil {
		return task.Task{}, err
	}
	t.ParentID = parent.String
	var err error
	if t.Interval.Start, err = parseTime(start); err != nil {
		return task.Task{}, err
	}
	if t.Interval.End, err = parseTime(end); err != nil {
		return task.Task{}, err
	}
	if t.OriginalDueDate, err = parseTime(original); err != nil {
		return task.Task{}, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return task.Task{}, fmt.Errorf("decode tags of %s: %w", t.ID, err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return task.Task{}, err
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
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
