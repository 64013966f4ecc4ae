package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/planner/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrStoreUnavailable = errors.New("store unavailable")
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Opener opens and migrates the underlying database.
type Opener func(ctx context.Context, path string) (*sql.DB, error)

type Store struct {
	path   string
	open   Opener
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	group singleflight.Group

	mu    sync.Mutex
	state State
	db    *sql.DB
	err   error
}

type Option func(*Store)

func WithOpener(open Opener) Option {
	return func(s *Store) { s.open = open }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore returns an unopened store. The database is opened by Initialize,
// or lazily by the first operation.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.open == nil {
		s.open = func(ctx context.Context, path string) (*sql.DB, error) {
			return Open(ctx, path, s.logger)
		}
	}
	return s
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize opens the database once. Concurrent callers share the same
// in-flight open; a failed open is terminal for this Store.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateFailed:
		err := s.err
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	_, err, _ := s.group.Do("init", func() (any, error) {
		s.mu.Lock()
		if s.state == StateReady {
			s.mu.Unlock()
			return nil, nil
		}
		if s.state == StateFailed {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		s.logger.Debug("opening store", zap.String("path", s.path))
		db, err := s.open(ctx, s.path)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = StateFailed
			s.err = err
			s.logger.Error("open store failed", zap.String("path", s.path), zap.Error(err))
			return nil, err
		}
		s.db = db
		s.state = StateReady
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if s.state == StateReady {
		s.state = StateUninitialized
	}
	return err
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store closed", ErrStoreUnavailable)
	}
	return s.db, nil
}

const taskColumns = "id, title, description, status, priority, due_date, page_id, image_url, subtasks, created_at, updated_at, version"

func (s *Store) GetAllTasks(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY created_at, id")
}

func (s *Store) GetTasksByPage(ctx context.Context, pageID string) ([]model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks INDEXED BY idx_tasks_page_id WHERE page_id = ? ORDER BY created_at, id", pageID)
}

func (s *Store) GetTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks INDEXED BY idx_tasks_status WHERE status = ? ORDER BY created_at, id", string(status))
}

func (s *Store) GetTasksByPriority(ctx context.Context, priority model.Priority) ([]model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks INDEXED BY idx_tasks_priority WHERE priority = ? ORDER BY created_at, id", string(priority))
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return model.Task{}, err
	}

	task, err := scanTask(db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// ListTasks applies the REST filters, newest first.
func (s *Store) ListTasks(ctx context.Context, filter model.Filter) ([]model.Task, error) {
	clauses := []string{}
	args := []any{}
	if filter.PageID != "" {
		clauses = append(clauses, "page_id = ?")
		args = append(args, filter.PageID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		clauses = append(clauses, "(title LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(query) + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	return s.queryTasks(ctx, query, args...)
}

// AddTask fills missing defaults and inserts the task. An existing id fails
// with ErrDuplicateKey.
func (s *Store) AddTask(ctx context.Context, task model.Task) (model.Task, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return model.Task{}, err
	}

	task = task.Clone()
	if task.ID == "" {
		task.ID = s.newID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	task.Version = 1
	applyDefaults(&task)

	subtasks, err := json.Marshal(task.Subtasks)
	if err != nil {
		return model.Task{}, err
	}

	result, err := db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority),
		formatNullTime(task.DueDate), task.PageID, task.ImageURL, string(subtasks),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt), task.Version)
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return model.Task{}, err
	}
	if affected == 0 {
		return model.Task{}, fmt.Errorf("task %s: %w", task.ID, ErrDuplicateKey)
	}
	return task, nil
}

// UpdateTask replaces the stored record with the same id. created_at is kept
// from the stored row; version is bumped.
func (s *Store) UpdateTask(ctx context.Context, task model.Task) (model.Task, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return model.Task{}, err
	}

	task = task.Clone()
	applyDefaults(&task)
	task.UpdatedAt = s.now().UTC()

	subtasks, err := json.Marshal(task.Subtasks)
	if err != nil {
		return model.Task{}, err
	}

	var createdAt string
	err = db.QueryRowContext(ctx, `UPDATE tasks SET
    title = ?, description = ?, status = ?, priority = ?, due_date = ?,
    page_id = ?, image_url = ?, subtasks = ?, updated_at = ?, version = version + 1
WHERE id = ?
RETURNING created_at, version`,
		task.Title, task.Description, string(task.Status), string(task.Priority),
		formatNullTime(task.DueDate), task.PageID, task.ImageURL, string(subtasks),
		formatTime(task.UpdatedAt), task.ID).Scan(&createdAt, &task.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("update task %s: %w", task.ID, err)
	}

	task.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// DeleteTask is idempotent.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteTasksByPage(ctx context.Context, pageID string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, "DELETE FROM tasks WHERE page_id = ?", pageID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks for page %s: %w", pageID, err)
	}
	return result.RowsAffected()
}

// GetValue reads a slot from the key/value table.
func (s *Store) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) PutValue(ctx context.Context, key string, value []byte) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		task      model.Task
		status    string
		priority  string
		dueDate   sql.NullString
		subtasks  string
		createdAt string
		updatedAt sql.NullString
	)
	if err := row.Scan(&task.ID, &task.Title, &task.Description, &status, &priority, &dueDate,
		&task.PageID, &task.ImageURL, &subtasks, &createdAt, &updatedAt, &task.Version); err != nil {
		return model.Task{}, err
	}

	task.Status = model.Status(status)
	task.Priority = model.Priority(priority)

	var err error
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Task{}, err
	}
	task.UpdatedAt = task.CreatedAt
	if updatedAt.Valid {
		if task.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return model.Task{}, err
		}
	}
	if dueDate.Valid {
		due, err := parseTime(dueDate.String)
		if err != nil {
			return model.Task{}, err
		}
		task.DueDate = &due
	}

	task.Subtasks = []model.Subtask{}
	if subtasks != "" && subtasks != "null" {
		if err := json.Unmarshal([]byte(subtasks), &task.Subtasks); err != nil {
			return model.Task{}, fmt.Errorf("decode subtasks for %s: %w", task.ID, err)
		}
	}
	return task, nil
}

func applyDefaults(task *model.Task) {
	if task.Status == "" {
		task.Status = model.StatusNotStarted
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.Subtasks == nil {
		task.Subtasks = []model.Subtask{}
	}
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(value *time.Time) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*value), Valid: true}
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return parsed, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
