// Package tasks holds the in-memory view of the selected page's tasks and
// routes every read and write through the local store.
//
// The cache is derived state: it is replaced on initialisation and whenever
// the selected page changes, and otherwise only updated from records the
// store has confirmed.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/planner/internal/db"
	"github.com/Joseda-hg/planner/internal/model"
	"github.com/Joseda-hg/planner/internal/page"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrNoActivePage = errors.New("no page selected")
)

type Store interface {
	Initialize(ctx context.Context) error
	GetAllTasks(ctx context.Context) ([]model.Task, error)
	GetTasksByPage(ctx context.Context, pageID string) ([]model.Task, error)
	GetTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error)
	AddTask(ctx context.Context, task model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, task model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	DeleteTasksByPage(ctx context.Context, pageID string) (int64, error)
}

type Pages interface {
	Selected() (model.Page, bool)
	OnSelect(fn page.SelectFunc)
	OnDelete(fn page.DeleteFunc)
}

var (
	_ Store = (*db.Store)(nil)
	_ Pages = (*page.Registry)(nil)
)

// write is a store-confirmed change recorded while a reload is in flight, so
// the reload result can be brought up to date before it is installed.
type write struct {
	seq  uint64
	id   string
	task *model.Task
}

type Coordinator struct {
	store   Store
	pages   Pages
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	cascade bool

	mu        sync.Mutex
	tasks     []model.Task
	scope     string
	ready     bool
	inflight  int
	errMsg    string
	reloadSeq uint64
	reloading int
	writeSeq  uint64
	writes    []write
}

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// WithCascadePageDelete makes deleting a page also delete its tasks. Off by
// default: tasks of a deleted page stay in the store with a dangling page id.
func WithCascadePageDelete(enabled bool) Option {
	return func(c *Coordinator) { c.cascade = enabled }
}

// New wires the coordinator to the page registry: selection changes reload
// the cache, and with cascade enabled page deletes remove the page's tasks.
func New(store Store, pages Pages, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		pages:  pages,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
		tasks:  []model.Task{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if pages != nil {
		pages.OnSelect(c.onPageSelected)
		if c.cascade {
			pages.OnDelete(c.onPageDeleted)
		}
	}
	return c
}

// Initialize opens the store and fills the cache: the selected page's tasks
// when a page is already selected, every task otherwise. A failure is kept
// in Error and the cache stays empty.
func (c *Coordinator) Initialize(ctx context.Context) error {
	defer c.begin()()
	defer func() {
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
	}()

	if err := c.store.Initialize(ctx); err != nil {
		return c.fail("failed to initialize database", err)
	}

	if selected, ok := c.selectedPage(); ok {
		return c.reload(ctx, selected.ID)
	}

	loaded, err := c.store.GetAllTasks(ctx)
	if err != nil {
		return c.fail("failed to load tasks", err)
	}
	c.mu.Lock()
	c.tasks = loaded
	c.scope = ""
	c.mu.Unlock()
	return nil
}

// Reload replaces the cache with the tasks of pageID. Read failures leave
// the previous cache in place.
func (c *Coordinator) Reload(ctx context.Context, pageID string) error {
	defer c.begin()()
	return c.reload(ctx, pageID)
}

func (c *Coordinator) reload(ctx context.Context, pageID string) error {
	c.mu.Lock()
	c.reloadSeq++
	seq := c.reloadSeq
	since := c.writeSeq
	c.reloading++
	c.mu.Unlock()

	loaded, err := c.store.GetTasksByPage(ctx, pageID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloading--
	defer c.trimWritesLocked()

	if err != nil {
		return c.failLocked("failed to load tasks", err)
	}
	if seq != c.reloadSeq {
		c.logger.Debug("discarding superseded reload", zap.String("page", pageID))
		return nil
	}

	for _, w := range c.writes {
		if w.seq > since {
			loaded = applyWrite(loaded, w, pageID)
		}
	}
	c.tasks = loaded
	c.scope = pageID
	return nil
}

func (c *Coordinator) AddTask(ctx context.Context, input model.Task) (model.Task, error) {
	task, err := input.Clone().Normalize()
	if err != nil {
		return model.Task{}, err
	}
	if task.PageID == "" {
		selected, ok := c.selectedPage()
		if !ok {
			return model.Task{}, c.fail("failed to add task", ErrNoActivePage)
		}
		task.PageID = selected.ID
	}
	if task.ID == "" {
		task.ID = c.newID()
	}
	if task.Status == "" {
		task.Status = model.StatusNotStarted
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.Subtasks == nil {
		task.Subtasks = []model.Subtask{}
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = c.now().UTC()
	}

	defer c.begin()()
	created, err := c.store.AddTask(ctx, task)
	if err != nil {
		return model.Task{}, c.fail("failed to add task", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(created.ID, &created)
	if c.inScopeLocked(created) {
		c.tasks = append(c.tasks, created)
	}
	return created.Clone(), nil
}

// UpdateTask merges patch onto the cached task and writes the full record.
func (c *Coordinator) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	current, ok := c.Task(id)
	if !ok {
		return model.Task{}, c.fail("failed to update task", fmt.Errorf("%w: %s: %w", ErrNotFound, id, db.ErrNotFound))
	}

	merged := patch.Apply(current)
	merged.ID = id
	merged, err := merged.Normalize()
	if err != nil {
		return model.Task{}, err
	}

	defer c.begin()()
	updated, err := c.store.UpdateTask(ctx, merged)
	if err != nil {
		return model.Task{}, c.fail("failed to update task", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(updated.ID, &updated)
	index := c.indexLocked(id)
	switch {
	case index >= 0 && c.inScopeLocked(updated):
		c.tasks[index] = updated
	case index >= 0:
		c.tasks = append(c.tasks[:index:index], c.tasks[index+1:]...)
	case c.inScopeLocked(updated):
		c.tasks = append(c.tasks, updated)
	}
	return updated.Clone(), nil
}

func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	defer c.begin()()
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return c.fail("failed to delete task", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(id, nil)
	if index := c.indexLocked(id); index >= 0 {
		c.tasks = append(c.tasks[:index:index], c.tasks[index+1:]...)
	}
	return nil
}

func (c *Coordinator) ChangeTaskStatus(ctx context.Context, id string, status model.Status) (model.Task, error) {
	return c.UpdateTask(ctx, id, model.TaskPatch{Status: &status})
}

func (c *Coordinator) UploadTaskImage(ctx context.Context, id, imageURL string) (model.Task, error) {
	return c.UpdateTask(ctx, id, model.TaskPatch{ImageURL: &imageURL})
}

// GetTasksByStatus reads straight from the store, across all pages.
func (c *Coordinator) GetTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	defer c.begin()()
	found, err := c.store.GetTasksByStatus(ctx, status)
	if err != nil {
		return nil, c.fail("failed to get tasks by status", err)
	}
	return found, nil
}

func (c *Coordinator) AddSubtask(ctx context.Context, taskID, title string) (model.Task, error) {
	title = strings.TrimSpace(title)
	if err := model.ValidateTitle(title); err != nil {
		return model.Task{}, err
	}
	current, ok := c.Task(taskID)
	if !ok {
		return model.Task{}, c.fail("failed to add subtask", fmt.Errorf("%w: %s: %w", ErrNotFound, taskID, db.ErrNotFound))
	}

	subtasks := append(current.Subtasks, model.Subtask{
		ID:        c.newID(),
		Title:     title,
		CreatedAt: c.now().UTC(),
	})
	return c.UpdateTask(ctx, taskID, model.TaskPatch{Subtasks: &subtasks})
}

func (c *Coordinator) ToggleSubtask(ctx context.Context, taskID, subtaskID string) (model.Task, error) {
	return c.editSubtasks(ctx, taskID, subtaskID, func(subtasks []model.Subtask, index int) []model.Subtask {
		subtasks[index].Completed = !subtasks[index].Completed
		return subtasks
	})
}

func (c *Coordinator) RemoveSubtask(ctx context.Context, taskID, subtaskID string) (model.Task, error) {
	return c.editSubtasks(ctx, taskID, subtaskID, func(subtasks []model.Subtask, index int) []model.Subtask {
		return append(subtasks[:index], subtasks[index+1:]...)
	})
}

func (c *Coordinator) editSubtasks(ctx context.Context, taskID, subtaskID string, edit func([]model.Subtask, int) []model.Subtask) (model.Task, error) {
	current, ok := c.Task(taskID)
	if !ok {
		return model.Task{}, c.fail("failed to update subtask", fmt.Errorf("%w: %s: %w", ErrNotFound, taskID, db.ErrNotFound))
	}
	for i, subtask := range current.Subtasks {
		if subtask.ID == subtaskID {
			subtasks := edit(current.Subtasks, i)
			return c.UpdateTask(ctx, taskID, model.TaskPatch{Subtasks: &subtasks})
		}
	}
	return model.Task{}, c.fail("failed to update subtask", fmt.Errorf("%w: subtask %s", ErrNotFound, subtaskID))
}

// Tasks returns a copy of the cache.
func (c *Coordinator) Tasks() []model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]model.Task, 0, len(c.tasks))
	for _, task := range c.tasks {
		result = append(result, task.Clone())
	}
	return result
}

func (c *Coordinator) Task(id string) (model.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.indexLocked(id)
	if index < 0 {
		return model.Task{}, false
	}
	return c.tasks[index].Clone(), true
}

func (c *Coordinator) Summary() model.Summary {
	return model.Summarize(c.Tasks(), c.now())
}

// Loading is true until Initialize has finished and while any operation runs.
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.ready || c.inflight > 0
}

func (c *Coordinator) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Coordinator) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ""
}

func (c *Coordinator) onPageSelected(ctx context.Context, selected *model.Page) {
	if selected == nil {
		return
	}
	if err := c.Reload(ctx, selected.ID); err != nil {
		c.logger.Warn("reload after page change failed", zap.String("page", selected.ID), zap.Error(err))
	}
}

func (c *Coordinator) onPageDeleted(ctx context.Context, deleted model.Page) {
	defer c.begin()()
	removed, err := c.store.DeleteTasksByPage(ctx, deleted.ID)
	if err != nil {
		_ = c.fail("failed to delete page tasks", err)
		return
	}
	c.logger.Info("deleted tasks of removed page", zap.String("page", deleted.ID), zap.Int64("count", removed))

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.tasks[:0:0]
	for _, task := range c.tasks {
		if task.PageID == deleted.ID {
			c.recordLocked(task.ID, nil)
			continue
		}
		kept = append(kept, task)
	}
	c.tasks = kept
}

// begin marks an operation in flight; the returned func must be deferred so
// the loading flag clears whatever the outcome.
func (c *Coordinator) begin() func() {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}
}

func (c *Coordinator) fail(action string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(action, err)
}

func (c *Coordinator) failLocked(action string, err error) error {
	c.errMsg = action + ": " + err.Error()
	c.logger.Error(action, zap.Error(err))
	return fmt.Errorf("%s: %w", action, err)
}

func (c *Coordinator) selectedPage() (model.Page, bool) {
	if c.pages == nil {
		return model.Page{}, false
	}
	return c.pages.Selected()
}

func (c *Coordinator) inScopeLocked(task model.Task) bool {
	return c.scope == "" || c.scope == task.PageID
}

func (c *Coordinator) indexLocked(id string) int {
	for i, task := range c.tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}

func (c *Coordinator) recordLocked(id string, task *model.Task) {
	c.writeSeq++
	if c.reloading == 0 {
		return
	}
	var copied *model.Task
	if task != nil {
		clone := task.Clone()
		copied = &clone
	}
	c.writes = append(c.writes, write{seq: c.writeSeq, id: id, task: copied})
}

func (c *Coordinator) trimWritesLocked() {
	if c.reloading == 0 {
		c.writes = nil
	}
}

// applyWrite brings a reloaded snapshot up to date with a confirmed write.
// Records already at or past the write's version are left alone.
func applyWrite(snapshot []model.Task, w write, pageID string) []model.Task {
	index := -1
	for i, task := range snapshot {
		if task.ID == w.id {
			index = i
			break
		}
	}

	if w.task == nil || w.task.PageID != pageID {
		if index >= 0 {
			snapshot = append(snapshot[:index:index], snapshot[index+1:]...)
		}
		return snapshot
	}
	if index < 0 {
		return append(snapshot, w.task.Clone())
	}
	if snapshot[index].Version < w.task.Version {
		snapshot[index] = w.task.Clone()
	}
	return snapshot
}
