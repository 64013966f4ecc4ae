// Package page keeps the user's boards and the currently selected one.
//
// The full page set is small, so it is held in memory and written back as a
// single JSON document to a durable key/value slot after every change.
package page

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/Joseda-hg/planner/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const storageKey = "pages"

// Palette is the set of colors a new page is drawn from.
var Palette = []string{
	"#ef4444", // red
	"#3b82f6", // blue
	"#10b981", // green
	"#f59e0b", // yellow
	"#6366f1", // indigo
	"#8b5cf6", // purple
	"#ec4899", // pink
}

// DefaultPage seeds an empty registry.
var DefaultPage = model.Page{ID: "1", Name: "My Tasks", Color: "#3b82f6"}

type KV interface {
	GetValue(ctx context.Context, key string) ([]byte, bool, error)
	PutValue(ctx context.Context, key string, value []byte) error
}

// SelectFunc is called after the selection changes; page is nil when nothing
// is selected.
type SelectFunc func(ctx context.Context, page *model.Page)

type DeleteFunc func(ctx context.Context, page model.Page)

type Registry struct {
	kv     KV
	logger *zap.Logger
	pick   func(n int) int
	newID  func() string

	mu       sync.Mutex
	pages    []model.Page
	selected *model.Page
	onSelect []SelectFunc
	onDelete []DeleteFunc
}

type Option func(*Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRand replaces the palette picker; pick(n) must return a value in [0, n).
func WithRand(pick func(n int) int) Option {
	return func(r *Registry) { r.pick = pick }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

func NewRegistry(kv KV, opts ...Option) *Registry {
	r := &Registry{
		kv:     kv,
		logger: zap.NewNop(),
		pick:   rand.IntN,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnSelect registers an observer for selection changes.
func (r *Registry) OnSelect(fn SelectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSelect = append(r.onSelect, fn)
}

func (r *Registry) OnDelete(fn DeleteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// Load reads the persisted set, seeding DefaultPage when it is empty, and
// selects the first page if nothing is selected yet.
func (r *Registry) Load(ctx context.Context) error {
	raw, ok, err := r.kv.GetValue(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	pages := []model.Page{}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &pages); err != nil {
			return fmt.Errorf("parse pages: %w", err)
		}
	}

	seeded := false
	if len(pages) == 0 {
		pages = []model.Page{DefaultPage}
		seeded = true
	}

	r.mu.Lock()
	r.pages = pages
	if seeded {
		if err := r.persistLocked(ctx); err != nil {
			r.mu.Unlock()
			return err
		}
		r.logger.Info("seeded default page", zap.String("id", DefaultPage.ID))
	}
	changed := false
	if r.selected == nil {
		first := r.pages[0]
		r.selected = &first
		changed = true
	}
	selected, observers := r.selectionLocked()
	r.mu.Unlock()

	if changed {
		notifySelect(ctx, observers, selected)
	}
	return nil
}

func (r *Registry) Pages() []model.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Page(nil), r.pages...)
}

func (r *Registry) Selected() (model.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == nil {
		return model.Page{}, false
	}
	return *r.selected, true
}

func (r *Registry) Get(id string) (model.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.indexLocked(id)
	if index < 0 {
		return model.Page{}, false
	}
	return r.pages[index], true
}

// Find returns the page whose id or name (case-insensitive) matches ref.
func (r *Registry) Find(ref string) (model.Page, bool) {
	if page, ok := r.Get(ref); ok {
		return page, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, page := range r.pages {
		if strings.EqualFold(page.Name, strings.TrimSpace(ref)) {
			return page, true
		}
	}
	return model.Page{}, false
}

func (r *Registry) AddPage(ctx context.Context, name string) (model.Page, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Page{}, fmt.Errorf("%w: page name is required", model.ErrValidation)
	}

	page := model.Page{
		ID:    r.newID(),
		Name:  name,
		Color: Palette[r.pick(len(Palette))],
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.pages
	r.pages = append(append([]model.Page(nil), r.pages...), page)
	if err := r.persistLocked(ctx); err != nil {
		r.pages = previous
		return model.Page{}, err
	}
	return page, nil
}

// DeletePage removes the page. When it was selected, the first remaining
// page becomes selected, or none when the set is empty. Tasks on the page
// are left alone here; OnDelete observers decide.
func (r *Registry) DeletePage(ctx context.Context, id string) error {
	r.mu.Lock()
	index := r.indexLocked(id)
	if index < 0 {
		r.mu.Unlock()
		return nil
	}

	previous := r.pages
	removed := r.pages[index]
	remaining := make([]model.Page, 0, len(r.pages)-1)
	remaining = append(remaining, r.pages[:index]...)
	remaining = append(remaining, r.pages[index+1:]...)
	r.pages = remaining
	if err := r.persistLocked(ctx); err != nil {
		r.pages = previous
		r.mu.Unlock()
		return err
	}

	selectionChanged := false
	if r.selected != nil && r.selected.ID == id {
		r.selected = nil
		if len(r.pages) > 0 {
			first := r.pages[0]
			r.selected = &first
		}
		selectionChanged = true
	}
	deleteObservers := append([]DeleteFunc(nil), r.onDelete...)
	selected, selectObservers := r.selectionLocked()
	r.mu.Unlock()

	for _, fn := range deleteObservers {
		fn(ctx, removed)
	}
	if selectionChanged {
		notifySelect(ctx, selectObservers, selected)
	}
	return nil
}

// UpdatePage merges patch into the page. A selected page is refreshed with
// the same merge.
func (r *Registry) UpdatePage(ctx context.Context, id string, patch model.PagePatch) (model.Page, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Page{}, fmt.Errorf("%w: page name is required", model.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.indexLocked(id)
	if index < 0 {
		return model.Page{}, fmt.Errorf("page %s not found", id)
	}

	previous := r.pages
	r.pages = append([]model.Page(nil), r.pages...)
	r.pages[index] = patch.Apply(r.pages[index])
	if err := r.persistLocked(ctx); err != nil {
		r.pages = previous
		return model.Page{}, err
	}

	if r.selected != nil && r.selected.ID == id {
		refreshed := patch.Apply(*r.selected)
		r.selected = &refreshed
	}
	return r.pages[index], nil
}

// SetSelectedPage does not check that page belongs to the set.
func (r *Registry) SetSelectedPage(ctx context.Context, page *model.Page) {
	r.mu.Lock()
	if page == nil {
		r.selected = nil
	} else {
		next := *page
		r.selected = &next
	}
	selected, observers := r.selectionLocked()
	r.mu.Unlock()

	notifySelect(ctx, observers, selected)
}

func (r *Registry) indexLocked(id string) int {
	for i, page := range r.pages {
		if page.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) selectionLocked() (*model.Page, []SelectFunc) {
	var selected *model.Page
	if r.selected != nil {
		copied := *r.selected
		selected = &copied
	}
	return selected, append([]SelectFunc(nil), r.onSelect...)
}

func (r *Registry) persistLocked(ctx context.Context) error {
	payload, err := json.Marshal(r.pages)
	if err != nil {
		return err
	}
	if err := r.kv.PutValue(ctx, storageKey, payload); err != nil {
		r.logger.Error("persist pages failed", zap.Error(err))
		return fmt.Errorf("save pages: %w", err)
	}
	return nil
}

func notifySelect(ctx context.Context, observers []SelectFunc, page *model.Page) {
	for _, fn := range observers {
		var arg *model.Page
		if page != nil {
			copied := *page
			arg = &copied
		}
		fn(ctx, arg)
	}
}
