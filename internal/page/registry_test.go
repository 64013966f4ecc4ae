package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Joseda-hg/planner/internal/db"
	"github.com/Joseda-hg/planner/internal/model"
)

type memoryKV struct {
	values  map[string][]byte
	failPut error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: make(map[string][]byte)}
}

func (m *memoryKV) GetValue(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *memoryKV) PutValue(_ context.Context, key string, value []byte) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func TestLoadSeedsDefaultPage(t *testing.T) {
	kv := newMemoryKV()
	registry := NewRegistry(kv)

	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	pages := registry.Pages()
	if len(pages) != 1 || pages[0] != DefaultPage {
		t.Fatalf("expected default page, got %+v", pages)
	}
	selected, ok := registry.Selected()
	if !ok || selected.ID != DefaultPage.ID {
		t.Fatalf("expected default page to be selected, got %+v ok=%v", selected, ok)
	}
	if _, ok := kv.values[storageKey]; !ok {
		t.Fatalf("expected seeded page set to be persisted")
	}
}

func TestLoadRestoresPersistedPagesAndSelectsFirst(t *testing.T) {
	kv := newMemoryKV()
	stored := []model.Page{{ID: "a", Name: "Work", Color: "#ef4444"}, {ID: "b", Name: "Home", Color: "#10b981"}}
	payload, _ := json.Marshal(stored)
	kv.values[storageKey] = payload

	registry := NewRegistry(kv)
	var notified []string
	registry.OnSelect(func(_ context.Context, page *model.Page) {
		if page != nil {
			notified = append(notified, page.ID)
		}
	})
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := registry.Pages(); len(got) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(got))
	}
	selected, _ := registry.Selected()
	if selected.ID != "a" {
		t.Fatalf("expected first page selected, got %q", selected.ID)
	}
	if len(notified) != 1 || notified[0] != "a" {
		t.Fatalf("expected one selection notification for a, got %v", notified)
	}
}

func TestAddPagePicksPaletteColor(t *testing.T) {
	kv := newMemoryKV()
	registry := NewRegistry(kv, WithRand(func(n int) int { return n - 1 }), WithIDGenerator(func() string { return "new" }))
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	page, err := registry.AddPage(context.Background(), "  Errands ")
	if err != nil {
		t.Fatalf("add page: %v", err)
	}
	if page.ID != "new" || page.Name != "Errands" {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Color != Palette[len(Palette)-1] {
		t.Fatalf("expected last palette color, got %q", page.Color)
	}

	var persisted []model.Page
	if err := json.Unmarshal(kv.values[storageKey], &persisted); err != nil {
		t.Fatalf("decode persisted: %v", err)
	}
	if len(persisted) != 2 || persisted[1].ID != "new" {
		t.Fatalf("expected appended page to be persisted, got %+v", persisted)
	}

	if _, err := registry.AddPage(context.Background(), " "); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
}

func TestDeleteSelectedPageSelectsFirstRemaining(t *testing.T) {
	registry := newRegistryWithPages(t, "A", "B", "C")
	ctx := context.Background()

	b, _ := registry.Get("B")
	registry.SetSelectedPage(ctx, &b)

	if err := registry.DeletePage(ctx, "B"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	selected, ok := registry.Selected()
	if !ok || selected.ID != "A" {
		t.Fatalf("expected A (first remaining) selected, got %+v ok=%v", selected, ok)
	}
	if got := registry.Pages(); len(got) != 2 || got[0].ID != "A" || got[1].ID != "C" {
		t.Fatalf("unexpected remaining pages %+v", got)
	}
}

func TestDeleteLastPageClearsSelection(t *testing.T) {
	registry := newRegistryWithPages(t, "A")
	ctx := context.Background()

	var cleared bool
	registry.OnSelect(func(_ context.Context, page *model.Page) {
		cleared = page == nil
	})

	if err := registry.DeletePage(ctx, "A"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := registry.Selected(); ok {
		t.Fatalf("expected no selection")
	}
	if !cleared {
		t.Fatalf("expected observers to see the cleared selection")
	}
}

func TestDeleteUnselectedPageKeepsSelection(t *testing.T) {
	registry := newRegistryWithPages(t, "A", "B")
	ctx := context.Background()

	var deleted []string
	registry.OnDelete(func(_ context.Context, page model.Page) {
		deleted = append(deleted, page.ID)
	})
	notified := 0
	registry.OnSelect(func(context.Context, *model.Page) { notified++ })

	if err := registry.DeletePage(ctx, "B"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	selected, _ := registry.Selected()
	if selected.ID != "A" {
		t.Fatalf("expected selection to stay on A, got %q", selected.ID)
	}
	if notified != 0 {
		t.Fatalf("expected no selection notification, got %d", notified)
	}
	if len(deleted) != 1 || deleted[0] != "B" {
		t.Fatalf("expected delete observer for B, got %v", deleted)
	}
}

func TestUpdateSelectedPageRefreshesSelection(t *testing.T) {
	registry := newRegistryWithPages(t, "A", "B")
	ctx := context.Background()

	name := "Renamed"
	updated, err := registry.UpdatePage(ctx, "A", model.PagePatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Renamed" || updated.Color == "" {
		t.Fatalf("unexpected updated page %+v", updated)
	}
	selected, _ := registry.Selected()
	if selected.Name != "Renamed" {
		t.Fatalf("expected selection to see the rename, got %q", selected.Name)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	kv := newMemoryKV()
	registry := NewRegistry(kv)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	kv.failPut = fmt.Errorf("disk full")

	if _, err := registry.AddPage(context.Background(), "Doomed"); err == nil {
		t.Fatalf("expected add to fail")
	}
	if got := registry.Pages(); len(got) != 1 {
		t.Fatalf("expected rollback to 1 page, got %d", len(got))
	}
}

func TestRegistryPersistsThroughStore(t *testing.T) {
	store := db.NewStore(":memory:")
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	first := NewRegistry(store)
	if err := first.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := first.AddPage(ctx, "Work"); err != nil {
		t.Fatalf("add page: %v", err)
	}

	second := NewRegistry(store)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := second.Pages(); len(got) != 2 || got[1].Name != "Work" {
		t.Fatalf("expected persisted pages, got %+v", got)
	}
}

func newRegistryWithPages(t *testing.T, ids ...string) *Registry {
	t.Helper()
	kv := newMemoryKV()
	pages := make([]model.Page, 0, len(ids))
	for _, id := range ids {
		pages = append(pages, model.Page{ID: id, Name: "Page " + id, Color: Palette[0]})
	}
	payload, err := json.Marshal(pages)
	if err != nil {
		t.Fatalf("encode pages: %v", err)
	}
	kv.values[storageKey] = payload

	registry := NewRegistry(kv)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return registry
}
