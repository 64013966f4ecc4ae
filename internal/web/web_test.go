package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Joseda-hg/planner/internal/blob"
	"github.com/Joseda-hg/planner/internal/db"
	"github.com/Joseda-hg/planner/internal/model"
	"github.com/Joseda-hg/planner/internal/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testServer struct {
	handler http.Handler
	store   *db.Store
	pages   *page.Registry
	uploads string
	changes int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := db.NewStore(":memory:")
	t.Cleanup(func() { _ = store.Close() })

	registry := page.NewRegistry(store)
	require.NoError(t, registry.Load(context.Background()))

	ts := &testServer{store: store, pages: registry, uploads: filepath.Join(t.TempDir(), "uploads")}
	server := NewServer(store, registry, blob.NewStore(ts.uploads),
		WithToken(testToken),
		WithChangeHook(func(context.Context) { ts.changes++ }))
	ts.handler = server.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createTask(t *testing.T, body map[string]any) model.Task {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Message
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please authenticate", decodeMessage(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetTask(t *testing.T) {
	ts := newTestServer(t)

	created := ts.createTask(t, map[string]any{"title": "Write report", "priority": "high"})
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, page.DefaultPage.ID, created.PageID)
	assert.Equal(t, model.StatusNotStarted, created.Status)
	assert.Equal(t, model.PriorityHigh, created.Priority)
	assert.Equal(t, 1, ts.changes)

	rec := ts.do(t, http.MethodGet, "/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "Write report", fetched.Title)

	rec = ts.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", decodeMessage(t, rec))
}

func TestCreateTaskRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMessage(t, rec), "title")

	rec = ts.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "x", "status": "Someday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tasks, err := ts.store.GetAllTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, ts.changes)
}

func TestListTasksFilters(t *testing.T) {
	ts := newTestServer(t)
	ts.createTask(t, map[string]any{"title": "Quarterly report", "status": "Pending"})
	ts.createTask(t, map[string]any{"title": "Laundry", "priority": "Low"})
	ts.createTask(t, map[string]any{"title": "Offsite", "pageId": "work", "description": "book the report room"})

	cases := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?status=pending", 1},
		{"?priority=Low", 1},
		{"?pageId=work", 1},
		{"?search=REPORT", 2},
		{"?pageId=1&search=report", 1},
	}
	for _, tc := range cases {
		rec := ts.do(t, http.MethodGet, "/api/tasks"+tc.query, nil)
		require.Equal(t, http.StatusOK, rec.Code, tc.query)
		var tasks []model.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
		assert.Len(t, tasks, tc.want, tc.query)
	}

	rec := ts.do(t, http.MethodGet, "/api/tasks?status=Someday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchMergesFields(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createTask(t, map[string]any{"title": "Paint fence", "description": "white"})

	rec := ts.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"status": "Completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, model.StatusCompleted, updated.Status)
	assert.Equal(t, "Paint fence", updated.Title)
	assert.Equal(t, "white", updated.Description)
	assert.Equal(t, int64(2), updated.Version)

	rec = ts.do(t, http.MethodPatch, "/api/tasks/nope", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAttachesImageAndDeleteRemovesIt(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createTask(t, map[string]any{"title": "Scan receipt"})

	rec := ts.upload(t, "/api/tasks/upload/"+created.ID, "receipt.png", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload struct {
		ImageURL string `json:"imageUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, strings.HasPrefix(payload.ImageURL, blob.URLPrefix))
	assert.True(t, strings.HasSuffix(payload.ImageURL, "-receipt.png"))

	stored, err := ts.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, payload.ImageURL, stored.ImageURL)

	name := strings.TrimPrefix(payload.ImageURL, blob.URLPrefix)
	_, err = os.Stat(filepath.Join(ts.uploads, name))
	require.NoError(t, err)

	rec = ts.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task deleted successfully", decodeMessage(t, rec))
	_, err = os.Stat(filepath.Join(ts.uploads, name))
	assert.True(t, os.IsNotExist(err))

	rec = ts.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.upload(t, "/api/tasks/upload", "notes.txt", []byte("just some text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only image files are allowed", decodeMessage(t, rec))
}

func TestUploadRejectsOversizedImage(t *testing.T) {
	ts := newTestServer(t)
	content := append(append([]byte(nil), pngHeader...), make([]byte, blob.MaxSize)...)

	rec := ts.upload(t, "/api/tasks/upload", "huge.png", content)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadForUnknownTaskLeavesNoFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.upload(t, "/api/tasks/upload/ghost", "a.png", pngHeader)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries, _ := os.ReadDir(ts.uploads)
	assert.Empty(t, entries)
}

func TestUploadWithoutFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/tasks/upload", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeMessage(t, rec))
}

func TestDownloadServesStoredImage(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.upload(t, "/api/tasks/upload", "a.png", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		ImageURL string `json:"imageUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	name := strings.TrimPrefix(payload.ImageURL, blob.URLPrefix)

	rec = ts.do(t, http.MethodGet, "/api/tasks/download/"+name, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngHeader, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	req := httptest.NewRequest(http.MethodGet, payload.ImageURL, nil)
	public := httptest.NewRecorder()
	ts.handler.ServeHTTP(public, req)
	assert.Equal(t, http.StatusOK, public.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/download/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found", decodeMessage(t, rec))
}

func TestPagesCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/pages", map[string]any{"name": "Work", "color": "#ef4444"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Work", created.Name)
	assert.Equal(t, "#ef4444", created.Color)

	rec = ts.do(t, http.MethodPatch, "/api/pages/"+created.ID, map[string]any{"name": "Office"})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed model.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renamed))
	assert.Equal(t, "Office", renamed.Name)
	assert.Equal(t, "#ef4444", renamed.Color)

	rec = ts.do(t, http.MethodGet, "/api/pages", nil)
	var pages []model.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pages))
	assert.Len(t, pages, 2)

	rec = ts.do(t, http.MethodDelete, "/api/pages/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/pages/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Page not found", decodeMessage(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/pages", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	ts := newTestServer(t)
	ts.createTask(t, map[string]any{"title": "a", "status": "Completed"})
	ts.createTask(t, map[string]any{"title": "b"})
	ts.createTask(t, map[string]any{"title": "c", "pageId": "other"})

	rec := ts.do(t, http.MethodGet, "/api/summary?pageId=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary model.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 50, summary.Efficiency)
	assert.Equal(t, 1, summary.ByStatus[model.StatusCompleted])
}

func TestIndexRendersBoard(t *testing.T) {
	ts := newTestServer(t)
	ts.createTask(t, map[string]any{"title": "Water plants", "status": "StartedWorking", "dueDate": "2020-01-01T00:00:00Z"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Water plants")
	assert.Contains(t, body, "StartedWorking (1)")
	assert.Contains(t, body, "My Tasks")
	assert.Contains(t, body, `class="overdue"`)
}
