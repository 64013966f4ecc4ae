package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Joseda-hg/planner/internal/blob"
	"github.com/Joseda-hg/planner/internal/db"
	"github.com/Joseda-hg/planner/internal/model"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.tmpl").Funcs(template.FuncMap{
	"due": func(due *time.Time) string {
		if due == nil {
			return ""
		}
		return humanize.Time(*due)
	},
	"overdue": func(task model.Task) bool {
		return task.Status != model.StatusCompleted && task.DueDate != nil && task.DueDate.Before(time.Now())
	},
}).ParseFS(templateFS, "templates/index.tmpl"))

type TaskStore interface {
	ListTasks(ctx context.Context, filter model.Filter) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	AddTask(ctx context.Context, task model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, task model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type Pages interface {
	Pages() []model.Page
	Selected() (model.Page, bool)
	Get(id string) (model.Page, bool)
	AddPage(ctx context.Context, name string) (model.Page, error)
	UpdatePage(ctx context.Context, id string, patch model.PagePatch) (model.Page, error)
	DeletePage(ctx context.Context, id string) error
}

type Server struct {
	store    TaskStore
	pages    Pages
	blobs    *blob.Store
	token    string
	logger   *zap.Logger
	onChange func(ctx context.Context)
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every /api route.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChangeHook is called after every successful task or page write, so a
// board sharing the store can refresh.
func WithChangeHook(fn func(ctx context.Context)) Option {
	return func(s *Server) { s.onChange = fn }
}

func NewServer(store TaskStore, pages Pages, blobs *blob.Store, opts ...Option) *Server {
	s := &Server{store: store, pages: pages, blobs: blobs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/tasks", s.listTasksHandler)
	api.HandleFunc("POST /api/tasks", s.createTaskHandler)
	api.HandleFunc("GET /api/tasks/{id}", s.getTaskHandler)
	api.HandleFunc("PATCH /api/tasks/{id}", s.updateTaskHandler)
	api.HandleFunc("DELETE /api/tasks/{id}", s.deleteTaskHandler)
	api.HandleFunc("POST /api/tasks/upload", s.uploadHandler)
	api.HandleFunc("POST /api/tasks/upload/{taskId}", s.uploadHandler)
	api.HandleFunc("GET /api/tasks/download/{fileName}", s.downloadHandler)
	api.HandleFunc("GET /api/summary", s.summaryHandler)
	api.HandleFunc("GET /api/pages", s.listPagesHandler)
	api.HandleFunc("POST /api/pages", s.createPageHandler)
	api.HandleFunc("PATCH /api/pages/{id}", s.updatePageHandler)
	api.HandleFunc("DELETE /api/pages/{id}", s.deletePageHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.requireToken(api))
	mux.HandleFunc("GET /uploads/{fileName}", s.downloadHandler)
	mux.HandleFunc("GET /{$}", s.indexHandler)
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", zap.String("addr", addr))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errs
		return nil
	}
}

type column struct {
	Status model.Status
	Tasks  []model.Task
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	current, ok := s.pages.Get(r.URL.Query().Get("page"))
	if !ok {
		current, ok = s.pages.Selected()
	}

	filter := model.Filter{Query: strings.TrimSpace(r.URL.Query().Get("q"))}
	if ok {
		filter.PageID = current.ID
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	columns := make([]column, 0, len(model.Statuses))
	for _, status := range model.Statuses {
		col := column{Status: status}
		for _, task := range tasks {
			if task.Status == status {
				col.Tasks = append(col.Tasks, task)
			}
		}
		columns = append(columns, col)
	}

	data := struct {
		Page    model.Page
		Pages   []model.Page
		Query   string
		Columns []column
		Summary model.Summary
	}{
		Page:    current,
		Pages:   s.pages.Pages(),
		Query:   filter.Query,
		Columns: columns,
		Summary: model.Summarize(tasks, time.Now()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render board", zap.Error(err))
	}
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	var input model.Task
	if err := decodeJSON(w, r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	input.ID = ""
	input, err := input.Normalize()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if input.PageID == "" {
		selected, ok := s.pages.Selected()
		if !ok {
			s.writeError(w, fmt.Errorf("%w: pageId is required", model.ErrValidation))
			return
		}
		input.PageID = selected.ID
	}

	created, err := s.store.AddTask(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(r.Context())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateTaskHandler(w http.ResponseWriter, r *http.Request) {
	var patch model.TaskPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, err)
		return
	}

	current, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	merged, err := patch.Apply(current).Normalize()
	if err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.store.UpdateTask(r.Context(), merged)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(r.Context())
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteTask(r.Context(), task.ID); err != nil {
		s.writeError(w, err)
		return
	}
	if name, ok := blob.NameFromURL(task.ImageURL); ok {
		if err := s.blobs.Remove(name); err != nil {
			s.logger.Warn("remove task image", zap.String("task", task.ID), zap.Error(err))
		}
	}
	s.changed(r.Context())
	writeMessage(w, http.StatusOK, "Task deleted successfully")
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxSize+1<<20)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, blob.ErrTooLarge)
			return
		}
		writeMessage(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	name, err := s.blobs.Put(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	imageURL := blob.URL(name)

	if taskID := r.PathValue("taskId"); taskID != "" {
		task, err := s.store.GetTask(r.Context(), taskID)
		if err == nil {
			task.ImageURL = imageURL
			_, err = s.store.UpdateTask(r.Context(), task)
		}
		if err != nil {
			_ = s.blobs.Remove(name)
			s.writeError(w, err)
			return
		}
		s.changed(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]string{"imageUrl": imageURL})
}

func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("fileName")
	file, err := s.blobs.Open(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	filter := model.Filter{PageID: r.URL.Query().Get("pageId")}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Summarize(tasks, time.Now()))
}

func (s *Server) listPagesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pages.Pages())
}

func (s *Server) createPageHandler(w http.ResponseWriter, r *http.Request) {
	var input model.Page
	if err := decodeJSON(w, r, &input); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.pages.AddPage(r.Context(), input.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if input.Color != "" {
		created, err = s.pages.UpdatePage(r.Context(), created.ID, model.PagePatch{Color: &input.Color})
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.changed(r.Context())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updatePageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.pages.Get(id); !ok {
		writeMessage(w, http.StatusNotFound, "Page not found")
		return
	}
	var patch model.PagePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.pages.UpdatePage(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(r.Context())
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deletePageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.pages.Get(id); !ok {
		writeMessage(w, http.StatusNotFound, "Page not found")
		return
	}
	if err := s.pages.DeletePage(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.changed(r.Context())
	writeMessage(w, http.StatusOK, "Page deleted successfully")
}

func (s *Server) changed(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}

func filterFromRequest(r *http.Request) (model.Filter, error) {
	query := r.URL.Query()
	filter := model.Filter{
		PageID: strings.TrimSpace(query.Get("pageId")),
		Query:  strings.TrimSpace(query.Get("search")),
	}
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status, err := model.ParseStatus(value)
		if err != nil {
			return model.Filter{}, err
		}
		filter.Status = status
	}
	if value := strings.TrimSpace(query.Get("priority")); value != "" {
		priority, err := model.ParsePriority(value)
		if err != nil {
			return model.Filter{}, err
		}
		filter.Priority = priority
	}
	return filter, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blob.ErrNotImage):
		writeMessage(w, http.StatusBadRequest, "Only image files are allowed")
	case errors.Is(err, blob.ErrTooLarge):
		writeMessage(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blob.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Image not found")
	case errors.Is(err, db.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, db.ErrDuplicateKey):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Server error")
	}
}
