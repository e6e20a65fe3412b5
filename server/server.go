// Package server exposes the rename pipeline over a local HTTP interface:
// a JSON API driving scan/apply jobs plus a small embedded page, replacing a
// desktop picker with a browser tab.
package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/renamer"
	"github.com/docforge/pdfnamer/report"
)

//go:embed ui.html
var uiPage []byte

// JobState tracks whether a job has been applied yet.
type JobState string

const (
	StatePlanned JobState = "planned"
	StateApplied JobState = "applied"
)

// Job is one scan of a folder, held in memory until the process exits.
type Job struct {
	ID        string           `json:"id"`
	Dir       string           `json:"dir"`
	State     JobState         `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	Entries   []renamer.Entry  `json:"entries"`
	Summary   *renamer.Summary `json:"summary,omitempty"`

	plan *renamer.Plan
}

// Server owns the job registry and the pipeline.
type Server struct {
	ren *renamer.Renamer
	log observability.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds a server over a configured renamer.
func New(ren *renamer.Renamer, log observability.Logger) *Server {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Server{ren: ren, log: log, jobs: make(map[string]*Job)}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(uiPage)
	})
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Get("/jobs/{id}", s.handleJob)
		r.Post("/jobs/{id}/rename", s.handleRename)
		r.Get("/jobs/{id}/report", s.handleReport)
	})
	return r
}

type scanRequest struct {
	Folder string `json:"folder"`
}

type renameRequest struct {
	NumericSuffix bool `json:"numeric_suffix"`
}

func (s *Server) handleScan(w http.ResponseWriter, req *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Folder == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}
	if st, err := os.Stat(body.Folder); err != nil || !st.IsDir() {
		writeError(w, http.StatusBadRequest, "folder does not exist")
		return
	}
	plan, err := s.ren.Scan(req.Context(), body.Folder)
	if err != nil {
		s.log.Error("scan failed", observability.String("folder", body.Folder), observability.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job := &Job{
		ID:        uuid.NewString(),
		Dir:       body.Folder,
		State:     StatePlanned,
		CreatedAt: time.Now(),
		Entries:   plan.Entries,
		plan:      plan,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.log.Info("scan complete",
		observability.String("job", job.ID), observability.Int("files", len(plan.Entries)))
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleJob(w http.ResponseWriter, req *http.Request) {
	job, ok := s.job(chi.URLParam(req, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRename(w http.ResponseWriter, req *http.Request) {
	job, ok := s.job(chi.URLParam(req, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	// An empty or malformed body means default options.
	var body renameRequest
	_ = json.NewDecoder(req.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.State == StateApplied {
		writeError(w, http.StatusConflict, "job already applied")
		return
	}
	sum := s.ren.Apply(req.Context(), job.plan, renamer.ApplyOptions{NumericSuffix: body.NumericSuffix})
	job.State = StateApplied
	job.Summary = &sum
	job.Entries = job.plan.Entries
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request) {
	job, ok := s.job(chi.URLParam(req, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	s.mu.Lock()
	html, err := report.HTML(job.plan, job.Summary)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

func (s *Server) job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
