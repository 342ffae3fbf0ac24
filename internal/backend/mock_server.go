// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// ConvertMode selects how the mock answers conversion requests.
type ConvertMode int

const (
	// ConvertSync answers with the finished artifact URL.
	ConvertSync ConvertMode = iota
	// ConvertAsync answers with a job id.
	ConvertAsync
)

// MockJobStep is one status the mock reports for a job.
type MockJobStep struct {
	State string
	Meta  map[string]any
}

// MockServer is an in-process dubbing backend for tests.
type MockServer struct {
	*httptest.Server

	mu          sync.Mutex
	prefix      string
	mode        ConvertMode
	videos      map[string]string // video id -> filename
	jobs        map[string]*mockJob
	scripts     [][]MockJobStep
	failures    map[string]int // route -> remaining 500s
	statuses    map[string]int // route -> forced status
	convertReqs []map[string]any
	jobReqs     []map[string]any
	nextVideo   int
	nextJob     int
	statusCalls map[string]int
}

type mockJob struct {
	steps []MockJobStep
	pos   int
}

// MockOption configures a MockServer.
type MockOption func(*MockServer)

// WithPathPrefix serves every route below prefix, e.g. "/dubber".
func WithPathPrefix(prefix string) MockOption {
	return func(m *MockServer) { m.prefix = "/" + strings.Trim(prefix, "/") }
}

// WithConvertMode sets the initial conversion mode.
func WithConvertMode(mode ConvertMode) MockOption {
	return func(m *MockServer) { m.mode = mode }
}

// Route names accepted by SetFailures and SetStatus.
const (
	RouteUpload    = "upload"
	RouteConvert   = "convert"
	RouteCreateJob = "create_job"
	RouteJobStatus = "job_status"
	RouteAssets    = "assets"
	RouteHealth    = "health"
)

// NewMockServer starts a mock backend. Close it when done.
func NewMockServer(opts ...MockOption) *MockServer {
	m := &MockServer{
		videos:      make(map[string]string),
		jobs:        make(map[string]*mockJob),
		failures:    make(map[string]int),
		statuses:    make(map[string]int),
		statusCalls: make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}

	r := chi.NewRouter()
	routes := func(r chi.Router) {
		r.Get("/healthz", m.guard(RouteHealth, m.handleHealth))
		r.Route("/api", func(r chi.Router) {
			r.Post("/videos/upload", m.guard(RouteUpload, m.handleUpload))
			r.Post("/videos/{videoID}/convert/audio", m.guard(RouteConvert, m.handleConvert))
			r.Get("/videos/{videoID}/assets", m.guard(RouteAssets, m.handleAssets))
			r.Post("/jobs", m.guard(RouteCreateJob, m.handleCreateJob))
			r.Get("/jobs/{jobID}", m.guard(RouteJobStatus, m.handleJobStatus))
			r.Get("/assets/audio/{name}", m.handleArtifact)
		})
	}
	if m.prefix != "" && m.prefix != "/" {
		r.Route(m.prefix, routes)
	} else {
		m.prefix = ""
		routes(r)
	}

	m.Server = httptest.NewServer(r)
	return m
}

// BaseURL is the URL clients should be configured with, including any prefix.
func (m *MockServer) BaseURL() string { return m.URL + m.prefix }

// SetConvertMode switches between immediate and queued conversion answers.
func (m *MockServer) SetConvertMode(mode ConvertMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// QueueJobScript assigns steps to the next job the mock creates. Jobs without a
// script report PENDING then SUCCESS.
func (m *MockServer) QueueJobScript(steps ...MockJobStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, steps)
}

// SetFailures makes the next count requests to route answer 500.
func (m *MockServer) SetFailures(route string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[route] = count
}

// SetStatus forces route to answer status until reset with 0.
func (m *MockServer) SetStatus(route string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.statuses, route)
		return
	}
	m.statuses[route] = status
}

// AddVideo registers an uploaded video without going through the upload route.
func (m *MockServer) AddVideo(id, filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id] = filename
}

// ConvertRequests returns the decoded conversion bodies received so far.
func (m *MockServer) ConvertRequests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.convertReqs...)
}

// JobRequests returns the decoded job creation bodies received so far.
func (m *MockServer) JobRequests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.jobReqs...)
}

// StatusCalls returns how often jobID was polled.
func (m *MockServer) StatusCalls(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[jobID]
}

func (m *MockServer) guard(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		if n := m.failures[route]; n > 0 {
			m.failures[route] = n - 1
			m.mu.Unlock()
			writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "injected failure"})
			return
		}
		if status, ok := m.statuses[route]; ok {
			m.mu.Unlock()
			writeJSON(w, status, map[string]any{"detail": http.StatusText(status)})
			return
		}
		m.mu.Unlock()
		next(w, r)
	}
}

func (m *MockServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"env":    "test",
		"engines": map[string]string{
			"transcription": "dummy",
			"translation":   "dummy",
			"tts":           "dummy",
		},
	})
}

func (m *MockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "file part missing"})
		return
	}
	_, _ = io.Copy(io.Discard, file)
	_ = file.Close()

	m.mu.Lock()
	m.nextVideo++
	id := fmt.Sprintf("vid-%d", m.nextVideo)
	m.videos[id] = header.Filename
	m.mu.Unlock()

	ext := path.Ext(header.Filename)
	if ext == "" {
		ext = ".bin"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_id": id,
		"filename": header.Filename,
		"path":     "storage/videos/" + id + ext,
	})
}

func (m *MockServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid JSON"})
		return
	}
	format, _ := body["format"].(string)
	if format != "wav" && format != "mp3" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "unsupported format"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.convertReqs = append(m.convertReqs, body)
	if _, ok := m.videos[videoID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "video not found"})
		return
	}

	filename := videoID + "." + format
	url := "/api/assets/audio/" + filename
	if m.mode == ConvertSync {
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "filename": filename, "format": format})
		return
	}
	id := m.newJobLocked([]MockJobStep{
		{State: "PENDING"},
		{State: "STARTED", Meta: map[string]any{"step": "ffmpeg", "format": format}},
		{State: "SUCCESS", Meta: map[string]any{"url": url, "filename": filename, "format": format}},
	})
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id})
}

func (m *MockServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid JSON"})
		return
	}
	videoID, _ := body["video_id"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobReqs = append(m.jobReqs, body)
	if _, ok := m.videos[videoID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "video not found"})
		return
	}

	langs, _ := body["target_languages"].([]any)
	dubs := make([]any, 0, len(langs))
	translations := make([]any, 0, len(langs))
	for _, l := range langs {
		dubs = append(dubs, fmt.Sprintf("storage/dubs/%s_%v.wav", videoID, l))
		translations = append(translations, fmt.Sprintf("storage/translations/%s_%v.txt", videoID, l))
	}
	id := m.newJobLocked([]MockJobStep{
		{State: "PENDING"},
		{State: "STARTED", Meta: map[string]any{"step": "transcribe"}},
		{State: "SUCCESS", Meta: map[string]any{
			"transcript":   "storage/transcripts/" + videoID + "_transcript.txt",
			"translations": translations,
			"dubs":         dubs,
		}},
	})
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "status": "queued"})
}

// newJobLocked registers a job, preferring a queued script over def.
func (m *MockServer) newJobLocked(def []MockJobStep) string {
	m.nextJob++
	id := fmt.Sprintf("job-%d", m.nextJob)
	steps := def
	if len(m.scripts) > 0 {
		steps, m.scripts = m.scripts[0], m.scripts[1:]
	}
	m.jobs[id] = &mockJob{steps: steps}
	return id
}

func (m *MockServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	m.mu.Lock()
	m.statusCalls[jobID]++
	job, ok := m.jobs[jobID]
	var step MockJobStep
	if ok && len(job.steps) > 0 {
		step = job.steps[job.pos]
		if job.pos < len(job.steps)-1 {
			job.pos++
		}
	}
	m.mu.Unlock()

	if !ok || len(job.steps) == 0 {
		// Unknown ids look pending, as with a result backend that has not seen the task.
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "state": "PENDING", "meta": map[string]any{}})
		return
	}
	meta := step.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "state": step.State, "meta": meta})
}

func (m *MockServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts":  []string{"storage/transcripts/" + videoID + "_transcript.txt"},
		"translations": []string{"storage/translations/" + videoID + "_es.txt"},
		"dubs":         []string{"storage/dubs/" + videoID + "_es.wav"},
	})
}

func (m *MockServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.WriteString(w, "RIFF-"+name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
