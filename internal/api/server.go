package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/renderbox/internal/history"
	"github.com/psantana5/renderbox/internal/metrics"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/logging"
	"github.com/psantana5/renderbox/pkg/ratelimit"
)

// Runner executes one resolved job end to end. The serve mode keeps the
// same single-job pipeline as the CLI; it only adds queueing in front.
type Runner interface {
	Run(ctx context.Context, name, gpuSelector string) (*report.Outcome, error)
}

// Submission is the POST /jobs request body
type Submission struct {
	Name string `json:"name"`

	// GPUSelector overrides the host default; omit to inherit it,
	// set empty to dispatch without GPU exposure
	GPUSelector *string `json:"gpu_selector,omitempty"`
}

// JobRecord tracks one submitted job through the queue
type JobRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	GPUSelector string     `json:"gpu_selector"`
	Status      string     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

const (
	jobQueued  = "queued"
	jobRunning = "running"
)

// Server is the HTTP submission API. Jobs run sequentially through a
// single worker: the execution environment is one host with one set of
// GPUs, so parallel dispatch would only make jobs fight over devices.
type Server struct {
	runner      Runner
	store       history.Store
	collector   *metrics.Collector
	log         *logging.Logger
	apiKey      string
	defaultGPUs string
	limiter     *ratelimit.Limiter

	mu    sync.RWMutex
	jobs  map[string]*JobRecord
	order []string
	queue chan string
	done  chan struct{}
}

// Config carries server construction options
type Config struct {
	APIKey      string
	DefaultGPUs string
	QueueDepth  int
	RateRPS     float64
	RateBurst   int
}

// NewServer creates the submission API server
func NewServer(runner Runner, store history.Store, collector *metrics.Collector, cfg Config, log *logging.Logger) *Server {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		runner:      runner,
		store:       store,
		collector:   collector,
		log:         log,
		apiKey:      cfg.APIKey,
		defaultGPUs: cfg.DefaultGPUs,
		limiter:     ratelimit.NewLimiter(rps, burst),
		jobs:        make(map[string]*JobRecord),
		queue:       make(chan string, depth),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch worker. The worker stops when ctx is
// cancelled; a job already running is given to the runner's own
// cancellation path and finishes its bookkeeping before Done closes.
func (s *Server) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-s.queue:
				s.runJob(ctx, id)
			}
		}
	}()
}

// Done is closed once the dispatch worker has fully stopped. Shutdown
// must wait on this before closing the history store, or the last run's
// record is lost.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) runJob(ctx context.Context, id string) {
	s.mu.Lock()
	rec, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Status = jobRunning
	name, selector := rec.Name, rec.GPUSelector
	s.mu.Unlock()

	outcome, err := s.runner.Run(ctx, name, selector)

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.FinishedAt = &now
	if outcome != nil {
		code := outcome.ExitCode
		rec.ExitCode = &code
		rec.RunID = outcome.RunID
		rec.Status = string(outcome.Status)
	} else {
		rec.Status = string(report.StatusLaunchFailed)
	}
	if err != nil {
		rec.Error = err.Error()
	}
}

// Router builds the HTTP route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.limiter.Middleware(ratelimit.IPKeyFunc))
	r.Use(s.authMiddleware)

	r.HandleFunc("/jobs", s.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs", s.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.GetJob).Methods("GET")
	r.HandleFunc("/runs", s.ListRuns).Methods("GET")
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{}))
	return r
}

// authMiddleware enforces the configured bearer token. Health and
// metrics stay open for probes and scrapers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubmitJob handles POST /jobs
func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	selector := s.defaultGPUs
	if sub.GPUSelector != nil {
		selector = *sub.GPUSelector
	}

	rec := &JobRecord{
		ID:          uuid.New().String(),
		Name:        sub.Name,
		GPUSelector: selector,
		Status:      jobQueued,
		SubmittedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	s.mu.Unlock()

	select {
	case s.queue <- rec.ID:
	default:
		s.rollback(rec.ID)
		http.Error(w, "Queue full", http.StatusServiceUnavailable)
		return
	}

	s.log.Info("job submitted", map[string]interface{}{"id": rec.ID, "name": rec.Name})

	// Encode a snapshot, not the live record: the worker may already be
	// mutating it under the lock.
	s.mu.RLock()
	snapshot := *rec
	s.mu.RUnlock()
	writeJSON(w, http.StatusAccepted, snapshot)
}

// rollback removes a record whose queue send was refused. The entry for
// this ID is found by search: another submission may have appended to
// order between our append and the failed send, so truncating the tail
// would drop the wrong ID.
func (s *Server) rollback(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.order[i] == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ListJobs handles GET /jobs, newest first
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	records := make([]JobRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		records = append(records, *s.jobs[s.order[i]])
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, records)
}

// GetJob handles GET /jobs/{id}
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	rec, ok := s.jobs[id]
	var snapshot JobRecord
	if ok {
		snapshot = *rec
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ListRuns handles GET /runs from the persistent history
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(50)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"queue_depth": len(s.queue),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
