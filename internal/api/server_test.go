package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/renderbox/internal/history"
	"github.com/psantana5/renderbox/internal/metrics"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/logging"
)

// stubRunner completes every job immediately with a fixed exit code
type stubRunner struct {
	exitCode int
	status   report.Status
	seen     chan string
}

func (r *stubRunner) Run(ctx context.Context, name, gpuSelector string) (*report.Outcome, error) {
	start := time.Now()
	o := report.New("run-"+name, name, r.exitCode, r.status, start, start,
		"/w/output/output_cache/"+name, "/w/output/"+name)
	if r.seen != nil {
		r.seen <- gpuSelector
	}
	return o, nil
}

// gatedRunner holds every job until release is closed. started carries
// the job name the moment the worker hands it over.
type gatedRunner struct {
	store   history.Store
	started chan string
	release chan struct{}
}

func (r *gatedRunner) Run(ctx context.Context, name, gpuSelector string) (*report.Outcome, error) {
	r.started <- name
	<-r.release
	now := time.Now()
	o := report.New("run-"+name, name, 0, report.StatusCompleted, now, now,
		"/w/output/output_cache/"+name, "/w/output/"+name)
	if r.store != nil {
		if err := r.store.RecordRun(history.FromOutcome(o, "renderbox/worker:latest", gpuSelector)); err != nil {
			return o, err
		}
	}
	return o, nil
}

func testServer(t *testing.T, runner Runner, cfg Config) *Server {
	t.Helper()
	s := NewServer(runner, history.NewMemoryStore(), metrics.NewCollector(), cfg,
		logging.NewLogger(logging.ERROR, false))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s
}

func submit(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/jobs", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestSubmitJob_Accepted(t *testing.T) {
	runner := &stubRunner{status: report.StatusCompleted}
	s := testServer(t, runner, Config{})

	w := submit(t, s, `{"name":"run-17"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var rec JobRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "run-17", rec.Name)
	assert.Equal(t, jobQueued, rec.Status)
	assert.NotEmpty(t, rec.ID)

	// worker picks it up and completes it
	require.Eventually(t, func() bool {
		req := httptest.NewRequest("GET", "/jobs/"+rec.ID, nil)
		resp := httptest.NewRecorder()
		s.Router().ServeHTTP(resp, req)

		var got JobRecord
		if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == string(report.StatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitJob_GPUSelectorDefaulting(t *testing.T) {
	runner := &stubRunner{status: report.StatusCompleted, seen: make(chan string, 2)}
	s := testServer(t, runner, Config{DefaultGPUs: "0"})

	submit(t, s, `{"name":"a"}`, nil)
	assert.Equal(t, "0", <-runner.seen)

	submit(t, s, `{"name":"b","gpu_selector":""}`, nil)
	assert.Equal(t, "", <-runner.seen)
}

func TestSubmitJob_BadBody(t *testing.T) {
	s := testServer(t, &stubRunner{status: report.StatusCompleted}, Config{})
	w := submit(t, s, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	s := testServer(t, &stubRunner{status: report.StatusCompleted}, Config{APIKey: "sekret"})

	t.Run("Missing token rejected", func(t *testing.T) {
		w := submit(t, s, `{"name":"x"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Valid token accepted", func(t *testing.T) {
		w := submit(t, s, `{"name":"x"}`, map[string]string{"Authorization": "Bearer sekret"})
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("Health stays open", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestListRuns_FromHistory(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.RecordRun(&history.Run{
		RunID: "id-1", Name: "run-17", Image: "renderbox/worker:latest",
		Status: report.StatusCompleted, StartTime: time.Now(), EndTime: time.Now(),
	}))

	s := NewServer(&stubRunner{status: report.StatusCompleted}, store, metrics.NewCollector(), Config{},
		logging.NewLogger(logging.ERROR, false))

	req := httptest.NewRequest("GET", "/runs", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var runs []*history.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-17", runs[0].Name)
}

// Readers must get a consistent snapshot while the worker rewrites job
// records; this only bites under the race detector.
func TestJobReads_DuringCompletion(t *testing.T) {
	runner := &stubRunner{status: report.StatusCompleted}
	s := testServer(t, runner, Config{RateRPS: 1000, RateBurst: 1000})
	router := s.Router()

	w := submit(t, s, `{"name":"first"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var rec JobRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, path := range []string{"/jobs", "/jobs/" + rec.ID} {
					req := httptest.NewRequest("GET", path, nil)
					resp := httptest.NewRecorder()
					router.ServeHTTP(resp, req)
					if resp.Code != http.StatusOK {
						t.Errorf("GET %s: %d", path, resp.Code)
					}
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		submit(t, s, `{"name":"more"}`, nil)
	}
	wg.Wait()
}

func TestSubmitJob_QueueFull(t *testing.T) {
	runner := &gatedRunner{started: make(chan string), release: make(chan struct{})}
	s := testServer(t, runner, Config{QueueDepth: 1})
	router := s.Router()

	wa := submit(t, s, `{"name":"a"}`, nil)
	require.Equal(t, http.StatusAccepted, wa.Code)
	require.Equal(t, "a", <-runner.started) // a dispatched, its slot is free

	wb := submit(t, s, `{"name":"b"}`, nil)
	require.Equal(t, http.StatusAccepted, wb.Code)

	wc := submit(t, s, `{"name":"c"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, wc.Code)

	// the refused submission leaves nothing behind
	req := httptest.NewRequest("GET", "/jobs", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var records []JobRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].Name)
	assert.Equal(t, "a", records[1].Name)
	for _, r := range records {
		assert.NotEmpty(t, r.ID)
	}

	close(runner.release)
	assert.Equal(t, "b", <-runner.started)
}

// A refused submission may not be the newest entry in order: another
// request can append between the map insert and the queue send.
func TestRollback_SplicesRefusedEntry(t *testing.T) {
	s := NewServer(&stubRunner{status: report.StatusCompleted}, history.NewMemoryStore(),
		metrics.NewCollector(), Config{}, logging.NewLogger(logging.ERROR, false))

	s.jobs["x"] = &JobRecord{ID: "x"}
	s.jobs["y"] = &JobRecord{ID: "y"}
	s.order = []string{"x", "y"}

	s.rollback("x")

	assert.Equal(t, []string{"y"}, s.order)
	assert.NotContains(t, s.jobs, "x")
	assert.Contains(t, s.jobs, "y")
}

func TestShutdown_WaitsForInFlightJob(t *testing.T) {
	store := history.NewMemoryStore()
	runner := &gatedRunner{store: store, started: make(chan string), release: make(chan struct{})}
	s := NewServer(runner, store, metrics.NewCollector(), Config{},
		logging.NewLogger(logging.ERROR, false))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	w := submit(t, s, `{"name":"slow"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "slow", <-runner.started)

	cancel()
	select {
	case <-s.Done():
		t.Fatal("worker stopped with a job still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the job finished")
	}

	// the run made it into history before the worker reported done
	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "slow", runs[0].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, &stubRunner{status: report.StatusCompleted}, Config{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
