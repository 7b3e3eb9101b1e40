package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/leadflow/internal/dedup"
	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/leads"
	"github.com/jonesrussell/leadflow/internal/logger"
	"github.com/jonesrussell/leadflow/internal/pipeline"
	"github.com/jonesrussell/leadflow/internal/status"
	"github.com/jonesrussell/leadflow/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	providerOnce sync.Once
	provider     *telemetry.Provider
)

func testProvider() *telemetry.Provider {
	providerOnce.Do(func() {
		provider = telemetry.NewProvider()
	})
	return provider
}

type stubEnricher struct{}

func (stubEnricher) Analyze(context.Context, string, string) (*domain.CompanyProfile, error) {
	return &domain.CompanyProfile{Industry: "Forestry", Confidence: 0.9}, nil
}

type stubCampaigns struct{}

func (stubCampaigns) Lookup(context.Context, string) (*domain.Campaign, error) {
	return nil, nil
}

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, *domain.Lead, *domain.CompanyProfile) error {
	return nil
}

// memoryStore backs both the pipeline (Create) and the claim service
type memoryStore struct {
	mu    sync.Mutex
	seq   int
	leads map[string]*domain.Lead
}

func newMemoryStore() *memoryStore {
	return &memoryStore{leads: make(map[string]*domain.Lead)}
}

func (m *memoryStore) Create(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	stored := *lead
	stored.ID = fmt.Sprintf("lead-%d", m.seq)
	stored.Version = 1
	m.leads[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memoryStore) GetByID(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *lead
	return &out, nil
}

func (m *memoryStore) Update(_ context.Context, lead *domain.Lead, expectedVersion int64) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.leads[lead.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	stored := *lead
	stored.Version = expectedVersion + 1
	m.leads[lead.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memoryStore) Claim(_ context.Context, lead *domain.Lead, ownerID string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.leads[lead.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if current.OwnerID != nil && *current.OwnerID != ownerID {
		return nil, domain.ErrClaimConflict
	}
	stored := *lead
	stored.Version = current.Version + 1
	m.leads[lead.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memoryStore) seed(t *testing.T, lead *domain.Lead) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = lead
}

type testServer struct {
	router    *gin.Engine
	pipeline  *pipeline.Pipeline
	deadQueue *dlq.Queue
	store     *memoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.NewNopLogger()
	tel := testProvider()
	store := newMemoryStore()
	tracker := status.NewTracker(time.Minute, log)
	deadQueue := dlq.NewQueue(domain.DefaultMaxRetries, log)

	cfg := pipeline.DefaultConfig()
	cfg.Retry.MaxAttempts = 1

	p := pipeline.New(stubEnricher{}, stubCampaigns{}, store, stubNotifier{},
		tracker, deadQueue, cfg, tel, log)
	leadService := leads.NewService(store, log)

	handlers := NewHandlers(p, leadService, deadQueue, nil, nil, nil, nil, tel, log, "test")
	router := NewRouter(handlers, tel.Handler(), true, log)

	return &testServer{router: router, pipeline: p, deadQueue: deadQueue, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestIngestLead(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/webhooks/lead", domain.LeadPayload{
		Email:   "jordan@acme.example",
		Company: "Acme Timber",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		CorrelationID string `json:"correlation_id"`
		Status        string `json:"status"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, "pending", resp.Status)

	s.pipeline.Wait()

	jobResp := s.do(t, http.MethodGet, "/api/v1/jobs/"+resp.CorrelationID, nil)
	require.Equal(t, http.StatusOK, jobResp.Code)

	var job domain.ProcessingJob
	decode(t, jobResp, &job)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "Forestry", job.Industry)
}

func TestIngestLeadValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/webhooks/lead", domain.LeadPayload{Email: "x@y.example"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/lead", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestLeadDuplicateDelivery(t *testing.T) {
	log := logger.NewNopLogger()
	tel := testProvider()
	store := newMemoryStore()
	tracker := status.NewTracker(time.Minute, log)
	deadQueue := dlq.NewQueue(domain.DefaultMaxRetries, log)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	dedupTracker := dedup.NewTracker(client, time.Hour, log)

	p := pipeline.New(stubEnricher{}, stubCampaigns{}, store, stubNotifier{},
		tracker, deadQueue, pipeline.DefaultConfig(), tel, log)
	handlers := NewHandlers(p, leads.NewService(store, log), deadQueue,
		nil, dedupTracker, nil, nil, tel, log, "test")
	router := NewRouter(handlers, tel.Handler(), true, log)

	payload, err := json.Marshal(domain.LeadPayload{Email: "a@b.example", Company: "A"})
	require.NoError(t, err)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lead", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", "delivery-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code)
	p.Wait()

	second := send()
	require.Equal(t, http.StatusAccepted, second.Code)

	var resp struct {
		CorrelationID string `json:"correlation_id"`
		Duplicate     bool   `json:"duplicate"`
		Status        string `json:"status"`
	}
	decode(t, second, &resp)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, "delivery-1", resp.CorrelationID)
	assert.Equal(t, "completed", resp.Status)

	// Only one lead was stored
	assert.Len(t, store.leads, 1)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/webhooks/lead", domain.LeadPayload{Email: "a@b.example", Company: "A"})
	s.pipeline.Wait()

	w := s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Count)
}

func seedContactedLead(t *testing.T, s *testServer, owner string) *domain.Lead {
	t.Helper()
	lead := &domain.Lead{
		ID:      "lead-a",
		Version: 1,
		Status:  domain.LeadStatusContacted,
		Email:   "jordan@acme.example",
		Company: "Acme Timber",
	}
	if owner != "" {
		name := "Taylor"
		lead.OwnerID = &owner
		lead.OwnerName = &name
	}
	s.store.seed(t, lead)
	return lead
}

func TestClaimLead(t *testing.T) {
	s := newTestServer(t)
	seedContactedLead(t, s, "")

	w := s.do(t, http.MethodPost, "/api/v1/leads/lead-a/claim", claimRequest{
		UserID:   "user-1",
		UserName: "Ash",
		Status:   domain.LeadStatusContacted,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result leads.ClaimResult
	decode(t, w, &result)
	assert.True(t, result.Success)
	assert.True(t, result.FirstClaim)
	require.NotNil(t, result.Lead)
	assert.Equal(t, int64(2), result.Lead.Version)
}

func TestClaimLeadConflict(t *testing.T) {
	s := newTestServer(t)
	seedContactedLead(t, s, "user-9")

	w := s.do(t, http.MethodPost, "/api/v1/leads/lead-a/claim", claimRequest{
		UserID:   "user-1",
		UserName: "Ash",
		Status:   domain.LeadStatusContacted,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var result leads.ClaimResult
	decode(t, w, &result)
	assert.False(t, result.Success)
	assert.True(t, result.AlreadyClaimed)
	assert.Equal(t, "Taylor", result.OwnerName)
}

func TestClaimLeadErrors(t *testing.T) {
	s := newTestServer(t)
	seedContactedLead(t, s, "")

	// "new" is never a claim target
	w := s.do(t, http.MethodPost, "/api/v1/leads/lead-a/claim", claimRequest{
		UserID: "user-1", Status: domain.LeadStatusNew,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/leads/missing/claim", claimRequest{
		UserID: "user-1", Status: domain.LeadStatusContacted,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateLeadStatus(t *testing.T) {
	s := newTestServer(t)
	lead := seedContactedLead(t, s, "user-1")

	w := s.do(t, http.MethodPatch, "/api/v1/leads/lead-a/status", updateStatusRequest{
		UserID:  "user-1",
		Status:  domain.LeadStatusClosed,
		Version: lead.Version,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated domain.Lead
	decode(t, w, &updated)
	assert.Equal(t, domain.LeadStatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)

	// Stale version
	w = s.do(t, http.MethodPatch, "/api/v1/leads/lead-a/status", updateStatusRequest{
		UserID:  "user-1",
		Status:  domain.LeadStatusLost,
		Version: lead.Version,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetLead(t *testing.T) {
	s := newTestServer(t)
	seedContactedLead(t, s, "")

	w := s.do(t, http.MethodGet, "/api/v1/leads/lead-a", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/leads/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func addDeadLetter(t *testing.T, s *testServer) string {
	t.Helper()
	payload, err := json.Marshal(domain.LeadPayload{Email: "x@y.example", Company: "X"})
	require.NoError(t, err)
	return s.deadQueue.Add(domain.EventTypeWebhookIngestion, payload,
		domain.DeadLetterError{Message: "storage down"}, "corr-1")
}

func TestDeadLetterEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := addDeadLetter(t, s)

	w := s.do(t, http.MethodGet, "/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = s.do(t, http.MethodGet, "/api/v1/dlq/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.DLQStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType[domain.EventTypeWebhookIngestion])

	w = s.do(t, http.MethodGet, "/api/v1/dlq/retryable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = s.do(t, http.MethodDelete, "/api/v1/dlq/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/dlq/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeadLetterExportImport(t *testing.T) {
	s := newTestServer(t)
	addDeadLetter(t, s)

	w := s.do(t, http.MethodGet, "/api/v1/dlq/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var export struct {
		Events []domain.DeadLetterEvent `json:"events"`
	}
	decode(t, w, &export)
	require.Len(t, export.Events, 1)

	// Round-trip into a fresh server
	other := newTestServer(t)
	w = other.do(t, http.MethodPost, "/api/v1/dlq/import", export)
	require.Equal(t, http.StatusOK, w.Code)

	var imported struct {
		Imported int `json:"imported"`
	}
	decode(t, w, &imported)
	assert.Equal(t, 1, imported.Imported)

	// Importing the same events again is a no-op
	w = other.do(t, http.MethodPost, "/api/v1/dlq/import", export)
	decode(t, w, &imported)
	assert.Equal(t, 0, imported.Imported)
}

// newArchivedServer wires a miniredis-backed archive into the handlers so the
// delete and clear paths can be checked against the durable copy.
func newArchivedServer(t *testing.T) (*testServer, *dlq.Archive) {
	t.Helper()

	log := logger.NewNopLogger()
	tel := testProvider()
	store := newMemoryStore()
	tracker := status.NewTracker(time.Minute, log)
	deadQueue := dlq.NewQueue(domain.DefaultMaxRetries, log)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	archive := dlq.NewArchive(client, log)

	cfg := pipeline.DefaultConfig()
	cfg.Retry.MaxAttempts = 1

	p := pipeline.New(stubEnricher{}, stubCampaigns{}, store, stubNotifier{},
		tracker, deadQueue, cfg, tel, log)
	handlers := NewHandlers(p, leads.NewService(store, log), deadQueue,
		archive, nil, nil, nil, tel, log, "test")
	router := NewRouter(handlers, tel.Handler(), true, log)

	return &testServer{router: router, pipeline: p, deadQueue: deadQueue, store: store}, archive
}

func TestDeleteDeadLetterPrunesArchive(t *testing.T) {
	s, archive := newArchivedServer(t)
	ctx := context.Background()

	id := addDeadLetter(t, s)
	keep := addDeadLetter(t, s)
	require.NoError(t, archive.Flush(ctx, s.deadQueue.Export()))

	w := s.do(t, http.MethodDelete, "/api/v1/dlq/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The deleted event must not come back when a fresh queue restores
	// from the archive
	archived, err := archive.Load(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, keep, archived[0].ID)

	restored := dlq.NewQueue(domain.DefaultMaxRetries, logger.NewNopLogger())
	restored.Import(archived)
	_, found := restored.Get(id)
	assert.False(t, found)
}

func TestClearDeadLettersPrunesArchive(t *testing.T) {
	s, archive := newArchivedServer(t)
	ctx := context.Background()

	addDeadLetter(t, s)
	addDeadLetter(t, s)
	require.NoError(t, archive.Flush(ctx, s.deadQueue.Export()))

	w := s.do(t, http.MethodDelete, "/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, w.Code)

	archived, err := archive.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestClearDeadLetters(t *testing.T) {
	s := newTestServer(t)
	addDeadLetter(t, s)
	addDeadLetter(t, s)

	w := s.do(t, http.MethodDelete, "/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Cleared int `json:"cleared"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Cleared)
}

func TestBreakerEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/breakers/persistence/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/breakers/bogus/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "leadflow", resp.Service)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leadflow_")
}
