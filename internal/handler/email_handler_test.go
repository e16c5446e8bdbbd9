package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecellhub/email-engine/internal/dispatch"
	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/handler"
	"github.com/ecellhub/email-engine/internal/model"
	"github.com/ecellhub/email-engine/internal/queue"
	"github.com/ecellhub/email-engine/internal/repository"
	"github.com/ecellhub/email-engine/internal/resolver"
	"github.com/ecellhub/email-engine/internal/service"
)

// --- Mocks ---

type mockLogRepo struct {
	mu         sync.Mutex
	logs       map[string]*model.EmailLog
	queryLogs  []*model.EmailLog
	pagination *repository.Pagination
}

func newMockLogRepo() *mockLogRepo {
	return &mockLogRepo{logs: map[string]*model.EmailLog{}}
}

func (m *mockLogRepo) Append(_ context.Context, log *model.EmailLog) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *log
	m.logs[log.ID] = &stored
	return log.ID, nil
}

func (m *mockLogRepo) GetByID(_ context.Context, id string) (*model.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, appErrors.NewLogNotFound(id)
	}
	return log, nil
}

func (m *mockLogRepo) Query(context.Context, repository.LogFilter, int, int) ([]*model.EmailLog, *repository.Pagination, error) {
	return m.queryLogs, m.pagination, nil
}

func (m *mockLogRepo) UpdateRecipientOutcomes(context.Context, string, []model.RecipientOutcome) error {
	return nil
}

func (m *mockLogRepo) StatsTotals(context.Context, time.Time) (*repository.StatsTotals, error) {
	return &repository.StatsTotals{Emails: 2, Recipients: 10, Success: 7, Failure: 3}, nil
}
func (m *mockLogRepo) CampaignStats(context.Context, time.Time) ([]repository.CampaignRow, error) {
	return nil, nil
}
func (m *mockLogRepo) TemplateStats(context.Context, time.Time) ([]repository.TemplateRow, error) {
	return nil, nil
}
func (m *mockLogRepo) DailyStats(context.Context, time.Time) ([]repository.DailyRow, error) {
	return nil, nil
}

type mockTemplateRepo struct{}

func (m *mockTemplateRepo) GetByID(_ context.Context, id int) (*model.Template, error) {
	if id != 1 {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return &model.Template{
		ID:          1,
		Name:        "Welcome",
		Subject:     "Welcome, {{firstName}}!",
		HTMLContent: "<p>Hi {{firstName}}</p>",
		IsActive:    true,
		Placeholders: []model.Placeholder{
			{Key: "firstName", DefaultValue: "there"},
		},
	}, nil
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []dispatch.Message
	pingErr error
}

func (t *fakeTransport) Send(_ context.Context, msg dispatch.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Ping(context.Context) error { return t.pingErr }

type fakePublisher struct {
	jobs []queue.DispatchJob
	err  error
}

func (p *fakePublisher) PublishDispatchJob(job queue.DispatchJob) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func newTestHandler(logs *mockLogRepo, transport *fakeTransport, publisher queue.Publisher) *handler.EmailHandler {
	svc := &service.EmailService{
		Logs:      logs,
		Templates: &mockTemplateRepo{},
		Resolver:  resolver.NewResolver(nil),
		Engine:    dispatch.NewEngine(transport, 2, time.Second),
	}
	return &handler.EmailHandler{
		Service:   svc,
		Stats:     &service.StatsService{Logs: logs},
		Transport: transport,
		Queue:     publisher,
	}
}

func newRouter(h *handler.EmailHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/emails/send", h.SendEmail)
	r.Post("/emails/send-bulk", h.SendBulkEmail)
	r.Get("/emails/logs", h.ListLogs)
	r.Get("/emails/logs/{id}", h.GetLog)
	r.Get("/emails/stats", h.GetStats)
	r.Get("/emails/test-connection", h.TestConnection)
	r.Post("/emails/resend-failed/{logId}", h.ResendFailed)
	return r
}

// --- Tests ---

func TestSendEmailHandler(t *testing.T) {
	logs := newMockLogRepo()
	transport := &fakeTransport{}
	router := newRouter(newTestHandler(logs, transport, nil))

	body, _ := json.Marshal(map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"email": "a@example.edu"},
			{"email": "b@example.edu"},
		},
		"subject":     "Hello",
		"htmlContent": "<p>Hello</p>",
		"campaign":    "launch",
	})

	req := httptest.NewRequest("POST", "/emails/send", bytes.NewReader(body))
	req.Header.Set("X-Admin-ID", "admin-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Success bool           `json:"success"`
		Log     model.EmailLog `json:"log"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Log.TotalRecipients)
	assert.Equal(t, 2, res.Log.SuccessCount)
	assert.Equal(t, "admin-42", res.Log.SentBy)
	assert.Len(t, transport.sent, 2)
}

func TestSendEmailHandler_ValidationError(t *testing.T) {
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, nil))

	body := []byte(`{"subject":"Hello","htmlContent":"<p>x</p>"}`)
	req := httptest.NewRequest("POST", "/emails/send", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendEmailHandler_InvalidBody(t *testing.T) {
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, nil))

	req := httptest.NewRequest("POST", "/emails/send", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendBulkHandler_QueuesJob(t *testing.T) {
	publisher := &fakePublisher{}
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, publisher))

	body := []byte(`{"recipientEmail":"a@example.edu","subject":"Hello","htmlContent":"<p>x</p>"}`)
	req := httptest.NewRequest("POST", "/emails/send-bulk", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, publisher.jobs, 1)
	assert.Equal(t, "a@example.edu", publisher.jobs[0].Request.RecipientEmail)

	var res map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.NotEmpty(t, res["jobId"])
}

func TestSendBulkHandler_NoQueueConfigured(t *testing.T) {
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, nil))

	body := []byte(`{"recipientEmail":"a@example.edu","subject":"Hello","htmlContent":"<p>x</p>"}`)
	req := httptest.NewRequest("POST", "/emails/send-bulk", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSendBulkHandler_RejectsUnsendableJob(t *testing.T) {
	publisher := &fakePublisher{}
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, publisher))

	body := []byte(`{"subject":"Hello","htmlContent":"<p>x</p>"}`)
	req := httptest.NewRequest("POST", "/emails/send-bulk", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, publisher.jobs)
}

func TestGetLogHandler_NotFound(t *testing.T) {
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, nil))

	req := httptest.NewRequest("GET", "/emails/logs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListLogsHandler(t *testing.T) {
	logs := newMockLogRepo()
	logs.queryLogs = []*model.EmailLog{
		{ID: "log-1", Subject: "Hello", TotalRecipients: 5, SuccessCount: 5, Tags: []string{}},
	}
	logs.pagination = &repository.Pagination{CurrentPage: 1, TotalPages: 1, TotalLogs: 1}
	router := newRouter(newTestHandler(logs, &fakeTransport{}, nil))

	req := httptest.NewRequest("GET", "/emails/logs?campaign=launch&page=1&limit=20", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Logs       []model.EmailLog      `json:"logs"`
		Pagination repository.Pagination `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "log-1", res.Logs[0].ID)
	assert.Equal(t, 1, res.Pagination.TotalLogs)
}

func TestStatsHandler(t *testing.T) {
	router := newRouter(newTestHandler(newMockLogRepo(), &fakeTransport{}, nil))

	req := httptest.NewRequest("GET", "/emails/stats?period=7d", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res service.EmailStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, 70.0, res.Overview.SuccessRate)
	assert.Equal(t, "7d", res.Period)
}

func TestTestConnectionHandler(t *testing.T) {
	transport := &fakeTransport{}
	router := newRouter(newTestHandler(newMockLogRepo(), transport, nil))

	req := httptest.NewRequest("GET", "/emails/test-connection", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	transport.pingErr = errors.New("dial tcp: connection refused")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/emails/test-connection", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestResendFailedHandler_NoFailedRecipients(t *testing.T) {
	logs := newMockLogRepo()
	logs.logs["log-1"] = &model.EmailLog{
		ID:              "log-1",
		Subject:         "Hello",
		HTMLContent:     "<p>x</p>",
		TotalRecipients: 1,
		SuccessCount:    1,
		Recipients:      []model.RecipientOutcome{{Email: "a@example.edu", Status: model.StatusSent}},
	}
	router := newRouter(newTestHandler(logs, &fakeTransport{}, nil))

	req := httptest.NewRequest("POST", "/emails/resend-failed/log-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
