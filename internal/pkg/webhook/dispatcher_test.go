package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
)

type fakeTenantRepo struct {
	tenants map[string]*models.Tenant
}

func (f *fakeTenantRepo) Create(t *models.Tenant) error { f.tenants[t.ID] = t; return nil }
func (f *fakeTenantRepo) GetByID(id string) (*models.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}
func (f *fakeTenantRepo) GetByAPIKeyHash(hash string) (*models.Tenant, error) {
	for _, t := range f.tenants {
		if t.APIKeyHash == hash {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeTenantRepo) Update(t *models.Tenant) error { f.tenants[t.ID] = t; return nil }

type fakeWebhookRepo struct {
	logs   []*models.WebhookLog
	nextID uint
}

func (f *fakeWebhookRepo) Create(l *models.WebhookLog) error {
	f.nextID++
	l.ID = f.nextID
	f.logs = append(f.logs, l)
	return nil
}
func (f *fakeWebhookRepo) GetByID(id uint) (*models.WebhookLog, error) {
	for _, l := range f.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeWebhookRepo) Update(l *models.WebhookLog) error { return nil }
func (f *fakeWebhookRepo) Due(now time.Time, maxRetries int) ([]models.WebhookLog, error) {
	var due []models.WebhookLog
	for _, l := range f.logs {
		if l.Success || l.RetryCount >= maxRetries {
			continue
		}
		if l.NextRetryAt == nil || !l.NextRetryAt.After(now) {
			due = append(due, *l)
		}
	}
	return due, nil
}

func newTestDispatcher(webhookURL string) (*Dispatcher, *fakeWebhookRepo, time.Time) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tenants := &fakeTenantRepo{tenants: map[string]*models.Tenant{
		"default": {
			ID:            "default",
			Name:          "Default",
			WebhookURL:    webhookURL,
			WebhookSecret: "whsec_test",
			IsActive:      true,
		},
	}}
	webhooks := &fakeWebhookRepo{}
	d := &Dispatcher{
		repos:      &repository.Repositories{Tenant: tenants, Webhook: webhooks},
		httpClient: &http.Client{Timeout: time.Second},
		now:        func() time.Time { return fixed },
	}
	return d, webhooks, fixed
}

func TestEnqueue_DeliversSignedPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, webhooks, _ := newTestDispatcher(srv.URL)
	err := d.Enqueue("default", "payment.confirmed", map[string]any{"paymentId": "pay-1"})
	require.NoError(t, err)

	require.Len(t, webhooks.logs, 1)
	entry := webhooks.logs[0]
	assert.True(t, entry.Success)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Nil(t, entry.NextRetryAt)
	assert.True(t, Verify("whsec_test", string(gotBody), gotSig), "delivered signature must verify")

	var p payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, "payment.confirmed", p.Event)
	assert.Equal(t, "pay-1", p.Data["paymentId"])
}

func TestEnqueue_NoWebhookURLDropsSilently(t *testing.T) {
	d, webhooks, _ := newTestDispatcher("")
	err := d.Enqueue("default", "payment.created", map[string]any{"paymentId": "pay-1"})
	require.NoError(t, err)
	assert.Empty(t, webhooks.logs)
}

func TestEnqueue_UnknownTenant(t *testing.T) {
	d, _, _ := newTestDispatcher("http://localhost:1")
	err := d.Enqueue("missing", "payment.created", nil)
	assert.Error(t, err)
}

func TestDeliver_FailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, webhooks, fixed := newTestDispatcher(srv.URL)
	require.NoError(t, d.Enqueue("default", "payment.created", nil))

	require.Len(t, webhooks.logs, 1)
	entry := webhooks.logs[0]
	assert.False(t, entry.Success)
	assert.Equal(t, 1, entry.RetryCount)
	require.NotNil(t, entry.NextRetryAt)
	assert.Equal(t, fixed.Add(60*time.Second), *entry.NextRetryAt, "first failure waits 60s")
	require.NotNil(t, entry.LastResponseStatus)
	assert.Equal(t, http.StatusInternalServerError, *entry.LastResponseStatus)
}

func TestRecordFailure_ExhaustsSchedule(t *testing.T) {
	d, _, _ := newTestDispatcher("http://localhost:1")

	entry := &models.WebhookLog{ID: 1, Event: "payment.created", RetryCount: len(RetryDelays) - 1}
	d.recordFailure(entry, nil, "connection refused")
	require.NotNil(t, entry.NextRetryAt, "last scheduled retry uses the final delay")
	assert.Equal(t, len(RetryDelays), entry.RetryCount)

	d.recordFailure(entry, nil, "connection refused")
	assert.Equal(t, len(RetryDelays), entry.RetryCount)
	assert.Nil(t, entry.NextRetryAt, "exhausted log must carry no next attempt")
}

func TestRetryPending_RedeliversDueLogs(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, webhooks, fixed := newTestDispatcher(srv.URL)
	past := fixed.Add(-time.Minute)
	webhooks.logs = []*models.WebhookLog{
		{ID: 1, TenantID: "default", Event: "payment.created", PayloadJSON: "{}", TargetURL: srv.URL, RetryCount: 1, NextRetryAt: &past},
		{ID: 2, TenantID: "default", Event: "payment.created", PayloadJSON: "{}", TargetURL: srv.URL, Success: true},
		{ID: 3, TenantID: "default", Event: "payment.created", PayloadJSON: "{}", TargetURL: srv.URL, RetryCount: len(RetryDelays)},
	}

	attempts, err := d.RetryPending()
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "only the due unexhausted log is retried")
	assert.Equal(t, 1, hits)
}
