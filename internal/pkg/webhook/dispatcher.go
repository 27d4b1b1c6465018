package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
	"github.com/stablegate/stablegate/internal/pkg/metrics/counter"
)

const (
	deliveryTimeout = 10 * time.Second
	maxBodyBytes    = 1000
)

// RetryDelays is the backoff schedule in seconds. A log whose retry count
// reaches the schedule length is terminally failed.
var RetryDelays = []int{60, 300, 900, 3600}

// Dispatcher delivers signed webhook events with bounded retries. Delivery is
// at-least-once; consumers must be idempotent on the entity ids in the
// payload.
type Dispatcher struct {
	repos      *repository.Repositories
	httpClient *http.Client
	now        func() time.Time
	count      func(tenantID, event string)
}

// NewDispatcher wires the webhook engine.
func NewDispatcher(repos *repository.Repositories) *Dispatcher {
	return &Dispatcher{
		repos: repos,
		httpClient: &http.Client{
			Timeout: deliveryTimeout,
		},
		now: func() time.Time { return time.Now().UTC() },
		count: func(tenantID, event string) {
			if err := counter.AddEvent(tenantID, event); err != nil {
				log.Debugf("[Webhook] count %s for tenant %s: %v", event, tenantID, err)
			}
		},
	}
}

type payload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Enqueue records the event for the tenant and attempts delivery immediately.
// Tenants without a webhook URL skip silently.
func (d *Dispatcher) Enqueue(tenantID, event string, data map[string]any) error {
	tenant, err := d.repos.Tenant.GetByID(tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("webhook: unknown tenant %s", tenantID)
		}
		return err
	}
	if d.count != nil {
		d.count(tenantID, event)
	}
	if strings.TrimSpace(tenant.WebhookURL) == "" {
		log.Debugf("[Webhook] tenant %s has no webhook URL, dropping %s", tenantID, event)
		return nil
	}

	raw, err := json.Marshal(payload{
		Event:     event,
		Timestamp: d.now().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal %s payload: %w", event, err)
	}

	entry := &models.WebhookLog{
		TenantID:    tenantID,
		Event:       event,
		PayloadJSON: string(raw),
		TargetURL:   tenant.WebhookURL,
	}
	if err := d.repos.Webhook.Create(entry); err != nil {
		return fmt.Errorf("webhook: create log: %w", err)
	}

	d.deliverOnce(entry, tenant)
	return nil
}

// deliverOnce performs a single delivery attempt and records the outcome on
// the log row. Failures schedule the next retry.
func (d *Dispatcher) deliverOnce(entry *models.WebhookLog, tenant *models.Tenant) {
	req, err := http.NewRequest(http.MethodPost, entry.TargetURL, strings.NewReader(entry.PayloadJSON))
	if err != nil {
		d.recordFailure(entry, nil, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(tenant.WebhookSecret, entry.PayloadJSON))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.recordFailure(entry, nil, err.Error())
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status := resp.StatusCode
		entry.Success = true
		entry.LastResponseStatus = &status
		entry.LastResponseBody = string(body)
		entry.NextRetryAt = nil
		if err := d.repos.Webhook.Update(entry); err != nil {
			log.Errorf("[Webhook] record success for log %d: %v", entry.ID, err)
		}
		return
	}

	status := resp.StatusCode
	d.recordFailure(entry, &status, string(body))
}

func (d *Dispatcher) recordFailure(entry *models.WebhookLog, status *int, body string) {
	entry.Success = false
	entry.LastResponseStatus = status
	entry.LastResponseBody = body

	if entry.RetryCount >= len(RetryDelays) {
		// Schedule exhausted; the row stays failed with no next attempt.
		entry.NextRetryAt = nil
		log.Warnf("[Webhook] log %d (%s) exhausted retries", entry.ID, entry.Event)
	} else {
		// The first failure waits RetryDelays[0], the second RetryDelays[1].
		retryAt := d.now().Add(time.Duration(RetryDelays[entry.RetryCount]) * time.Second)
		entry.RetryCount++
		entry.NextRetryAt = &retryAt
	}

	if err := d.repos.Webhook.Update(entry); err != nil {
		log.Errorf("[Webhook] record failure for log %d: %v", entry.ID, err)
	}
}

// RetryPending redelivers every due failed log and returns the number of
// attempts made.
func (d *Dispatcher) RetryPending() (int, error) {
	due, err := d.repos.Webhook.Due(d.now(), len(RetryDelays))
	if err != nil {
		return 0, err
	}
	attempts := 0
	for i := range due {
		entry := due[i]
		tenant, err := d.repos.Tenant.GetByID(entry.TenantID)
		if err != nil {
			log.Errorf("[Webhook] load tenant %s for log %d: %v", entry.TenantID, entry.ID, err)
			continue
		}
		d.deliverOnce(&entry, tenant)
		attempts++
	}
	return attempts, nil
}
