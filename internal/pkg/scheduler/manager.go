package scheduler

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablegate/stablegate/internal/pkg/monitor"
	"github.com/stablegate/stablegate/internal/pkg/ofac"
	"github.com/stablegate/stablegate/internal/pkg/payment"
	"github.com/stablegate/stablegate/internal/pkg/subscription"
	"github.com/stablegate/stablegate/internal/pkg/webhook"
)

const (
	checkNewInterval      = 60 * time.Second
	expirePaymentInterval = 5 * time.Minute
	expireSubsInterval    = time.Hour
	retryWebhookInterval  = 2 * time.Minute
)

// Manager runs the periodic sweeps and the monitor tick loop.
type Manager struct {
	payments      *payment.Service
	subscriptions *subscription.Service
	webhooks      *webhook.Dispatcher
	sanctions     *ofac.Service
	monitor       *monitor.Monitor

	checkNewTicker      *time.Ticker
	expirePaymentTicker *time.Ticker
	expireSubsTicker    *time.Ticker
	retryWebhookTicker  *time.Ticker

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager wires the background task manager.
func NewManager(payments *payment.Service, subscriptions *subscription.Service, webhooks *webhook.Dispatcher, sanctions *ofac.Service, mon *monitor.Monitor) *Manager {
	return &Manager{
		payments:      payments,
		subscriptions: subscriptions,
		webhooks:      webhooks,
		sanctions:     sanctions,
		monitor:       mon,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the monitor and all background sweeps.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background tasks")

	m.monitor.Start()

	m.checkNewTicker = time.NewTicker(checkNewInterval)
	m.wg.Add(1)
	go m.checkNewWorker()

	m.expirePaymentTicker = time.NewTicker(expirePaymentInterval)
	m.wg.Add(1)
	go m.expirePaymentWorker()

	m.expireSubsTicker = time.NewTicker(expireSubsInterval)
	m.wg.Add(1)
	go m.expireSubsWorker()

	m.retryWebhookTicker = time.NewTicker(retryWebhookInterval)
	m.wg.Add(1)
	go m.retryWebhookWorker()

	m.wg.Add(1)
	go m.ofacWorker()

	log.Info("[Scheduler] Started successfully")
}

// Stop stops the background sweeps and the monitor, waiting for in-flight
// work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[Scheduler] Stopping background tasks...")

	if m.checkNewTicker != nil {
		m.checkNewTicker.Stop()
	}
	if m.expirePaymentTicker != nil {
		m.expirePaymentTicker.Stop()
	}
	if m.expireSubsTicker != nil {
		m.expireSubsTicker.Stop()
	}
	if m.retryWebhookTicker != nil {
		m.retryWebhookTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.monitor.Stop()
	log.Info("[Scheduler] Stopped")
}

// checkNewWorker re-enrolls awaiting payments that fell out of the monitor
// queue, e.g. after a transient storage error.
func (m *Manager) checkNewWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.checkNewTicker.C:
			m.monitor.Bootstrap()
		}
	}
}

func (m *Manager) expirePaymentWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.expirePaymentTicker.C:
			count, err := m.payments.ExpireDuePayments()
			if err != nil {
				log.Errorf("[Scheduler] expire payments: %v", err)
			} else if count > 0 {
				log.Infof("[Scheduler] expired %d payments", count)
			}
		}
	}
}

func (m *Manager) expireSubsWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.expireSubsTicker.C:
			count, err := m.subscriptions.ExpireDue()
			if err != nil {
				log.Errorf("[Scheduler] expire subscriptions: %v", err)
			} else if count > 0 {
				log.Infof("[Scheduler] expired %d subscriptions", count)
			}
		}
	}
}

func (m *Manager) retryWebhookWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.retryWebhookTicker.C:
			count, err := m.webhooks.RetryPending()
			if err != nil {
				log.Errorf("[Scheduler] retry webhooks: %v", err)
			} else if count > 0 {
				log.Infof("[Scheduler] retried %d webhook deliveries", count)
			}
		}
	}
}

// ofacWorker refreshes the sanctions list daily at 00:00 UTC.
func (m *Manager) ofacWorker() {
	defer m.wg.Done()
	for {
		timer := time.NewTimer(untilNextMidnightUTC(time.Now().UTC()))
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := m.sanctions.Update(); err != nil {
				log.Errorf("[Scheduler] OFAC refresh: %v", err)
			}
		}
	}
}

func untilNextMidnightUTC(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
