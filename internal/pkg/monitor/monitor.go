package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
	"github.com/stablegate/stablegate/internal/pkg/chains"
	"github.com/stablegate/stablegate/internal/pkg/payment"
)

const (
	// MaxRetryCount is the per-payment budget for adapter failures before the
	// payment is marked failed.
	MaxRetryCount = 3

	tickInterval = 30 * time.Second
	checkTimeout = 25 * time.Second
)

type entry struct {
	retryCount  int
	lastChecked time.Time
}

// Monitor watches awaiting_confirmation payments on-chain until they confirm,
// expire or exhaust their retry budget.
type Monitor struct {
	payments *payment.Service
	repos    *repository.Repositories
	registry *chains.Registry

	mu    sync.Mutex
	queue map[string]*entry

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewMonitor wires the payment monitor.
func NewMonitor(payments *payment.Service, repos *repository.Repositories, registry *chains.Registry) *Monitor {
	return &Monitor{
		payments: payments,
		repos:    repos,
		registry: registry,
		queue:    make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enroll adds a payment to the queue. Enrolling twice is a no-op.
func (m *Monitor) Enroll(paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[paymentID]; ok {
		return
	}
	m.queue[paymentID] = &entry{}
	log.Infof("[Monitor] enrolled payment %s (queue size %d)", paymentID, len(m.queue))
}

// Unenroll removes a payment from the queue.
func (m *Monitor) Unenroll(paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, paymentID)
}

// Size returns the number of enrolled payments.
func (m *Monitor) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// InQueue reports whether the payment is enrolled.
func (m *Monitor) InQueue(paymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[paymentID]
	return ok
}

// Start bootstraps the queue from storage and begins ticking. Calling Start
// on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.Bootstrap()

	m.wg.Add(1)
	go m.run()
	log.Info("[Monitor] started")
}

// Stop halts the tick loop and waits for in-flight checks.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[Monitor] stopped")
}

// Bootstrap re-enrolls every payment still awaiting confirmation so a restart
// never loses in-flight monitoring.
func (m *Monitor) Bootstrap() {
	payments, err := m.repos.Payment.AwaitingConfirmation()
	if err != nil {
		log.Errorf("[Monitor] bootstrap: %v", err)
		return
	}
	for i := range payments {
		m.Enroll(payments[i].ID)
	}
	if len(payments) > 0 {
		log.Infof("[Monitor] bootstrapped %d awaiting payments", len(payments))
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick checks every enrolled payment. Checks run concurrently; each payment
// is independent.
func (m *Monitor) tick() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.queue))
	for id := range m.queue {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(paymentID string) {
			defer wg.Done()
			m.checkPayment(paymentID)
		}(id)
	}
	wg.Wait()
}

func (m *Monitor) checkPayment(paymentID string) {
	p, err := m.repos.Payment.GetByID(paymentID)
	if err != nil || p.Status != models.PaymentStatusAwaitingConfirmation {
		m.Unenroll(paymentID)
		return
	}

	now := m.now()
	if now.After(p.ExpiresAt) {
		if err := m.payments.MarkExpired(p); err != nil {
			log.Errorf("[Monitor] expire payment %s: %v", paymentID, err)
		}
		m.Unenroll(paymentID)
		return
	}

	result, err := m.findTransfer(p)
	if err != nil {
		m.recordError(p, err)
		return
	}
	if !result.Found {
		m.touch(paymentID, now)
		return
	}

	if err := m.payments.HandleConfirmedTransaction(p.ID, result.TxHash, result.Confirmations, result.Amount); err != nil {
		m.recordError(p, err)
		return
	}
	m.Unenroll(paymentID)
}

func (m *Monitor) findTransfer(p *models.Payment) (*chains.TransferResult, error) {
	network := chains.Network(p.Network)
	adapter, err := m.registry.ForNetwork(network)
	if err != nil {
		return nil, err
	}
	sender, err := m.payments.SenderAddress(p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	return adapter.FindTransfer(ctx, &chains.TransferQuery{
		Network:         network,
		Token:           chains.Token(p.Token),
		SenderAddress:   sender,
		ReceiverAddress: p.ReceiverAddress,
		RequiredAmount:  p.Amount,
		CreatedAt:       p.CreatedAt,
	})
}

// recordError counts a transient failure against the payment's retry budget
// and fails the payment when the budget is exhausted.
func (m *Monitor) recordError(p *models.Payment, cause error) {
	m.mu.Lock()
	e, ok := m.queue[p.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.retryCount++
	retries := e.retryCount
	m.mu.Unlock()

	log.Warnf("[Monitor] check payment %s failed (attempt %d/%d): %v", p.ID, retries, MaxRetryCount, cause)
	if retries < MaxRetryCount {
		return
	}

	if err := m.payments.MarkFailed(p, cause.Error()); err != nil {
		log.Errorf("[Monitor] mark payment %s failed: %v", p.ID, err)
	}
	m.Unenroll(p.ID)
}

func (m *Monitor) touch(paymentID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.queue[paymentID]; ok {
		e.lastChecked = at
	}
}
