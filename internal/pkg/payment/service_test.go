package payment

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
	"github.com/stablegate/stablegate/internal/pkg/addrcrypto"
)

const (
	testSenderEVM  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	testSenderNorm = "0xdac17f958d2ee523a2206206994597c13d831ec7"
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

type fakePlanRepo struct {
	plans map[string]*models.Plan
}

func (f *fakePlanRepo) Create(p *models.Plan) error {
	for _, existing := range f.plans {
		if existing.TenantID == p.TenantID && existing.PlanKey == p.PlanKey {
			return repository.ErrDuplicatePlanKey
		}
	}
	f.plans[p.ID] = p
	return nil
}
func (f *fakePlanRepo) GetByID(tenantID, id string) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}
func (f *fakePlanRepo) GetByKey(tenantID, planKey string) (*models.Plan, error) {
	for _, p := range f.plans {
		if p.TenantID == tenantID && p.PlanKey == planKey {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakePlanRepo) ListActive(tenantID string) ([]models.Plan, error) {
	var out []models.Plan
	for _, p := range f.plans {
		if p.TenantID == tenantID && p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}
func (f *fakePlanRepo) Update(p *models.Plan) error { f.plans[p.ID] = p; return nil }

type fakePaymentRepo struct {
	payments map[string]*models.Payment
}

func (f *fakePaymentRepo) CreateIfNoInFlight(p *models.Payment) error {
	for _, existing := range f.payments {
		if existing.TenantID == p.TenantID && existing.ExternalUserID == p.ExternalUserID && existing.InFlight() {
			return repository.ErrInFlightExists
		}
	}
	f.payments[p.ID] = p
	return nil
}
func (f *fakePaymentRepo) GetByID(id string) (*models.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}
func (f *fakePaymentRepo) GetForTenant(id, tenantID string) (*models.Payment, error) {
	p, ok := f.payments[id]
	if !ok || p.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}
func (f *fakePaymentRepo) GetByTxHash(txHash string) (*models.Payment, error) {
	for _, p := range f.payments {
		if p.TxHash != nil && *p.TxHash == txHash {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakePaymentRepo) PendingForUser(tenantID, externalUserID string) (*models.Payment, error) {
	for _, p := range f.payments {
		if p.TenantID == tenantID && p.ExternalUserID == externalUserID && p.InFlight() {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakePaymentRepo) AwaitingConfirmation() ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentStatusAwaitingConfirmation {
			out = append(out, *p)
		}
	}
	return out, nil
}
func (f *fakePaymentRepo) ExpiredInFlight(now time.Time) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.payments {
		if p.InFlight() && !now.Before(p.ExpiresAt) {
			out = append(out, *p)
		}
	}
	return out, nil
}
func (f *fakePaymentRepo) History(tenantID, externalUserID string, limit int) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.payments {
		if p.TenantID == tenantID && p.ExternalUserID == externalUserID {
			out = append(out, *p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakePaymentRepo) CountByStatus(tenantID string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, p := range f.payments {
		if p.TenantID == tenantID {
			out[p.Status]++
		}
	}
	return out, nil
}
func (f *fakePaymentRepo) Update(p *models.Payment) error { f.payments[p.ID] = p; return nil }
func (f *fakePaymentRepo) UpdateStatusIf(id, fromStatus, toStatus string, updates map[string]any) (bool, error) {
	p, ok := f.payments[id]
	if !ok || p.Status != fromStatus {
		return false, nil
	}
	p.Status = toStatus
	if v, ok := updates["tx_hash"].(string); ok {
		p.TxHash = &v
	}
	if v, ok := updates["confirmations"].(int64); ok {
		p.Confirmations = v
	}
	if v, ok := updates["tx_confirmed_at"].(time.Time); ok {
		p.TxConfirmedAt = &v
	}
	if v, ok := updates["error_message"].(string); ok {
		p.ErrorMessage = v
	}
	return true, nil
}

type fakeSanctions struct {
	hits map[string][]string
	err  error
}

func (f *fakeSanctions) SanctionedNames(address string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[address], nil
}

type recordedEvent struct {
	tenantID string
	event    string
	data     map[string]any
}

type eventRecorder struct {
	events []recordedEvent
}

func (e *eventRecorder) Enqueue(tenantID, event string, data map[string]any) error {
	e.events = append(e.events, recordedEvent{tenantID, event, data})
	return nil
}

func (e *eventRecorder) names() []string {
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.event)
	}
	return out
}

type fakeEnroller struct {
	enrolled   []string
	unenrolled []string
}

func (f *fakeEnroller) Enroll(paymentID string)   { f.enrolled = append(f.enrolled, paymentID) }
func (f *fakeEnroller) Unenroll(paymentID string) { f.unenrolled = append(f.unenrolled, paymentID) }

type testEngine struct {
	svc      *Service
	tenants  *fakeTenantRepo
	plans    *fakePlanRepo
	payments *fakePaymentRepo
	sanction *fakeSanctions
	events   *eventRecorder
	enroller *fakeEnroller
	fixed    time.Time
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	box, err := addrcrypto.NewBox("unit-test-secret")
	require.NoError(t, err)

	e := &testEngine{
		tenants: &fakeTenantRepo{tenants: map[string]*models.Tenant{
			"default": {ID: "default", Name: "Default", IsActive: true},
		}},
		plans: &fakePlanRepo{plans: map[string]*models.Plan{
			"plan-1": {
				ID:       "plan-1",
				TenantID: "default",
				PlanKey:  "pro_monthly",
				Name:     "Pro Monthly",
				Price:    decimal.NewFromFloat(9.99),
				Currency: "USD",
				IsActive: true,
			},
		}},
		payments: &fakePaymentRepo{payments: map[string]*models.Payment{}},
		sanction: &fakeSanctions{hits: map[string][]string{}},
		events:   &eventRecorder{},
		enroller: &fakeEnroller{},
		fixed:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.svc = &Service{
		repos: &repository.Repositories{
			Tenant:  e.tenants,
			Plan:    e.plans,
			Payment: e.payments,
		},
		box:       box,
		sanctions: e.sanction,
		events:    e.events,
		monitor:   e.enroller,
		receivers: Receivers{
			EVM:  "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
			Tron: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		},
		now: func() time.Time { return e.fixed },
	}
	return e
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, code, domainErr.Code)
}

func TestInitiatePayment(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	assert.NotEmpty(t, out.PaymentID)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", out.ReceiverAddress)
	assert.Equal(t, out.ReceiverAddress, out.QRCodeData)
	assert.True(t, decimal.NewFromFloat(9.99).Equal(out.Amount))
	assert.Equal(t, "USDT", out.Token)
	assert.Equal(t, "arbitrum", out.Network)
	assert.Equal(t, e.fixed.Add(models.PaymentExpiry), out.ExpiresAt)
	assert.Equal(t, int64(models.PaymentExpiry/time.Second), out.ExpiresIn)
	assert.Len(t, out.Instructions, 4)

	stored := e.payments.payments[out.PaymentID]
	require.NotNil(t, stored)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.NotContains(t, stored.SenderAddressEnc, testSenderNorm, "sender address must not be stored in the clear")

	box := e.svc.box
	plain, err := box.Decrypt(stored.SenderAddressEnc)
	require.NoError(t, err)
	assert.Equal(t, testSenderNorm, plain)
	assert.Equal(t, box.LookupDigest(testSenderEVM), stored.SenderAddressHMAC)

	require.Equal(t, []string{"payment.created"}, e.events.names())
	assert.Equal(t, out.PaymentID, e.events.events[0].data["paymentId"])
}

func TestInitiatePayment_Validation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.InitiatePayment("default", "", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeValidation)

	_, err = e.svc.InitiatePayment("missing", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeUnauthorized)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "solana", "USDT", testSenderEVM)
	assertCode(t, err, CodeValidation)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "DAI", testSenderEVM)
	assertCode(t, err, CodeValidation)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-404", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeInvalidPlan)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", "not-an-address")
	assertCode(t, err, CodeInvalidAddress)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "tron", "USDT", testSenderEVM)
	assertCode(t, err, CodeInvalidAddress)

	assert.Empty(t, e.events.events, "rejected initiations must not emit events")
}

func TestInitiatePayment_InactiveTenantAndPlan(t *testing.T) {
	e := newTestEngine(t)

	e.plans.plans["plan-1"].IsActive = false
	_, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeInvalidPlan)

	e.tenants.tenants["default"].IsActive = false
	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeForbidden)
}

func TestInitiatePayment_SanctionedAddress(t *testing.T) {
	e := newTestEngine(t)
	e.sanction.hits[testSenderNorm] = []string{"Ivan IVANOV"}

	_, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeOfacSanctioned)
	assert.Empty(t, e.payments.payments)
}

func TestInitiatePayment_PendingExists(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodePendingExists)

	// A different user is not blocked.
	_, err = e.svc.InitiatePayment("default", "user-2", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
}

func TestInitiatePayment_TenantReceiverOverride(t *testing.T) {
	e := newTestEngine(t)
	e.tenants.tenants["default"].EVMReceiverAddress = "0x1111111111111111111111111111111111111111"

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "ethereum", "USDC", testSenderEVM)
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", out.ReceiverAddress)
}

func TestInitiatePayment_NoReceiverConfigured(t *testing.T) {
	e := newTestEngine(t)
	e.svc.receivers = Receivers{}

	_, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	assertCode(t, err, CodeInvalidNetwork)
}

func TestConfirmPaymentSent(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	p, err := e.svc.ConfirmPaymentSent(out.PaymentID, "default")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusAwaitingConfirmation, p.Status)
	assert.Equal(t, []string{out.PaymentID}, e.enroller.enrolled)

	// Confirming again is rejected; the payment is no longer pending.
	_, err = e.svc.ConfirmPaymentSent(out.PaymentID, "default")
	assertCode(t, err, CodeInvalidStatus)
	assert.Len(t, e.enroller.enrolled, 1)
}

func TestConfirmPaymentSent_NotFoundAndWrongTenant(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.ConfirmPaymentSent("missing", "default")
	assertCode(t, err, CodeNotFound)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	_, err = e.svc.ConfirmPaymentSent(out.PaymentID, "other-tenant")
	assertCode(t, err, CodeNotFound)
}

func TestConfirmPaymentSent_Expired(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	e.fixed = e.fixed.Add(models.PaymentExpiry)
	_, err = e.svc.ConfirmPaymentSent(out.PaymentID, "default")
	assertCode(t, err, CodeInvalidStatus)

	assert.Equal(t, models.PaymentStatusExpired, e.payments.payments[out.PaymentID].Status)
	assert.Equal(t, []string{"payment.created", "payment.expired"}, e.events.names())
	assert.Empty(t, e.enroller.enrolled)
}

func TestCancelPayment(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelPayment(out.PaymentID, "default"))
	assert.Equal(t, models.PaymentStatusCancelled, e.payments.payments[out.PaymentID].Status)

	// A cancelled payment no longer blocks the user.
	_, err = e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
}

func TestCancelPayment_NotPending(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
	_, err = e.svc.ConfirmPaymentSent(out.PaymentID, "default")
	require.NoError(t, err)

	err = e.svc.CancelPayment(out.PaymentID, "default")
	assertCode(t, err, CodeCannotCancel)
}

func TestGetPaymentStatus(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	view, err := e.svc.GetPaymentStatus(out.PaymentID, "default")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, view.Status)
	require.NotNil(t, view.ExpiresAt)
	require.NotNil(t, view.ExpiresIn)
	assert.Equal(t, int64(models.PaymentExpiry/time.Second), *view.ExpiresIn)
	assert.Empty(t, view.ExplorerURL)

	// Terminal payments carry no countdown but do carry the explorer link.
	stored := e.payments.payments[out.PaymentID]
	txHash := "0x6b2cbe3f2373c4fd12f20c5a8f04bd04c46e6a54b2b2f5e2e8e45d6f1bc7a901"
	stored.Status = models.PaymentStatusConfirmed
	stored.TxHash = &txHash
	stored.Confirmations = 12

	view, err = e.svc.GetPaymentStatus(out.PaymentID, "default")
	require.NoError(t, err)
	assert.Nil(t, view.ExpiresAt)
	assert.Nil(t, view.ExpiresIn)
	assert.Equal(t, int64(12), view.Confirmations)
	assert.Contains(t, view.ExplorerURL, txHash)
}

func TestGetPaymentHistory_LimitBounds(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("pay-%02d", i)
		e.payments.payments[id] = &models.Payment{
			ID:             id,
			TenantID:       "default",
			ExternalUserID: "user-1",
			Status:         models.PaymentStatusConfirmed,
		}
	}

	out, err := e.svc.GetPaymentHistory("default", "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, out, 10, "non-positive limit defaults to 10")

	out, err = e.svc.GetPaymentHistory("default", "user-1", 500)
	require.NoError(t, err)
	assert.Len(t, out, 50, "limit is capped at 50")
}

func TestExpireDuePayments(t *testing.T) {
	e := newTestEngine(t)

	out1, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
	out2, err := e.svc.InitiatePayment("default", "user-2", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
	_, err = e.svc.ConfirmPaymentSent(out2.PaymentID, "default")
	require.NoError(t, err)

	e.fixed = e.fixed.Add(models.PaymentExpiry + time.Minute)
	count, err := e.svc.ExpireDuePayments()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, models.PaymentStatusExpired, e.payments.payments[out1.PaymentID].Status)
	assert.Equal(t, models.PaymentStatusExpired, e.payments.payments[out2.PaymentID].Status)
	assert.ElementsMatch(t, []string{out1.PaymentID, out2.PaymentID}, e.enroller.unenrolled)

	// A second sweep finds nothing in flight.
	count, err = e.svc.ExpireDuePayments()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkExpiredAndMarkFailed(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)
	p, err := e.svc.ConfirmPaymentSent(out.PaymentID, "default")
	require.NoError(t, err)

	require.NoError(t, e.svc.MarkFailed(p, "no matching transfer found"))
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, "no matching transfer found", e.payments.payments[p.ID].ErrorMessage)
	assert.Contains(t, e.events.names(), "payment.failed")

	// Already failed, the expiry transition is a no-op and emits nothing.
	before := len(e.events.events)
	require.NoError(t, e.svc.MarkExpired(p))
	assert.Len(t, e.events.events, before)
}

func TestSenderAddressRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.svc.InitiatePayment("default", "user-1", "plan-1", "arbitrum", "USDT", testSenderEVM)
	require.NoError(t, err)

	addr, err := e.svc.SenderAddress(e.payments.payments[out.PaymentID])
	require.NoError(t, err)
	assert.Equal(t, testSenderNorm, addr)
}

func TestCreatePlan(t *testing.T) {
	e := newTestEngine(t)

	periodDays := 30
	plan, err := e.svc.CreatePlan("default", PlanInput{
		PlanKey:    "starter",
		Name:       "Starter",
		Price:      decimal.NewFromInt(5),
		PeriodDays: &periodDays,
		Features:   []string{"api_access"},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", plan.Currency, "currency defaults to USD")
	assert.True(t, plan.IsActive)
	assert.Equal(t, []string{"api_access"}, plan.Features())

	_, err = e.svc.CreatePlan("default", PlanInput{PlanKey: "starter", Name: "Starter Again", Price: decimal.NewFromInt(5)})
	assertCode(t, err, CodeInvalidPlan)

	_, err = e.svc.CreatePlan("default", PlanInput{PlanKey: "free", Name: "Free", Price: decimal.Zero})
	assertCode(t, err, CodeValidation)

	bad := -1
	_, err = e.svc.CreatePlan("default", PlanInput{PlanKey: "bad", Name: "Bad", Price: decimal.NewFromInt(5), PeriodDays: &bad})
	assertCode(t, err, CodeValidation)
}

func TestUpdatePlan(t *testing.T) {
	e := newTestEngine(t)

	name := "Pro Monthly v2"
	inactive := false
	plan, err := e.svc.UpdatePlan("default", "plan-1", PlanUpdate{Name: &name, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Pro Monthly v2", plan.Name)
	assert.False(t, plan.IsActive)

	negative := decimal.NewFromInt(-1)
	_, err = e.svc.UpdatePlan("default", "plan-1", PlanUpdate{Price: &negative})
	assertCode(t, err, CodeValidation)

	_, err = e.svc.UpdatePlan("default", "plan-404", PlanUpdate{Name: &name})
	assertCode(t, err, CodeNotFound)
}
