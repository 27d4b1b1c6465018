package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
)

// EventDispatcher enqueues an outbound webhook event for a tenant.
type EventDispatcher interface {
	Enqueue(tenantID, event string, data map[string]any) error
}

// Service grants and expires subscriptions derived from confirmed payments.
type Service struct {
	repos  *repository.Repositories
	events EventDispatcher
	now    func() time.Time
}

// NewService wires the subscription engine.
func NewService(repos *repository.Repositories, events EventDispatcher) *Service {
	return &Service{
		repos:  repos,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ActivateTx activates the subscription for a confirmed payment on the given
// repository set, which may be transaction-bound. Any currently-active
// subscription of the user is expired first, so at most one stays active.
func (s *Service) ActivateTx(txRepos *repository.Repositories, payment *models.Payment) (*models.Subscription, error) {
	plan, err := txRepos.Plan.GetByID(payment.TenantID, payment.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan %s: %w", payment.PlanID, err)
	}

	if _, err := txRepos.Subscription.ExpireActiveForUser(payment.TenantID, payment.ExternalUserID); err != nil {
		return nil, err
	}

	startsAt := s.now()
	var endsAt *time.Time
	if plan.PeriodDays != nil {
		e := startsAt.Add(time.Duration(*plan.PeriodDays) * 24 * time.Hour)
		endsAt = &e
	}

	paymentID := payment.ID
	sub := &models.Subscription{
		ID:             uuid.NewString(),
		TenantID:       payment.TenantID,
		ExternalUserID: payment.ExternalUserID,
		PlanID:         plan.ID,
		PaymentID:      &paymentID,
		Status:         models.SubscriptionStatusActive,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
	}
	if err := txRepos.Subscription.Create(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Activate activates the subscription outside any caller transaction.
func (s *Service) Activate(payment *models.Payment) (*models.Subscription, error) {
	return s.ActivateTx(s.repos, payment)
}

// View is the caller-facing projection of a subscription.
type View struct {
	SubscriptionID string     `json:"subscription_id"`
	PlanID         string     `json:"plan_id"`
	PaymentID      *string    `json:"payment_id,omitempty"`
	Status         string     `json:"status"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	DaysRemaining  int        `json:"days_remaining"`
}

// CurrentSubscription returns the user's active subscription with derived
// days remaining, or nil when none is active.
func (s *Service) CurrentSubscription(tenantID, externalUserID string) (*View, error) {
	sub, err := s.repos.Subscription.Active(tenantID, externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &View{
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PaymentID:      sub.PaymentID,
		Status:         sub.Status,
		StartsAt:       sub.StartsAt,
		EndsAt:         sub.EndsAt,
		DaysRemaining:  sub.DaysRemaining(s.now()),
	}, nil
}

// IsActive reports whether the user currently holds an active subscription.
func (s *Service) IsActive(tenantID, externalUserID string) (bool, error) {
	view, err := s.CurrentSubscription(tenantID, externalUserID)
	if err != nil {
		return false, err
	}
	return view != nil, nil
}

// History returns all subscriptions of the user, newest first.
func (s *Service) History(tenantID, externalUserID string) ([]models.Subscription, error) {
	return s.repos.Subscription.History(tenantID, externalUserID)
}

// ExpireDue moves active subscriptions past their end date to expired and
// emits subscription.expired for each. It returns the number moved.
func (s *Service) ExpireDue() (int, error) {
	due, err := s.repos.Subscription.DueForExpiry(s.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range due {
		sub := due[i]
		sub.Status = models.SubscriptionStatusExpired
		if err := s.repos.Subscription.Update(&sub); err != nil {
			log.Errorf("[Subscription] expire %s: %v", sub.ID, err)
			continue
		}
		count++
		s.emitExpired(&sub)
	}
	return count, nil
}

func (s *Service) emitExpired(sub *models.Subscription) {
	data := map[string]any{
		"subscriptionId": sub.ID,
		"externalUserId": sub.ExternalUserID,
		"planId":         sub.PlanID,
		"startsAt":       sub.StartsAt.UTC().Format(time.RFC3339),
	}
	if sub.PaymentID != nil {
		data["paymentId"] = *sub.PaymentID
	}
	if sub.EndsAt != nil {
		data["endsAt"] = sub.EndsAt.UTC().Format(time.RFC3339)
	} else {
		data["endsAt"] = nil
	}
	if err := s.events.Enqueue(sub.TenantID, "subscription.expired", data); err != nil {
		log.Errorf("[Subscription] enqueue subscription.expired webhook: %v", err)
	}
}
