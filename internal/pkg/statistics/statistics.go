package statistics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablegate/stablegate/app/repository"
	"github.com/stablegate/stablegate/internal/pkg/cache"
	"github.com/stablegate/stablegate/internal/pkg/metrics/counter"
)

const (
	cacheKeyTenantStats = "statistics:tenant:%s" // format with tenant id
	cacheExpiration     = 5 * time.Minute
)

// TenantStats is the aggregate view of a tenant's payment activity.
type TenantStats struct {
	PaymentsByStatus    map[string]int64 `json:"payments_by_status"`
	ActiveSubscriptions int64            `json:"active_subscriptions"`
	EventCounts         map[string]int64 `json:"event_counts"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// Service computes tenant statistics with a short-lived cache in front of the
// database aggregates.
type Service struct {
	repos *repository.Repositories
	now   func() time.Time
}

// NewService wires the statistics service.
func NewService(repos *repository.Repositories) *Service {
	return &Service{
		repos: repos,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// TenantStats returns the tenant's aggregates, served from cache when fresh.
// Event counters come straight from Redis and are never cached twice.
func (s *Service) TenantStats(tenantID string) (*TenantStats, error) {
	stats, err := s.cachedAggregates(tenantID)
	if err != nil {
		return nil, err
	}

	events, err := counter.Snapshot(tenantID)
	if err != nil {
		log.Debugf("[Statistics] event counters for tenant %s: %v", tenantID, err)
		events = map[string]int64{}
	}
	stats.EventCounts = events
	return stats, nil
}

func (s *Service) cachedAggregates(tenantID string) (*TenantStats, error) {
	key := fmt.Sprintf(cacheKeyTenantStats, tenantID)
	if raw, err := cache.Get(key); err == nil {
		var stats TenantStats
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return &stats, nil
		}
	}

	byStatus, err := s.repos.Payment.CountByStatus(tenantID)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}
	activeSubs, err := s.repos.Subscription.CountActive(tenantID)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}

	stats := &TenantStats{
		PaymentsByStatus:    byStatus,
		ActiveSubscriptions: activeSubs,
		GeneratedAt:         s.now(),
	}
	if raw, err := json.Marshal(stats); err == nil {
		if err := cache.Set(key, string(raw), cacheExpiration); err != nil {
			log.Debugf("[Statistics] cache tenant %s stats: %v", tenantID, err)
		}
	}
	return stats, nil
}
