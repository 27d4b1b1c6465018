package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stablegate/stablegate/internal/pkg/cache"
)

const eventCountsKey = "tenant:counters:events"

// AddEvent increments the counter for a tenant's webhook event in Redis.
// Counters are advisory; a failed increment never blocks delivery.
func AddEvent(tenantID, event string) error {
	ctx := context.Background()
	field := fmt.Sprintf("%s:%s", tenantID, event)
	return cache.GetClient().HIncrBy(ctx, eventCountsKey, field, 1).Err()
}

// Snapshot returns the event counters of a tenant keyed by event name.
func Snapshot(tenantID string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, eventCountsKey).Result()
	if err != nil {
		return nil, err
	}

	prefix := tenantID + ":"
	out := make(map[string]int64)
	for field, raw := range data {
		event, ok := strings.CutPrefix(field, prefix)
		if !ok || event == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[event] = n
	}
	return out, nil
}
