package sync

import (
	"context"
	"sync"
	"time"

	"billing-service/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	syncTimeout = 30 * time.Second
)

// TotalsSource is the read side of the ledger the cache is built from.
type TotalsSource interface {
	CountBalanceTotals(ctx context.Context) (int64, error)
	BalanceTotals(ctx context.Context, limit, offset int) ([]model.BalanceTotal, error)
}

// BalanceCache holds membership credit totals keyed by membership id.
// A membership whose credit changed is dropped from the cache until a sync
// that started after the change has stored it again, so a read never adds a
// credit twice.
type BalanceCache struct {
	mu          sync.RWMutex
	entries     map[uint]map[string]int64
	invalidated map[uint]uint64
	generation  uint64
	resync      chan struct{}
}

func NewBalanceCache() *BalanceCache {
	return &BalanceCache{
		entries:     make(map[uint]map[string]int64),
		invalidated: make(map[uint]uint64),
		resync:      make(chan struct{}, 1),
	}
}

// Get returns the cached totals per currency of a membership.
func (c *BalanceCache) Get(membershipID uint) (map[string]int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cur, ok := c.entries[membershipID]
	if !ok {
		return nil, false
	}
	out := make(map[string]int64, len(cur))
	for k, amount := range cur {
		out[k] = amount
	}
	return out, true
}

// Invalidate drops a membership after its credit changed and asks the
// synchronizer for a fresh load.
func (c *BalanceCache) Invalidate(membershipID uint) {
	c.mu.Lock()
	c.generation++
	c.invalidated[membershipID] = c.generation
	delete(c.entries, membershipID)
	c.mu.Unlock()

	select {
	case c.resync <- struct{}{}:
	default:
	}
}

// begin marks the start of a sync; replace only trusts rows read after it.
func (c *BalanceCache) begin() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// replace stores totals read by a sync that began at generation started.
// Memberships invalidated after that point stay out of the cache.
func (c *BalanceCache) replace(fresh map[uint]map[string]int64, started uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, byCurrency := range fresh {
		if gen, ok := c.invalidated[id]; ok && gen > started {
			continue
		}
		c.entries[id] = byCurrency
	}
	for id, gen := range c.invalidated {
		if gen <= started {
			delete(c.invalidated, id)
		}
	}
}

// SyncCache periodically refreshes the balance cache from the database in batches
func SyncCache(
	ctx context.Context,
	source TotalsSource,
	cache *BalanceCache,
	batchSize int,
	interval time.Duration,
	log *logrus.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial sync
	runSync(ctx, source, cache, batchSize, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping balance cache synchronizer")
			return
		case <-ticker.C:
			runSync(ctx, source, cache, batchSize, log)
		case <-cache.resync:
			runSync(ctx, source, cache, batchSize, log)
		}
	}
}

func runSync(
	ctx context.Context,
	source TotalsSource,
	cache *BalanceCache,
	batchSize int,
	log *logrus.Logger,
) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	started := cache.begin()

	total, err := source.CountBalanceTotals(ctx)
	if err != nil {
		log.WithError(err).Error("failed to count balance totals for cache sync")
		return
	}

	if total == 0 {
		log.Debug("no balances to sync")
		return
	}

	log.WithField("total", total).Debug("starting cache synchronization")

	fresh := make(map[uint]map[string]int64)
	var synced int64
	offset := 0

	for {
		page, err := source.BalanceTotals(ctx, batchSize, offset)
		if err != nil {
			log.WithError(err).Error("failed to fetch balance totals batch")
			return
		}

		if len(page) == 0 {
			break
		}

		for _, t := range page {
			if fresh[t.MembershipID] == nil {
				fresh[t.MembershipID] = make(map[string]int64)
			}
			fresh[t.MembershipID][t.Currency] = t.Amount
			synced++
		}

		offset += len(page)

		// Check if we've processed all records
		if len(page) < batchSize {
			break
		}

		select {
		case <-ctx.Done():
			log.Info("cache sync cancelled")
			return
		default:
		}
	}

	cache.replace(fresh, started)

	log.WithFields(logrus.Fields{
		"synced": synced,
		"total":  total,
	}).Info("cache synchronization completed")
}
