// Package expiration reminds users about carts that will expire soon.
package expiration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
	"github.com/fjod/go_cart/cart-service/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	day         = 24 * time.Hour
	dedupeTTL   = 24 * time.Hour
	unknownName = "Unknown Product"
)

type Scheduler struct {
	carts       store.Scanner
	products    lookup.ProductLookup
	publisher   Publisher
	dedupe      *redis.Client
	warningDays int
	interval    time.Duration
	now         func() time.Time
}

// Stats summarizes one pass over the stored carts.
type Stats struct {
	Scanned  int
	Notified int
	Failed   int
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(carts store.Scanner, products lookup.ProductLookup, publisher Publisher, dedupe *redis.Client, warningDays int, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		carts:       carts,
		products:    products,
		publisher:   publisher,
		dedupe:      dedupe,
		warningDays: warningDays,
		interval:    interval,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run checks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.Component(ctx, "expiration")
	log.Info().
		Int("warning_days", s.warningDays).
		Dur("interval", s.interval).
		Msg("cart expiration scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.CheckOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("cart expiration check failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("cart expiration scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce scans every cart once and publishes the reminders that are due.
// A failure on one cart does not stop the scan.
func (s *Scheduler) CheckOnce(ctx context.Context) (Stats, error) {
	log := logger.Component(ctx, "expiration")
	now := s.now()
	var stats Stats

	err := s.carts.ForEach(ctx, func(rec *domain.CartRecord) error {
		stats.Scanned++
		sent, err := s.process(ctx, rec, now)
		switch {
		case err != nil:
			stats.Failed++
			log.Error().Err(err).Str("user_id", rec.UserID).Msg("error processing cart expiration")
		case sent:
			stats.Notified++
		}
		return nil
	})
	log.Info().
		Int("total_carts", stats.Scanned).
		Int("sent_notifications", stats.Notified).
		Int("failed", stats.Failed).
		Msg("cart expiration check completed")
	if err != nil {
		return stats, fmt.Errorf("scan carts: %w", err)
	}
	return stats, nil
}

func (s *Scheduler) process(ctx context.Context, rec *domain.CartRecord, now time.Time) (bool, error) {
	if len(rec.Items) == 0 || rec.ExpiresAt.IsZero() {
		return false, nil
	}
	days := DaysUntil(rec.ExpiresAt, now)
	if days <= 0 || days > s.warningDays {
		return false, nil
	}

	key := fmt.Sprintf("cart_expiration_notification:%s:%d", rec.UserID, days)
	fresh, err := s.dedupe.SetNX(ctx, key, "1", dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe reminder: %w", err)
	}
	if !fresh {
		return false, nil
	}

	event, err := s.buildEvent(ctx, rec, days, now)
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		// allow the next pass to retry
		if delErr := s.dedupe.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			logger.Component(ctx, "expiration").Warn().Err(delErr).Str("key", key).Msg("failed to release reminder key")
		}
		return false, err
	}

	logger.Component(ctx, "expiration").Info().
		Str("user_id", rec.UserID).
		Int("days_until_expiration", days).
		Int("item_count", event.ItemCount).
		Str("total_value", event.TotalValue.String()).
		Str("event_id", event.EventID).
		Msg("cart expiration notification sent")
	return true, nil
}

func (s *Scheduler) buildEvent(ctx context.Context, rec *domain.CartRecord, days int, now time.Time) (Event, error) {
	products, err := s.products.BatchGet(ctx, rec.ProductIDs())
	if err != nil {
		return Event{}, fmt.Errorf("product lookup: %w", err)
	}
	catalog := lookup.IndexProducts(products)

	total := decimal.Zero
	items := make([]EventItem, 0, len(rec.Items))
	for _, item := range rec.Items {
		ei := EventItem{ProductID: item.ProductID, ProductName: unknownName, Quantity: item.Quantity, Price: decimal.Zero}
		if p, ok := catalog[item.ProductID]; ok {
			ei.ProductName = p.Name
			ei.Price = p.Price
		}
		total = total.Add(ei.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		items = append(items, ei)
	}

	return Event{
		EventID:             uuid.NewString(),
		UserID:              rec.UserID,
		CartID:              "cart_" + rec.UserID,
		ExpiresAt:           rec.ExpiresAt,
		DaysUntilExpiration: days,
		ItemCount:           len(rec.Items),
		TotalValue:          total,
		Items:               items,
		Timestamp:           now,
	}, nil
}

// DaysUntil rounds the time left up to whole days.
func DaysUntil(expiresAt, now time.Time) int {
	return int(math.Ceil(float64(expiresAt.Sub(now)) / float64(day)))
}
