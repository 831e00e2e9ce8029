// Package poller clears carts once the checkout service reports a completed checkout.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/segmentio/kafka-go"
)

var ErrInvalidEvent = errors.New("invalid checkout event")

// CartClearer removes a user's cart. Clearing an absent cart must succeed.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	carts  CartClearer
	reader *kafka.Reader
}

func NewPoller(carts CartClearer, topic, groupID string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader}
}

// Run consumes until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log := logger.Component(ctx, "poller")
	log.Info().Str("topic", p.reader.Config().Topic).Msg("checkout poller started")
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("checkout poller stopped")
				return
			}
			log.Error().Err(err).Msg("error reading message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := p.Handle(ctx, m.Value); err != nil {
			log.Error().Err(err).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("failed to process checkout event")
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		logger.Component(context.Background(), "poller").Error().Err(err).Msg("error closing reader")
	}
}

// Handle clears the cart named by one checkout event.
func (p *Poller) Handle(ctx context.Context, value []byte) error {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if event.UserID == "" {
		return fmt.Errorf("%w: missing or invalid user_id", ErrInvalidEvent)
	}

	if err := p.carts.ClearCart(ctx, event.UserID); err != nil {
		return fmt.Errorf("clear cart for %s: %w", event.UserID, err)
	}
	logger.Component(ctx, "poller").Info().
		Str("user_id", event.UserID).
		Str("checkout_id", event.CheckoutID).
		Msg("cart cleared after checkout")
	return nil
}
