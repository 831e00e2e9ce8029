package expiration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const eventType = "cart.expiration.reminder"

// Event tells the notification service that a cart is about to expire.
type Event struct {
	EventID             string          `json:"eventId"`
	UserID              string          `json:"userId"`
	CartID              string          `json:"cartId"`
	ExpiresAt           time.Time       `json:"expiresAt"`
	DaysUntilExpiration int             `json:"daysUntilExpiration"`
	ItemCount           int             `json:"itemCount"`
	TotalValue          decimal.Decimal `json:"totalValue"`
	Items               []EventItem     `json:"items"`
	Timestamp           time.Time       `json:"timestamp"`
}

type EventItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// KafkaPublisher writes events keyed by user so one user's reminders stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish expiration event %s: %w", event.EventID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode expiration event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.UserID + ":" + event.CartID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "user-id", Value: []byte(event.UserID)},
			{Key: "days-until-expiration", Value: []byte(strconv.Itoa(event.DaysUntilExpiration))},
		},
	}, nil
}
