// Package events carries price history triggers over PostgreSQL LISTEN/NOTIFY.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"price-history/internal/metrics"
)

// Event types.
const (
	TypePriceChanged          = "price_changed"
	TypeCheckingPeriodChanged = "checking_period_changed"
)

var (
	// ErrMalformed indicates a payload that is not a valid event.
	ErrMalformed = errors.New("events: malformed payload")
	// ErrUnknownType indicates an event type nobody handles.
	ErrUnknownType = errors.New("events: unknown event type")
)

// PriceChanged announces a new price of an item, addressed by id or by product and channel.
type PriceChanged struct {
	Type          string     `json:"type"`
	ItemID        int64      `json:"item_id,omitempty"`
	ProductCode   string     `json:"product_code,omitempty"`
	ChannelCode   string     `json:"channel_code,omitempty"`
	Price         int64      `json:"price"`
	OriginalPrice *int64     `json:"original_price"`
	LoggedAt      *time.Time `json:"logged_at,omitempty"`
}

// CheckingPeriodChanged announces a new checking period of a channel.
type CheckingPeriodChanged struct {
	Type        string `json:"type"`
	ChannelCode string `json:"channel_code"`
}

// Handler reacts to decoded events.
type Handler interface {
	HandlePriceChanged(ctx context.Context, event PriceChanged) error
	HandleCheckingPeriodChanged(ctx context.Context, event CheckingPeriodChanged) error
}

// Decode parses a notification payload into PriceChanged or CheckingPeriodChanged.
func Decode(payload []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch envelope.Type {
	case TypePriceChanged:
		var event PriceChanged
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if event.ItemID == 0 && (event.ProductCode == "" || event.ChannelCode == "") {
			return nil, fmt.Errorf("%w: price_changed without item_id or product and channel codes", ErrMalformed)
		}
		return event, nil
	case TypeCheckingPeriodChanged:
		var event CheckingPeriodChanged
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if event.ChannelCode == "" {
			return nil, fmt.Errorf("%w: checking_period_changed without channel_code", ErrMalformed)
		}
		return event, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}

// Dispatch decodes payload and hands the event to handler.
func Dispatch(ctx context.Context, handler Handler, payload []byte) error {
	event, err := Decode(payload)
	if err != nil {
		return err
	}
	switch e := event.(type) {
	case PriceChanged:
		metrics.EventsTotal.WithLabelValues(TypePriceChanged).Inc()
		return handler.HandlePriceChanged(ctx, e)
	case CheckingPeriodChanged:
		metrics.EventsTotal.WithLabelValues(TypeCheckingPeriodChanged).Inc()
		return handler.HandleCheckingPeriodChanged(ctx, e)
	}
	return nil
}

// Encode renders an event as a notification payload, filling in its type.
func Encode(event any) (string, error) {
	switch e := event.(type) {
	case PriceChanged:
		e.Type = TypePriceChanged
		event = e
	case CheckingPeriodChanged:
		e.Type = TypeCheckingPeriodChanged
		event = e
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownType, event)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(body), nil
}

// Notifier publishes a payload on a LISTEN/NOTIFY channel.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Publisher sends events to every listener of a channel.
type Publisher struct {
	notifier Notifier
	channel  string
}

// NewPublisher builds a Publisher on channel.
func NewPublisher(notifier Notifier, channel string) *Publisher {
	return &Publisher{notifier: notifier, channel: channel}
}

// Publish encodes and sends event.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := p.notifier.Notify(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
