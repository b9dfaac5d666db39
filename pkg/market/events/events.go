// Package events fans marketplace changes out to realtime subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const topic = "marketplace"

type Type string

const (
	BidPlaced     Type = "bid.placed"
	BiddingClosed Type = "bidding.closed"
	PostCreated   Type = "post.created"
)

type Event struct {
	Type      Type      `json:"type"`
	ProductID int64     `json:"productId,omitempty"`
	PostID    int64     `json:"postId,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status,omitempty"`
	Title     string    `json:"title,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is what the marketplace services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Bus is an in-process pub/sub over watermill's Go channel transport.
// Events published with no subscriber are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(logger)),
		logger: logger,
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(e.Type))
	return b.pubsub.Publish(topic, msg)
}

// Subscribe delivers events until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("drop malformed event", "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
