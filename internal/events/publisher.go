// Package events publishes click events to the analytics queue. The stream
// is fire-and-forget: losing an event costs a row in the breakdown table,
// never a click in the authoritative counters.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"github.com/shortkit/shortkit/internal"
)

type Publisher interface {
	PublishClick(ctx context.Context, event internal.ClickEvent)
}

// AMQPPublisher sends click events to a durable rabbitmq queue.
type AMQPPublisher struct {
	ch    *amqp091.Channel
	queue string
}

func NewAMQPPublisher(ch *amqp091.Channel, queue string) (*AMQPPublisher, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) PublishClick(ctx context.Context, event internal.ClickEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("Error marshalling click event", "short_code", event.ShortCode, "err", err)
		return
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		slog.Error("Error publishing click event", "short_code", event.ShortCode, "err", err)
	}
}

// Noop discards events. Used when no broker is configured, and in tests.
type Noop struct{}

func (Noop) PublishClick(context.Context, internal.ClickEvent) {}
