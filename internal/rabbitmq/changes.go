package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-sync-service/internal/realtime"
)

const changeRoutingPrefix = "change."

// ChangePublisher forwards realtime changes to the changes exchange.
type ChangePublisher struct {
	publisher Publisher
}

func NewChangePublisher(publisher Publisher) *ChangePublisher {
	return &ChangePublisher{publisher: publisher}
}

// PublishChange sends c with routing key "change.<kind>".
func (p *ChangePublisher) PublishChange(ctx context.Context, c realtime.Change) error {
	return p.publisher.Publish(ctx, changeRoutingPrefix+string(c.Kind), c)
}

// ChangeSink receives changes decoded from the exchange.
type ChangeSink interface {
	Deliver(ctx context.Context, c realtime.Change)
}

// ChangeConsumer reads changes published by every instance through a private
// auto-delete queue.
type ChangeConsumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	sink   ChangeSink
	logger *zap.Logger
}

// NewChangeConsumer connects, declares the exchange and binds a private queue.
func NewChangeConsumer(amqpURL, exchange string, sink ChangeSink, logger *zap.Logger) (*ChangeConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, changeRoutingPrefix+"#", exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	logger.Info("change consumer bound", zap.String("exchange", exchange), zap.String("queue", q.Name))
	return &ChangeConsumer{conn: conn, ch: ch, queue: q.Name, sink: sink, logger: logger}, nil
}

// Run delivers changes until ctx is done or the channel closes.
func (c *ChangeConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d.Body)
		}
	}
}

func (c *ChangeConsumer) handle(ctx context.Context, body []byte) {
	var change realtime.Change
	if err := json.Unmarshal(body, &change); err != nil {
		c.logger.Warn("dropping malformed change", zap.Error(err))
		return
	}
	c.sink.Deliver(ctx, change)
}

func (c *ChangeConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
