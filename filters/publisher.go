package filters

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-eventbus/broker"
	"github.com/glimte/mmate-eventbus/internal/ids"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentTypeJSON is the content type of every published message
const ContentTypeJSON = "application/json"

// Publisher is the terminal of publish pipelines. It sends the encoded body on
// a channel opened for this message only, with the mandatory flag set.
type Publisher struct {
	conn   broker.Connection
	now    func() time.Time
	logger *slog.Logger
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock sets the clock used for the timestamp property
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher creates a publisher on conn
func NewPublisher(conn broker.Connection, options ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:   conn,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Invoke implements pipeline.Filter. It never calls next.
func (p *Publisher) Invoke(ctx context.Context, pc *pipeline.Context, _ pipeline.Next) error {
	body, ok := pc.Payload().([]byte)
	if !ok {
		return &pipeline.TypeMismatchError{
			Stage:    p.Name(),
			Expected: registry.KeyOf[[]byte](),
			Actual:   pc.PayloadKey(),
		}
	}

	route := pc.Route()
	headers := pc.Headers()
	headers.SetEventName(pc.EventName())

	msg := amqp.Publishing{
		Headers:       headers.Table(),
		ContentType:   ContentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: headers.CorrelationID(),
		MessageId:     ids.NewMessageID(),
		Timestamp:     p.now().UTC(),
		Type:          pc.EventName(),
		Body:          body,
	}

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return p.fail("open channel", pc, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			p.logger.Debug("failed to close publish channel", "error", err)
		}
	}()

	if err := ch.PublishWithContext(ctx, route.Exchange, route.RoutingKey, true, false, msg); err != nil {
		return p.fail("publish", pc, err)
	}

	p.logger.DebugContext(ctx, "message published",
		"eventName", pc.EventName(),
		"exchange", route.Exchange,
		"routingKey", route.RoutingKey,
		"messageId", msg.MessageId,
		"correlationId", msg.CorrelationId,
	)
	return nil
}

func (p *Publisher) fail(op string, pc *pipeline.Context, err error) error {
	route := pc.Route()
	return &PublishError{
		Op:         op,
		EventName:  pc.EventName(),
		Exchange:   route.Exchange,
		RoutingKey: route.RoutingKey,
		Err:        err,
	}
}

// Name implements pipeline.Named
func (p *Publisher) Name() string {
	return "Publisher"
}

// Consumes implements pipeline.TypeDeclarer
func (p *Publisher) Consumes() registry.TypeKey {
	return registry.KeyOf[[]byte]()
}
