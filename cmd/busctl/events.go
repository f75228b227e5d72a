package main

import (
	"context"
	"log/slog"

	eventbus "github.com/glimte/mmate-eventbus"
	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/glimte/mmate-eventbus/routing"
)

// Ping is the event exchanged by busctl
type Ping struct {
	contracts.IntegrationEvent
	Message string `json:"message"`
	Host    string `json:"host"`
	Seq     int    `json:"seq"`
}

// pingTopology declares the ping exchange and routes Ping through it. A
// non-empty queue is bound as well.
func pingTopology(g *globals, queue string) eventbus.Option {
	options := []eventbus.ExchangeOption{eventbus.Route[Ping](g.routingKey)}
	if queue != "" {
		options = append(options, eventbus.BindQueue(queue, g.routingKey))
	}
	return eventbus.WithExchange(g.exchange, routing.KindTopic, options...)
}

// logPing returns a handler logging every received ping
func logPing(logger *slog.Logger) func(ctx context.Context, p Ping) error {
	return func(ctx context.Context, p Ping) error {
		logger.InfoContext(ctx, "ping received",
			"id", p.ID,
			"seq", p.Seq,
			"host", p.Host,
			"message", p.Message,
			"createdOn", p.CreatedOn,
		)
		return nil
	}
}
