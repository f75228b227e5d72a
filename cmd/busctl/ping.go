package main

import (
	"context"
	"fmt"
	"os"
	"time"

	eventbus "github.com/glimte/mmate-eventbus"
	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/spf13/cobra"
)

func newPingCmd(g *globals) *cobra.Command {
	var (
		message  string
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Publish ping events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = false

			bus, err := eventbus.Dial(cfg.RabbitMQ.URL, append(cfg.Options(logger), pingTopology(g, ""))...)
			if err != nil {
				return err
			}
			defer bus.Close()

			host, _ := os.Hostname()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			for i := 1; i <= count; i++ {
				ping := Ping{
					IntegrationEvent: contracts.NewIntegrationEvent(),
					Message:          message,
					Host:             host,
					Seq:              i,
				}
				if err := eventbus.Publish(ctx, bus, ping); err != nil {
					return fmt.Errorf("failed to publish ping %d: %w", i, err)
				}
				fmt.Printf("sent ping %d (%s)\n", i, ping.ID)

				if i < count && interval > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(interval):
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "ping", "Message text")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of pings to send")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Delay between pings")
	return cmd
}
