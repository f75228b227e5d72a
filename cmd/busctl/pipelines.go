package main

import (
	"fmt"
	"sort"
	"strings"

	eventbus "github.com/glimte/mmate-eventbus"
	"github.com/glimte/mmate-eventbus/internal/rabbitmq"
	"github.com/spf13/cobra"
)

func newPipelinesCmd(g *globals) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Print the assembled pipelines and topology without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = false

			// New never touches the connection, so an unconnected manager is enough.
			conn := rabbitmq.NewConnectionManager(cfg.RabbitMQ.URL, rabbitmq.WithLogger(logger))
			options := append(cfg.Options(logger),
				pingTopology(g, queue),
				eventbus.SubscribeFunc[Ping](queue, logPing(logger)),
			)
			bus, err := eventbus.New(conn, options...)
			if err != nil {
				return err
			}

			printTopology(bus)
			printPipelines(bus.Pipelines())
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "busctl.ping", "Queue to consume")
	return cmd
}

func printTopology(bus *eventbus.Bus) {
	topology := bus.Topology()

	fmt.Println("EXCHANGES")
	for _, ex := range topology.Exchanges {
		fmt.Printf("  %-30s %s\n", ex.Name, ex.Kind)
	}
	fmt.Println("QUEUES")
	for _, q := range topology.Queues {
		fmt.Printf("  %-30s %s -> %s\n", q.Name, q.Exchange, q.RoutingKey)
	}
}

func printPipelines(pipelines map[string][]string) {
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("PIPELINES")
	for _, name := range names {
		fmt.Printf("  %-30s %s\n", name, strings.Join(pipelines[name], " -> "))
	}
}
