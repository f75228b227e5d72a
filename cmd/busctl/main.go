package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/glimte/mmate-eventbus/config"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globals holds the persistent flags shared by every command
type globals struct {
	configPath string
	url        string
	exchange   string
	routingKey string
}

// load reads the configuration and applies flag overrides
func (g *globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.url != "" {
		cfg.RabbitMQ.URL = g.url
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "busctl",
		Short: "Exercise a RabbitMQ event bus",
		Long: `busctl publishes and consumes ping events through the event bus pipelines.
Use it to verify broker connectivity, topology and message flow.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&g.url, "url", "u", "", "RabbitMQ connection URL (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&g.exchange, "exchange", "busctl", "Exchange carrying ping events")
	rootCmd.PersistentFlags().StringVar(&g.routingKey, "routing-key", "ping", "Routing key of ping events")

	rootCmd.AddCommand(
		newServeCmd(g),
		newPingCmd(g),
		newPipelinesCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
