package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelmq/kestrel/internal/broker"
	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/pkg/config"
)

var (
	configFile  string
	nodeID      string
	dataDir     string
	bindPort    int
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:          "kestrel-broker",
	Short:        "Partitioned event log broker with consumer group rebalancing",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "configs/broker.yaml", "configuration file path")
	rootCmd.Flags().StringVar(&nodeID, "node-id", "", "node ID (overrides config)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.Flags().IntVar(&bindPort, "port", 0, "client listener port (overrides config)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus endpoint address (overrides config)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadBrokerConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if bindPort != 0 {
		cfg.BindPort = bindPort
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	if err := logging.Initialize(logging.Config{
		Level:         logging.LogLevel(cfg.Log.Level),
		Format:        logging.LogFormat(cfg.Log.Format),
		OutputFile:    cfg.Log.OutputFile,
		EnableConsole: cfg.Log.EnableConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %v", err)
	}
	defer logging.Close()

	b, err := broker.NewBroker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create broker: %v", err)
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	return b.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
