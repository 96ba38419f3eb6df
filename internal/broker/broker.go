package broker

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/kestrelmq/kestrel/internal/coordinator"
	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/internal/metadata"
	"github.com/kestrelmq/kestrel/internal/metrics"
	"github.com/kestrelmq/kestrel/internal/storage"
	"github.com/kestrelmq/kestrel/pkg/config"
)

// Broker wires the topic registry, partition storage, and the consumer group
// coordinator behind one TCP endpoint. Topic descriptors and committed
// offsets share a single pebble store under dataDir/meta; partition segments
// live under dataDir/topics.
type Broker struct {
	Config *config.BrokerConfig

	db          *pebble.DB
	Metadata    *metadata.Manager
	Coordinator *coordinator.Coordinator

	clientServer  *ClientServer
	retention     *retentionSweeper
	metricsServer *http.Server

	logger *logging.Logger
}

// NewBroker opens the broker's stores and builds its components. Nothing
// listens until Start.
func NewBroker(cfg *config.BrokerConfig) (*Broker, error) {
	if cfg == nil {
		cfg = config.DefaultBrokerConfig()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %v", cfg.DataDir, err)
	}

	db, err := pebble.Open(filepath.Join(cfg.DataDir, "meta"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %v", err)
	}

	logger := logging.GetLogger().WithComponent("broker")

	partitionDefaults := &storage.PartitionConfig{
		MaxSegmentSize: cfg.Storage.MaxSegmentSize,
		MaxSegmentAge:  cfg.Storage.MaxSegmentAge,
		RetentionTime:  cfg.Retention.Time,
		RetentionSize:  cfg.Retention.Size,
	}

	manager, err := metadata.NewManager(db, cfg.DataDir, partitionDefaults, logging.GetLogger())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open topic registry: %v", err)
	}

	b := &Broker{
		Config:   cfg,
		db:       db,
		Metadata: manager,
		logger:   logger,
	}

	b.clientServer = NewClientServer(b)
	b.retention = newRetentionSweeper(manager, cfg.Retention.CheckInterval, logging.GetLogger())

	return b, nil
}

// Start brings up the coordinator, the client listener, the retention sweep,
// and the optional metrics endpoint.
func (b *Broker) Start() error {
	b.Coordinator = coordinator.NewCoordinator(b.db, b.Metadata, coordinator.Config{
		JoinWindow:          b.Config.Group.JoinWindow,
		SessionTimeout:      b.Config.Group.SessionTimeout,
		SweepInterval:       b.Config.Group.SweepInterval,
		EmptyGroupRetention: b.Config.Group.EmptyGroupRetention,
	}, logging.GetLogger())

	if err := b.clientServer.Start(); err != nil {
		b.Coordinator.Stop()
		return err
	}

	b.retention.Start()

	if b.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		b.metricsServer = &http.Server{Addr: b.Config.MetricsAddr, Handler: mux}
		go func() {
			if err := b.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				b.logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	b.logger.StartupInfo("broker", map[string]any{
		"node_id":  b.Config.NodeID,
		"addr":     fmt.Sprintf("%s:%d", b.Config.BindAddr, b.Config.BindPort),
		"data_dir": b.Config.DataDir,
	})
	return nil
}

// Stop shuts the broker down in reverse start order and closes the stores.
func (b *Broker) Stop() error {
	b.logger.ShutdownInfo("broker", map[string]any{"node_id": b.Config.NodeID})

	if b.metricsServer != nil {
		b.metricsServer.Close()
	}
	b.retention.Stop()
	if err := b.clientServer.Stop(); err != nil {
		b.logger.Warn("Failed to stop client server", "error", err)
	}
	if b.Coordinator != nil {
		b.Coordinator.Stop()
	}

	if err := b.Metadata.Close(); err != nil {
		b.logger.Warn("Failed to close topic registry", "error", err)
	}
	return b.db.Close()
}

// requestDeadline bounds how long one request may occupy a connection. Joins
// legitimately block for the rebalance window, so leave headroom beyond it.
func (b *Broker) requestDeadline() time.Duration {
	deadline := 30 * time.Second
	if window := b.Config.Group.JoinWindow * 3; window > deadline {
		deadline = window
	}
	return deadline
}
