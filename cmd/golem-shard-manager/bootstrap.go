package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/golem-executor/pkg/api"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/metrics"
	"github.com/cuemby/golem-executor/pkg/shardmanager"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap a new shard manager cluster on this node",
	Long: `bootstrap initializes a brand new single-node Raft cluster for the
shard routing table and starts serving it. Run this exactly once per
cluster; every other replica should join with "golem-shard-manager join"
and be added as a voter through this node's /voters endpoint
("golem-shard-manager add-voter"), the Raft AddVoter operator call.`,
	RunE: runBootstrap,
}

func init() {
	registerServiceFlags(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	return runShardManager(cmd, (*shardmanager.Service).Bootstrap)
}

// registerServiceFlags adds the flags shared by bootstrap and join.
func registerServiceFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-id", "shard-manager-1", "Raft node id, unique per replica")
	cmd.Flags().String("bind-addr", "127.0.0.1:9093", "Raft transport bind address")
	cmd.Flags().String("data-dir", "./golem-shard-manager-data", "Data directory for Raft logs and snapshots")
	cmd.Flags().String("health-addr", "127.0.0.1:9090", "Listen address for /health, /ready, /live, /metrics, /shard-table, /pods/register, /pods/deregister")
	cmd.Flags().Int("shard-count", 1024, "Total number of shards in the routing table")
	cmd.Flags().Float64("rebalance-threshold", 0.1, "Fractional load imbalance that triggers a rebalance move")
	cmd.Flags().Duration("rebalance-interval", 10*time.Second, "How often to check for rebalance")
}

// runShardManager holds the startup/shutdown orchestration shared by
// bootstrap and join; start is either (*shardmanager.Service).Bootstrap or
// (*shardmanager.Service).Join.
func runShardManager(cmd *cobra.Command, start func(*shardmanager.Service) error) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	shardCount, _ := cmd.Flags().GetInt("shard-count")
	threshold, _ := cmd.Flags().GetFloat64("rebalance-threshold")
	rebalanceInterval, _ := cmd.Flags().GetDuration("rebalance-interval")

	fmt.Println("Starting golem-shard-manager...")
	fmt.Printf("  Node ID: %s\n", nodeID)
	fmt.Printf("  Raft bind address: %s\n", bindAddr)
	fmt.Printf("  Data directory: %s\n", dataDir)
	fmt.Println()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	svc := shardmanager.NewService(shardmanager.Config{
		NodeID:            nodeID,
		BindAddr:          bindAddr,
		DataDir:           dataDir,
		ShardCount:        shardCount,
		Threshold:         threshold,
		RebalanceInterval: rebalanceInterval,
	})

	if err := start(svc); err != nil {
		return fmt.Errorf("start raft: %w", err)
	}
	fmt.Println("✓ Raft started")

	svc.Start()
	fmt.Println("✓ Rebalance loop started")

	collector := metrics.NewCollector(nil, svc, 5*time.Second)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	metrics.SetVersion(Version)
	health := api.NewHealthServer(svc)
	health.Handle("/shard-table", svc.TableHandler())
	health.Handle("/pods/register", svc.RegisterHandler())
	health.Handle("/pods/deregister", svc.DeregisterHandler())
	health.Handle("/voters", svc.AddVoterHandler())

	errCh := make(chan error, 1)
	go func() {
		if err := health.Start(healthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	refreshCh := time.NewTicker(2 * time.Second)
	defer refreshCh.Stop()
	go func() {
		for range refreshCh.C {
			health.RefreshShardHealth()
		}
	}()

	fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live,metrics,shard-table,pods/register,pods/deregister}\n", healthAddr)
	fmt.Println()
	fmt.Println("golem-shard-manager is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	collector.Stop()
	if err := svc.Stop(); err != nil {
		log.WithComponent("golem-shard-manager").Error().Err(err).Msg("error stopping raft")
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
