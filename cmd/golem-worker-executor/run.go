package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/golem-executor/pkg/api"
	"github.com/cuemby/golem-executor/pkg/events"
	"github.com/cuemby/golem-executor/pkg/hostabi"
	"github.com/cuemby/golem-executor/pkg/limits"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/metrics"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/services"
	"github.com/cuemby/golem-executor/pkg/shardmanager"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/cuemby/golem-executor/pkg/worker"
	"github.com/cuemby/golem-executor/pkg/workerproxy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker-executor process",
	RunE:  runExecutor,
}

func init() {
	runCmd.Flags().String("pod-id", "pod-1", "This pod's id in the shard routing table")
	runCmd.Flags().String("data-dir", "./golem-worker-data", "Data directory for the oplog and component catalog")
	runCmd.Flags().String("api-addr", "127.0.0.1:9091", "Listen address for the operator-facing executor gRPC API")
	runCmd.Flags().String("worker-rpc-addr", "127.0.0.1:9092", "Listen address for cross-pod worker RPC")
	runCmd.Flags().String("health-addr", "127.0.0.1:9090", "Listen address for /health, /ready, /live, /metrics")
	runCmd.Flags().String("shard-manager-addr", "", "http(s)://host:port of a golem-shard-manager's health listener (single-pod dev mode if empty)")
	runCmd.Flags().Duration("shard-poll-interval", 5*time.Second, "How often to poll the shard manager's routing table")
	runCmd.Flags().Int("active-worker-capacity", 1024, "Maximum workers held active in memory at once")
	runCmd.Flags().Uint64("oplog-commit-batch", 128, "Entries buffered before an oplog commit")
	runCmd.Flags().String("tls-cert", "", "Worker-RPC server certificate (mTLS disabled if empty)")
	runCmd.Flags().String("tls-key", "", "Worker-RPC server key")
	runCmd.Flags().String("tls-ca", "", "Worker-RPC client CA bundle")
	runCmd.Flags().Int64("max-fuel-per-tick", 0, "Fuel quota for project \"default\" (other projects are unmetered), 0 disables metering")
	runCmd.Flags().Int64("max-memory-bytes", 0, "Memory ceiling for project \"default\" (other projects are unchecked), 0 disables the check")
}

func runExecutor(cmd *cobra.Command, args []string) error {
	podID, _ := cmd.Flags().GetString("pod-id")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	rpcAddr, _ := cmd.Flags().GetString("worker-rpc-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	shardManagerAddr, _ := cmd.Flags().GetString("shard-manager-addr")
	shardPollInterval, _ := cmd.Flags().GetDuration("shard-poll-interval")
	capacity, _ := cmd.Flags().GetInt("active-worker-capacity")
	commitBatch, _ := cmd.Flags().GetUint64("oplog-commit-batch")
	certFile, _ := cmd.Flags().GetString("tls-cert")
	keyFile, _ := cmd.Flags().GetString("tls-key")
	caFile, _ := cmd.Flags().GetString("tls-ca")
	maxFuel, _ := cmd.Flags().GetInt64("max-fuel-per-tick")
	maxMemory, _ := cmd.Flags().GetInt64("max-memory-bytes")

	fmt.Println("Starting golem-worker-executor...")
	fmt.Printf("  Pod ID: %s\n", podID)
	fmt.Printf("  Data directory: %s\n", dataDir)
	fmt.Printf("  Executor API: %s\n", apiAddr)
	fmt.Printf("  Worker RPC: %s\n", rpcAddr)
	fmt.Println()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	indexed, err := storage.NewBoltIndexedStorage(dataDir)
	if err != nil {
		return fmt.Errorf("open indexed storage: %w", err)
	}
	defer indexed.Close()

	blobs, err := storage.NewBoltBlobStorage(dataDir)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}
	defer blobs.Close()

	oplogSvc := oplog.NewService(indexed, blobs, commitBatch)

	componentSvc, err := services.NewBlobComponentService(blobs)
	if err != nil {
		return fmt.Errorf("load component catalog: %w", err)
	}
	if err := seedDemoComponent(componentSvc); err != nil {
		return fmt.Errorf("seed demo component: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	fmt.Println("✓ Event broker started")

	limiter := limits.NewLimiter(time.Second)
	if maxFuel > 0 || maxMemory > 0 {
		limiter.SetQuota("default", limits.Quota{MaxFuelPerTick: maxFuel, MaxMemoryBytes: maxMemory})
	}
	limiter.Start()
	fmt.Println("✓ Resource limiter started")

	factory := hostabi.NewFactory(oplogSvc, echoExports(), limiter)
	activeWorkers := worker.NewActiveWorkers(oplogSvc, broker, factory, capacity)

	shardSvc := services.NewCachedShardService(types.PodID(podID))

	var poller *shardmanager.TablePoller
	if shardManagerAddr != "" {
		poller = shardmanager.NewTablePoller(shardManagerAddr+"/shard-table", shardPollInterval, shardSvc.AcceptRoutingTable)
		poller.Start()
		fmt.Printf("✓ Polling shard table from %s\n", shardManagerAddr)

		if err := shardmanager.RegisterPodWithManager(shardManagerAddr+"/pods/register", types.PodID(podID)); err != nil {
			fmt.Printf("Warning: failed to register with shard manager: %v\n", err)
		} else {
			fmt.Printf("✓ Registered with shard manager at %s\n", shardManagerAddr)
		}
	} else {
		// Single-pod dev mode: own every shard.
		table := types.NewRoutingTable(1)
		table.Assignments[0] = types.PodID(podID)
		shardSvc.AcceptRoutingTable(table)
		fmt.Println("✓ No shard manager configured, running single-pod (owns all shards)")
	}

	var rpcTLS *tls.Config
	if certFile != "" {
		rpcTLS, err = workerproxy.ServerConfig(workerproxy.TLSFiles{CertFile: certFile, KeyFile: keyFile, CAFile: caFile})
		if err != nil {
			return fmt.Errorf("load worker-rpc TLS config: %w", err)
		}
	}

	proxy := workerproxy.NewProxy(types.PodID(podID), shardSvc, activeWorkers, oplogSvc, nil, rpcTLS)

	var rpcCreds grpc.ServerOption
	if rpcTLS != nil {
		rpcCreds = grpc.Creds(credentials.NewTLS(rpcTLS))
	} else {
		rpcCreds = grpc.Creds(insecure.NewCredentials())
	}
	rpcGRPC := grpc.NewServer(rpcCreds)
	workerproxy.NewServer(activeWorkers, oplogSvc).Attach(rpcGRPC)

	executor := api.NewExecutor(componentSvc, shardSvc, activeWorkers, proxy, oplogSvc)
	apiServer := api.NewServer(executor, rpcTLS)

	collector := metrics.NewCollector(activeWorkers, nil, 5*time.Second)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	metrics.SetVersion(Version)
	health := api.NewHealthServer(nil)

	rpcListener, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on worker-rpc address %s: %w", rpcAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Listen(apiAddr); err != nil {
			errCh <- fmt.Errorf("executor API error: %w", err)
		}
	}()
	go func() {
		if err := rpcGRPC.Serve(rpcListener); err != nil {
			errCh <- fmt.Errorf("worker-rpc server error: %w", err)
		}
	}()
	go func() {
		if err := health.Start(healthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live,metrics}\n", healthAddr)
	fmt.Println()
	fmt.Println("golem-worker-executor is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	if poller != nil {
		poller.Stop()
	}
	if shardManagerAddr != "" {
		if err := shardmanager.DeregisterPodWithManager(shardManagerAddr+"/pods/deregister", types.PodID(podID)); err != nil {
			fmt.Printf("Warning: failed to deregister from shard manager: %v\n", err)
		}
	}
	collector.Stop()
	limiter.Stop()
	broker.Stop()
	apiServer.Stop()
	rpcGRPC.GracefulStop()
	if err := activeWorkers.Close(); err != nil {
		log.WithPod(podID).Error().Err(err).Msg("error closing active workers")
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// seedDemoComponent registers the "echo" component (see exports.go) if the
// catalog doesn't already have it, so a freshly initialized data directory
// can serve create_worker/invoke calls without a separate apply step.
func seedDemoComponent(svc services.ComponentService) error {
	if _, err := svc.LatestVersion("echo"); err == nil {
		return nil
	}
	return svc.Put(&types.Component{
		ID:         "echo",
		Version:    1,
		Durability: types.DurabilityDurable,
		Exports:    []string{"run"},
	})
}
