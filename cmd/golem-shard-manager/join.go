package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/golem-executor/pkg/shardmanager"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start a new replica to join an existing shard manager cluster",
	Long: `join starts this node's Raft instance without bootstrapping a new
cluster. The node sits idle until an operator admits it as a voter on the
existing leader, e.g.:

    golem-shard-manager add-voter --manager-addr http://leader:9090 \
        --node-id shard-manager-2 --address 10.0.0.2:9093`,
	RunE: runJoin,
}

func init() {
	registerServiceFlags(joinCmd)
	joinCmd.Flags().String("leader-addr", "", "host:port of the existing leader, for operator reference only")
	_ = joinCmd.MarkFlagRequired("leader-addr")
}

func runJoin(cmd *cobra.Command, args []string) error {
	leaderAddr, _ := cmd.Flags().GetString("leader-addr")
	fmt.Printf("Joining existing cluster led by %s\n", leaderAddr)
	fmt.Println("(the leader must still run AddVoter for this node before it receives log entries)")
	return runShardManager(cmd, (*shardmanager.Service).Join)
}
