package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/golem-executor/pkg/shardmanager"
)

var addVoterCmd = &cobra.Command{
	Use:   "add-voter",
	Short: "Add a peer to the Raft cluster through the current leader",
	Long: `add-voter is the operator-side counterpart to "join": once a new
replica is up and listening in join mode, run this command against the
current leader's health listener to admit the new node's Raft transport
address as a voter. --manager-addr must point at the leader; a follower's
AddVoterHandler rejects the request the same way Service.AddVoter does.`,
	RunE: runAddVoter,
}

func init() {
	addVoterCmd.Flags().String("manager-addr", "", "http(s)://host:port of the leader shard manager's health listener (required)")
	addVoterCmd.Flags().String("node-id", "", "Node id of the replica to admit, as passed to its own --node-id (required)")
	addVoterCmd.Flags().String("address", "", "Raft bind address of the replica to admit (required)")
	_ = addVoterCmd.MarkFlagRequired("manager-addr")
	_ = addVoterCmd.MarkFlagRequired("node-id")
	_ = addVoterCmd.MarkFlagRequired("address")

	rootCmd.AddCommand(addVoterCmd)
}

func runAddVoter(cmd *cobra.Command, args []string) error {
	managerAddr, _ := cmd.Flags().GetString("manager-addr")
	nodeID, _ := cmd.Flags().GetString("node-id")
	address, _ := cmd.Flags().GetString("address")

	if err := shardmanager.AddVoterOnManager(managerAddr+"/voters", nodeID, address); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	fmt.Printf("✓ %s (%s) added as a voter\n", nodeID, address)
	return nil
}
