package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/golem-executor/pkg/services"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register a component manifest directly into a data directory's catalog",
	Long: `apply reads a YAML component manifest and writes it straight into the
blob store a golem-worker-executor process reads its component catalog
from. It talks to the bolt database on disk, not to a running process'
gRPC API, so the target executor must be stopped first.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("data-dir", "./golem-worker-data", "Data directory whose catalog to update")
	_ = applyCmd.MarkFlagRequired("file")
}

// ComponentManifest is the on-disk shape of a component registration,
// mirroring the teacher's WarrenResource envelope (apiVersion/kind/
// metadata/spec) generalized from container service manifests to
// component definitions.
type ComponentManifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ManifestMetadata `yaml:"metadata"`
	Spec       ComponentSpec    `yaml:"spec"`
}

type ManifestMetadata struct {
	Name string `yaml:"name"`
}

type ComponentSpec struct {
	Version      uint64            `yaml:"version"`
	Durability   string            `yaml:"durability"` // "durable" or "ephemeral"
	MemoryPages  uint32            `yaml:"memoryPages"`
	Exports      []string          `yaml:"exports"`
	InitialEnv   map[string]string `yaml:"initialEnv,omitempty"`
	InitialFiles []string          `yaml:"initialFiles,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest ComponentManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Kind != "Component" {
		return fmt.Errorf("unsupported resource kind: %s", manifest.Kind)
	}
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	durability := types.DurabilityDurable
	if manifest.Spec.Durability == "ephemeral" {
		durability = types.DurabilityEphemeral
	}

	blobs, err := storage.NewBoltBlobStorage(dataDir)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}
	defer blobs.Close()

	componentSvc, err := services.NewBlobComponentService(blobs)
	if err != nil {
		return fmt.Errorf("load component catalog: %w", err)
	}

	component := &types.Component{
		ID:           types.ComponentID(manifest.Metadata.Name),
		Version:      types.ComponentVersion(manifest.Spec.Version),
		Durability:   durability,
		Exports:      manifest.Spec.Exports,
		MemoryPages:  manifest.Spec.MemoryPages,
		InitialEnv:   manifest.Spec.InitialEnv,
		InitialFiles: manifest.Spec.InitialFiles,
		CreatedAt:    time.Now(),
	}
	if err := componentSvc.Put(component); err != nil {
		return fmt.Errorf("register component: %w", err)
	}
	componentSvc.RegisterName(manifest.Metadata.Name, component.ID)

	fmt.Printf("✓ Component registered: %s v%d (%s)\n", component.ID, component.Version, manifest.Spec.Durability)
	return nil
}
