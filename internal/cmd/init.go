package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/config"
	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/partition"
)

var initCmd = &cobra.Command{
	Use:   "init [start end]",
	Short: "Generate the range manifest and seed the progress ledger",
	Long: `Divide the keyspace into a prioritized range plan and create the
progress ledger under the data directory.

The keyspace comes from --puzzle (the standard [2^(n-1), 2^n) interval)
or from explicit start/end bounds, decimal or 0x-prefixed hex. The
position estimate narrows the core band when its confidence interval is
tighter than the default 40-90% band.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runInit,
}

var (
	initPuzzle   int
	initSplits   int
	initPosition float64
	initCILower  float64
	initCIUpper  float64
	initForce    bool
)

func init() {
	initCmd.Flags().IntVar(&initPuzzle, "puzzle", 0, "puzzle number selecting the standard interval")
	initCmd.Flags().IntVar(&initSplits, "splits", 0, "number of parallel core-band splits (default from config)")
	initCmd.Flags().Float64Var(&initPosition, "position", 65, "estimated key position as a percentage of the keyspace")
	initCmd.Flags().Float64Var(&initCILower, "ci-lower", 0, "confidence interval lower bound in percent")
	initCmd.Flags().Float64Var(&initCIUpper, "ci-upper", 100, "confidence interval upper bound in percent")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing ledger")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if ledger.Exists(cfg.Paths.DataDir) && !initForce {
		return fmt.Errorf("ledger already present in %s; pass --force to regenerate", cfg.Paths.DataDir)
	}

	pcfg, custom, err := resolvePartitionConfig(cfg, args)
	if err != nil {
		return err
	}
	pcfg.SplitCount = initSplits
	if pcfg.SplitCount == 0 {
		pcfg.SplitCount = cfg.Scheduler.SplitCount
	}

	var manifest *partition.Manifest
	if custom {
		// Exact caller-supplied bounds are searched as one range; the
		// estimate partitioner only applies to full puzzle intervals.
		manifest, err = partition.CustomManifest(pcfg)
	} else {
		est := partition.Estimate{
			Position: initPosition,
			CILower:  initCILower,
			CIUpper:  initCIUpper,
		}
		manifest, err = partition.Generate(est, pcfg)
	}
	if err != nil {
		return err
	}
	if err := manifest.Save(cfg.Paths.DataDir); err != nil {
		return err
	}

	l, err := ledger.FromManifest(manifest)
	if err != nil {
		return err
	}
	if err := l.Save(cfg.Paths.DataDir); err != nil {
		return err
	}

	fmt.Printf("Keyspace: %s:%s\n", pcfg.Start.Hex(), pcfg.End.Hex())
	if custom {
		fmt.Printf("Custom range %s (priority %d)\n", manifest.HighPriority.ID, manifest.HighPriority.Priority)
	} else {
		fmt.Printf("Core band %s (priority %d):\n", manifest.HighPriority.Keyspace(), manifest.HighPriority.Priority)
		for _, r := range manifest.GPUSplits {
			fmt.Printf("  %-12s %s (priority %d)\n", r.ID, r.Keyspace(), r.Priority)
		}
		for _, r := range manifest.Fallback {
			fmt.Printf("  %-12s %s (priority %d)\n", r.ID, r.Keyspace(), r.Priority)
		}
	}
	fmt.Printf("Ledger seeded with %d ranges in %s\n", l.Len(), cfg.Paths.DataDir)
	return nil
}

// resolvePartitionConfig picks the keyspace bounds from --puzzle, explicit
// args, the configured custom range, or the configured puzzle, in that
// order. The custom return is true when the operator supplied exact
// bounds: those seed a single range instead of the estimate partition.
func resolvePartitionConfig(cfg *config.Config, args []string) (pcfg partition.Config, custom bool, err error) {
	if initPuzzle > 0 && len(args) > 0 {
		return partition.Config{}, false, fmt.Errorf("--puzzle and explicit bounds are mutually exclusive")
	}

	targetID := cfg.Pool.TargetID

	if len(args) == 2 {
		pcfg, err = boundsConfig(args[0], args[1], targetID)
		return pcfg, true, err
	}
	if len(args) == 1 {
		return partition.Config{}, false, fmt.Errorf("explicit bounds need both start and end")
	}

	if initPuzzle == 0 && cfg.Pool.CustomRange != "" {
		start, end, ok := strings.Cut(cfg.Pool.CustomRange, ":")
		if !ok {
			return partition.Config{}, false, fmt.Errorf("pool.custom_range must be start:end, got %q", cfg.Pool.CustomRange)
		}
		// The custom range is hex, with or without the 0x prefix.
		start = "0x" + strings.TrimPrefix(strings.ToLower(start), "0x")
		end = "0x" + strings.TrimPrefix(strings.ToLower(end), "0x")
		pcfg, err = boundsConfig(start, end, targetID)
		return pcfg, true, err
	}

	puzzle := initPuzzle
	if puzzle == 0 {
		puzzle = cfg.Pool.Puzzle
	}
	pcfg, err = partition.PuzzleConfig(puzzle, targetID)
	return pcfg, false, err
}

func boundsConfig(startStr, endStr, targetID string) (partition.Config, error) {
	start, err := keyspace.ParseKey(startStr)
	if err != nil {
		return partition.Config{}, fmt.Errorf("bad start bound: %w", err)
	}
	end, err := keyspace.ParseKey(endStr)
	if err != nil {
		return partition.Config{}, fmt.Errorf("bad end bound: %w", err)
	}
	return partition.Config{Start: start, End: end, TargetID: targetID}, nil
}
