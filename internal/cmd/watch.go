package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of range progress and coverage",
	Long: `Open a full-screen dashboard that tracks the ledger live: per-range
progress bars, aggregate coverage, and scheduler recommendations. The
view refreshes when the ledger file changes and on a steady tick.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Fail fast with the usual hint instead of an empty dashboard.
	if _, err := openLedger(cfg); err != nil {
		return err
	}
	return watch.Run(cfg.Paths.DataDir)
}
