package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
)

var updateCmd = &cobra.Command{
	Use:   "update <range_id> <searched> [rate]",
	Short: "Record a manual progress report for a range",
	Long: `Record the searched-key counter (decimal or 0x-prefixed hex) and
optionally the search rate in keys/sec for a range. Used when progress
comes from a search executable's log rather than the auto reporter.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	searched, err := keyspace.ParseKey(args[1])
	if err != nil {
		return fmt.Errorf("bad searched counter: %w", err)
	}

	var rate float64
	if len(args) == 3 {
		rate, err = strconv.ParseFloat(args[2], 64)
		if err != nil || rate < 0 {
			return fmt.Errorf("bad rate %q: expected a non-negative number of keys/sec", args[2])
		}
	}

	var rec ledger.Record
	err = mutateLedger(cfg, func(l *ledger.Ledger) error {
		r, err := l.Update(args[0], searched, rate)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s%% of %s keys", rec.RangeID(), keyspace.FormatPercent(rec.PercentComplete), rec.TotalKeys)
	if rec.ETA != nil {
		fmt.Printf(", ETA %s", rec.ETA.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	if rec.Range.Status == keyspace.StatusCompleted {
		fmt.Println("Range completed.")
	}
	return nil
}
