package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/pool"
)

var reportCmd = &cobra.Command{
	Use:   "report <searched> <rate>",
	Short: "Report progress on the active assignment",
	Long: `Report the searched-key counter (decimal or 0x-prefixed hex) and the
search rate in keys/sec for the active assignment. The ledger write is
authoritative; the remote pool sync is best-effort.`,
	Args: cobra.ExactArgs(2),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	searched, err := keyspace.ParseKey(args[0])
	if err != nil {
		return fmt.Errorf("bad searched counter: %w", err)
	}
	rate, err := strconv.ParseFloat(args[1], 64)
	if err != nil || rate < 0 {
		return fmt.Errorf("bad rate %q: expected a non-negative number of keys/sec", args[1])
	}

	var rec ledger.Record
	err = withCoordinator(cfg, func(c *pool.Coordinator, l *ledger.Ledger) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pool.RequestTimeout())
		defer cancel()

		r, err := c.ReportProgress(ctx, searched, rate)
		if err != nil {
			return err
		}
		rec = r

		if asg, ok := c.Current(); ok {
			return pool.SaveAssignment(cfg.Paths.DataDir, asg)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s%% searched", rec.RangeID(), keyspace.FormatPercent(rec.PercentComplete))
	if rec.ETA != nil {
		fmt.Printf(", ETA %s", rec.ETA.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	return nil
}
