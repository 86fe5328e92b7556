package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
)

var splitCmd = &cobra.Command{
	Use:   "split <range_id> [count]",
	Short: "Split a range into contiguous children for parallel search",
	Long: `Replace a range with contiguous children that exactly partition its
interval. The parent is retained for audit but leaves scheduling; its
searched keys are credited to the children from the low end. Children of
an active parent get elevated priority so they are picked up first.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	count := cfg.Scheduler.SplitCount
	if len(args) == 2 {
		count, err = strconv.Atoi(args[1])
		if err != nil || count < 2 {
			return fmt.Errorf("bad count %q: expected an integer of at least 2", args[1])
		}
	}

	var children []keyspace.Range
	err = mutateLedger(cfg, func(l *ledger.Ledger) error {
		cs, err := newScheduler(cfg, l).SplitRange(args[0], count)
		if err != nil {
			return err
		}
		children = cs
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Split %s into %d ranges:\n", args[0], len(children))
	for _, c := range children {
		fmt.Printf("  %-14s %s (priority %d)\n", c.ID, c.Keyspace(), c.Priority)
	}
	return nil
}
