package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/pool"
)

var completeCmd = &cobra.Command{
	Use:   "complete <found>",
	Short: "Complete the active assignment",
	Long: `Terminate the active assignment. With found=true the assigned range
and every range overlapping it are completed and leave scheduling; the
target needs no second search. Completion is one-way.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func init() {
	rootCmd.AddCommand(completeCmd)
}

func runComplete(cmd *cobra.Command, args []string) error {
	found, err := strconv.ParseBool(args[0])
	if err != nil {
		return fmt.Errorf("bad found value %q: expected true or false", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var asg pool.Assignment
	err = withCoordinator(cfg, func(c *pool.Coordinator, l *ledger.Ledger) error {
		a, ok := c.Current()
		if !ok {
			return fmt.Errorf("no active assignment: run 'rangepool request' first")
		}
		asg = a

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pool.RequestTimeout())
		defer cancel()

		if err := c.ReportCompletion(ctx, found); err != nil {
			return err
		}
		return pool.ClearAssignment(cfg.Paths.DataDir)
	})
	if err != nil {
		return err
	}

	if found {
		fmt.Printf("Target found in %s. Overlapping ranges retired from scheduling.\n", asg.RangeID)
	} else {
		fmt.Printf("Range %s completed without a hit.\n", asg.RangeID)
	}
	return nil
}
