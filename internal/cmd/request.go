package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/pool"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Claim the next range to search",
	Long: `Claim one range from the scheduler's recommended set and persist the
assignment so subsequent report/complete/abandon commands act on it.
Prints the keyspace bounds in the start:end hex form search executables
take on the command line.`,
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var asg pool.Assignment
	err = withCoordinator(cfg, func(c *pool.Coordinator, l *ledger.Ledger) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pool.RequestTimeout())
		defer cancel()

		a, err := c.RequestAssignment(ctx)
		if err != nil {
			return err
		}
		asg = a
		return pool.SaveAssignment(cfg.Paths.DataDir, asg)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Assigned %s (priority %d)\n", asg.RangeID, asg.Range.Priority)
	fmt.Printf("Keyspace: %s\n", asg.Range.Keyspace())
	return nil
}
