package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/pool"
)

var abandonCmd = &cobra.Command{
	Use:   "abandon [reason]",
	Short: "Release the active assignment back to the pool",
	Long: `Voluntarily release the active assignment. The range returns to the
claimable pool with its progress intact, so another participant can pick
up where this one stopped.`,
	Args: cobra.ArbitraryArgs,
	RunE: runAbandon,
}

func init() {
	rootCmd.AddCommand(abandonCmd)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reason := "operator request"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}

	var asg pool.Assignment
	err = withCoordinator(cfg, func(c *pool.Coordinator, l *ledger.Ledger) error {
		a, ok := c.Current()
		if !ok {
			return fmt.Errorf("no active assignment: run 'rangepool request' first")
		}
		asg = a

		if err := c.AbandonAssignment(reason); err != nil {
			return err
		}
		return pool.ClearAssignment(cfg.Paths.DataDir)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Released %s (%s)\n", asg.RangeID, reason)
	return nil
}
