package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/keyspace"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool-wide participation statistics",
	Long: `Display pool-wide statistics: participant count, completed ranges,
coverage, and this participant's rank and contribution. With a remote
pool configured the server is asked, degrading to the last known reply;
otherwise the numbers are computed locally from the ledger.`,
	RunE: runStats,
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg)
	if err != nil {
		return err
	}

	log, bus, err := newObservers(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	c, err := newCoordinator(cfg, l, log, bus)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pool.RequestTimeout())
	defer cancel()

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println()
	fmt.Println("POOL STATISTICS")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Client:          %s\n", c.Identity().ClientID)
	fmt.Printf("Participants:    %d\n", stats.Participants)
	fmt.Printf("Ranges complete: %d\n", stats.RangesCompleted)
	fmt.Printf("Coverage:        %s%%\n", keyspace.FormatPercent(stats.CoveragePct))
	fmt.Printf("Rank:            %d\n", stats.Rank)
	fmt.Printf("Contribution:    %s%%\n", keyspace.FormatPercent(stats.ContributionPct))
	fmt.Println()
	return nil
}
