package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-range progress, coverage, and scheduler advice",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg)
	if err != nil {
		return err
	}

	snap := l.Snapshot()
	cov := l.AggregateCoverage()
	recs := newScheduler(cfg, l).Recommendations()

	if statusJSON {
		return printStatusJSON(snap, cov, recs)
	}
	printStatusText(snap, cov, recs)
	return nil
}

func printStatusText(snap []ledger.Record, cov ledger.Coverage, recs []string) {
	fmt.Println()
	fmt.Println("RANGES")
	fmt.Println(strings.Repeat("─", 72))
	for _, rec := range snap {
		if rec.IsSuperseded() {
			continue
		}
		line := fmt.Sprintf("%-14s %-9s %6.2f%%  prio %3d",
			rec.RangeID(), rec.Range.Status, rec.PercentComplete, rec.Range.Priority)
		if rec.SearchRate > 0 {
			line += fmt.Sprintf("  %.2e keys/s", rec.SearchRate)
		}
		if rec.ETA != nil {
			line += fmt.Sprintf("  ETA %s", rec.ETA.Format("2006-01-02 15:04"))
		}
		fmt.Println(line)
	}
	fmt.Println()

	fmt.Println("COVERAGE")
	fmt.Println(strings.Repeat("─", 72))
	fmt.Printf("Searched %s of %s keys (%s%%)\n",
		cov.SearchedKeyspace, cov.TotalKeyspace,
		keyspace.FormatPercent(cov.PercentComplete))
	fmt.Println()

	if len(recs) > 0 {
		fmt.Println("RECOMMENDATIONS")
		fmt.Println(strings.Repeat("─", 72))
		for _, r := range recs {
			fmt.Printf("- %s\n", r)
		}
		fmt.Println()
	}
}

func printStatusJSON(snap []ledger.Record, cov ledger.Coverage, recs []string) error {
	type rangeStatus struct {
		RangeID         string     `json:"range_id"`
		Keyspace        string     `json:"keyspace"`
		Status          string     `json:"status"`
		Priority        int        `json:"priority"`
		SearchedKeys    string     `json:"searched_keys"`
		TotalKeys       string     `json:"total_keys"`
		PercentComplete float64    `json:"percent_complete"`
		SearchRate      float64    `json:"search_rate"`
		ETA             *time.Time `json:"eta,omitempty"`
	}

	out := struct {
		Ranges          []rangeStatus `json:"ranges"`
		Coverage        string        `json:"coverage_percent"`
		Recommendations []string      `json:"recommendations"`
	}{
		Coverage:        keyspace.FormatPercent(cov.PercentComplete),
		Recommendations: recs,
	}
	for _, rec := range snap {
		if rec.IsSuperseded() {
			continue
		}
		out.Ranges = append(out.Ranges, rangeStatus{
			RangeID:         rec.RangeID(),
			Keyspace:        rec.Range.Keyspace(),
			Status:          rec.Range.Status.String(),
			Priority:        rec.Range.Priority,
			SearchedKeys:    rec.SearchedKeys.String(),
			TotalKeys:       rec.TotalKeys.String(),
			PercentComplete: rec.PercentComplete,
			SearchRate:      rec.SearchRate,
			ETA:             rec.ETA,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
