package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show processing telemetry",
		Long: `Display statistics over completed analyses:
  - Files processed and total estimated tokens
  - Mean and p95 seconds per file
  - Per-category throughput

Telemetry is recorded locally under the repository state directory and
never leaves the machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include (0 = all)")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days int) error {
	deps, err := loadRepo(".")
	if err != nil {
		return err
	}

	var since time.Time
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}

	stats, err := deps.recorder.Stats(since)
	if err != nil {
		return fmt.Errorf("failed to read telemetry: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	return printStatsFormatted(cmd, stats, days, deps.recorder.Enabled())
}

func printStatsFormatted(cmd *cobra.Command, stats *telemetry.Stats, days int, enabled bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Processing Statistics")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	if days > 0 {
		fmt.Fprintf(w, "Window:     last %d days\n", days)
	} else {
		fmt.Fprintln(w, "Window:     all recorded")
	}

	if stats.Count == 0 {
		fmt.Fprintln(w, "Processed:  (none recorded yet)")
		if !enabled {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Telemetry is disabled; enable it in .crystalmcp.yaml to collect stats.")
		}
		return nil
	}

	fmt.Fprintf(w, "Processed:  %d files\n", stats.Count)
	fmt.Fprintf(w, "Mean:       %.1fs per file\n", stats.MeanSeconds)
	fmt.Fprintf(w, "P95:        %.1fs\n", stats.P95Seconds)
	fmt.Fprintf(w, "Tokens:     ~%s estimated\n", humanize.Comma(stats.TotalTokens))
	if !stats.First.IsZero() {
		fmt.Fprintf(w, "First:      %s\n", humanize.Time(stats.First))
		fmt.Fprintf(w, "Last:       %s\n", humanize.Time(stats.Last))
	}
	fmt.Fprintln(w)

	if len(stats.ByCategory) > 0 {
		fmt.Fprintln(w, "By Category:")
		names := make([]string, 0, len(stats.ByCategory))
		for name := range stats.ByCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := stats.ByCategory[name]
			fmt.Fprintf(w, "  %-8s %d files, %.1fs avg, ~%s tokens\n",
				name, c.Count, c.MeanSeconds, humanize.Comma(c.TotalTokens))
		}
	}

	return nil
}
