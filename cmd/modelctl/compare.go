package main

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/spf13/cobra"
)

const defaultCompareMetric = "training accuracy"

func newCompareCmd(a *app) *cobra.Command {
	var metric string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Print a Markdown table comparing the live model with the latest candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			resolver, err := a.resolver(ctx)
			if err != nil {
				return err
			}
			baseline, err := resolver.FindRunRecord(ctx, a.cfg.ExperimentID, resolver.LiveTag(), domain.TagTrue)
			if err != nil {
				return fmt.Errorf("baseline: %w", err)
			}
			candidate, err := resolver.FindRunRecord(ctx, a.cfg.ExperimentID, resolver.CandidateTag(), domain.TagTrue)
			if err != nil {
				return fmt.Errorf("candidate: %w", err)
			}
			renderComparison(a.stdout, metric, baseline, candidate)
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", defaultCompareMetric, "metric to compare")
	return cmd
}

func renderComparison(w io.Writer, metric string, baseline, candidate domain.Run) {
	fmt.Fprintln(w, "| **Model** | **Accuracy** |")
	fmt.Fprintln(w, "| ---------- | -------------- |")
	fmt.Fprintf(w, "| _Baseline_ | %s |\n", formatMetric(baseline, metric))
	fmt.Fprintf(w, "| _Candidate_ | %s |\n", formatMetric(candidate, metric))
}

// formatMetric rounds to four decimals without padding.
func formatMetric(run domain.Run, metric string) string {
	v, ok := run.Metrics[metric]
	if !ok || math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}
