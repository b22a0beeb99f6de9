package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelctl/internal/service/promotion"
	"github.com/spf13/cobra"
)

func newLiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Print the run id of the live model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolver.FindLive(cmd.Context(), a.cfg.ExperimentID)
			if err != nil {
				return err
			}
			printf(a, "%s\n", id)
			return nil
		},
	}
}

func newCandidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "candidate",
		Short: "Print the run id of the most recent production candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolver.FindCandidate(cmd.Context(), a.cfg.ExperimentID)
			if err != nil {
				return err
			}
			printf(a, "%s\n", id)
			return nil
		},
	}
}

func newPromoteCmd(a *app) *cobra.Command {
	var (
		newRunID       string
		previous       string
		keepCandidates bool
	)
	cmd := &cobra.Command{
		Use:   "promote [NEW_RUN_ID [PREVIOUS_LIVE_RUN_ID]]",
		Short: "Make a run live and demote the previous live run",
		Long: `Make a run live and demote the previous live run.

Without a new run id the most recent production candidate is promoted.
Without a previous run id the current live run is looked up. Every other
candidate of the experiment loses its candidate tag unless --keep-candidates
is given. Tag writes are
absolute, so re-running a failed promotion with the same ids completes it.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				newRunID = args[0]
			}
			if len(args) > 1 {
				previous = args[1]
			}
			ctx := cmd.Context()
			svc, resolver, err := a.promotion(ctx)
			if err != nil {
				return err
			}
			if strings.TrimSpace(newRunID) == "" {
				newRunID, err = resolver.FindCandidate(ctx, a.cfg.ExperimentID)
				if err != nil {
					return fmt.Errorf("resolve candidate: %w", err)
				}
			}
			res, err := svc.Promote(ctx, promotion.Request{
				ExperimentID:        a.cfg.ExperimentID,
				NewRunID:            newRunID,
				PreviousLiveRunID:   previous,
				KeepOtherCandidates: keepCandidates,
			})
			if err != nil {
				return err
			}
			for _, w := range res.Writes {
				printf(a, "%s\t%s=%s\n", w.RunID, w.Key, w.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&newRunID, "new", "", "run to promote")
	cmd.Flags().StringVar(&previous, "previous", "", "live run to demote")
	cmd.Flags().BoolVar(&keepCandidates, "keep-candidates", false, "leave the candidate tag of other runs of the experiment in place")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		runID           string
		productionReady bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Tag a freshly trained run as candidate, or as live with --production-ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(runID) == "" {
				return &usageError{err: errors.New("--run-id is required")}
			}
			svc, _, err := a.promotion(cmd.Context())
			if err != nil {
				return err
			}
			writes, err := svc.Register(cmd.Context(), runID, productionReady)
			if err != nil {
				return err
			}
			for _, w := range writes {
				printf(a, "%s\t%s=%s\n", w.RunID, w.Key, w.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to tag")
	cmd.Flags().BoolVar(&productionReady, "production-ready", false, "skip review and make the run live")
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state RUN_ID",
		Short: "Print the promotion state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := a.promotion(cmd.Context())
			if err != nil {
				return err
			}
			state, err := svc.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printf(a, "%s\n", state)
			return nil
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that at most one run is live and no live run is still a candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := a.promotion(cmd.Context())
			if err != nil {
				return err
			}
			report, err := svc.Check(cmd.Context(), a.cfg.ExperimentID)
			if err != nil {
				return err
			}
			printf(a, "live:\t%s\n", joinOrNone(report.Live))
			printf(a, "candidates:\t%s\n", joinOrNone(report.Candidates))
			for _, v := range report.Violations {
				printf(a, "violation:\t%s\n", v)
			}
			if !report.OK() {
				return fmt.Errorf("experiment %s: %w", report.ExperimentID, errInvariantViolated)
			}
			return nil
		},
	}
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}
