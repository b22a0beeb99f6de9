package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/postgres"
	pgrepo "github.com/animus-labs/modelctl/internal/repo/postgres"
	"github.com/spf13/cobra"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the PostgreSQL run registry",
	}
	cmd.AddCommand(newMigrateCmd(a), newRecordRunCmd(a))
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the registry schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database(cmd.Context())
			if err != nil {
				return err
			}
			version, err := postgres.Migrate(db)
			if err != nil {
				return err
			}
			a.logger.Info("registry schema migrated", "version", version)
			printf(a, "%d\n", version)
			return nil
		},
	}
}

func newRecordRunCmd(a *app) *cobra.Command {
	var (
		runID          string
		experimentName string
		artifactURI    string
		endedAt        string
		metrics        []string
		params         []string
		tags           []string
	)
	cmd := &cobra.Command{
		Use:   "record-run",
		Short: "Record a finished training run in the PostgreSQL registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			run := domain.Run{
				ID:           strings.TrimSpace(runID),
				ExperimentID: a.cfg.ExperimentID,
				Status:       "FINISHED",
				ArtifactURI:  strings.TrimSpace(artifactURI),
			}
			ended := time.Now().UTC()
			if strings.TrimSpace(endedAt) != "" {
				t, err := time.Parse(time.RFC3339, endedAt)
				if err != nil {
					return &usageError{err: fmt.Errorf("--ended-at: %w", err)}
				}
				ended = t.UTC()
			}
			run.StartedAt = ended
			run.EndedAt = &ended

			var err error
			if run.Metrics, err = parseMetrics(metrics); err != nil {
				return &usageError{err: err}
			}
			if run.Params, err = parsePairs(params); err != nil {
				return &usageError{err: err}
			}
			if run.Tags, err = parsePairs(tags); err != nil {
				return &usageError{err: err}
			}
			if err := run.Validate(); err != nil {
				return &usageError{err: err}
			}

			db, err := a.database(ctx)
			if err != nil {
				return err
			}
			store := pgrepo.NewRunStore(db)
			if _, err := store.GetExperiment(ctx, run.ExperimentID); err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				name := strings.TrimSpace(experimentName)
				if name == "" {
					name = a.cfg.ExperimentName
				}
				if err := store.CreateExperiment(ctx, domain.Experiment{ID: run.ExperimentID, Name: name}); err != nil {
					return err
				}
				a.logger.Info("experiment created", "experiment_id", run.ExperimentID, "name", name)
			}
			if err := store.CreateRun(ctx, run); err != nil {
				return err
			}
			a.logger.Info("run recorded", "run_id", run.ID, "experiment_id", run.ExperimentID)
			printf(a, "%s\n", run.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run identifier")
	f.StringVar(&experimentName, "experiment-name", "", "name used when the experiment does not exist yet")
	f.StringVar(&artifactURI, "artifact-uri", "", "where the run's artifacts were published")
	f.StringVar(&endedAt, "ended-at", "", "RFC 3339 end time (default now)")
	f.StringArrayVar(&metrics, "metric", nil, "metric as name=value, repeatable")
	f.StringArrayVar(&params, "param", nil, "parameter as name=value, repeatable")
	f.StringArrayVar(&tags, "tag", nil, "tag as name=value, repeatable")
	return cmd
}

func parsePairs(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", v)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}

func parseMetrics(values []string) (map[string]float64, error) {
	pairs, err := parsePairs(values)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(pairs))
	for k, v := range pairs {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}
