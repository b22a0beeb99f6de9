package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/model"
	"github.com/animus-labs/modelctl/internal/service/artifacts"
	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Resolve the deployed artifacts and make them available locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := a.materialize(cmd)
			if err != nil {
				return err
			}
			for _, name := range domain.ArtifactNames {
				sum := pair.FeatureEngineeringSHA256
				if name == domain.ArtifactClassifier {
					sum = pair.ClassifierSHA256
				}
				printf(a, "%s\t%s\t%s\n", name, pair.Path(name), sum)
			}
			return nil
		},
	}
}

func newPredictCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "predict [TEXT...]",
		Short: "Classify texts with the deployed model, one label per line",
		Long: `Classify texts with the deployed model, one label per line.

Without arguments every line of standard input is classified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := args
			if len(texts) == 0 {
				scanner := bufio.NewScanner(a.stdin)
				for scanner.Scan() {
					texts = append(texts, scanner.Text())
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read input: %w", err)
				}
			}
			if len(texts) == 0 {
				return &usageError{err: errors.New("no input texts")}
			}
			pair, err := a.materialize(cmd)
			if err != nil {
				return err
			}
			if err := artifacts.Verify(pair); err != nil {
				return err
			}
			m, err := model.Load(pair)
			if err != nil {
				return err
			}
			labels, err := m.Predict(texts)
			if err != nil {
				return err
			}
			for _, label := range labels {
				printf(a, "%s\n", label)
			}
			return nil
		},
	}
}

func newPublishCmd(a *app) *cobra.Command {
	var (
		runID        string
		dir          string
		ensureBucket bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload locally trained artifacts where the deployment mode reads them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.artifactOptions(cmd.Context(), ensureBucket)
			if err != nil {
				return err
			}
			publisher, err := artifacts.NewPublisher(opts)
			if err != nil {
				return err
			}
			if strings.TrimSpace(dir) == "" {
				dir = a.cfg.LocalArtifactDir
			}
			set, err := publisher.Publish(cmd.Context(), runID, dir)
			if err != nil {
				return err
			}
			for _, loc := range set.Locations() {
				printf(a, "%s\t%s\n", loc.Name, loc.Destination)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run the artifacts belong to (REMOTE_TRACKED)")
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding the artifact files (default local_artifact_dir)")
	cmd.Flags().BoolVar(&ensureBucket, "ensure-bucket", false, "create the bucket when it does not exist")
	return cmd
}

func (a *app) materialize(cmd *cobra.Command) (domain.LocalArtifactPair, error) {
	opts, err := a.artifactOptions(cmd.Context(), false)
	if err != nil {
		return domain.LocalArtifactPair{}, err
	}
	backend, err := artifacts.NewBackend(opts)
	if err != nil {
		return domain.LocalArtifactPair{}, err
	}
	set, err := backend.Resolve(cmd.Context())
	if err != nil {
		return domain.LocalArtifactPair{}, err
	}
	return backend.Materialize(cmd.Context(), set)
}
