package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/modelctl/internal/config"
	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/requestid"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath     string
	experimentID   string
	deploymentMode string
	registry       string
	logLevel       string
	logFormat      string
}

func newRootCmd(a *app) *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "modelctl",
		Short:         "Resolve, fetch and promote tracked model runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(flags); err != nil {
				return err
			}
			a.logger = a.logger.With("request_id", requestid.FromContext(cmd.Context()))
			return nil
		},
	}
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	pf.StringVar(&flags.experimentID, "experiment-id", "", "experiment to operate on")
	pf.StringVar(&flags.deploymentMode, "deployment-mode", "", "LOCAL, REMOTE_STORE or REMOTE_TRACKED")
	pf.StringVar(&flags.registry, "registry", "", "run registry: mlflow or postgres")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "text or json")

	cmd.AddCommand(
		newLiveCmd(a),
		newCandidateCmd(a),
		newPromoteCmd(a),
		newRegisterCmd(a),
		newStateCmd(a),
		newCheckCmd(a),
		newFetchCmd(a),
		newPublishCmd(a),
		newPredictCmd(a),
		newCompareCmd(a),
		newConfigCmd(a),
		newDBCmd(a),
	)
	return cmd
}

// setup loads the configuration, applies flag overrides and builds the
// logger. Logs go to stderr so stdout carries only command results.
func (a *app) setup(flags rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(flags.experimentID); v != "" {
		cfg.ExperimentID = v
	}
	if v := strings.TrimSpace(flags.deploymentMode); v != "" {
		cfg.DeploymentMode = v
	}
	if v := strings.TrimSpace(flags.registry); v != "" {
		cfg.Registry = v
	}
	if v := strings.TrimSpace(flags.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: cfg.Level()}
	switch strings.ToLower(strings.TrimSpace(flags.logFormat)) {
	case "", "text":
		a.logger = slog.New(slog.NewTextHandler(a.stderr, opts))
	case "json":
		a.logger = slog.New(slog.NewJSONHandler(a.stderr, opts))
	default:
		return &domain.ConfigurationError{Field: "log-format", Value: flags.logFormat, Reason: "must be text or json"}
	}
	a.cfg = cfg
	return nil
}

func printf(a *app, format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
