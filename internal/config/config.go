// Package config assembles the process configuration once at startup:
// built-in defaults, then an optional YAML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/env"
	"github.com/animus-labs/modelctl/internal/platform/objectstore"
	"github.com/animus-labs/modelctl/internal/platform/postgres"
	"gopkg.in/yaml.v3"
)

const (
	RegistryMLflow   = "mlflow"
	RegistryPostgres = "postgres"
)

// EnvConfigPath names the YAML file when --config is not given.
const EnvConfigPath = "MODELCTL_CONFIG"

type Config struct {
	ExperimentID   string `yaml:"experiment_id"`
	ExperimentName string `yaml:"experiment_name"`
	TrackingURI    string `yaml:"tracking_uri"`
	Registry       string `yaml:"registry"`
	LiveTag        string `yaml:"live_tag"`
	CandidateTag   string `yaml:"candidate_tag"`

	DeploymentMode         string `yaml:"deployment_mode"`
	LocalArtifactDir       string `yaml:"local_artifact_dir"`
	CacheDir               string `yaml:"cache_dir"`
	StorePrefix            string `yaml:"store_prefix"`
	FeatureEngineeringFile string `yaml:"feature_engineering_file"`
	ClassifierFile         string `yaml:"classifier_file"`

	LogLevel string `yaml:"log_level"`
	// Actor is recorded on audit events.
	Actor string `yaml:"actor"`

	ObjectStore objectstore.Config `yaml:"object_store"`
	Database    postgres.Config    `yaml:"database"`
}

func Default() Config {
	return Config{
		ExperimentID:           "2",
		TrackingURI:            "http://localhost:5000",
		Registry:               RegistryMLflow,
		LiveTag:                domain.DefaultLiveTag,
		CandidateTag:           domain.DefaultCandidateTag,
		DeploymentMode:         string(domain.DeploymentRemoteTracked),
		LocalArtifactDir:       "models",
		CacheDir:               defaultCacheDir(),
		StorePrefix:            "production",
		FeatureEngineeringFile: domain.DefaultFeatureEngineeringFile,
		ClassifierFile:         domain.DefaultClassifierFile,
		LogLevel:               "info",
		Actor:                  "modelctl",
		ObjectStore:            objectstore.DefaultConfig(),
		Database:               postgres.DefaultConfig(),
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return ".modelctl-cache"
	}
	return filepath.Join(dir, "modelctl")
}

// Load builds the configuration. path may be empty, in which case
// MODELCTL_CONFIG is consulted; without either only defaults and
// environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = env.String(EnvConfigPath, "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg, err := FromEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// FromEnv overlays MODELCTL_* variables and the platform subsystems'
// variables onto base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	cfg.ExperimentID = env.String("MODELCTL_EXPERIMENT_ID", base.ExperimentID)
	cfg.ExperimentName = env.String("MODELCTL_EXPERIMENT_NAME", base.ExperimentName)
	cfg.TrackingURI = env.String("MODELCTL_TRACKING_URI", env.String("MLFLOW_TRACKING_URI", base.TrackingURI))
	cfg.Registry = env.String("MODELCTL_REGISTRY", base.Registry)
	cfg.LiveTag = env.String("MODELCTL_LIVE_TAG", base.LiveTag)
	cfg.CandidateTag = env.String("MODELCTL_CANDIDATE_TAG", base.CandidateTag)
	cfg.DeploymentMode = env.String("MODELCTL_DEPLOYMENT_MODE", base.DeploymentMode)
	cfg.LocalArtifactDir = env.String("MODELCTL_LOCAL_ARTIFACT_DIR", base.LocalArtifactDir)
	cfg.CacheDir = env.String("MODELCTL_CACHE_DIR", base.CacheDir)
	cfg.StorePrefix = env.String("MODELCTL_STORE_PREFIX", base.StorePrefix)
	cfg.FeatureEngineeringFile = env.String("MODELCTL_FEATURE_ENGINEERING_FILE", base.FeatureEngineeringFile)
	cfg.ClassifierFile = env.String("MODELCTL_CLASSIFIER_FILE", base.ClassifierFile)
	cfg.LogLevel = env.String("MODELCTL_LOG_LEVEL", base.LogLevel)
	cfg.Actor = env.String("MODELCTL_ACTOR", base.Actor)

	store, err := objectstore.ConfigFromEnv(base.ObjectStore)
	if err != nil {
		return Config{}, err
	}
	cfg.ObjectStore = store
	db, err := postgres.ConfigFromEnv(base.Database)
	if err != nil {
		return Config{}, err
	}
	cfg.Database = db
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ExperimentID) == "" {
		return &domain.ConfigurationError{Field: "experiment_id", Reason: "is required"}
	}
	if strings.TrimSpace(c.LiveTag) == "" || strings.TrimSpace(c.CandidateTag) == "" {
		return &domain.ConfigurationError{Field: "live_tag/candidate_tag", Reason: "are required"}
	}
	if c.LiveTag == c.CandidateTag {
		return &domain.ConfigurationError{Field: "candidate_tag", Value: c.CandidateTag, Reason: "must differ from live_tag"}
	}
	mode, err := c.Mode()
	if err != nil {
		return err
	}
	switch c.Registry {
	case RegistryMLflow:
		if strings.TrimSpace(c.TrackingURI) == "" {
			return &domain.ConfigurationError{Field: "tracking_uri", Reason: "is required for the mlflow registry"}
		}
	case RegistryPostgres:
		if err := c.Database.Validate(); err != nil {
			return &domain.ConfigurationError{Field: "database", Reason: err.Error()}
		}
	default:
		return &domain.ConfigurationError{Field: "registry", Value: c.Registry, Reason: "must be mlflow or postgres"}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if strings.TrimSpace(c.FeatureEngineeringFile) == "" || strings.TrimSpace(c.ClassifierFile) == "" {
		return &domain.ConfigurationError{Field: "artifact files", Reason: "names are required"}
	}
	if c.FeatureEngineeringFile == c.ClassifierFile {
		return &domain.ConfigurationError{Field: "classifier_file", Value: c.ClassifierFile, Reason: "must differ from feature_engineering_file"}
	}
	switch mode {
	case domain.DeploymentLocal:
		if strings.TrimSpace(c.LocalArtifactDir) == "" {
			return &domain.ConfigurationError{Field: "local_artifact_dir", Reason: "is required for LOCAL"}
		}
	case domain.DeploymentRemoteStore, domain.DeploymentRemoteTracked:
		if err := c.ObjectStore.Validate(); err != nil {
			return &domain.ConfigurationError{Field: "object_store", Reason: err.Error()}
		}
		if strings.TrimSpace(c.CacheDir) == "" {
			return &domain.ConfigurationError{Field: "cache_dir", Reason: "is required for remote modes"}
		}
		if mode == domain.DeploymentRemoteStore && strings.Trim(strings.TrimSpace(c.StorePrefix), "/") == "" {
			return &domain.ConfigurationError{Field: "store_prefix", Reason: "is required for REMOTE_STORE"}
		}
	}
	return nil
}

// Mode parses DeploymentMode.
func (c Config) Mode() (domain.DeploymentMode, error) {
	return domain.ParseDeploymentMode(c.DeploymentMode)
}

func (c Config) Level() slog.Level {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func ParseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, &domain.ConfigurationError{Field: "log_level", Value: value, Reason: "must be debug, info, warn or error"}
	}
}
