package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelctl/internal/platform/env"
)

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// DefaultConfig points at the workshop artifact bucket on AWS S3.
func DefaultConfig() Config {
	return Config{
		Endpoint: "s3.amazonaws.com",
		Region:   "eu-west-2",
		UseSSL:   true,
		Bucket:   "workshop-mlflow-artifacts",
	}
}

// ConfigFromEnv overlays MODELCTL_MINIO_* variables onto base.
func ConfigFromEnv(base Config) (Config, error) {
	useSSL, err := env.Bool("MODELCTL_MINIO_USE_SSL", base.UseSSL)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("MODELCTL_MINIO_ENDPOINT", base.Endpoint),
		AccessKey: env.String("MODELCTL_MINIO_ACCESS_KEY", base.AccessKey),
		SecretKey: env.String("MODELCTL_MINIO_SECRET_KEY", base.SecretKey),
		Region:    env.String("MODELCTL_MINIO_REGION", base.Region),
		UseSSL:    useSSL,
		Bucket:    env.String("MODELCTL_BUCKET", base.Bucket),
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}
