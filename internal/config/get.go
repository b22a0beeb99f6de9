package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
)

var fields = map[string]func(Config) string{
	"experiment_id":              func(c Config) string { return c.ExperimentID },
	"experiment_name":            func(c Config) string { return c.ExperimentName },
	"tracking_uri":               func(c Config) string { return c.TrackingURI },
	"registry":                   func(c Config) string { return c.Registry },
	"live_tag":                   func(c Config) string { return c.LiveTag },
	"candidate_tag":              func(c Config) string { return c.CandidateTag },
	"deployment_mode":            func(c Config) string { return c.DeploymentMode },
	"local_artifact_dir":         func(c Config) string { return c.LocalArtifactDir },
	"cache_dir":                  func(c Config) string { return c.CacheDir },
	"store_prefix":               func(c Config) string { return c.StorePrefix },
	"feature_engineering_file":   func(c Config) string { return c.FeatureEngineeringFile },
	"classifier_file":            func(c Config) string { return c.ClassifierFile },
	"log_level":                  func(c Config) string { return c.LogLevel },
	"actor":                      func(c Config) string { return c.Actor },
	"object_store.endpoint":      func(c Config) string { return c.ObjectStore.Endpoint },
	"object_store.region":        func(c Config) string { return c.ObjectStore.Region },
	"object_store.use_ssl":       func(c Config) string { return strconv.FormatBool(c.ObjectStore.UseSSL) },
	"object_store.bucket":        func(c Config) string { return c.ObjectStore.Bucket },
	"database.ping_timeout":      func(c Config) string { return c.Database.PingTimeout.String() },
	"database.max_open_conns":    func(c Config) string { return strconv.Itoa(c.Database.MaxOpenConns) },
	"database.max_idle_conns":    func(c Config) string { return strconv.Itoa(c.Database.MaxIdleConns) },
	"database.conn_max_lifetime": func(c Config) string { return c.Database.ConnMaxLifetime.String() },
}

// Names accepted by the CI scripts that predate the YAML layout.
var aliases = map[string]string{
	"bucket_name": "object_store.bucket",
	"bucket":      "object_store.bucket",
}

// Get returns one configuration value by its YAML path. Field names are
// case-insensitive. Credentials are not exposed.
func (c Config) Get(field string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(field))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	get, ok := fields[key]
	if !ok {
		return "", &domain.ConfigurationError{Field: "field", Value: field, Reason: "unknown configuration field"}
	}
	return get(c), nil
}

// Fields lists the names accepted by Get.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
