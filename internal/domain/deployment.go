package domain

import "strings"

// DeploymentMode selects how the deployed artifact pair is located.
type DeploymentMode string

const (
	DeploymentLocal         DeploymentMode = "LOCAL"
	DeploymentRemoteStore   DeploymentMode = "REMOTE_STORE"
	DeploymentRemoteTracked DeploymentMode = "REMOTE_TRACKED"
)

var deploymentAliases = map[string]DeploymentMode{
	"local":          DeploymentLocal,
	"remote_store":   DeploymentRemoteStore,
	"s3":             DeploymentRemoteStore,
	"remote_tracked": DeploymentRemoteTracked,
	"s3_mlflow":      DeploymentRemoteTracked,
}

// ParseDeploymentMode accepts the canonical names case-insensitively and the
// short aliases local, s3 and s3_mlflow.
func ParseDeploymentMode(value string) (DeploymentMode, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, "-", "_")
	if mode, ok := deploymentAliases[key]; ok {
		return mode, nil
	}
	return "", &ConfigurationError{Field: "deployment_mode", Value: value, Reason: "expected LOCAL, REMOTE_STORE or REMOTE_TRACKED"}
}

func (m DeploymentMode) Valid() bool {
	switch m {
	case DeploymentLocal, DeploymentRemoteStore, DeploymentRemoteTracked:
		return true
	default:
		return false
	}
}

// Remote reports whether artifacts must be transferred from object storage.
func (m DeploymentMode) Remote() bool {
	return m == DeploymentRemoteStore || m == DeploymentRemoteTracked
}
