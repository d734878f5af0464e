package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"

	// DefaultPath is where the CLI looks for configuration without -config.
	DefaultPath = "config/config.yml"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stage": environmentStaging,
	"stag":  environmentStaging,
}

// getAppEnvironment reads APP_ENV and defaults to development.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath selects an environment specific configuration file
// when one is available for the current environment.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}

	env := getAppEnvironment()
	if envPath, ok := envPaths[env]; ok {
		if path == defaultPath || path == envPath {
			return envPath
		}
	}

	return path
}

// ResolvePath returns config/config.<env>.yml instead of the default path
// when that file exists for the current APP_ENV. Explicit paths are kept.
func ResolvePath(path string) string {
	envPaths := map[string]string{}
	for _, env := range []string{environmentDevelopment, environmentStaging, environmentProduction} {
		candidate := "config/config." + env + ".yml"
		if _, err := os.Stat(candidate); err == nil {
			envPaths[env] = candidate
		}
	}
	return resolveEnvSpecificPath(path, DefaultPath, envPaths)
}

// AppEnvironment returns APP_ENV normalised through the alias table.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env should be strict about catalog
// errors. Production and staging validate every vendor's mappings at startup.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
