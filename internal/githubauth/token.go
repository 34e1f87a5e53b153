// Package githubauth locates the GitHub token used for REST API lookups.
package githubauth

import (
	"os"
	"strings"
)

// Environment variable names consulted for a GitHub token, in preference order.
const (
	EnvPrunekeeperToken = "PRUNEKEEPER_GITHUB_TOKEN"
	EnvGitHubCLIToken   = "GH_TOKEN"
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGitHubAPIToken   = "GITHUB_API_TOKEN"
)

var tokenPreference = []string{
	EnvPrunekeeperToken,
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

// EnvironmentLookup reads one environment variable.
type EnvironmentLookup func(key string) (string, bool)

// ResolveToken returns the first non-empty token, checking the configured
// value before the environment. Explicit entries in overrides shadow the
// process environment for the same key.
func ResolveToken(configuredToken string, overrides map[string]string) (string, bool) {
	return ResolveTokenWithLookup(configuredToken, overrides, os.LookupEnv)
}

// ResolveTokenWithLookup is ResolveToken with an injectable environment.
func ResolveTokenWithLookup(configuredToken string, overrides map[string]string, lookupEnvironment EnvironmentLookup) (string, bool) {
	if trimmedToken := strings.TrimSpace(configuredToken); len(trimmedToken) > 0 {
		return trimmedToken, true
	}
	for _, key := range tokenPreference {
		if value, found := overrides[key]; found {
			if trimmedValue := strings.TrimSpace(value); len(trimmedValue) > 0 {
				return trimmedValue, true
			}
			continue
		}
		if lookupEnvironment == nil {
			continue
		}
		if value, found := lookupEnvironment(key); found {
			if trimmedValue := strings.TrimSpace(value); len(trimmedValue) > 0 {
				return trimmedValue, true
			}
		}
	}
	return "", false
}
