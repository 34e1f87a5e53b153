package branches

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/temirov/prunekeeper/internal/hosting"
	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/scheduler"
)

// Hosting providers selectable through the hosting_provider setting.
const (
	HostingProviderGitHubCLI = "gh"
	HostingProviderGitHubAPI = "api"
)

const (
	defaultRepositoryRootConstant          = "."
	defaultRegistryPathConstant            = "~/.config/prunekeeper/registry.yaml"
	defaultRecentActivityWindowConstant    = 14 * 24 * time.Hour
	defaultHostingRefreshIntervalConstant  = 7 * 24 * time.Hour
	configurationKeySeparatorConstant      = "."
	unsupportedHostingProviderTemplate     = "unsupported hosting provider %q (expected %s or %s)"
	negativeDurationTemplateConstant       = "%s must not be negative"
	invalidPatternTemplateConstant         = "invalid %s entry %q"
	rootsConfigurationKeyConstant          = "roots"
	excludePatternsConfigurationKeyConst   = "exclude_patterns"
	registryPathConfigurationKeyConstant   = "registry_path"
	cooldownConfigurationKeyConstant       = "cooldown"
	recentActivityConfigurationKeyConstant = "recent_activity_window"
	protectedConfigurationKeyConstant      = "protected_patterns"
	providerConfigurationKeyConstant       = "hosting_provider"
	hostsConfigurationKeyConstant          = "hosts"
	hostingRefreshConfigurationKeyConstant = "hosting_refresh_interval"
	apiBaseURLConfigurationKeyConstant     = "api_base_url"
	tokenConfigurationKeyConstant          = "token"
	remoteConfigurationKeyConstant         = "remote"
	concurrencyConfigurationKeyConstant    = "concurrency"
	runTimeoutConfigurationKeyConstant     = "run_timeout"
	intervalConfigurationKeyConstant       = "interval"
	dryRunConfigurationKeyConstant         = "dry_run"
)

var defaultProtectedPatterns = []string{"main", "master", "gh-pages", "develop", "dev", "development", "devel", "trunk", "release", "release/**"}

// CommandConfiguration captures the prune settings loaded from configuration
// files and the environment.
type CommandConfiguration struct {
	RepositoryRoots      []string      `mapstructure:"roots"`
	ExcludePatterns      []string      `mapstructure:"exclude_patterns"`
	RegistryPath         string        `mapstructure:"registry_path"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	RecentActivityWindow time.Duration `mapstructure:"recent_activity_window"`
	ProtectedPatterns    []string      `mapstructure:"protected_patterns"`
	HostingProvider      string        `mapstructure:"hosting_provider"`
	Hosts                []string      `mapstructure:"hosts"`
	HostingRefresh       time.Duration `mapstructure:"hosting_refresh_interval"`
	APIBaseURL           string        `mapstructure:"api_base_url"`
	Token                string        `mapstructure:"token"`
	RemoteName           string        `mapstructure:"remote"`
	Concurrency          int           `mapstructure:"concurrency"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
	Interval             time.Duration `mapstructure:"interval"`
	DryRun               bool          `mapstructure:"dry_run"`
}

// DefaultCommandConfiguration provides baseline prune settings.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		RepositoryRoots:      []string{defaultRepositoryRootConstant},
		ExcludePatterns:      []string{},
		RegistryPath:         defaultRegistryPathConstant,
		Cooldown:             pruning.DefaultCooldown,
		RecentActivityWindow: defaultRecentActivityWindowConstant,
		ProtectedPatterns:    append([]string{}, defaultProtectedPatterns...),
		HostingProvider:      HostingProviderGitHubCLI,
		Hosts:                []string{hosting.DefaultHost},
		HostingRefresh:       defaultHostingRefreshIntervalConstant,
		RemoteName:           hosting.DefaultRemoteName,
		Concurrency:          scheduler.DefaultConcurrency,
		RunTimeout:           scheduler.DefaultRunTimeout,
	}
}

// DefaultConfigurationValues returns the defaults keyed under prefix for the
// configuration loader.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultCommandConfiguration()
	qualify := func(key string) string {
		trimmedPrefix := strings.TrimSpace(prefix)
		if len(trimmedPrefix) == 0 {
			return key
		}
		return trimmedPrefix + configurationKeySeparatorConstant + key
	}

	return map[string]any{
		qualify(rootsConfigurationKeyConstant):          defaults.RepositoryRoots,
		qualify(excludePatternsConfigurationKeyConst):   defaults.ExcludePatterns,
		qualify(registryPathConfigurationKeyConstant):   defaults.RegistryPath,
		qualify(cooldownConfigurationKeyConstant):       defaults.Cooldown,
		qualify(recentActivityConfigurationKeyConstant): defaults.RecentActivityWindow,
		qualify(protectedConfigurationKeyConstant):      defaults.ProtectedPatterns,
		qualify(providerConfigurationKeyConstant):       defaults.HostingProvider,
		qualify(hostsConfigurationKeyConstant):          defaults.Hosts,
		qualify(hostingRefreshConfigurationKeyConstant): defaults.HostingRefresh,
		qualify(apiBaseURLConfigurationKeyConstant):     defaults.APIBaseURL,
		qualify(tokenConfigurationKeyConstant):          defaults.Token,
		qualify(remoteConfigurationKeyConstant):         defaults.RemoteName,
		qualify(concurrencyConfigurationKeyConstant):    defaults.Concurrency,
		qualify(runTimeoutConfigurationKeyConstant):     defaults.RunTimeout,
		qualify(intervalConfigurationKeyConstant):       defaults.Interval,
		qualify(dryRunConfigurationKeyConstant):         defaults.DryRun,
	}
}

// sanitize trims values and restores defaults for settings left empty.
func (configuration CommandConfiguration) sanitize() CommandConfiguration {
	defaults := DefaultCommandConfiguration()
	sanitized := configuration

	sanitized.RepositoryRoots = sanitizeList(configuration.RepositoryRoots)
	if len(sanitized.RepositoryRoots) == 0 {
		sanitized.RepositoryRoots = defaults.RepositoryRoots
	}
	sanitized.ExcludePatterns = sanitizeList(configuration.ExcludePatterns)
	sanitized.ProtectedPatterns = sanitizeList(configuration.ProtectedPatterns)
	sanitized.Hosts = sanitizeList(configuration.Hosts)
	if len(sanitized.Hosts) == 0 {
		sanitized.Hosts = defaults.Hosts
	}

	sanitized.RegistryPath = strings.TrimSpace(configuration.RegistryPath)
	if len(sanitized.RegistryPath) == 0 {
		sanitized.RegistryPath = defaults.RegistryPath
	}
	sanitized.HostingProvider = strings.ToLower(strings.TrimSpace(configuration.HostingProvider))
	if len(sanitized.HostingProvider) == 0 {
		sanitized.HostingProvider = defaults.HostingProvider
	}
	sanitized.RemoteName = strings.TrimSpace(configuration.RemoteName)
	if len(sanitized.RemoteName) == 0 {
		sanitized.RemoteName = defaults.RemoteName
	}
	sanitized.APIBaseURL = strings.TrimSpace(configuration.APIBaseURL)
	sanitized.Token = strings.TrimSpace(configuration.Token)

	if sanitized.Cooldown == 0 {
		sanitized.Cooldown = defaults.Cooldown
	}
	if sanitized.Concurrency <= 0 {
		sanitized.Concurrency = defaults.Concurrency
	}
	if sanitized.RunTimeout == 0 {
		sanitized.RunTimeout = defaults.RunTimeout
	}

	return sanitized
}

// validate rejects settings the prune command cannot act on.
func (configuration CommandConfiguration) validate() error {
	switch configuration.HostingProvider {
	case HostingProviderGitHubCLI, HostingProviderGitHubAPI:
	default:
		return fmt.Errorf(unsupportedHostingProviderTemplate, configuration.HostingProvider, HostingProviderGitHubCLI, HostingProviderGitHubAPI)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{name: cooldownConfigurationKeyConstant, value: configuration.Cooldown},
		{name: recentActivityConfigurationKeyConstant, value: configuration.RecentActivityWindow},
		{name: runTimeoutConfigurationKeyConstant, value: configuration.RunTimeout},
		{name: intervalConfigurationKeyConstant, value: configuration.Interval},
		{name: hostingRefreshConfigurationKeyConstant, value: configuration.HostingRefresh},
	}
	for _, duration := range durations {
		if duration.value < 0 {
			return fmt.Errorf(negativeDurationTemplateConstant, duration.name)
		}
	}

	for _, pattern := range configuration.ProtectedPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf(invalidPatternTemplateConstant, protectedConfigurationKeyConstant, pattern)
		}
	}
	for _, pattern := range configuration.ExcludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf(invalidPatternTemplateConstant, excludePatternsConfigurationKeyConst, pattern)
		}
	}
	return nil
}

func sanitizeList(raw []string) []string {
	sanitized := make([]string, 0, len(raw))
	for _, candidate := range raw {
		trimmed := strings.TrimSpace(candidate)
		if len(trimmed) == 0 {
			continue
		}
		sanitized = append(sanitized, trimmed)
	}
	return sanitized
}
