package cli_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/temirov/prunekeeper/cmd/cli"
	"github.com/temirov/prunekeeper/internal/branches"
)

func TestEmbeddedDefaultsMatchCommandDefaults(t *testing.T) {
	configuration := decodeEmbeddedApplicationConfiguration(t)
	expected := branches.DefaultCommandConfiguration()
	prune := configuration.Tools.Prune

	require.Equal(t, "info", configuration.Common.LogLevel)
	require.Equal(t, "structured", configuration.Common.LogFormat)

	require.Equal(t, expected.RepositoryRoots, prune.RepositoryRoots)
	require.Empty(t, prune.ExcludePatterns)
	require.Equal(t, expected.RegistryPath, prune.RegistryPath)
	require.Equal(t, 24*time.Hour, prune.Cooldown)
	require.Equal(t, expected.Cooldown, prune.Cooldown)
	require.Equal(t, expected.RecentActivityWindow, prune.RecentActivityWindow)
	require.Equal(t, expected.ProtectedPatterns, prune.ProtectedPatterns)
	require.Subset(t, prune.ProtectedPatterns, []string{"dev", "development", "devel", "release", "release/**"})
	require.Equal(t, expected.HostingProvider, prune.HostingProvider)
	require.Equal(t, expected.Hosts, prune.Hosts)
	require.Equal(t, 168*time.Hour, prune.HostingRefresh)
	require.Equal(t, expected.HostingRefresh, prune.HostingRefresh)
	require.Equal(t, expected.RemoteName, prune.RemoteName)
	require.Equal(t, expected.Concurrency, prune.Concurrency)
	require.Equal(t, expected.RunTimeout, prune.RunTimeout)
	require.Zero(t, prune.Interval)
	require.False(t, prune.DryRun)
}

func TestApplicationVersionFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	application := cli.NewApplication()
	output := &bytes.Buffer{}
	application.SetOutput(output)
	application.SetArguments([]string{"--version"})

	require.NoError(t, application.Execute())
	require.Contains(t, output.String(), "prunekeeper version: ")
}

func TestApplicationRejectsUnsupportedLogLevel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	application := cli.NewApplication()
	application.SetOutput(&bytes.Buffer{})
	application.SetArguments([]string{"--log-level", "verbose", "status", "--registry", t.TempDir() + "/registry.yaml"})

	executionError := application.Execute()
	require.Error(t, executionError)
	require.Contains(t, executionError.Error(), "unsupported log level")
}

func decodeEmbeddedApplicationConfiguration(testingInstance testing.TB) cli.ApplicationConfiguration {
	testingInstance.Helper()

	configurationData, configurationType := cli.EmbeddedDefaultConfiguration()
	viperInstance := viper.New()
	viperInstance.SetConfigType(configurationType)

	readError := viperInstance.ReadConfig(bytes.NewReader(configurationData))
	require.NoError(testingInstance, readError)

	var configuration cli.ApplicationConfiguration
	unmarshalError := viperInstance.Unmarshal(&configuration)
	require.NoError(testingInstance, unmarshalError)

	return configuration
}
