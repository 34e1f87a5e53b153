package branches_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/prunekeeper/internal/branches"
	"github.com/temirov/prunekeeper/internal/pruning/testsupport"
	"github.com/temirov/prunekeeper/internal/registry"
)

const (
	testRepositoryPathConstant      = "/work/sample"
	testRemoteNameConstant          = "origin"
	testRemoteURLConstant           = "git@github.com:octo/sample.git"
	testForeignRemoteURLConstant    = "https://gitlab.example.com/octo/sample.git"
	testDefaultBranchConstant       = "master"
	testMergedBranchConstant        = "merged-branch-2"
	testUnmergedBranchConstant      = "not-merged-branch-1"
	testRootCommitConstant          = "c0"
	testMergedTipCommitConstant     = "c1"
	testDefaultTipCommitConstant    = "c2"
	testUnmergedTipCommitConstant   = "u1"
	testRegistryFileNameConstant    = "registry.yaml"
	testDryRunFlagConstant          = "--dry-run"
	testForceFlagConstant           = "--force"
	testProviderFlagConstant        = "--hosting-provider"
	testUnsupportedProviderConstant = "gitea"
	testPrunedOutcomeConstant       = "pruned"
	testPlannedOutcomeConstant      = "planned"
	testCooldownOutcomeConstant     = "cooldown"
	testNoHostingOutcomeConstant    = "no_hosting"
	testErrorOutcomeConstant        = "error"
	testCompletionMessageConstant   = "prune completed"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

type staticDiscoverer struct {
	repositories  []string
	receivedRoots [][]string
}

func (discoverer *staticDiscoverer) DiscoverRepositories(_ context.Context, roots []string) ([]string, error) {
	discoverer.receivedRoots = append(discoverer.receivedRoots, append([]string{}, roots...))
	return append([]string{}, discoverer.repositories...), nil
}

type staticDefaultBranchSource struct {
	defaultBranch string
	failure       error
	queries       int
}

func (source *staticDefaultBranchSource) DefaultBranch(_ context.Context, owner string, repository string) (string, error) {
	source.queries++
	if source.failure != nil {
		return "", source.failure
	}
	return source.defaultBranch, nil
}

type commandFixture struct {
	gateway       *testsupport.MemoryGateway
	branchSource  *staticDefaultBranchSource
	discoverer    *staticDiscoverer
	clock         *testsupport.FixedClock
	configuration branches.CommandConfiguration
	logger        *zap.Logger
	logs          *observer.ObservedLogs
}

// newCommandFixture builds a working copy whose master is c0 <- c1 <- c2 with
// merged-branch-2 at c1 and not-merged-branch-1 at u1.
func newCommandFixture(testInstance *testing.T) *commandFixture {
	testInstance.Helper()

	gateway := testsupport.NewMemoryGateway()
	gateway.AddCommit(testRootCommitConstant).
		AddCommit(testMergedTipCommitConstant, testRootCommitConstant).
		AddCommit(testDefaultTipCommitConstant, testMergedTipCommitConstant).
		AddCommit(testUnmergedTipCommitConstant, testRootCommitConstant)
	gateway.AddBranch(testDefaultBranchConstant, testDefaultTipCommitConstant, testNow.Add(-time.Hour)).
		AddBranch(testUnmergedBranchConstant, testUnmergedTipCommitConstant, testNow.Add(-time.Hour)).
		AddBranch(testMergedBranchConstant, testMergedTipCommitConstant, testNow.Add(-time.Hour)).
		Checkout(testDefaultBranchConstant).
		SetRemote(testRemoteNameConstant, testRemoteURLConstant)

	configuration := branches.DefaultCommandConfiguration()
	configuration.RegistryPath = filepath.Join(testInstance.TempDir(), testRegistryFileNameConstant)

	observerCore, observedLogs := observer.New(zapcore.DebugLevel)

	return &commandFixture{
		gateway:       gateway,
		branchSource:  &staticDefaultBranchSource{defaultBranch: testDefaultBranchConstant},
		discoverer:    &staticDiscoverer{repositories: []string{testRepositoryPathConstant}},
		clock:         testsupport.NewFixedClock(testNow),
		configuration: configuration,
		logger:        zap.New(observerCore),
		logs:          observedLogs,
	}
}

func (fixture *commandFixture) collaborators() branches.Collaborators {
	return branches.Collaborators{
		Gateway:             fixture.gateway,
		DefaultBranchSource: fixture.branchSource,
		Discoverer:          fixture.discoverer,
		Clock:               fixture.clock,
	}
}

func (fixture *commandFixture) runPrune(testInstance *testing.T, arguments ...string) (string, error) {
	testInstance.Helper()
	builder := branches.CommandBuilder{
		LoggerProvider: func() *zap.Logger { return fixture.logger },
		ConfigurationProvider: func() branches.CommandConfiguration {
			return fixture.configuration
		},
		Collaborators: fixture.collaborators(),
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	return executeCommand(command, arguments)
}

func (fixture *commandFixture) runStatus(testInstance *testing.T) string {
	testInstance.Helper()
	builder := branches.StatusCommandBuilder{
		ConfigurationProvider: func() branches.CommandConfiguration {
			return fixture.configuration
		},
		Collaborators: fixture.collaborators(),
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	output, executionError := executeCommand(command, nil)
	require.NoError(testInstance, executionError)
	return output
}

func executeCommand(command *cobra.Command, arguments []string) (string, error) {
	outputBuffer := &bytes.Buffer{}
	command.SetOut(outputBuffer)
	command.SetErr(&bytes.Buffer{})
	command.SilenceUsage = true
	command.SilenceErrors = true
	command.SetContext(context.Background())
	if arguments == nil {
		arguments = []string{}
	}
	command.SetArgs(arguments)
	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func TestPruneCommandDeletesOnlyMergedBranches(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)

	output, executionError := fixture.runPrune(testInstance)
	require.NoError(testInstance, executionError)

	require.Equal(testInstance, []string{testDefaultBranchConstant, testUnmergedBranchConstant}, fixture.gateway.BranchNames())
	require.Contains(testInstance, output, testRepositoryPathConstant)
	require.Contains(testInstance, output, testPrunedOutcomeConstant)
	require.Contains(testInstance, output, testMergedBranchConstant)
	require.Equal(testInstance, [][]string{{"."}}, fixture.discoverer.receivedRoots)

	completionLogs := fixture.logs.FilterMessage(testCompletionMessageConstant).All()
	require.Len(testInstance, completionLogs, 1)
	require.Equal(testInstance, testMergedBranchConstant, completionLogs[0].ContextMap()["branches"])

	fileRegistry, registryError := registry.NewFileRegistry(fixture.configuration.RegistryPath, fixture.clock)
	require.NoError(testInstance, registryError)
	entry, found, lookupError := fileRegistry.Lookup(context.Background(), testRepositoryPathConstant)
	require.NoError(testInstance, lookupError)
	require.True(testInstance, found)
	require.True(testInstance, testNow.Equal(entry.LastPruneTimestamp))
	require.Equal(testInstance, "octo", entry.Owner)
	require.Equal(testInstance, testDefaultBranchConstant, entry.DefaultBranch)
}

func TestPruneCommandHonorsCooldownAcrossInvocations(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)

	_, firstError := fixture.runPrune(testInstance)
	require.NoError(testInstance, firstError)

	fixture.gateway.AddBranch("merged-branch-3", testMergedTipCommitConstant, testNow)
	fixture.clock.Advance(time.Hour)

	output, secondError := fixture.runPrune(testInstance)
	require.NoError(testInstance, secondError)
	require.Contains(testInstance, output, testCooldownOutcomeConstant)
	require.Contains(testInstance, fixture.gateway.BranchNames(), "merged-branch-3")
	require.Equal(testInstance, 1, fixture.branchSource.queries)

	forcedOutput, forcedError := fixture.runPrune(testInstance, testForceFlagConstant)
	require.NoError(testInstance, forcedError)
	require.Contains(testInstance, forcedOutput, "merged-branch-3")
	require.NotContains(testInstance, fixture.gateway.BranchNames(), "merged-branch-3")
}

func TestPruneCommandDryRunLeavesBranches(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)

	output, executionError := fixture.runPrune(testInstance, testDryRunFlagConstant)
	require.NoError(testInstance, executionError)

	require.Contains(testInstance, output, testPlannedOutcomeConstant)
	require.Contains(testInstance, output, testMergedBranchConstant)
	require.Contains(testInstance, fixture.gateway.BranchNames(), testMergedBranchConstant)
	require.Empty(testInstance, fixture.logs.FilterMessage(testCompletionMessageConstant).All())

	fileRegistry, registryError := registry.NewFileRegistry(fixture.configuration.RegistryPath, fixture.clock)
	require.NoError(testInstance, registryError)
	state, stateError := fileRegistry.GetPruneState(context.Background(), testRepositoryPathConstant)
	require.NoError(testInstance, stateError)
	require.True(testInstance, state.LastPruneTimestamp.IsZero())
}

func TestPruneCommandSkipsRepositoriesOffSupportedHosts(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)
	fixture.gateway.SetRemote(testRemoteNameConstant, testForeignRemoteURLConstant)

	output, executionError := fixture.runPrune(testInstance)
	require.NoError(testInstance, executionError)

	require.Contains(testInstance, output, testNoHostingOutcomeConstant)
	require.Contains(testInstance, fixture.gateway.BranchNames(), testMergedBranchConstant)
	require.Zero(testInstance, fixture.branchSource.queries)
}

func TestPruneCommandReportsRepositoryFailures(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)
	fixture.branchSource.failure = errors.New("api unavailable")

	output, executionError := fixture.runPrune(testInstance)
	require.ErrorIs(testInstance, executionError, branches.ErrRepositoriesFailed)
	require.Contains(testInstance, output, testErrorOutcomeConstant)
	require.Contains(testInstance, output, "api unavailable")
	require.Contains(testInstance, fixture.gateway.BranchNames(), testMergedBranchConstant)
}

func TestPruneCommandResolvesHostingAgainAfterRefreshInterval(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)
	fixture.configuration.HostingRefresh = 48 * time.Hour

	_, firstError := fixture.runPrune(testInstance)
	require.NoError(testInstance, firstError)
	require.Equal(testInstance, 1, fixture.branchSource.queries)

	fixture.clock.Advance(25 * time.Hour)
	_, cachedError := fixture.runPrune(testInstance)
	require.NoError(testInstance, cachedError)
	require.Equal(testInstance, 1, fixture.branchSource.queries)

	fixture.clock.Advance(24 * time.Hour)
	_, staleError := fixture.runPrune(testInstance)
	require.NoError(testInstance, staleError)
	require.Equal(testInstance, 2, fixture.branchSource.queries)
}

func TestPruneCommandRejectsInvalidConfiguration(testInstance *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(configuration *branches.CommandConfiguration)
		arguments []string
	}{
		{
			name:      "unsupported_provider_flag",
			arguments: []string{testProviderFlagConstant, testUnsupportedProviderConstant},
		},
		{
			name: "negative_cooldown",
			mutate: func(configuration *branches.CommandConfiguration) {
				configuration.Cooldown = -time.Hour
			},
		},
		{
			name: "negative_hosting_refresh_interval",
			mutate: func(configuration *branches.CommandConfiguration) {
				configuration.HostingRefresh = -time.Hour
			},
		},
		{
			name: "invalid_protected_pattern",
			mutate: func(configuration *branches.CommandConfiguration) {
				configuration.ProtectedPatterns = []string{"release/[unterminated"}
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fixture := newCommandFixture(testInstance)
			if testCase.mutate != nil {
				testCase.mutate(&fixture.configuration)
			}

			_, executionError := fixture.runPrune(testInstance, testCase.arguments...)
			require.Error(testInstance, executionError)
			require.Contains(testInstance, fixture.gateway.BranchNames(), testMergedBranchConstant)
			require.Empty(testInstance, fixture.gateway.Calls())
		})
	}
}

func TestPruneCommandUsesPositionalRoots(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)

	_, executionError := fixture.runPrune(testInstance, "/src/one", "/src/two")
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, [][]string{{"/src/one", "/src/two"}}, fixture.discoverer.receivedRoots)
}

func TestStatusCommandReportsRegistry(testInstance *testing.T) {
	fixture := newCommandFixture(testInstance)

	emptyOutput := fixture.runStatus(testInstance)
	require.Len(testInstance, strings.Split(strings.TrimSpace(emptyOutput), "\n"), 1)

	_, pruneError := fixture.runPrune(testInstance)
	require.NoError(testInstance, pruneError)

	output := fixture.runStatus(testInstance)
	require.Contains(testInstance, output, testRepositoryPathConstant)
	require.Contains(testInstance, output, "octo/sample")
	require.Contains(testInstance, output, testDefaultBranchConstant)
	require.Contains(testInstance, output, testNow.Format(time.RFC3339))
	require.Contains(testInstance, output, testNow.Add(24*time.Hour).Format(time.RFC3339))

	fixture.clock.Advance(25 * time.Hour)
	laterOutput := fixture.runStatus(testInstance)
	require.Contains(testInstance, laterOutput, "now")
}
