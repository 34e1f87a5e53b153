package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/pruning/testsupport"
	"github.com/temirov/prunekeeper/internal/registry"
)

const (
	testRepositoryIDConstant       = "/work/sample"
	testSecondRepositoryIDConstant = "/work/another"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func newRegistry(testInstance *testing.T) (*registry.FileRegistry, string) {
	testInstance.Helper()
	registryPath := filepath.Join(testInstance.TempDir(), "state", "registry.yaml")
	fileRegistry, creationError := registry.NewFileRegistry(registryPath, testsupport.NewFixedClock(testNow))
	require.NoError(testInstance, creationError)
	return fileRegistry, registryPath
}

func TestNewFileRegistryRequiresPath(testInstance *testing.T) {
	fileRegistry, creationError := registry.NewFileRegistry("  ", nil)
	require.ErrorIs(testInstance, creationError, registry.ErrRegistryPathRequired)
	require.Nil(testInstance, fileRegistry)
}

func TestFileRegistryUnknownRepositoryHasZeroState(testInstance *testing.T) {
	fileRegistry, registryPath := newRegistry(testInstance)

	state, stateError := fileRegistry.GetPruneState(context.Background(), testRepositoryIDConstant)
	require.NoError(testInstance, stateError)
	require.True(testInstance, state.LastPruneTimestamp.IsZero())

	_, statError := os.Stat(registryPath)
	require.True(testInstance, os.IsNotExist(statError))
}

func TestFileRegistryTimestampsPersistAndNeverRegress(testInstance *testing.T) {
	fileRegistry, registryPath := newRegistry(testInstance)
	executionContext := context.Background()

	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testRepositoryIDConstant, testNow))
	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testRepositoryIDConstant, testNow.Add(-time.Hour)))

	reopened, reopenError := registry.NewFileRegistry(registryPath, nil)
	require.NoError(testInstance, reopenError)
	state, stateError := reopened.GetPruneState(executionContext, testRepositoryIDConstant)
	require.NoError(testInstance, stateError)
	require.True(testInstance, testNow.Equal(state.LastPruneTimestamp))

	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testRepositoryIDConstant, testNow.Add(time.Hour)))
	state, stateError = reopened.GetPruneState(executionContext, testRepositoryIDConstant)
	require.NoError(testInstance, stateError)
	require.True(testInstance, testNow.Add(time.Hour).Equal(state.LastPruneTimestamp))
}

func TestFileRegistryAssociatePreservesPruneState(testInstance *testing.T) {
	fileRegistry, _ := newRegistry(testInstance)
	executionContext := context.Background()

	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testRepositoryIDConstant, testNow))
	require.NoError(testInstance, fileRegistry.Associate(executionContext, pruning.RepositoryHandle{
		ID:      testRepositoryIDConstant,
		Path:    testRepositoryIDConstant,
		Hosting: &pruning.HostingAssociation{Owner: "octo", Repository: "sample", DefaultBranch: "master"},
	}))

	entry, found, lookupError := fileRegistry.Lookup(executionContext, testRepositoryIDConstant)
	require.NoError(testInstance, lookupError)
	require.True(testInstance, found)
	require.Equal(testInstance, &pruning.HostingAssociation{Owner: "octo", Repository: "sample", DefaultBranch: "master"}, entry.Hosting())
	require.True(testInstance, testNow.Equal(entry.LastPruneTimestamp))
	require.True(testInstance, testNow.Equal(entry.AssociatedAt))

	require.NoError(testInstance, fileRegistry.Associate(executionContext, pruning.RepositoryHandle{ID: testRepositoryIDConstant, Path: testRepositoryIDConstant}))
	entry, _, lookupError = fileRegistry.Lookup(executionContext, testRepositoryIDConstant)
	require.NoError(testInstance, lookupError)
	require.Nil(testInstance, entry.Hosting())
}

func TestFileRegistryEntriesAreSorted(testInstance *testing.T) {
	fileRegistry, _ := newRegistry(testInstance)
	executionContext := context.Background()

	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testRepositoryIDConstant, testNow))
	require.NoError(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, testSecondRepositoryIDConstant, testNow))

	entries, entriesError := fileRegistry.Entries(executionContext)
	require.NoError(testInstance, entriesError)
	require.Len(testInstance, entries, 2)
	require.Equal(testInstance, testSecondRepositoryIDConstant, entries[0].RepositoryID)
	require.Equal(testInstance, testRepositoryIDConstant, entries[1].RepositoryID)
}

func TestFileRegistryRejectsInvalidInput(testInstance *testing.T) {
	fileRegistry, registryPath := newRegistry(testInstance)
	executionContext := context.Background()

	require.ErrorIs(testInstance, fileRegistry.SetLastPruneTimestamp(executionContext, "", testNow), registry.ErrRepositoryIDRequired)

	require.NoError(testInstance, os.MkdirAll(filepath.Dir(registryPath), 0o755))
	require.NoError(testInstance, os.WriteFile(registryPath, []byte("repositories: [unterminated"), 0o644))
	_, stateError := fileRegistry.GetPruneState(executionContext, testRepositoryIDConstant)
	require.Error(testInstance, stateError)

	cancelledContext, cancel := context.WithCancel(executionContext)
	cancel()
	require.ErrorIs(testInstance, fileRegistry.SetLastPruneTimestamp(cancelledContext, testRepositoryIDConstant, testNow), context.Canceled)
}

func TestFileRegistryConcurrentWritersKeepAllEntries(testInstance *testing.T) {
	fileRegistry, _ := newRegistry(testInstance)
	executionContext := context.Background()

	repositoryIDs := []string{"/work/a", "/work/b", "/work/c", "/work/d"}
	writeErrors := make([]error, len(repositoryIDs))
	var waitGroup sync.WaitGroup
	for index, repositoryID := range repositoryIDs {
		waitGroup.Add(1)
		go func(position int, identifier string) {
			defer waitGroup.Done()
			writeErrors[position] = fileRegistry.SetLastPruneTimestamp(executionContext, identifier, testNow)
		}(index, repositoryID)
	}
	waitGroup.Wait()
	for _, writeError := range writeErrors {
		require.NoError(testInstance, writeError)
	}

	entries, entriesError := fileRegistry.Entries(executionContext)
	require.NoError(testInstance, entriesError)
	require.Len(testInstance, entries, len(repositoryIDs))
}
