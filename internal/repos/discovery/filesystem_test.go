package discovery_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/prunekeeper/internal/repos/discovery"
)

const (
	developerDirectoryName             = "Dev"
	engineeringGroupDirectoryName      = "Group1"
	applicationRepositoryDirectoryName = "Repo1"
	serviceRepositoryDirectoryName     = "Repo2"
	toolsRepositoryDirectoryName       = "Repo3"
	gitMetadataDirectoryName           = ".git"
	singleRootSubtestTitle             = "discoversRepositoriesFromSingleRoot"
	combinedRootsSubtestTitle          = "discoversRepositoriesFromParentAndNestedRoots"
	repositoryDirectoryPermissions     = 0o755
)

type repositoryDefinition struct {
	directorySegments []string
}

func (definition repositoryDefinition) repositoryPath(rootDirectory string) string {
	segments := append([]string{rootDirectory}, definition.directorySegments...)
	return filepath.Join(segments...)
}

func (definition repositoryDefinition) gitMetadataPath(rootDirectory string) string {
	segments := append([]string{rootDirectory}, definition.directorySegments...)
	segments = append(segments, gitMetadataDirectoryName)
	return filepath.Join(segments...)
}

type filesystemDiscoveryTestScenario struct {
	title                      string
	rootDirectoriesConstructor func(string) []string
}

func (scenario filesystemDiscoveryTestScenario) execute(
	testFramework *testing.T,
	repositoryDefinitions []repositoryDefinition,
) {
	testFramework.Helper()

	temporaryRootDirectory := testFramework.TempDir()
	for _, repositoryDefinition := range repositoryDefinitions {
		gitMetadataDirectoryPath := repositoryDefinition.gitMetadataPath(temporaryRootDirectory)
		creationError := os.MkdirAll(gitMetadataDirectoryPath, repositoryDirectoryPermissions)
		require.NoError(testFramework, creationError)
	}

	repositoryDiscoverer, creationError := discovery.NewFilesystemRepositoryDiscoverer()
	require.NoError(testFramework, creationError)
	discoveredRepositories, discoveryError := repositoryDiscoverer.DiscoverRepositories(
		context.Background(),
		scenario.rootDirectoriesConstructor(temporaryRootDirectory),
	)
	require.NoError(testFramework, discoveryError)

	expectedRepositories := make([]string, 0, len(repositoryDefinitions))
	for _, repositoryDefinition := range repositoryDefinitions {
		expectedRepositories = append(expectedRepositories, repositoryDefinition.repositoryPath(temporaryRootDirectory))
	}

	sort.Strings(expectedRepositories)
	sort.Strings(discoveredRepositories)
	require.Equal(testFramework, expectedRepositories, discoveredRepositories)
}

func TestFilesystemRepositoryDiscovererDiscoversNestedLayouts(testFramework *testing.T) {
	repositoryDefinitions := []repositoryDefinition{
		{directorySegments: []string{developerDirectoryName, engineeringGroupDirectoryName, applicationRepositoryDirectoryName}},
		{directorySegments: []string{developerDirectoryName, engineeringGroupDirectoryName, serviceRepositoryDirectoryName}},
		{directorySegments: []string{developerDirectoryName, toolsRepositoryDirectoryName}},
	}

	testScenarios := []filesystemDiscoveryTestScenario{
		{
			title: singleRootSubtestTitle,
			rootDirectoriesConstructor: func(rootDirectory string) []string {
				return []string{rootDirectory}
			},
		},
		{
			title: combinedRootsSubtestTitle,
			rootDirectoriesConstructor: func(rootDirectory string) []string {
				developerDirectoryPath := filepath.Join(rootDirectory, developerDirectoryName)
				engineeringGroupDirectoryPath := filepath.Join(developerDirectoryPath, engineeringGroupDirectoryName)
				return []string{rootDirectory, developerDirectoryPath, engineeringGroupDirectoryPath}
			},
		},
	}

	for _, testScenario := range testScenarios {
		testFramework.Run(testScenario.title, func(testFramework *testing.T) {
			testScenario.execute(testFramework, repositoryDefinitions)
		})
	}
}

func TestFilesystemRepositoryDiscovererSkipsExcludedDirectories(testFramework *testing.T) {
	temporaryRootDirectory := testFramework.TempDir()
	keptRepository := filepath.Join(temporaryRootDirectory, developerDirectoryName, applicationRepositoryDirectoryName)
	vendoredRepository := filepath.Join(temporaryRootDirectory, developerDirectoryName, "node_modules", serviceRepositoryDirectoryName)
	for _, repositoryPath := range []string{keptRepository, vendoredRepository} {
		require.NoError(testFramework, os.MkdirAll(filepath.Join(repositoryPath, gitMetadataDirectoryName), repositoryDirectoryPermissions))
	}

	repositoryDiscoverer, creationError := discovery.NewFilesystemRepositoryDiscoverer("**/node_modules")
	require.NoError(testFramework, creationError)

	discoveredRepositories, discoveryError := repositoryDiscoverer.DiscoverRepositories(context.Background(), []string{temporaryRootDirectory})
	require.NoError(testFramework, discoveryError)
	require.Equal(testFramework, []string{keptRepository}, discoveredRepositories)
}

func TestFilesystemRepositoryDiscovererRejectsInvalidPatterns(testFramework *testing.T) {
	repositoryDiscoverer, creationError := discovery.NewFilesystemRepositoryDiscoverer("[unterminated")
	require.Error(testFramework, creationError)
	require.Nil(testFramework, repositoryDiscoverer)
}

func TestFilesystemRepositoryDiscovererStopsWhenCancelled(testFramework *testing.T) {
	temporaryRootDirectory := testFramework.TempDir()
	require.NoError(testFramework, os.MkdirAll(filepath.Join(temporaryRootDirectory, toolsRepositoryDirectoryName, gitMetadataDirectoryName), repositoryDirectoryPermissions))

	repositoryDiscoverer, creationError := discovery.NewFilesystemRepositoryDiscoverer()
	require.NoError(testFramework, creationError)

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	_, discoveryError := repositoryDiscoverer.DiscoverRepositories(cancelledContext, []string{temporaryRootDirectory})
	require.ErrorIs(testFramework, discoveryError, context.Canceled)
}
