package branches

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/prunekeeper/internal/execshell"
	"github.com/temirov/prunekeeper/internal/githubapi"
	"github.com/temirov/prunekeeper/internal/githubauth"
	"github.com/temirov/prunekeeper/internal/githubcli"
	"github.com/temirov/prunekeeper/internal/gitrepo"
	"github.com/temirov/prunekeeper/internal/hosting"
	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/registry"
	"github.com/temirov/prunekeeper/internal/repos/discovery"
	"github.com/temirov/prunekeeper/internal/scheduler"
	pathutils "github.com/temirov/prunekeeper/internal/utils/path"
)

const (
	registryOpenErrorTemplateConstant  = "failed to open registry: %w"
	hostingClientErrorTemplateConstant = "failed to configure %s hosting client: %w"
)

// RepositoryDiscoverer locates working copies under a set of roots.
type RepositoryDiscoverer interface {
	DiscoverRepositories(executionContext context.Context, roots []string) ([]string, error)
}

// BranchGateway groups the git operations pruning relies on.
type BranchGateway interface {
	pruning.VcsGateway
	pruning.CheckoutHistory
	hosting.RemoteReader
}

// Collaborators overrides the production dependencies of the prune and status
// commands. Nil fields are built from configuration.
type Collaborators struct {
	Gateway             BranchGateway
	DefaultBranchSource hosting.DefaultBranchSource
	Discoverer          RepositoryDiscoverer
	Clock               pruning.Clock
	CommandRunner       execshell.CommandRunner
}

type pruneRuntime struct {
	scheduler *scheduler.Scheduler
	discover  scheduler.RepositorySource
}

func newPruneRuntime(logger *zap.Logger, options pruneOptions, collaborators Collaborators) (*pruneRuntime, error) {
	configuration := options.configuration
	clock := collaborators.Clock
	if clock == nil {
		clock = pruning.SystemClock{}
	}

	shellExecutor, executorError := newShellExecutor(logger, collaborators.CommandRunner)
	if executorError != nil {
		return nil, executorError
	}

	gateway := collaborators.Gateway
	if gateway == nil {
		gitGateway, gatewayError := gitrepo.NewBranchGateway(shellExecutor)
		if gatewayError != nil {
			return nil, gatewayError
		}
		gateway = gitGateway
	}

	branchSource := collaborators.DefaultBranchSource
	if branchSource == nil {
		providerSource, providerError := newDefaultBranchSource(configuration, shellExecutor)
		if providerError != nil {
			return nil, fmt.Errorf(hostingClientErrorTemplateConstant, configuration.HostingProvider, providerError)
		}
		branchSource = providerSource
	}

	fileRegistry, registryError := openRegistry(configuration.RegistryPath, clock)
	if registryError != nil {
		return nil, registryError
	}

	resolver, resolverError := hosting.NewResolver(
		hosting.Dependencies{Remotes: gateway, Branches: branchSource, Associations: fileRegistry, Clock: clock, Logger: logger},
		hosting.Options{
			RemoteName:     configuration.RemoteName,
			Hosts:          configuration.Hosts,
			Refresh:        options.refreshHosting,
			AssociationTTL: configuration.HostingRefresh,
		},
	)
	if resolverError != nil {
		return nil, resolverError
	}

	discoverer := collaborators.Discoverer
	if discoverer == nil {
		filesystemDiscoverer, discovererError := discovery.NewFilesystemRepositoryDiscoverer(configuration.ExcludePatterns...)
		if discovererError != nil {
			return nil, discovererError
		}
		discoverer = filesystemDiscoverer
	}

	catalog, catalogError := pruning.NewGatewayCatalog(gateway, gateway)
	if catalogError != nil {
		return nil, catalogError
	}

	locks := pruning.NewRepositoryLocks()
	factory := func(repository pruning.RepositoryHandle) (scheduler.Runner, error) {
		pruner, prunerError := pruning.NewBranchPruner(
			repository,
			pruning.Dependencies{
				Gateway:          gateway,
				Catalog:          catalog,
				Registry:         fileRegistry,
				Clock:            clock,
				Locks:            locks,
				Logger:           logger,
				OnPruneCompleted: completionLogger(logger),
			},
			pruning.Options{
				Cooldown:       configuration.Cooldown,
				IgnoreCooldown: options.ignoreCooldown,
				Policy: pruning.EligibilityPolicy{
					ProtectedPatterns:    configuration.ProtectedPatterns,
					RecentActivityWindow: configuration.RecentActivityWindow,
				},
			},
		)
		if prunerError != nil {
			return nil, prunerError
		}
		if configuration.DryRun {
			return planRunner{pruner: pruner, repository: repository, clock: clock}, nil
		}
		return pruner, nil
	}

	pruneScheduler, schedulerError := scheduler.New(resolver, factory, logger, scheduler.Options{
		Concurrency: configuration.Concurrency,
		RunTimeout:  configuration.RunTimeout,
	})
	if schedulerError != nil {
		return nil, schedulerError
	}

	roots := pathutils.ExpandAll(configuration.RepositoryRoots)
	return &pruneRuntime{
		scheduler: pruneScheduler,
		discover: func(executionContext context.Context) ([]string, error) {
			return discoverer.DiscoverRepositories(executionContext, roots)
		},
	}, nil
}

func newShellExecutor(logger *zap.Logger, runner execshell.CommandRunner) (*execshell.ShellExecutor, error) {
	if runner == nil {
		runner = execshell.NewOSCommandRunner()
	}
	return execshell.NewShellExecutor(logger, runner)
}

func newDefaultBranchSource(configuration CommandConfiguration, shellExecutor *execshell.ShellExecutor) (hosting.DefaultBranchSource, error) {
	if configuration.HostingProvider == HostingProviderGitHubAPI {
		token, _ := githubauth.ResolveToken(configuration.Token, nil)
		return githubapi.NewClient(githubapi.Options{Token: token, BaseURL: configuration.APIBaseURL})
	}
	return githubcli.NewClient(shellExecutor)
}

func openRegistry(registryPath string, clock pruning.Clock) (*registry.FileRegistry, error) {
	expandedPath := pathutils.ExpandHome(registryPath)
	fileRegistry, registryError := registry.NewFileRegistry(expandedPath, clock)
	if registryError != nil {
		return nil, fmt.Errorf(registryOpenErrorTemplateConstant, registryError)
	}
	return fileRegistry, nil
}
