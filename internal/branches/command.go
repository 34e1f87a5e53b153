package branches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/scheduler"
	"github.com/temirov/prunekeeper/internal/utils"
)

const (
	commandUseConstant                    = "prune [root ...]"
	commandShortDescriptionConstant       = "Delete local branches already merged into the default branch"
	commandLongDescriptionConstant        = "prune discovers Git working copies under the provided roots and deletes local branches merged into the default branch reported by the hosting provider. Each repository is pruned at most once per cooldown period."
	commandExecutionErrorTemplateConstant = "prune failed: %w"
	repositoryFailuresTemplateConstant    = "%w: %d of %d repositories failed"
	repositoriesFailedMessageConstant     = "repository prune failures"
	flagDryRunNameConstant                = "dry-run"
	flagDryRunDescriptionConstant         = "Report the branches that would be deleted without deleting them"
	flagForceNameConstant                 = "force"
	flagForceDescriptionConstant          = "Ignore the cooldown and prune immediately"
	flagRefreshNameConstant               = "refresh-hosting"
	flagRefreshDescriptionConstant        = "Query the hosting provider even when an association is recorded"
	flagIntervalNameConstant              = "interval"
	flagIntervalDescriptionConstant       = "Keep running and start a prune cycle at this interval"
	flagCooldownNameConstant              = "cooldown"
	flagCooldownDescriptionConstant       = "Minimum time between two prunes of one repository"
	flagRegistryNameConstant              = "registry"
	flagRegistryDescriptionConstant       = "Path to the prune registry file"
	flagRemoteNameConstant                = "remote"
	flagRemoteDescriptionConstant         = "Remote used to identify the hosted repository"
	flagProviderNameConstant              = "hosting-provider"
	flagProviderDescriptionConstant       = "Hosting provider client: gh or api"
	flagConcurrencyNameConstant           = "concurrency"
	flagConcurrencyDescriptionConstant    = "Number of repositories pruned in parallel"
	flagProtectNameConstant               = "protect"
	flagProtectDescriptionConstant        = "Additional branch name patterns that are never pruned"
	logMessagePruneCompletedConstant      = "prune completed"
	logFieldRepositoryConstant            = "repository"
	logFieldBranchesConstant              = "branches"
	logMessagePruneStartingConstant       = "prune starting"
	logFieldConfigurationFileConstant     = "config_file"
	logFieldRootsConstant                 = "roots"
	logFieldDryRunConstant                = "dry_run"
	logFieldIntervalConstant              = "interval"
)

// ErrRepositoriesFailed indicates at least one repository run failed.
var ErrRepositoriesFailed = errors.New(repositoriesFailedMessageConstant)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the loaded prune configuration.
type ConfigurationProvider func() CommandConfiguration

// CommandBuilder assembles the Cobra command that prunes branches.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	Collaborators         Collaborators
}

// pruneOptions is the effective configuration of one invocation after
// command-line flags are applied.
type pruneOptions struct {
	configuration  CommandConfiguration
	ignoreCooldown bool
	refreshHosting bool
}

// Build constructs the prune command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}

	defaults := DefaultCommandConfiguration()
	command.Flags().Bool(flagDryRunNameConstant, false, flagDryRunDescriptionConstant)
	command.Flags().Bool(flagForceNameConstant, false, flagForceDescriptionConstant)
	command.Flags().Bool(flagRefreshNameConstant, false, flagRefreshDescriptionConstant)
	command.Flags().Duration(flagIntervalNameConstant, 0, flagIntervalDescriptionConstant)
	command.Flags().Duration(flagCooldownNameConstant, defaults.Cooldown, flagCooldownDescriptionConstant)
	command.Flags().String(flagRegistryNameConstant, defaults.RegistryPath, flagRegistryDescriptionConstant)
	command.Flags().String(flagRemoteNameConstant, defaults.RemoteName, flagRemoteDescriptionConstant)
	command.Flags().String(flagProviderNameConstant, defaults.HostingProvider, flagProviderDescriptionConstant)
	command.Flags().Int(flagConcurrencyNameConstant, defaults.Concurrency, flagConcurrencyDescriptionConstant)
	command.Flags().StringSlice(flagProtectNameConstant, nil, flagProtectDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	options, optionsError := builder.parseOptions(command, arguments)
	if optionsError != nil {
		return optionsError
	}

	logger := builder.resolveLogger()
	runtime, runtimeError := newPruneRuntime(logger, options, builder.Collaborators)
	if runtimeError != nil {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, runtimeError)
	}

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}

	configurationFile, _ := utils.ConfigurationFile(executionContext)
	logger.Debug(
		logMessagePruneStartingConstant,
		zap.String(logFieldConfigurationFileConstant, configurationFile),
		zap.Strings(logFieldRootsConstant, options.configuration.RepositoryRoots),
		zap.Bool(logFieldDryRunConstant, options.configuration.DryRun),
		zap.Duration(logFieldIntervalConstant, options.configuration.Interval),
	)

	renderer := newReportRenderer(command.OutOrStdout())
	if options.configuration.Interval > 0 {
		runError := runtime.scheduler.Run(executionContext, runtime.discover, options.configuration.Interval, func(results []scheduler.Result) {
			renderer.renderCycle(results)
		})
		if runError != nil && !errors.Is(runError, context.Canceled) {
			return fmt.Errorf(commandExecutionErrorTemplateConstant, runError)
		}
		return nil
	}

	repositoryPaths, discoveryError := runtime.discover(executionContext)
	if discoveryError != nil {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, discoveryError)
	}

	results := runtime.scheduler.RunOnce(executionContext, repositoryPaths)
	renderer.renderCycle(results)

	failureCount := 0
	for _, result := range results {
		if result.Err != nil {
			failureCount++
		}
	}
	if failureCount > 0 {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, fmt.Errorf(repositoryFailuresTemplateConstant, ErrRepositoriesFailed, failureCount, len(results)))
	}
	return nil
}

func (builder *CommandBuilder) parseOptions(command *cobra.Command, arguments []string) (pruneOptions, error) {
	configuration := DefaultCommandConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}

	flagSet := command.Flags()
	if len(arguments) > 0 {
		configuration.RepositoryRoots = append([]string{}, arguments...)
	}
	if flagSet.Changed(flagDryRunNameConstant) {
		configuration.DryRun, _ = flagSet.GetBool(flagDryRunNameConstant)
	}
	if flagSet.Changed(flagIntervalNameConstant) {
		configuration.Interval, _ = flagSet.GetDuration(flagIntervalNameConstant)
	}
	if flagSet.Changed(flagCooldownNameConstant) {
		configuration.Cooldown, _ = flagSet.GetDuration(flagCooldownNameConstant)
	}
	if flagSet.Changed(flagRegistryNameConstant) {
		configuration.RegistryPath, _ = flagSet.GetString(flagRegistryNameConstant)
	}
	if flagSet.Changed(flagRemoteNameConstant) {
		configuration.RemoteName, _ = flagSet.GetString(flagRemoteNameConstant)
	}
	if flagSet.Changed(flagProviderNameConstant) {
		configuration.HostingProvider, _ = flagSet.GetString(flagProviderNameConstant)
	}
	if flagSet.Changed(flagConcurrencyNameConstant) {
		configuration.Concurrency, _ = flagSet.GetInt(flagConcurrencyNameConstant)
	}
	if flagSet.Changed(flagProtectNameConstant) {
		additionalPatterns, _ := flagSet.GetStringSlice(flagProtectNameConstant)
		configuration.ProtectedPatterns = append(append([]string{}, configuration.ProtectedPatterns...), additionalPatterns...)
	}

	sanitized := configuration.sanitize()
	if validationError := sanitized.validate(); validationError != nil {
		return pruneOptions{}, validationError
	}

	ignoreCooldown, _ := flagSet.GetBool(flagForceNameConstant)
	refreshHosting, _ := flagSet.GetBool(flagRefreshNameConstant)

	return pruneOptions{
		configuration:  sanitized,
		ignoreCooldown: ignoreCooldown,
		refreshHosting: refreshHosting,
	}, nil
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}

	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}

	return logger
}

// completionLogger returns the callback invoked after every recorded prune run.
func completionLogger(logger *zap.Logger) pruning.CompletionHandler {
	return func(repository pruning.RepositoryHandle, prunedBranches []pruning.Branch) {
		logger.Info(
			logMessagePruneCompletedConstant,
			zap.String(logFieldRepositoryConstant, repository.Path),
			zap.String(logFieldBranchesConstant, strings.Join(pruning.BranchNames(prunedBranches), ",")),
		)
	}
}

// planRunner evaluates a repository without deleting anything.
type planRunner struct {
	pruner     *pruning.BranchPruner
	repository pruning.RepositoryHandle
	clock      pruning.Clock
}

func (runner planRunner) Start(executionContext context.Context) (pruning.RunReport, error) {
	report := pruning.RunReport{Repository: runner.repository, StartedAt: runner.now()}
	if len(runner.repository.DefaultBranchName()) == 0 {
		report.Outcome = pruning.OutcomeNoHosting
		return report, nil
	}

	decision, planError := runner.pruner.Plan(executionContext)
	if planError != nil {
		return report, planError
	}
	report.Outcome = pruning.OutcomePlanned
	report.Decision = decision
	return report, nil
}

func (runner planRunner) now() time.Time {
	if runner.clock == nil {
		return time.Now()
	}
	return runner.clock.Now()
}
