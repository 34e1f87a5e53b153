// Package scheduler drives pruning runs across many working copies.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/prunekeeper/internal/pruning"
)

const (
	// DefaultConcurrency bounds parallel repository runs when none is configured.
	DefaultConcurrency = 4
	// DefaultRunTimeout bounds a single repository run when none is configured.
	DefaultRunTimeout = 5 * time.Minute

	resolverMissingMessageConstant     = "repository resolver not configured"
	factoryMissingMessageConstant      = "pruner factory not configured"
	intervalInvalidMessageConstant     = "interval must be positive"
	resolveErrorTemplateConstant       = "failed to resolve %s: %w"
	constructErrorTemplateConstant     = "failed to construct pruner for %s: %w"
	logMessageSchedulerStartedConstant = "scheduler started"
	logMessageCycleStartedConstant     = "prune cycle started"
	logMessageCycleCompletedConstant   = "prune cycle completed"
	logMessageRepositoryFailedConstant = "repository prune failed"
	logMessageDiscoveryFailedConstant  = "repository discovery failed"
	logFieldRepositoryConstant         = "repository"
	logFieldRepositoryCountConstant    = "repository_count"
	logFieldFailureCountConstant       = "failure_count"
	logFieldIntervalConstant           = "interval"
)

var (
	// ErrResolverNotConfigured indicates the scheduler was constructed without a resolver.
	ErrResolverNotConfigured = errors.New(resolverMissingMessageConstant)
	// ErrFactoryNotConfigured indicates the scheduler was constructed without a pruner factory.
	ErrFactoryNotConfigured = errors.New(factoryMissingMessageConstant)
	// ErrIntervalInvalid indicates Run received a non-positive interval.
	ErrIntervalInvalid = errors.New(intervalInvalidMessageConstant)
)

// RepositoryResolver turns a working copy path into a repository handle.
type RepositoryResolver interface {
	Resolve(executionContext context.Context, repositoryPath string) (pruning.RepositoryHandle, error)
}

// Runner performs one pruning run.
type Runner interface {
	Start(executionContext context.Context) (pruning.RunReport, error)
}

// RunnerFactory builds the Runner for a resolved repository.
type RunnerFactory func(repository pruning.RepositoryHandle) (Runner, error)

// RepositorySource lists the working copies to prune in a cycle.
type RepositorySource func(executionContext context.Context) ([]string, error)

// Result captures the outcome of one repository within a cycle.
type Result struct {
	Path   string
	Report pruning.RunReport
	Err    error
}

// Options tunes a Scheduler.
type Options struct {
	Concurrency int
	RunTimeout  time.Duration
}

// Scheduler fans pruning runs out over a bounded worker pool.
type Scheduler struct {
	resolver    RepositoryResolver
	factory     RunnerFactory
	logger      *zap.Logger
	concurrency int
	runTimeout  time.Duration
}

// New constructs a Scheduler.
func New(resolver RepositoryResolver, factory RunnerFactory, logger *zap.Logger, options Options) (*Scheduler, error) {
	if resolver == nil {
		return nil, ErrResolverNotConfigured
	}
	if factory == nil {
		return nil, ErrFactoryNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	runTimeout := options.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	return &Scheduler{resolver: resolver, factory: factory, logger: logger, concurrency: concurrency, runTimeout: runTimeout}, nil
}

// RunOnce prunes every path once. Results follow the order of paths; a failing
// repository never stops the others.
func (scheduler *Scheduler) RunOnce(executionContext context.Context, paths []string) []Result {
	scheduler.logger.Info(logMessageCycleStartedConstant, zap.Int(logFieldRepositoryCountConstant, len(paths)))

	results := make([]Result, len(paths))
	var group errgroup.Group
	group.SetLimit(scheduler.concurrency)
	for index, repositoryPath := range paths {
		position := index
		path := repositoryPath
		group.Go(func() error {
			results[position] = scheduler.runRepository(executionContext, path)
			return nil
		})
	}
	_ = group.Wait()

	failureCount := 0
	for _, result := range results {
		if result.Err != nil {
			failureCount++
		}
	}
	scheduler.logger.Info(logMessageCycleCompletedConstant, zap.Int(logFieldRepositoryCountConstant, len(paths)), zap.Int(logFieldFailureCountConstant, failureCount))
	return results
}

// Run executes a cycle immediately and then once per interval until the
// context ends. Every finished cycle is passed to onCycle when it is non-nil.
func (scheduler *Scheduler) Run(executionContext context.Context, source RepositorySource, interval time.Duration, onCycle func([]Result)) error {
	if interval <= 0 {
		return ErrIntervalInvalid
	}
	scheduler.logger.Info(logMessageSchedulerStartedConstant, zap.Duration(logFieldIntervalConstant, interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		scheduler.cycle(executionContext, source, onCycle)
		select {
		case <-executionContext.Done():
			return executionContext.Err()
		case <-ticker.C:
		}
	}
}

func (scheduler *Scheduler) cycle(executionContext context.Context, source RepositorySource, onCycle func([]Result)) {
	paths, discoveryError := source(executionContext)
	if discoveryError != nil {
		scheduler.logger.Warn(logMessageDiscoveryFailedConstant, zap.Error(discoveryError))
		return
	}
	results := scheduler.RunOnce(executionContext, paths)
	if onCycle != nil {
		onCycle(results)
	}
}

func (scheduler *Scheduler) runRepository(executionContext context.Context, repositoryPath string) Result {
	runContext, cancel := context.WithTimeout(executionContext, scheduler.runTimeout)
	defer cancel()

	result := Result{Path: repositoryPath}
	repository, resolveError := scheduler.resolver.Resolve(runContext, repositoryPath)
	if resolveError != nil {
		result.Err = fmt.Errorf(resolveErrorTemplateConstant, repositoryPath, resolveError)
		scheduler.logFailure(result)
		return result
	}

	runner, constructError := scheduler.factory(repository)
	if constructError != nil {
		result.Err = fmt.Errorf(constructErrorTemplateConstant, repositoryPath, constructError)
		scheduler.logFailure(result)
		return result
	}

	result.Report, result.Err = runner.Start(runContext)
	if result.Err != nil {
		scheduler.logFailure(result)
	}
	return result
}

func (scheduler *Scheduler) logFailure(result Result) {
	scheduler.logger.Warn(logMessageRepositoryFailedConstant, zap.String(logFieldRepositoryConstant, result.Path), zap.Error(result.Err))
}
