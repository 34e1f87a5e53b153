package pruning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCooldown is the minimum interval between two pruning runs of one repository.
	DefaultCooldown = 24 * time.Hour

	repositoryIdentifierMissingMessageConstant = "repository identifier must be provided"
	gatewayMissingMessageConstant              = "vcs gateway not configured"
	catalogMissingMessageConstant              = "branch catalog not configured"
	registryMissingMessageConstant             = "repository registry not configured"
	registryReadErrorTemplateConstant          = "failed to read prune state for %s: %w"
	catalogSnapshotErrorTemplateConstant       = "failed to load branch snapshot for %s: %w"
	runInterruptedErrorTemplateConstant        = "prune run for %s interrupted: %w"
	registryWriteErrorTemplateConstant         = "failed to record prune timestamp for %s: %v"
	deletionErrorTemplateConstant              = "failed to delete branch %s: %v"
	logMessageNoHostingConstant                = "repository has no hosting default branch; skipping prune"
	logMessageCooldownConstant                 = "repository pruned recently; skipping prune"
	logMessageRetainedConstant                 = "retaining branch"
	logMessageAncestryUndeterminedConstant     = "ancestry undetermined; retaining branch"
	logMessageDeletedConstant                  = "pruned merged branch"
	logMessageDeletionFailedConstant           = "branch deletion failed"
	logMessageCompletedConstant                = "prune run completed"
	logFieldRepositoryConstant                 = "repository"
	logFieldBranchConstant                     = "branch"
	logFieldReasonConstant                     = "reason"
	logFieldDefaultBranchConstant              = "default_branch"
	logFieldLastPruneConstant                  = "last_prune"
	logFieldNextEligibleConstant               = "next_eligible"
	logFieldPrunedConstant                     = "pruned"
	logFieldRetainedCountConstant              = "retained_count"
	logFieldFailureCountConstant               = "failure_count"
)

var (
	// ErrRepositoryIdentifierRequired indicates the repository handle lacked an identifier.
	ErrRepositoryIdentifierRequired = errors.New(repositoryIdentifierMissingMessageConstant)
	// ErrGatewayNotConfigured indicates the pruner was constructed without a gateway.
	ErrGatewayNotConfigured = errors.New(gatewayMissingMessageConstant)
	// ErrCatalogNotConfigured indicates the pruner was constructed without a catalog.
	ErrCatalogNotConfigured = errors.New(catalogMissingMessageConstant)
	// ErrRegistryNotConfigured indicates the pruner was constructed without a registry.
	ErrRegistryNotConfigured = errors.New(registryMissingMessageConstant)
)

// RegistryWriteError reports a run whose timestamp could not be persisted.
// The run is considered failed even though deletions may have happened.
type RegistryWriteError struct {
	RepositoryID string
	Cause        error
}

// Error describes the registry failure.
func (writeError RegistryWriteError) Error() string {
	return fmt.Sprintf(registryWriteErrorTemplateConstant, writeError.RepositoryID, writeError.Cause)
}

// Unwrap exposes the underlying registry error.
func (writeError RegistryWriteError) Unwrap() error {
	return writeError.Cause
}

// DeletionError reports a branch the gateway refused to delete.
type DeletionError struct {
	BranchName string
	Cause      error
}

// Error describes the deletion failure.
func (deletionError DeletionError) Error() string {
	return fmt.Sprintf(deletionErrorTemplateConstant, deletionError.BranchName, deletionError.Cause)
}

// Unwrap exposes the underlying gateway error.
func (deletionError DeletionError) Unwrap() error {
	return deletionError.Cause
}

// Dependencies enumerates the collaborators of a BranchPruner.
type Dependencies struct {
	Gateway          VcsGateway
	Catalog          BranchCatalog
	Registry         RepositoryRegistry
	Clock            Clock
	Locks            *RepositoryLocks
	Logger           *zap.Logger
	OnPruneCompleted CompletionHandler
}

// Options tunes a BranchPruner.
type Options struct {
	Cooldown       time.Duration
	IgnoreCooldown bool
	Policy         EligibilityPolicy
}

// BranchPruner runs pruning cycles for a single repository.
type BranchPruner struct {
	repository       RepositoryHandle
	gateway          VcsGateway
	catalog          BranchCatalog
	registry         RepositoryRegistry
	clock            Clock
	locks            *RepositoryLocks
	logger           *zap.Logger
	onPruneCompleted CompletionHandler
	engine           *Engine
	cooldown         time.Duration
	ignoreCooldown   bool
}

// NewBranchPruner validates dependencies and constructs a BranchPruner.
func NewBranchPruner(repository RepositoryHandle, dependencies Dependencies, options Options) (*BranchPruner, error) {
	if len(strings.TrimSpace(repository.ID)) == 0 {
		return nil, ErrRepositoryIdentifierRequired
	}
	if dependencies.Gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	if dependencies.Catalog == nil {
		return nil, ErrCatalogNotConfigured
	}
	if dependencies.Registry == nil {
		return nil, ErrRegistryNotConfigured
	}

	engine, engineError := NewEngine(dependencies.Gateway, options.Policy)
	if engineError != nil {
		return nil, engineError
	}

	clock := dependencies.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	locks := dependencies.Locks
	if locks == nil {
		locks = NewRepositoryLocks()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cooldown := options.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &BranchPruner{
		repository:       repository,
		gateway:          dependencies.Gateway,
		catalog:          dependencies.Catalog,
		registry:         dependencies.Registry,
		clock:            clock,
		locks:            locks,
		logger:           logger.With(zap.String(logFieldRepositoryConstant, repository.Path)),
		onPruneCompleted: dependencies.OnPruneCompleted,
		engine:           engine,
		cooldown:         cooldown,
		ignoreCooldown:   options.IgnoreCooldown,
	}, nil
}

// Start performs one pruning run. Per-branch deletion failures are reported in
// the RunReport; catalog or registry failures and context cancellation abort
// the run without advancing the prune timestamp.
func (pruner *BranchPruner) Start(executionContext context.Context) (RunReport, error) {
	release := pruner.locks.Acquire(pruner.repository.ID)
	defer release()

	now := pruner.clock.Now()
	report := RunReport{Repository: pruner.repository, StartedAt: now}

	defaultBranchName := pruner.repository.DefaultBranchName()
	if len(defaultBranchName) == 0 {
		pruner.logger.Debug(logMessageNoHostingConstant)
		report.Outcome = OutcomeNoHosting
		return report, nil
	}

	state, stateError := pruner.registry.GetPruneState(executionContext, pruner.repository.ID)
	if stateError != nil {
		return report, fmt.Errorf(registryReadErrorTemplateConstant, pruner.repository.ID, stateError)
	}

	if pruner.withinCooldown(state, now) {
		pruner.logger.Debug(
			logMessageCooldownConstant,
			zap.Time(logFieldLastPruneConstant, state.LastPruneTimestamp),
			zap.Time(logFieldNextEligibleConstant, state.LastPruneTimestamp.Add(pruner.cooldown)),
		)
		report.Outcome = OutcomeCooldown
		return report, nil
	}

	decision, decisionError := pruner.decide(executionContext, now)
	if decisionError != nil {
		return report, decisionError
	}
	report.Decision = decision
	report.Pruned = []Branch{}

	for _, branch := range decision.ToDelete {
		if contextError := executionContext.Err(); contextError != nil {
			return report, fmt.Errorf(runInterruptedErrorTemplateConstant, pruner.repository.ID, contextError)
		}

		deletionError := pruner.gateway.DeleteLocalBranch(executionContext, pruner.repository.Path, branch.Name, branch.Tip.Hash)
		if deletionError != nil {
			pruner.logger.Warn(logMessageDeletionFailedConstant, zap.String(logFieldBranchConstant, branch.Name), zap.Error(deletionError))
			report.Failures = append(report.Failures, DeletionFailure{Branch: branch, Cause: DeletionError{BranchName: branch.Name, Cause: deletionError}})
			continue
		}

		pruner.logger.Info(logMessageDeletedConstant, zap.String(logFieldBranchConstant, branch.Name), zap.String(logFieldDefaultBranchConstant, defaultBranchName))
		report.Pruned = append(report.Pruned, branch)
	}

	if contextError := executionContext.Err(); contextError != nil {
		return report, fmt.Errorf(runInterruptedErrorTemplateConstant, pruner.repository.ID, contextError)
	}

	if writeError := pruner.registry.SetLastPruneTimestamp(executionContext, pruner.repository.ID, now); writeError != nil {
		return report, RegistryWriteError{RepositoryID: pruner.repository.ID, Cause: writeError}
	}

	if len(decision.ToDelete) == 0 {
		report.Outcome = OutcomeNoOp
	} else {
		report.Outcome = OutcomePruned
	}

	pruner.logger.Info(
		logMessageCompletedConstant,
		zap.Strings(logFieldPrunedConstant, BranchNames(report.Pruned)),
		zap.Int(logFieldRetainedCountConstant, len(decision.Retained)),
		zap.Int(logFieldFailureCountConstant, len(report.Failures)),
	)

	if pruner.onPruneCompleted != nil {
		pruner.onPruneCompleted(pruner.repository, report.Pruned)
	}

	return report, nil
}

// Plan evaluates the repository without deleting branches or touching the registry.
// The cooldown is not consulted.
func (pruner *BranchPruner) Plan(executionContext context.Context) (PruneDecision, error) {
	if len(pruner.repository.DefaultBranchName()) == 0 {
		return PruneDecision{Reasons: map[string]ExclusionReason{}, Failures: map[string]error{}}, nil
	}
	return pruner.decide(executionContext, pruner.clock.Now())
}

func (pruner *BranchPruner) withinCooldown(state PruneState, now time.Time) bool {
	if pruner.ignoreCooldown || state.LastPruneTimestamp.IsZero() {
		return false
	}
	return now.Sub(state.LastPruneTimestamp) < pruner.cooldown
}

func (pruner *BranchPruner) decide(executionContext context.Context, now time.Time) (PruneDecision, error) {
	snapshot, snapshotError := pruner.catalog.Snapshot(executionContext, pruner.repository)
	if snapshotError != nil {
		return PruneDecision{}, fmt.Errorf(catalogSnapshotErrorTemplateConstant, pruner.repository.ID, snapshotError)
	}

	decision := pruner.engine.Evaluate(executionContext, EvaluationInput{
		RepositoryPath:    pruner.repository.Path,
		Branches:          snapshot.Branches,
		CurrentBranchName: snapshot.CurrentBranch.Name,
		DefaultBranchName: pruner.repository.DefaultBranchName(),
		RecentCheckouts:   snapshot.RecentCheckouts,
		Now:               now,
	})

	for _, branch := range decision.Retained {
		reason := decision.Reasons[branch.Name]
		if reason == ExclusionAncestryUndetermined {
			pruner.logger.Warn(logMessageAncestryUndeterminedConstant, zap.String(logFieldBranchConstant, branch.Name), zap.Error(decision.Failures[branch.Name]))
			continue
		}
		pruner.logger.Debug(logMessageRetainedConstant, zap.String(logFieldBranchConstant, branch.Name), zap.String(logFieldReasonConstant, string(reason)))
	}

	return decision, nil
}
