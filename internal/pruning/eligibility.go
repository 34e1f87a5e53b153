package pruning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	ancestryCheckerMissingMessageConstant   = "ancestry checker not configured"
	invalidProtectedPatternTemplateConstant = "invalid protected branch pattern %q"
	ancestryErrorTemplateConstant           = "unable to determine whether %s is merged into %s: %v"
)

// ErrAncestryCheckerNotConfigured indicates the engine was constructed without an ancestry checker.
var ErrAncestryCheckerNotConfigured = errors.New(ancestryCheckerMissingMessageConstant)

// AncestryError reports a branch whose merge relationship could not be computed.
type AncestryError struct {
	BranchName        string
	DefaultBranchName string
	Cause             error
}

// Error describes the ancestry failure.
func (ancestryError AncestryError) Error() string {
	return fmt.Sprintf(ancestryErrorTemplateConstant, ancestryError.BranchName, ancestryError.DefaultBranchName, ancestryError.Cause)
}

// Unwrap exposes the gateway error.
func (ancestryError AncestryError) Unwrap() error {
	return ancestryError.Cause
}

// EligibilityPolicy configures the exclusion rules applied before the ancestry check.
type EligibilityPolicy struct {
	ProtectedPatterns    []string
	RecentActivityWindow time.Duration
}

// EvaluationInput is the immutable snapshot evaluated by Engine.
type EvaluationInput struct {
	RepositoryPath    string
	Branches          []Branch
	CurrentBranchName string
	DefaultBranchName string
	RecentCheckouts   []BranchCheckout
	Now               time.Time
}

// Engine decides which branches are safe to delete.
type Engine struct {
	ancestry AncestryChecker
	policy   EligibilityPolicy
}

// NewEngine validates the policy and constructs an Engine.
func NewEngine(ancestry AncestryChecker, policy EligibilityPolicy) (*Engine, error) {
	if ancestry == nil {
		return nil, ErrAncestryCheckerNotConfigured
	}

	sanitizedPatterns := make([]string, 0, len(policy.ProtectedPatterns))
	for _, pattern := range policy.ProtectedPatterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if len(trimmedPattern) == 0 {
			continue
		}
		if !doublestar.ValidatePattern(trimmedPattern) {
			return nil, fmt.Errorf(invalidProtectedPatternTemplateConstant, trimmedPattern)
		}
		sanitizedPatterns = append(sanitizedPatterns, trimmedPattern)
	}

	return &Engine{
		ancestry: ancestry,
		policy: EligibilityPolicy{
			ProtectedPatterns:    sanitizedPatterns,
			RecentActivityWindow: policy.RecentActivityWindow,
		},
	}, nil
}

// Evaluate computes the pruning decision for a snapshot. Deletion order follows
// the order of input.Branches. A branch whose ancestry cannot be determined is
// retained.
func (engine *Engine) Evaluate(executionContext context.Context, input EvaluationInput) PruneDecision {
	decision := PruneDecision{
		ToDelete: []Branch{},
		Retained: []Branch{},
		Reasons:  map[string]ExclusionReason{},
		Failures: map[string]error{},
	}

	defaultBranchName := strings.TrimSpace(input.DefaultBranchName)
	defaultBranch, defaultBranchFound := findBranch(input.Branches, defaultBranchName)
	if len(defaultBranchName) == 0 || !defaultBranchFound {
		for _, branch := range input.Branches {
			decision.retain(branch, ExclusionDefaultBranchMissing)
		}
		return decision
	}

	recentlyActive := engine.recentlyActiveBranches(input.RecentCheckouts, input.Now)
	currentBranchName := strings.TrimSpace(input.CurrentBranchName)

	for _, branch := range input.Branches {
		if reason, excluded := engine.exclusionReason(branch, currentBranchName, defaultBranchName, recentlyActive); excluded {
			decision.retain(branch, reason)
			continue
		}

		merged, ancestryError := engine.ancestry.IsAncestor(executionContext, input.RepositoryPath, branch.Reference(), defaultBranch.Reference())
		if ancestryError != nil {
			decision.retain(branch, ExclusionAncestryUndetermined)
			decision.Failures[branch.Name] = AncestryError{BranchName: branch.Name, DefaultBranchName: defaultBranchName, Cause: ancestryError}
			continue
		}
		if !merged {
			decision.retain(branch, ExclusionNotMerged)
			continue
		}

		decision.ToDelete = append(decision.ToDelete, branch)
	}

	return decision
}

func (engine *Engine) exclusionReason(branch Branch, currentBranchName string, defaultBranchName string, recentlyActive map[string]struct{}) (ExclusionReason, bool) {
	if branch.IsCurrent || branch.Name == currentBranchName {
		return ExclusionCurrent, true
	}
	if branch.Name == defaultBranchName {
		return ExclusionDefault, true
	}
	if engine.isProtected(branch.Name) {
		return ExclusionProtected, true
	}
	if _, active := recentlyActive[branch.Name]; active {
		return ExclusionRecentlyActive, true
	}
	return "", false
}

func (engine *Engine) isProtected(branchName string) bool {
	for _, pattern := range engine.policy.ProtectedPatterns {
		matched, matchError := doublestar.Match(pattern, branchName)
		if matchError != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func (engine *Engine) recentlyActiveBranches(checkouts []BranchCheckout, now time.Time) map[string]struct{} {
	active := map[string]struct{}{}
	if engine.policy.RecentActivityWindow <= 0 {
		return active
	}

	threshold := now.Add(-engine.policy.RecentActivityWindow)
	for _, checkout := range checkouts {
		if checkout.CheckedOut.Before(threshold) {
			continue
		}
		active[checkout.BranchName] = struct{}{}
	}
	return active
}

func (decision *PruneDecision) retain(branch Branch, reason ExclusionReason) {
	decision.Retained = append(decision.Retained, branch)
	decision.Reasons[branch.Name] = reason
}

func findBranch(branches []Branch, branchName string) (Branch, bool) {
	for _, branch := range branches {
		if branch.Name == branchName {
			return branch, true
		}
	}
	return Branch{}, false
}
