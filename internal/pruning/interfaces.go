package pruning

import (
	"context"
	"time"
)

// AncestryChecker answers whether one revision is contained in another's history.
type AncestryChecker interface {
	IsAncestor(executionContext context.Context, repositoryPath string, ancestorReference string, descendantReference string) (bool, error)
}

// VcsGateway executes the version-control operations required by pruning.
type VcsGateway interface {
	AncestryChecker
	ListBranches(executionContext context.Context, repositoryPath string) ([]Branch, error)
	// DeleteLocalBranch removes branchName. A non-empty expectedTip makes the
	// deletion fail when the branch no longer points at that commit.
	DeleteLocalBranch(executionContext context.Context, repositoryPath string, branchName string, expectedTip string) error
	CurrentBranch(executionContext context.Context, repositoryPath string) (Branch, error)
}

// CheckoutHistory reports recently checked-out branches.
type CheckoutHistory interface {
	RecentCheckouts(executionContext context.Context, repositoryPath string) ([]BranchCheckout, error)
}

// BranchCatalog supplies the branch snapshot for a repository.
type BranchCatalog interface {
	Snapshot(executionContext context.Context, repository RepositoryHandle) (BranchSnapshot, error)
}

// RepositoryRegistry persists per-repository prune state.
type RepositoryRegistry interface {
	GetPruneState(executionContext context.Context, repositoryID string) (PruneState, error)
	SetLastPruneTimestamp(executionContext context.Context, repositoryID string, timestamp time.Time) error
}

// CompletionHandler is invoked once per completed run with the branches that were deleted.
type CompletionHandler func(repository RepositoryHandle, prunedBranches []Branch)

// Clock abstracts time acquisition for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time source.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
