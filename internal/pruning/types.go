package pruning

import (
	"strings"
	"time"
)

// ExclusionReason explains why a branch was retained by a pruning decision.
type ExclusionReason string

// Exclusion reasons recorded in PruneDecision.Reasons.
const (
	ExclusionCurrent              ExclusionReason = ExclusionReason("current")
	ExclusionDefault              ExclusionReason = ExclusionReason("default")
	ExclusionProtected            ExclusionReason = ExclusionReason("protected")
	ExclusionRecentlyActive       ExclusionReason = ExclusionReason("recently_active")
	ExclusionNotMerged            ExclusionReason = ExclusionReason("not_merged")
	ExclusionAncestryUndetermined ExclusionReason = ExclusionReason("ancestry_undetermined")
	ExclusionDefaultBranchMissing ExclusionReason = ExclusionReason("default_branch_missing")
)

// CommitReference identifies a commit. Parents are only populated by
// collaborators that answer ancestry queries from an in-memory graph.
type CommitReference struct {
	Hash    string
	Parents []string
}

// Branch is an immutable snapshot of a local branch.
type Branch struct {
	Name           string
	Tip            CommitReference
	Upstream       string
	LastCommitTime time.Time
	IsCurrent      bool
}

// Reference returns the revision used for ancestry queries: the tip hash when
// known, the branch name otherwise.
func (branch Branch) Reference() string {
	trimmedHash := strings.TrimSpace(branch.Tip.Hash)
	if len(trimmedHash) > 0 {
		return trimmedHash
	}
	return branch.Name
}

// BranchCheckout records a branch switch observed in the repository history.
type BranchCheckout struct {
	BranchName string
	CheckedOut time.Time
}

// HostingAssociation links a working copy to its hosting-provider repository.
type HostingAssociation struct {
	Owner         string
	Repository    string
	DefaultBranch string
}

// RepositoryHandle identifies a working copy and its optional hosting association.
type RepositoryHandle struct {
	ID      string
	Path    string
	Hosting *HostingAssociation
}

// DefaultBranchName returns the hosting default branch, or an empty string when
// the repository is not associated with a hosting provider.
func (repository RepositoryHandle) DefaultBranchName() string {
	if repository.Hosting == nil {
		return ""
	}
	return strings.TrimSpace(repository.Hosting.DefaultBranch)
}

// PruneState is the persisted pruning bookkeeping of one repository.
// A zero LastPruneTimestamp means the repository was never pruned.
type PruneState struct {
	RepositoryID       string
	LastPruneTimestamp time.Time
}

// BranchSnapshot is the catalog view of a repository captured once per run.
type BranchSnapshot struct {
	Branches          []Branch
	CurrentBranch     Branch
	DefaultBranchName string
	RecentCheckouts   []BranchCheckout
}

// PruneDecision partitions a snapshot into branches to delete and branches to keep.
type PruneDecision struct {
	ToDelete []Branch
	Retained []Branch
	Reasons  map[string]ExclusionReason
	Failures map[string]error
}

// Outcome summarizes how a pruning run ended.
type Outcome string

// Run outcomes reported through RunReport.
const (
	OutcomeNoHosting Outcome = Outcome("no_hosting")
	OutcomeCooldown  Outcome = Outcome("cooldown")
	OutcomeNoOp      Outcome = Outcome("no_op")
	OutcomePruned    Outcome = Outcome("pruned")
	OutcomePlanned   Outcome = Outcome("planned")
)

// DeletionFailure pairs a branch with the error the gateway returned while deleting it.
type DeletionFailure struct {
	Branch Branch
	Cause  error
}

// RunReport describes a completed or skipped pruning run.
type RunReport struct {
	Repository RepositoryHandle
	Outcome    Outcome
	StartedAt  time.Time
	Decision   PruneDecision
	Pruned     []Branch
	Failures   []DeletionFailure
}

// BranchNames returns the names of the provided branches in order.
func BranchNames(branches []Branch) []string {
	names := make([]string, 0, len(branches))
	for _, branch := range branches {
		names = append(names, branch.Name)
	}
	return names
}
