// Package testsupport provides in-memory pruning collaborators for tests.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/temirov/prunekeeper/internal/pruning"
)

const (
	unknownCommitTemplateConstant  = "unknown commit %q"
	unknownBranchTemplateConstant  = "branch %q not found"
	deleteCurrentTemplateConstant  = "cannot delete branch %q checked out"
	branchMovedTemplateConstant    = "branch %q is at %s but expected %s"
	unknownRemoteTemplateConstant  = "no such remote %q"
	registryUnavailableMsgConstant = "registry unavailable"
)

// ErrRegistryUnavailable is returned by MemoryRegistry when configured to fail.
var ErrRegistryUnavailable = errors.New(registryUnavailableMsgConstant)

// GatewayCall records a single invocation against MemoryGateway.
type GatewayCall struct {
	Operation string
	Arguments []string
}

// MemoryGateway implements pruning.VcsGateway and pruning.CheckoutHistory over
// an in-memory commit graph.
type MemoryGateway struct {
	mutex          sync.Mutex
	commits        map[string][]string
	branches       []pruning.Branch
	currentBranch  string
	checkouts      []pruning.BranchCheckout
	deleteFailures map[string]error
	ancestryErrors map[string]error
	remotes        map[string]string
	calls          []GatewayCall
}

// NewMemoryGateway constructs an empty gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		commits:        map[string][]string{},
		deleteFailures: map[string]error{},
		ancestryErrors: map[string]error{},
		remotes:        map[string]string{},
	}
}

// SetRemote registers the URL of a named remote.
func (gateway *MemoryGateway) SetRemote(name string, remoteURL string) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.remotes[name] = remoteURL
	return gateway
}

// AddCommit registers a commit and its parents.
func (gateway *MemoryGateway) AddCommit(hash string, parents ...string) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.commits[hash] = append([]string{}, parents...)
	return gateway
}

// AddBranch registers a branch pointing at tip.
func (gateway *MemoryGateway) AddBranch(name string, tip string, lastCommitTime time.Time) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.branches = append(gateway.branches, pruning.Branch{
		Name:           name,
		Tip:            pruning.CommitReference{Hash: tip, Parents: append([]string{}, gateway.commits[tip]...)},
		LastCommitTime: lastCommitTime,
	})
	return gateway
}

// Checkout marks name as the current branch.
func (gateway *MemoryGateway) Checkout(name string) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.currentBranch = name
	return gateway
}

// RecordCheckout adds a checkout history entry.
func (gateway *MemoryGateway) RecordCheckout(name string, checkedOut time.Time) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.checkouts = append(gateway.checkouts, pruning.BranchCheckout{BranchName: name, CheckedOut: checkedOut})
	return gateway
}

// FailDeletion makes DeleteLocalBranch fail for name.
func (gateway *MemoryGateway) FailDeletion(name string, failure error) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.deleteFailures[name] = failure
	return gateway
}

// FailAncestry makes IsAncestor fail whenever reference is the candidate ancestor.
func (gateway *MemoryGateway) FailAncestry(reference string, failure error) *MemoryGateway {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.ancestryErrors[reference] = failure
	return gateway
}

// BranchNames returns the names of the branches that still exist.
func (gateway *MemoryGateway) BranchNames() []string {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	return pruning.BranchNames(gateway.branches)
}

// Calls returns a copy of the recorded invocations.
func (gateway *MemoryGateway) Calls() []GatewayCall {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	return append([]GatewayCall{}, gateway.calls...)
}

// ListBranches implements pruning.VcsGateway.
func (gateway *MemoryGateway) ListBranches(_ context.Context, repositoryPath string) ([]pruning.Branch, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("ListBranches", repositoryPath)
	return append([]pruning.Branch{}, gateway.branches...), nil
}

// CurrentBranch implements pruning.VcsGateway. A detached HEAD yields a zero Branch.
func (gateway *MemoryGateway) CurrentBranch(_ context.Context, repositoryPath string) (pruning.Branch, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("CurrentBranch", repositoryPath)
	if len(gateway.currentBranch) == 0 {
		return pruning.Branch{}, nil
	}
	for _, branch := range gateway.branches {
		if branch.Name == gateway.currentBranch {
			branch.IsCurrent = true
			return branch, nil
		}
	}
	return pruning.Branch{}, fmt.Errorf(unknownBranchTemplateConstant, gateway.currentBranch)
}

// IsAncestor implements pruning.AncestryChecker by walking parent links.
func (gateway *MemoryGateway) IsAncestor(_ context.Context, repositoryPath string, ancestorReference string, descendantReference string) (bool, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("IsAncestor", repositoryPath, ancestorReference, descendantReference)

	if failure, configured := gateway.ancestryErrors[ancestorReference]; configured {
		return false, failure
	}
	ancestorHash, ancestorKnown := gateway.resolve(ancestorReference)
	if !ancestorKnown {
		return false, fmt.Errorf(unknownCommitTemplateConstant, ancestorReference)
	}
	descendantHash, descendantKnown := gateway.resolve(descendantReference)
	if !descendantKnown {
		return false, fmt.Errorf(unknownCommitTemplateConstant, descendantReference)
	}

	visited := map[string]struct{}{}
	pending := []string{descendantHash}
	for len(pending) > 0 {
		candidate := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if candidate == ancestorHash {
			return true, nil
		}
		if _, seen := visited[candidate]; seen {
			continue
		}
		visited[candidate] = struct{}{}
		pending = append(pending, gateway.commits[candidate]...)
	}
	return false, nil
}

// DeleteLocalBranch implements pruning.VcsGateway.
func (gateway *MemoryGateway) DeleteLocalBranch(_ context.Context, repositoryPath string, branchName string, expectedTip string) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("DeleteLocalBranch", repositoryPath, branchName, expectedTip)

	if failure, configured := gateway.deleteFailures[branchName]; configured {
		return failure
	}
	if branchName == gateway.currentBranch {
		return fmt.Errorf(deleteCurrentTemplateConstant, branchName)
	}
	for index, branch := range gateway.branches {
		if branch.Name == branchName {
			if len(expectedTip) > 0 && branch.Tip.Hash != expectedTip {
				return fmt.Errorf(branchMovedTemplateConstant, branchName, branch.Tip.Hash, expectedTip)
			}
			gateway.branches = append(gateway.branches[:index], gateway.branches[index+1:]...)
			return nil
		}
	}
	return fmt.Errorf(unknownBranchTemplateConstant, branchName)
}

// RecentCheckouts implements pruning.CheckoutHistory.
func (gateway *MemoryGateway) RecentCheckouts(_ context.Context, repositoryPath string) ([]pruning.BranchCheckout, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("RecentCheckouts", repositoryPath)
	return append([]pruning.BranchCheckout{}, gateway.checkouts...), nil
}

// RemoteURL returns the URL registered through SetRemote.
func (gateway *MemoryGateway) RemoteURL(_ context.Context, repositoryPath string, remoteName string) (string, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.record("RemoteURL", repositoryPath, remoteName)
	remoteURL, exists := gateway.remotes[remoteName]
	if !exists {
		return "", fmt.Errorf(unknownRemoteTemplateConstant, remoteName)
	}
	return remoteURL, nil
}

func (gateway *MemoryGateway) resolve(reference string) (string, bool) {
	if _, isCommit := gateway.commits[reference]; isCommit {
		return reference, true
	}
	for _, branch := range gateway.branches {
		if branch.Name == reference {
			return branch.Tip.Hash, true
		}
	}
	return "", false
}

func (gateway *MemoryGateway) record(operation string, arguments ...string) {
	gateway.calls = append(gateway.calls, GatewayCall{Operation: operation, Arguments: arguments})
}

// MemoryRegistry implements pruning.RepositoryRegistry in memory.
type MemoryRegistry struct {
	mutex      sync.Mutex
	states     map[string]pruning.PruneState
	readError  error
	writeError error
	writes     int
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{states: map[string]pruning.PruneState{}}
}

// SetState seeds the state of a repository.
func (registry *MemoryRegistry) SetState(repositoryID string, lastPrune time.Time) *MemoryRegistry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.states[repositoryID] = pruning.PruneState{RepositoryID: repositoryID, LastPruneTimestamp: lastPrune}
	return registry
}

// FailReads makes GetPruneState return failure.
func (registry *MemoryRegistry) FailReads(failure error) *MemoryRegistry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.readError = failure
	return registry
}

// FailWrites makes SetLastPruneTimestamp return failure.
func (registry *MemoryRegistry) FailWrites(failure error) *MemoryRegistry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.writeError = failure
	return registry
}

// Writes reports how many timestamp writes succeeded.
func (registry *MemoryRegistry) Writes() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return registry.writes
}

// GetPruneState implements pruning.RepositoryRegistry.
func (registry *MemoryRegistry) GetPruneState(_ context.Context, repositoryID string) (pruning.PruneState, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.readError != nil {
		return pruning.PruneState{}, registry.readError
	}
	state, exists := registry.states[repositoryID]
	if !exists {
		return pruning.PruneState{RepositoryID: repositoryID}, nil
	}
	return state, nil
}

// SetLastPruneTimestamp implements pruning.RepositoryRegistry. Earlier
// timestamps never replace later ones.
func (registry *MemoryRegistry) SetLastPruneTimestamp(_ context.Context, repositoryID string, timestamp time.Time) error {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.writeError != nil {
		return registry.writeError
	}
	registry.writes++
	state := registry.states[repositoryID]
	state.RepositoryID = repositoryID
	if timestamp.After(state.LastPruneTimestamp) {
		state.LastPruneTimestamp = timestamp
	}
	registry.states[repositoryID] = state
	return nil
}

// FixedClock is a settable pruning.Clock.
type FixedClock struct {
	mutex   sync.Mutex
	current time.Time
}

// NewFixedClock constructs a clock frozen at current.
func NewFixedClock(current time.Time) *FixedClock {
	return &FixedClock{current: current}
}

// Now implements pruning.Clock.
func (clock *FixedClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

// Advance moves the clock forward.
func (clock *FixedClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

// CompletionRecorder captures CompletionHandler invocations.
type CompletionRecorder struct {
	mutex       sync.Mutex
	invocations [][]pruning.Branch
}

// Handler returns a pruning.CompletionHandler bound to the recorder.
func (recorder *CompletionRecorder) Handler() pruning.CompletionHandler {
	return func(_ pruning.RepositoryHandle, prunedBranches []pruning.Branch) {
		recorder.mutex.Lock()
		defer recorder.mutex.Unlock()
		recorder.invocations = append(recorder.invocations, append([]pruning.Branch{}, prunedBranches...))
	}
}

// Invocations returns the pruned branch lists received so far.
func (recorder *CompletionRecorder) Invocations() [][]pruning.Branch {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([][]pruning.Branch{}, recorder.invocations...)
}
