package pruning

import (
	"context"
	"errors"
	"fmt"
)

const (
	catalogGatewayMissingMessageConstant  = "branch catalog gateway not configured"
	catalogListErrorTemplateConstant      = "failed to list branches in %s: %w"
	catalogCurrentErrorTemplateConstant   = "failed to resolve current branch in %s: %w"
	catalogCheckoutsErrorTemplateConstant = "failed to read checkout history in %s: %w"
)

// ErrCatalogGatewayNotConfigured indicates the catalog was constructed without a gateway.
var ErrCatalogGatewayNotConfigured = errors.New(catalogGatewayMissingMessageConstant)

// GatewayCatalog builds branch snapshots directly from a VcsGateway.
type GatewayCatalog struct {
	gateway VcsGateway
	history CheckoutHistory
}

// NewGatewayCatalog constructs a catalog. history may be nil, in which case
// snapshots carry no recent checkouts.
func NewGatewayCatalog(gateway VcsGateway, history CheckoutHistory) (*GatewayCatalog, error) {
	if gateway == nil {
		return nil, ErrCatalogGatewayNotConfigured
	}
	return &GatewayCatalog{gateway: gateway, history: history}, nil
}

// Snapshot captures the branches, current branch, and recent checkouts of a repository.
func (catalog *GatewayCatalog) Snapshot(executionContext context.Context, repository RepositoryHandle) (BranchSnapshot, error) {
	branches, listError := catalog.gateway.ListBranches(executionContext, repository.Path)
	if listError != nil {
		return BranchSnapshot{}, fmt.Errorf(catalogListErrorTemplateConstant, repository.Path, listError)
	}

	currentBranch, currentError := catalog.gateway.CurrentBranch(executionContext, repository.Path)
	if currentError != nil {
		return BranchSnapshot{}, fmt.Errorf(catalogCurrentErrorTemplateConstant, repository.Path, currentError)
	}

	var recentCheckouts []BranchCheckout
	if catalog.history != nil {
		checkouts, historyError := catalog.history.RecentCheckouts(executionContext, repository.Path)
		if historyError != nil {
			return BranchSnapshot{}, fmt.Errorf(catalogCheckoutsErrorTemplateConstant, repository.Path, historyError)
		}
		recentCheckouts = checkouts
	}

	snapshotBranches := make([]Branch, 0, len(branches))
	for _, branch := range branches {
		if branch.Name == currentBranch.Name {
			branch.IsCurrent = true
		}
		snapshotBranches = append(snapshotBranches, branch)
	}

	return BranchSnapshot{
		Branches:          snapshotBranches,
		CurrentBranch:     currentBranch,
		DefaultBranchName: repository.DefaultBranchName(),
		RecentCheckouts:   recentCheckouts,
	}, nil
}
