// Package hosting associates working copies with their hosting-provider
// repositories and resolves the default branch pruning compares against.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/prunekeeper/internal/gitrepo"
	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/registry"
)

const (
	// DefaultRemoteName is the remote inspected when none is configured.
	DefaultRemoteName = "origin"
	// DefaultHost is the hosting provider accepted when none is configured.
	DefaultHost = "github.com"

	remoteReaderMissingMessageConstant  = "remote reader not configured"
	branchSourceMissingMessageConstant  = "default branch source not configured"
	associationsMissingMessageConstant  = "association store not configured"
	absolutePathErrorTemplateConstant   = "failed to resolve repository path %s: %w"
	lookupErrorTemplateConstant         = "failed to read hosting association for %s: %w"
	defaultBranchErrorTemplateConstant  = "failed to resolve default branch of %s: %w"
	associateErrorTemplateConstant      = "failed to record hosting association for %s: %w"
	logMessageCachedConstant            = "using recorded hosting association"
	logMessageStaleConstant             = "recorded hosting association is stale; resolving again"
	logMessageStaleFallbackConstant     = "default branch lookup failed; keeping stale hosting association"
	logMessageNoRemoteConstant          = "repository has no readable remote; treating as not hosted"
	logMessageUnsupportedRemoteConstant = "remote is not on a supported host; treating as not hosted"
	logMessageAssociatedConstant        = "associated repository with hosting provider"
	logFieldRepositoryConstant          = "repository"
	logFieldRemoteConstant              = "remote"
	logFieldHostConstant                = "host"
	logFieldFullNameConstant            = "full_name"
	logFieldDefaultBranchConstant       = "default_branch"
	logFieldAssociatedAtConstant        = "associated_at"
)

var (
	// ErrRemoteReaderNotConfigured indicates the resolver was constructed without a remote reader.
	ErrRemoteReaderNotConfigured = errors.New(remoteReaderMissingMessageConstant)
	// ErrBranchSourceNotConfigured indicates the resolver was constructed without a default branch source.
	ErrBranchSourceNotConfigured = errors.New(branchSourceMissingMessageConstant)
	// ErrAssociationsNotConfigured indicates the resolver was constructed without an association store.
	ErrAssociationsNotConfigured = errors.New(associationsMissingMessageConstant)
)

// RemoteReader reads remote URLs from a working copy.
type RemoteReader interface {
	RemoteURL(executionContext context.Context, repositoryPath string, remoteName string) (string, error)
}

// DefaultBranchSource answers default branch queries for hosted repositories.
type DefaultBranchSource interface {
	DefaultBranch(executionContext context.Context, owner string, repository string) (string, error)
}

// AssociationStore persists hosting associations.
type AssociationStore interface {
	Lookup(executionContext context.Context, repositoryID string) (registry.Entry, bool, error)
	Associate(executionContext context.Context, repository pruning.RepositoryHandle) error
}

// Dependencies enumerates the collaborators of a Resolver.
type Dependencies struct {
	Remotes      RemoteReader
	Branches     DefaultBranchSource
	Associations AssociationStore
	Clock        pruning.Clock
	Logger       *zap.Logger
}

// Options tunes a Resolver. A positive AssociationTTL makes recorded
// associations older than the TTL resolve again; zero keeps them indefinitely.
type Options struct {
	RemoteName     string
	Hosts          []string
	Refresh        bool
	AssociationTTL time.Duration
}

// Resolver builds pruning.RepositoryHandle values for working copies.
type Resolver struct {
	remotes      RemoteReader
	branches     DefaultBranchSource
	associations   AssociationStore
	clock          pruning.Clock
	logger         *zap.Logger
	remoteName     string
	hosts          map[string]struct{}
	refresh        bool
	associationTTL time.Duration
}

// NewResolver validates dependencies and constructs a Resolver.
func NewResolver(dependencies Dependencies, options Options) (*Resolver, error) {
	if dependencies.Remotes == nil {
		return nil, ErrRemoteReaderNotConfigured
	}
	if dependencies.Branches == nil {
		return nil, ErrBranchSourceNotConfigured
	}
	if dependencies.Associations == nil {
		return nil, ErrAssociationsNotConfigured
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = pruning.SystemClock{}
	}
	remoteName := strings.TrimSpace(options.RemoteName)
	if len(remoteName) == 0 {
		remoteName = DefaultRemoteName
	}
	hosts := map[string]struct{}{}
	for _, host := range options.Hosts {
		normalizedHost := strings.ToLower(strings.TrimSpace(host))
		if len(normalizedHost) > 0 {
			hosts[normalizedHost] = struct{}{}
		}
	}
	if len(hosts) == 0 {
		hosts[DefaultHost] = struct{}{}
	}

	return &Resolver{
		remotes:        dependencies.Remotes,
		branches:       dependencies.Branches,
		associations:   dependencies.Associations,
		clock:          clock,
		logger:         logger,
		remoteName:     remoteName,
		hosts:          hosts,
		refresh:        options.Refresh,
		associationTTL: options.AssociationTTL,
	}, nil
}

// Resolve returns the handle of the working copy at repositoryPath. Working
// copies without a supported remote resolve to a handle without hosting.
func (resolver *Resolver) Resolve(executionContext context.Context, repositoryPath string) (pruning.RepositoryHandle, error) {
	absolutePath, absoluteError := filepath.Abs(repositoryPath)
	if absoluteError != nil {
		return pruning.RepositoryHandle{}, fmt.Errorf(absolutePathErrorTemplateConstant, repositoryPath, absoluteError)
	}
	handle := pruning.RepositoryHandle{ID: absolutePath, Path: absolutePath}
	logger := resolver.logger.With(zap.String(logFieldRepositoryConstant, absolutePath))

	var staleAssociation *pruning.HostingAssociation
	if !resolver.refresh {
		entry, found, lookupError := resolver.associations.Lookup(executionContext, handle.ID)
		if lookupError != nil {
			return handle, fmt.Errorf(lookupErrorTemplateConstant, absolutePath, lookupError)
		}
		if hosting := entry.Hosting(); found && hosting != nil && len(hosting.DefaultBranch) > 0 {
			if !resolver.expired(entry.AssociatedAt) {
				logger.Debug(logMessageCachedConstant, zap.String(logFieldDefaultBranchConstant, hosting.DefaultBranch))
				handle.Hosting = hosting
				return handle, nil
			}
			logger.Debug(logMessageStaleConstant, zap.Time(logFieldAssociatedAtConstant, entry.AssociatedAt))
			staleAssociation = hosting
		}
	}

	remoteURL, remoteError := resolver.remotes.RemoteURL(executionContext, absolutePath, resolver.remoteName)
	if remoteError != nil {
		logger.Debug(logMessageNoRemoteConstant, zap.String(logFieldRemoteConstant, resolver.remoteName), zap.Error(remoteError))
		return handle, nil
	}

	remote, parseError := gitrepo.ParseRemoteURL(remoteURL)
	if parseError != nil || !resolver.supportsHost(remote.Host) {
		logger.Debug(logMessageUnsupportedRemoteConstant, zap.String(logFieldRemoteConstant, remoteURL), zap.String(logFieldHostConstant, remote.Host))
		return handle, nil
	}

	defaultBranch, branchError := resolver.branches.DefaultBranch(executionContext, remote.Owner, remote.Repository)
	if branchError != nil {
		if staleAssociation != nil && staleAssociation.Owner == remote.Owner && staleAssociation.Repository == remote.Repository {
			logger.Warn(logMessageStaleFallbackConstant, zap.String(logFieldDefaultBranchConstant, staleAssociation.DefaultBranch), zap.Error(branchError))
			handle.Hosting = staleAssociation
			return handle, nil
		}
		return handle, fmt.Errorf(defaultBranchErrorTemplateConstant, remote.FullName(), branchError)
	}

	handle.Hosting = &pruning.HostingAssociation{Owner: remote.Owner, Repository: remote.Repository, DefaultBranch: defaultBranch}
	if associateError := resolver.associations.Associate(executionContext, handle); associateError != nil {
		return handle, fmt.Errorf(associateErrorTemplateConstant, absolutePath, associateError)
	}

	logger.Info(logMessageAssociatedConstant, zap.String(logFieldFullNameConstant, remote.FullName()), zap.String(logFieldDefaultBranchConstant, defaultBranch))
	return handle, nil
}

func (resolver *Resolver) expired(associatedAt time.Time) bool {
	if resolver.associationTTL <= 0 {
		return false
	}
	return resolver.clock.Now().Sub(associatedAt) > resolver.associationTTL
}

func (resolver *Resolver) supportsHost(host string) bool {
	_, supported := resolver.hosts[strings.ToLower(host)]
	return supported
}
