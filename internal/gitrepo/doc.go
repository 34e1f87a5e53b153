// Package gitrepo implements the version-control gateway used by pruning on top
// of the git command line.
//
// BranchGateway lists local branches and answers ancestry queries through
// merge-base. It deletes branches with update-ref guarded by the evaluated tip
// and reads the reflog to find recently checked-out branches. ParseRemoteURL
// turns remote URLs into owner and repository pairs for hosting resolution.
package gitrepo
