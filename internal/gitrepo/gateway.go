package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/temirov/prunekeeper/internal/execshell"
	"github.com/temirov/prunekeeper/internal/pruning"
)

const (
	gitExecutorMissingMessageConstant           = "git executor not configured"
	repositoryPathRequiredMessageConstant       = "repository path must be provided"
	branchNameRequiredMessageConstant           = "branch name must be provided"
	listBranchesErrorTemplateConstant           = "failed to list branches: %w"
	malformedBranchRecordTemplateConstant       = "malformed branch record %q"
	ancestryErrorTemplateConstant               = "failed to compare %s with %s: %w"
	currentBranchErrorTemplateConstant          = "failed to resolve current branch: %w"
	reflogErrorTemplateConstant                 = "failed to read reflog: %w"
	remoteURLErrorTemplateConstant              = "failed to read url of remote %s: %w"
	gitForEachRefSubcommandConstant             = "for-each-ref"
	gitBranchFormatConstant                     = "--format=%(refname:short)%1f%(objectname)%1f%(upstream:short)%1f%(committerdate:unix)"
	gitLocalHeadsNamespaceConstant              = "refs/heads"
	gitMergeBaseSubcommandConstant              = "merge-base"
	gitIsAncestorFlagConstant                   = "--is-ancestor"
	gitUpdateRefSubcommandConstant              = "update-ref"
	gitDeleteFlagConstant                       = "-d"
	gitLocalHeadsPrefixConstant                 = "refs/heads/"
	gitConfigSubcommandConstant                 = "config"
	gitRemoveSectionFlagConstant                = "--remove-section"
	gitBranchSectionPrefixConstant              = "branch."
	gitSymbolicRefSubcommandConstant            = "symbolic-ref"
	gitQuietFlagConstant                        = "--quiet"
	gitShortFlagConstant                        = "--short"
	gitHeadReferenceConstant                    = "HEAD"
	gitReflogSubcommandConstant                 = "reflog"
	gitReflogShowSubcommandConstant             = "show"
	gitReflogDateFlagConstant                   = "--date=unix"
	gitReflogFormatConstant                     = "--format=%gd%x1f%gs"
	gitReflogLimitFlagTemplateConstant          = "--max-count=%d"
	gitRemoteSubcommandConstant                 = "remote"
	gitRemoteGetURLSubcommandConstant           = "get-url"
	gitTerminalPromptEnvironmentNameConstant    = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptEnvironmentDisableConstant = "0"
	recordFieldSeparatorConstant                = "\x1f"
	branchRecordFieldCountConstant              = 4
	reflogRecordFieldCountConstant              = 2
	notAncestorExitCodeConstant                 = 1
	detachedHeadExitCodeConstant                = 1
	defaultReflogLimitConstant                  = 1000
)

var (
	// ErrGitExecutorNotConfigured indicates the gateway was constructed without an executor.
	ErrGitExecutorNotConfigured = errors.New(gitExecutorMissingMessageConstant)
	// ErrRepositoryPathRequired indicates an operation received an empty repository path.
	ErrRepositoryPathRequired = errors.New(repositoryPathRequiredMessageConstant)
	// ErrBranchNameRequired indicates a deletion received an empty branch name.
	ErrBranchNameRequired = errors.New(branchNameRequiredMessageConstant)
)

var reflogCheckoutPattern = regexp.MustCompile(`^checkout: moving from .+ to (\S+)$`)

var reflogSelectorTimestampPattern = regexp.MustCompile(`@\{(\d+)\}$`)

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// BranchGateway implements pruning.VcsGateway and pruning.CheckoutHistory
// using the git command line.
type BranchGateway struct {
	executor    GitExecutor
	reflogLimit int
}

// NewBranchGateway constructs a BranchGateway.
func NewBranchGateway(executor GitExecutor) (*BranchGateway, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &BranchGateway{executor: executor, reflogLimit: defaultReflogLimitConstant}, nil
}

// ListBranches returns local branches in ref order.
func (gateway *BranchGateway) ListBranches(executionContext context.Context, repositoryPath string) ([]pruning.Branch, error) {
	result, executionError := gateway.run(executionContext, repositoryPath, gitForEachRefSubcommandConstant, gitBranchFormatConstant, gitLocalHeadsNamespaceConstant)
	if executionError != nil {
		return nil, fmt.Errorf(listBranchesErrorTemplateConstant, executionError)
	}

	branches := []pruning.Branch{}
	for _, line := range strings.Split(result.StandardOutput, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if len(trimmedLine) == 0 {
			continue
		}
		branch, parseError := parseBranchRecord(trimmedLine)
		if parseError != nil {
			return nil, fmt.Errorf(listBranchesErrorTemplateConstant, parseError)
		}
		branches = append(branches, branch)
	}
	return branches, nil
}

// IsAncestor reports whether ancestorReference is reachable from descendantReference.
func (gateway *BranchGateway) IsAncestor(executionContext context.Context, repositoryPath string, ancestorReference string, descendantReference string) (bool, error) {
	_, executionError := gateway.run(executionContext, repositoryPath, gitMergeBaseSubcommandConstant, gitIsAncestorFlagConstant, ancestorReference, descendantReference)
	if executionError == nil {
		return true, nil
	}

	var failedError execshell.CommandFailedError
	if errors.As(executionError, &failedError) && failedError.Result.ExitCode == notAncestorExitCodeConstant {
		return false, nil
	}
	return false, fmt.Errorf(ancestryErrorTemplateConstant, ancestorReference, descendantReference, executionError)
}

// DeleteLocalBranch removes refs/heads/<branchName> with update-ref. Merge
// status is decided by the caller against the default branch, so git's
// HEAD-relative check of `branch -d` is not applied. When expectedTip is set
// git refuses the deletion if the branch moved since it was evaluated.
func (gateway *BranchGateway) DeleteLocalBranch(executionContext context.Context, repositoryPath string, branchName string, expectedTip string) error {
	trimmedBranchName := strings.TrimSpace(branchName)
	if len(trimmedBranchName) == 0 {
		return ErrBranchNameRequired
	}

	arguments := []string{gitUpdateRefSubcommandConstant, gitDeleteFlagConstant, gitLocalHeadsPrefixConstant + trimmedBranchName}
	if trimmedTip := strings.TrimSpace(expectedTip); len(trimmedTip) > 0 {
		arguments = append(arguments, trimmedTip)
	}
	if _, executionError := gateway.run(executionContext, repositoryPath, arguments...); executionError != nil {
		return executionError
	}

	// Upstream tracking settings go with the branch; most branches have none.
	_, _ = gateway.run(executionContext, repositoryPath, gitConfigSubcommandConstant, gitRemoveSectionFlagConstant, gitBranchSectionPrefixConstant+trimmedBranchName)
	return nil
}

// CurrentBranch returns the checked-out branch. A detached HEAD yields a zero Branch.
func (gateway *BranchGateway) CurrentBranch(executionContext context.Context, repositoryPath string) (pruning.Branch, error) {
	result, executionError := gateway.run(executionContext, repositoryPath, gitSymbolicRefSubcommandConstant, gitQuietFlagConstant, gitShortFlagConstant, gitHeadReferenceConstant)
	if executionError != nil {
		var failedError execshell.CommandFailedError
		if errors.As(executionError, &failedError) && failedError.Result.ExitCode == detachedHeadExitCodeConstant {
			return pruning.Branch{}, nil
		}
		return pruning.Branch{}, fmt.Errorf(currentBranchErrorTemplateConstant, executionError)
	}
	return pruning.Branch{Name: strings.TrimSpace(result.StandardOutput), IsCurrent: true}, nil
}

// RecentCheckouts returns branch checkouts recorded in the HEAD reflog, newest first.
func (gateway *BranchGateway) RecentCheckouts(executionContext context.Context, repositoryPath string) ([]pruning.BranchCheckout, error) {
	result, executionError := gateway.run(
		executionContext,
		repositoryPath,
		gitReflogSubcommandConstant,
		gitReflogShowSubcommandConstant,
		gitReflogDateFlagConstant,
		gitReflogFormatConstant,
		fmt.Sprintf(gitReflogLimitFlagTemplateConstant, gateway.reflogLimit),
		gitHeadReferenceConstant,
	)
	if executionError != nil {
		return nil, fmt.Errorf(reflogErrorTemplateConstant, executionError)
	}
	return parseReflogCheckouts(result.StandardOutput), nil
}

// RemoteURL returns the fetch URL of the named remote.
func (gateway *BranchGateway) RemoteURL(executionContext context.Context, repositoryPath string, remoteName string) (string, error) {
	result, executionError := gateway.run(executionContext, repositoryPath, gitRemoteSubcommandConstant, gitRemoteGetURLSubcommandConstant, remoteName)
	if executionError != nil {
		return "", fmt.Errorf(remoteURLErrorTemplateConstant, remoteName, executionError)
	}
	return strings.TrimSpace(result.StandardOutput), nil
}

func (gateway *BranchGateway) run(executionContext context.Context, repositoryPath string, arguments ...string) (execshell.ExecutionResult, error) {
	if len(strings.TrimSpace(repositoryPath)) == 0 {
		return execshell.ExecutionResult{}, ErrRepositoryPathRequired
	}
	return gateway.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            arguments,
		WorkingDirectory:     repositoryPath,
		EnvironmentVariables: map[string]string{gitTerminalPromptEnvironmentNameConstant: gitTerminalPromptEnvironmentDisableConstant},
	})
}

func parseBranchRecord(record string) (pruning.Branch, error) {
	fields := strings.Split(record, recordFieldSeparatorConstant)
	if len(fields) != branchRecordFieldCountConstant || len(fields[0]) == 0 {
		return pruning.Branch{}, fmt.Errorf(malformedBranchRecordTemplateConstant, record)
	}

	branch := pruning.Branch{
		Name:     fields[0],
		Tip:      pruning.CommitReference{Hash: fields[1]},
		Upstream: fields[2],
	}
	if seconds, parseError := strconv.ParseInt(fields[3], 10, 64); parseError == nil {
		branch.LastCommitTime = time.Unix(seconds, 0).UTC()
	}
	return branch, nil
}

func parseReflogCheckouts(output string) []pruning.BranchCheckout {
	checkouts := []pruning.BranchCheckout{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), recordFieldSeparatorConstant, reflogRecordFieldCountConstant)
		if len(fields) != reflogRecordFieldCountConstant {
			continue
		}
		checkoutMatch := reflogCheckoutPattern.FindStringSubmatch(fields[1])
		if checkoutMatch == nil {
			continue
		}
		timestampMatch := reflogSelectorTimestampPattern.FindStringSubmatch(fields[0])
		if timestampMatch == nil {
			continue
		}
		seconds, parseError := strconv.ParseInt(timestampMatch[1], 10, 64)
		if parseError != nil {
			continue
		}
		checkouts = append(checkouts, pruning.BranchCheckout{BranchName: checkoutMatch[1], CheckedOut: time.Unix(seconds, 0).UTC()})
	}
	return checkouts
}
