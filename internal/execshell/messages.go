package execshell

import (
	"fmt"
	"strings"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	commandLabelTemplateConstant            = "%s%s"
	commandWithArgumentsTemplateConstant    = "%s %s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	commandArgumentsJoinSeparatorConstant   = " "
	standardErrorSuffixTemplateConstant     = ": %s"
	unknownFailureMessageConstant           = "unknown error"
	emptyStringConstant                     = ""
	defaultWorkingDirectoryLabelConstant    = "current directory"
	fallbackUnknownValueLabelConstant       = "unknown"
	flagPrefixConstant                      = "-"
)

const (
	gitForEachRefSubcommandNameConstant   = "for-each-ref"
	gitMergeBaseSubcommandNameConstant    = "merge-base"
	gitIsAncestorFlagConstant             = "--is-ancestor"
	gitRemoteSubcommandNameConstant       = "remote"
	gitRemoteGetURLSubcommandNameConstant = "get-url"
	gitUpdateRefSubcommandNameConstant    = "update-ref"
	gitDeleteShortFlagConstant            = "-d"
	gitLocalHeadsPrefixConstant           = "refs/heads/"
	gitReflogSubcommandNameConstant       = "reflog"
	gitSymbolicRefSubcommandNameConstant  = "symbolic-ref"
)

const (
	gitCurrentBranchStartTemplateConstant             = "Identifying current branch in %s"
	gitCurrentBranchSuccessTemplateConstant           = "Current branch in %s is %s"
	gitCurrentBranchFailureTemplateConstant           = "Failed to identify current branch in %s (exit code %d%s)"
	gitCurrentBranchExecutionFailureTemplateConstant  = "Unable to identify current branch in %s: %s"
	gitBranchListStartTemplateConstant                = "Listing local branches in %s"
	gitBranchListSuccessTemplateConstant              = "Listed local branches in %s"
	gitBranchListFailureTemplateConstant              = "Failed to list local branches in %s (exit code %d%s)"
	gitBranchListExecutionFailureTemplateConstant     = "Unable to list local branches in %s: %s"
	gitAncestryStartTemplateConstant                  = "Checking whether %s is merged into %s in %s"
	gitAncestrySuccessTemplateConstant                = "%s is merged into %s in %s"
	gitAncestryNotMergedTemplateConstant              = "%s is not merged into %s in %s"
	gitAncestryFailureTemplateConstant                = "Failed to compare %s with %s in %s (exit code %d%s)"
	gitAncestryExecutionFailureTemplateConstant       = "Unable to compare %s with %s in %s: %s"
	gitBranchDeletionStartTemplateConstant            = "Removing local branch %s in %s"
	gitBranchDeletionSuccessTemplateConstant          = "Removed local branch %s in %s"
	gitBranchDeletionFailureTemplateConstant          = "Failed to remove local branch %s in %s (exit code %d%s)"
	gitBranchDeletionExecutionFailureTemplateConstant = "Unable to remove local branch %s in %s: %s"
	gitReflogStartTemplateConstant                    = "Reading checkout history in %s"
	gitReflogSuccessTemplateConstant                  = "Read checkout history in %s"
	gitReflogFailureTemplateConstant                  = "Failed to read checkout history in %s (exit code %d%s)"
	gitReflogExecutionFailureTemplateConstant         = "Unable to read checkout history in %s: %s"
	gitRemoteLookupStartTemplateConstant              = "Checking %s remote for %s"
	gitRemoteLookupSuccessTemplateConstant            = "%s remote for %s points to %s"
	gitRemoteLookupFailureTemplateConstant            = "Failed to read %s remote for %s (exit code %d%s)"
	gitRemoteLookupExecutionFailureTemplateConstant   = "Unable to read %s remote for %s: %s"
	gitAncestryNotMergedExitCodeConstant              = 1
)

const (
	githubRepoSubcommandNameConstant                  = "repo"
	githubRepoViewSubcommandNameConstant              = "view"
	githubRepoViewIdentificationArgumentCountConstant = 2
	githubRepoViewStartTemplateConstant               = "Retrieving repository details for %s"
	githubRepoViewSuccessTemplateConstant             = "Retrieved repository details for %s"
	githubRepoViewFailureTemplateConstant             = "Failed to retrieve repository details for %s (exit code %d%s)"
	githubRepoViewExecutionFailureTemplateConstant    = "Unable to retrieve repository details for %s: %s"
)

// CommandMessageFormatter builds human-readable messages for command lifecycle events.
type CommandMessageFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage formats the message describing a completed command with a zero exit code.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageSuccess)
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) shouldLogStartMessage(command ShellCommand) bool {
	if command.Name != CommandGitHub {
		return true
	}
	return !formatter.isGitHubRepoViewCommand(command.Details.Arguments)
}

func (formatter CommandMessageFormatter) isGitHubRepoViewCommand(arguments []string) bool {
	if len(arguments) < githubRepoViewIdentificationArgumentCountConstant {
		return false
	}
	primaryArgument := strings.TrimSpace(arguments[0])
	secondaryArgument := strings.TrimSpace(arguments[1])
	return primaryArgument == githubRepoSubcommandNameConstant && secondaryArgument == githubRepoViewSubcommandNameConstant
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	switch command.Name {
	case CommandGit:
		return formatter.describeGitMessage(command, result, failure, stage)
	case CommandGitHub:
		return formatter.describeGitHubMessage(command, result, failure, stage)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	if len(command.Details.Arguments) == 0 {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	subcommand := strings.TrimSpace(command.Details.Arguments[0])
	switch subcommand {
	case gitSymbolicRefSubcommandNameConstant:
		return formatter.describeGitCurrentBranchMessage(command, result, failure, stage)
	case gitForEachRefSubcommandNameConstant:
		return formatter.describeGitBranchListMessage(command, result, failure, stage)
	case gitMergeBaseSubcommandNameConstant:
		return formatter.describeGitMergeBaseMessage(command, result, failure, stage)
	case gitUpdateRefSubcommandNameConstant:
		return formatter.describeGitBranchDeletionMessage(command, result, failure, stage)
	case gitReflogSubcommandNameConstant:
		return formatter.describeGitReflogMessage(command, result, failure, stage)
	case gitRemoteSubcommandNameConstant:
		return formatter.describeGitRemoteMessage(command, result, failure, stage)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitCurrentBranchMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	workingDirectory := formatter.describeWorkingDirectory(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitCurrentBranchStartTemplateConstant, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitCurrentBranchSuccessTemplateConstant, workingDirectory, formatter.ensureValue(result.StandardOutput))
	case messageStageFailure:
		return fmt.Sprintf(gitCurrentBranchFailureTemplateConstant, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitCurrentBranchExecutionFailureTemplateConstant, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitBranchListMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	workingDirectory := formatter.describeWorkingDirectory(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitBranchListStartTemplateConstant, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitBranchListSuccessTemplateConstant, workingDirectory)
	case messageStageFailure:
		return fmt.Sprintf(gitBranchListFailureTemplateConstant, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitBranchListExecutionFailureTemplateConstant, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitMergeBaseMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if !containsArgument(arguments, gitIsAncestorFlagConstant) {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	workingDirectory := formatter.describeWorkingDirectory(command)
	positional := formatter.positionalArguments(arguments[1:])
	ancestor := formatter.ensureValue(formatter.argumentAtIndex(positional, 0))
	descendant := formatter.ensureValue(formatter.argumentAtIndex(positional, 1))

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitAncestryStartTemplateConstant, ancestor, descendant, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitAncestrySuccessTemplateConstant, ancestor, descendant, workingDirectory)
	case messageStageFailure:
		if result.ExitCode == gitAncestryNotMergedExitCodeConstant {
			return fmt.Sprintf(gitAncestryNotMergedTemplateConstant, ancestor, descendant, workingDirectory)
		}
		return fmt.Sprintf(gitAncestryFailureTemplateConstant, ancestor, descendant, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitAncestryExecutionFailureTemplateConstant, ancestor, descendant, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitBranchDeletionMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	reference := strings.TrimSpace(formatter.argumentAtIndex(arguments, 2))
	if strings.TrimSpace(formatter.argumentAtIndex(arguments, 1)) != gitDeleteShortFlagConstant || !strings.HasPrefix(reference, gitLocalHeadsPrefixConstant) {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	workingDirectory := formatter.describeWorkingDirectory(command)
	branchName := formatter.ensureValue(strings.TrimPrefix(reference, gitLocalHeadsPrefixConstant))

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitBranchDeletionStartTemplateConstant, branchName, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitBranchDeletionSuccessTemplateConstant, branchName, workingDirectory)
	case messageStageFailure:
		return fmt.Sprintf(gitBranchDeletionFailureTemplateConstant, branchName, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitBranchDeletionExecutionFailureTemplateConstant, branchName, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitReflogMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	workingDirectory := formatter.describeWorkingDirectory(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitReflogStartTemplateConstant, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitReflogSuccessTemplateConstant, workingDirectory)
	case messageStageFailure:
		return fmt.Sprintf(gitReflogFailureTemplateConstant, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitReflogExecutionFailureTemplateConstant, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitRemoteMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) < 2 || strings.TrimSpace(arguments[1]) != gitRemoteGetURLSubcommandNameConstant {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	workingDirectory := formatter.describeWorkingDirectory(command)
	trimmedRemote := formatter.ensureValue(formatter.argumentAtIndex(arguments, 2))

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(gitRemoteLookupStartTemplateConstant, trimmedRemote, workingDirectory)
	case messageStageSuccess:
		return fmt.Sprintf(gitRemoteLookupSuccessTemplateConstant, trimmedRemote, workingDirectory, formatter.ensureValue(result.StandardOutput))
	case messageStageFailure:
		return fmt.Sprintf(gitRemoteLookupFailureTemplateConstant, trimmedRemote, workingDirectory, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(gitRemoteLookupExecutionFailureTemplateConstant, trimmedRemote, workingDirectory, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitHubMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) < 3 || !formatter.isGitHubRepoViewCommand(arguments) {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	repository := formatter.ensureValue(arguments[2])
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(githubRepoViewStartTemplateConstant, repository)
	case messageStageSuccess:
		return fmt.Sprintf(githubRepoViewSuccessTemplateConstant, repository)
	case messageStageFailure:
		return fmt.Sprintf(githubRepoViewFailureTemplateConstant, repository, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(githubRepoViewExecutionFailureTemplateConstant, repository, formatter.describeFailure(failure))
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) buildGenericMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	commandLabel := formatter.formatCommandLabel(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(genericStartTemplateConstant, commandLabel)
	case messageStageSuccess:
		return fmt.Sprintf(genericSuccessTemplateConstant, commandLabel)
	case messageStageFailure:
		return fmt.Sprintf(genericFailureTemplateConstant, commandLabel, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, commandLabel, formatter.describeFailure(failure))
	default:
		return emptyStringConstant
	}
}

func (formatter CommandMessageFormatter) formatCommandLabel(command ShellCommand) string {
	commandLabel := string(command.Name)
	if len(command.Details.Arguments) > 0 {
		commandLabel = fmt.Sprintf(commandWithArgumentsTemplateConstant, commandLabel, strings.Join(command.Details.Arguments, commandArgumentsJoinSeparatorConstant))
	}
	return fmt.Sprintf(commandLabelTemplateConstant, commandLabel, formatter.formatWorkingDirectorySuffix(command))
}

func (formatter CommandMessageFormatter) formatWorkingDirectorySuffix(command ShellCommand) string {
	trimmedWorkingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(workingDirectorySuffixTemplateConstant, trimmedWorkingDirectory)
}

func (formatter CommandMessageFormatter) formatStandardErrorSuffix(standardError string) string {
	trimmedStandardError := strings.TrimSpace(standardError)
	if len(trimmedStandardError) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmedStandardError)
}

func (formatter CommandMessageFormatter) describeWorkingDirectory(command ShellCommand) string {
	trimmedWorkingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return defaultWorkingDirectoryLabelConstant
	}
	return trimmedWorkingDirectory
}

func (formatter CommandMessageFormatter) describeFailure(failure error) string {
	if failure == nil {
		return unknownFailureMessageConstant
	}
	return failure.Error()
}

func containsArgument(arguments []string, value string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == value {
			return true
		}
	}
	return false
}

func (formatter CommandMessageFormatter) argumentAtIndex(arguments []string, index int) string {
	if index >= 0 && index < len(arguments) {
		return arguments[index]
	}
	return emptyStringConstant
}

func (formatter CommandMessageFormatter) ensureValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		return fallbackUnknownValueLabelConstant
	}
	return trimmed
}

func (formatter CommandMessageFormatter) positionalArguments(arguments []string) []string {
	positional := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		trimmed := strings.TrimSpace(argument)
		if len(trimmed) == 0 || strings.HasPrefix(trimmed, flagPrefixConstant) {
			continue
		}
		positional = append(positional, trimmed)
	}
	return positional
}
