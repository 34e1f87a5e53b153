package execshell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const environmentAssignmentSeparatorConstant = "="

// OSCommandRunner starts processes through os/exec.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs an OSCommandRunner.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{}
}

// Run starts the command and waits for it. A non-zero exit is reported through
// ExecutionResult.ExitCode; only start failures and cancellation return an error.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	process.Dir = command.Details.WorkingDirectory
	if len(command.Details.EnvironmentVariables) > 0 {
		process.Env = mergeEnvironment(os.Environ(), command.Details.EnvironmentVariables)
	}

	var standardOutput strings.Builder
	var standardError strings.Builder
	process.Stdout = &standardOutput
	process.Stderr = &standardError

	result := ExecutionResult{}
	runError := process.Run()
	result.StandardOutput = standardOutput.String()
	result.StandardError = standardError.String()
	if runError == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) && executionContext.Err() == nil {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	if contextError := executionContext.Err(); contextError != nil {
		return ExecutionResult{}, contextError
	}
	return ExecutionResult{}, runError
}

// mergeEnvironment appends overrides in key order so later entries win for
// duplicate names.
func mergeEnvironment(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := append([]string{}, base...)
	for _, key := range keys {
		merged = append(merged, key+environmentAssignmentSeparatorConstant+overrides[key])
	}
	return merged
}
