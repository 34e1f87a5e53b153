// Package githubcli resolves repository metadata through the GitHub CLI.
//
// The client shells out to gh via execshell and decodes its JSON output into
// typed results. Failures are surfaced as OperationError,
// ResponseDecodingError, or InvalidInputError values.
package githubcli
