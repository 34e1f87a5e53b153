// Package execshell provides structured helpers for invoking external tools.
//
// It wraps os/exec with logging via ShellExecutor, exposes OSCommandRunner for
// default process execution, and describes git and gh invocations in plain
// language so that pruning runs produce readable diagnostics.
package execshell
