// Package cli constructs the prunekeeper command-line interface, wiring the
// Cobra command hierarchy, the layered configuration loader, and structured
// logging around the prune and status commands.
package cli
