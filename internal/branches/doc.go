// Package branches exposes the prune and status commands.
//
// CommandBuilder wires repository discovery, the git gateway, the prune
// registry, hosting resolution and the scheduler into a Cobra command that
// deletes merged local branches. StatusCommandBuilder reports the registry.
// Collaborators lets tests replace the git and hosting boundaries.
package branches
