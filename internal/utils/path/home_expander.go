// Package pathutils resolves user-supplied filesystem paths.
package pathutils

import (
	"os"
	"path/filepath"
	"strings"
)

const homeShortcutConstant = "~"

// HomeDirectoryLookup reports the current user's home directory.
type HomeDirectoryLookup func() (string, error)

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// Paths such as "~other/x" and paths whose home cannot be resolved are
// returned unchanged.
func ExpandHome(candidatePath string) string {
	return ExpandHomeWithLookup(candidatePath, os.UserHomeDir)
}

// ExpandHomeWithLookup is ExpandHome with a custom home directory source.
func ExpandHomeWithLookup(candidatePath string, lookup HomeDirectoryLookup) string {
	if !strings.HasPrefix(candidatePath, homeShortcutConstant) {
		return candidatePath
	}
	remainder := strings.TrimPrefix(candidatePath, homeShortcutConstant)
	if len(remainder) > 0 && remainder[0] != '/' && remainder[0] != os.PathSeparator {
		return candidatePath
	}
	if lookup == nil {
		lookup = os.UserHomeDir
	}
	homeDirectory, lookupError := lookup()
	if lookupError != nil || len(homeDirectory) == 0 {
		return candidatePath
	}
	return filepath.Join(homeDirectory, remainder)
}

// ExpandAll applies ExpandHome to every path.
func ExpandAll(candidatePaths []string) []string {
	expanded := make([]string, 0, len(candidatePaths))
	for _, candidatePath := range candidatePaths {
		expanded = append(expanded, ExpandHome(candidatePath))
	}
	return expanded
}
