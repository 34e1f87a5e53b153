package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	gitMetadataDirectoryNameConstant      = ".git"
	invalidExcludePatternTemplateConstant = "invalid exclude pattern %q"
	walkErrorTemplateConstant             = "failed to walk %s: %w"
)

// FilesystemRepositoryDiscoverer locates git working copies on disk.
type FilesystemRepositoryDiscoverer struct {
	excludePatterns []string
}

// NewFilesystemRepositoryDiscoverer constructs a repository discoverer backed by
// filepath.WalkDir. Directories whose slash-separated path relative to the
// walked root matches one of the exclude patterns are not descended into.
func NewFilesystemRepositoryDiscoverer(excludePatterns ...string) (*FilesystemRepositoryDiscoverer, error) {
	sanitizedPatterns := make([]string, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if len(trimmedPattern) == 0 {
			continue
		}
		if !doublestar.ValidatePattern(trimmedPattern) {
			return nil, fmt.Errorf(invalidExcludePatternTemplateConstant, trimmedPattern)
		}
		sanitizedPatterns = append(sanitizedPatterns, trimmedPattern)
	}
	return &FilesystemRepositoryDiscoverer{excludePatterns: sanitizedPatterns}, nil
}

// DiscoverRepositories walks the provided roots and returns the sorted absolute
// paths of directories containing a .git entry. Nested roots are reported once.
func (discoverer *FilesystemRepositoryDiscoverer) DiscoverRepositories(executionContext context.Context, roots []string) ([]string, error) {
	seen := make(map[string]struct{})
	repositories := []string{}

	for _, root := range roots {
		absoluteRoot, absoluteError := filepath.Abs(root)
		if absoluteError != nil {
			return nil, fmt.Errorf(walkErrorTemplateConstant, root, absoluteError)
		}

		walkError := filepath.WalkDir(absoluteRoot, func(path string, directoryEntry fs.DirEntry, walkError error) error {
			if contextError := executionContext.Err(); contextError != nil {
				return contextError
			}
			if walkError != nil {
				return nil
			}

			if directoryEntry.IsDir() && path != absoluteRoot && discoverer.isExcluded(absoluteRoot, path) {
				return fs.SkipDir
			}

			if directoryEntry.Name() != gitMetadataDirectoryNameConstant {
				return nil
			}

			repositoryPath := filepath.Dir(path)
			if _, alreadySeen := seen[repositoryPath]; !alreadySeen {
				seen[repositoryPath] = struct{}{}
				repositories = append(repositories, repositoryPath)
			}

			if directoryEntry.IsDir() {
				return fs.SkipDir
			}
			return nil
		})
		if walkError != nil {
			return nil, fmt.Errorf(walkErrorTemplateConstant, absoluteRoot, walkError)
		}
	}

	sort.Strings(repositories)
	return repositories, nil
}

func (discoverer *FilesystemRepositoryDiscoverer) isExcluded(root string, path string) bool {
	relativePath, relativeError := filepath.Rel(root, path)
	if relativeError != nil {
		return false
	}
	slashPath := filepath.ToSlash(relativePath)
	for _, pattern := range discoverer.excludePatterns {
		if matched, _ := doublestar.Match(pattern, slashPath); matched {
			return true
		}
	}
	return false
}
