// Package registry persists per-repository prune state and hosting
// associations in a YAML document.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temirov/prunekeeper/internal/pruning"
)

const (
	registryPathRequiredMessageConstant = "registry path must be provided"
	repositoryIDRequiredMessageConstant = "repository identifier must be provided"
	registryReadErrorTemplateConstant   = "failed to read registry %s: %w"
	registryDecodeErrorTemplateConstant = "failed to decode registry %s: %w"
	registryWriteErrorTemplateConstant  = "failed to write registry %s: %w"
	temporaryFilePatternConstant        = ".registry-*.yaml"
	registryDirectoryPermissionConstant = 0o755
	registryFilePermissionConstant      = 0o644
)

var (
	// ErrRegistryPathRequired indicates the registry was constructed without a file path.
	ErrRegistryPathRequired = errors.New(registryPathRequiredMessageConstant)
	// ErrRepositoryIDRequired indicates an operation received an empty repository identifier.
	ErrRepositoryIDRequired = errors.New(repositoryIDRequiredMessageConstant)
)

// Entry is the persisted record of one repository.
type Entry struct {
	RepositoryID       string    `yaml:"repository_id"`
	Path               string    `yaml:"path,omitempty"`
	Owner              string    `yaml:"owner,omitempty"`
	Repository         string    `yaml:"repository,omitempty"`
	DefaultBranch      string    `yaml:"default_branch,omitempty"`
	AssociatedAt       time.Time `yaml:"associated_at,omitempty"`
	LastPruneTimestamp time.Time `yaml:"last_prune,omitempty"`
}

// Hosting returns the hosting association recorded for the entry, or nil.
func (entry Entry) Hosting() *pruning.HostingAssociation {
	if len(entry.Owner) == 0 || len(entry.Repository) == 0 {
		return nil
	}
	return &pruning.HostingAssociation{Owner: entry.Owner, Repository: entry.Repository, DefaultBranch: entry.DefaultBranch}
}

type document struct {
	UpdatedAt    time.Time `yaml:"updated_at,omitempty"`
	Repositories []Entry   `yaml:"repositories"`
}

func (registryDocument *document) find(repositoryID string) *Entry {
	for index := range registryDocument.Repositories {
		if registryDocument.Repositories[index].RepositoryID == repositoryID {
			return &registryDocument.Repositories[index]
		}
	}
	return nil
}

func (registryDocument *document) upsert(repositoryID string) *Entry {
	if existing := registryDocument.find(repositoryID); existing != nil {
		return existing
	}
	registryDocument.Repositories = append(registryDocument.Repositories, Entry{RepositoryID: repositoryID})
	return &registryDocument.Repositories[len(registryDocument.Repositories)-1]
}

// FileRegistry implements pruning.RepositoryRegistry on top of a YAML file.
// Every operation reloads the file so that concurrent processes observe each
// other's writes.
type FileRegistry struct {
	path  string
	clock pruning.Clock
	mutex sync.Mutex
}

// NewFileRegistry constructs a FileRegistry bound to path.
func NewFileRegistry(path string, clock pruning.Clock) (*FileRegistry, error) {
	trimmedPath := strings.TrimSpace(path)
	if len(trimmedPath) == 0 {
		return nil, ErrRegistryPathRequired
	}
	if clock == nil {
		clock = pruning.SystemClock{}
	}
	return &FileRegistry{path: trimmedPath, clock: clock}, nil
}

// Path returns the registry file location.
func (registry *FileRegistry) Path() string {
	return registry.path
}

// GetPruneState returns the prune state of a repository. Unknown repositories
// report a zero timestamp.
func (registry *FileRegistry) GetPruneState(executionContext context.Context, repositoryID string) (pruning.PruneState, error) {
	entry, _, lookupError := registry.Lookup(executionContext, repositoryID)
	if lookupError != nil {
		return pruning.PruneState{}, lookupError
	}
	return pruning.PruneState{RepositoryID: repositoryID, LastPruneTimestamp: entry.LastPruneTimestamp}, nil
}

// SetLastPruneTimestamp records a prune run. A timestamp older than the stored
// one is ignored.
func (registry *FileRegistry) SetLastPruneTimestamp(executionContext context.Context, repositoryID string, timestamp time.Time) error {
	return registry.update(executionContext, repositoryID, func(entry *Entry) {
		if timestamp.After(entry.LastPruneTimestamp) {
			entry.LastPruneTimestamp = timestamp.UTC()
		}
	})
}

// Associate records the hosting association of a repository.
func (registry *FileRegistry) Associate(executionContext context.Context, repository pruning.RepositoryHandle) error {
	return registry.update(executionContext, repository.ID, func(entry *Entry) {
		entry.Path = repository.Path
		if repository.Hosting == nil {
			entry.Owner = ""
			entry.Repository = ""
			entry.DefaultBranch = ""
			return
		}
		entry.Owner = repository.Hosting.Owner
		entry.Repository = repository.Hosting.Repository
		entry.DefaultBranch = repository.Hosting.DefaultBranch
		entry.AssociatedAt = registry.clock.Now().UTC()
	})
}

// Lookup returns the entry of a repository and whether it exists.
func (registry *FileRegistry) Lookup(executionContext context.Context, repositoryID string) (Entry, bool, error) {
	if len(strings.TrimSpace(repositoryID)) == 0 {
		return Entry{}, false, ErrRepositoryIDRequired
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registryDocument, loadError := registry.load(executionContext)
	if loadError != nil {
		return Entry{}, false, loadError
	}
	entry := registryDocument.find(repositoryID)
	if entry == nil {
		return Entry{RepositoryID: repositoryID}, false, nil
	}
	return *entry, true, nil
}

// Entries returns all recorded repositories ordered by identifier.
func (registry *FileRegistry) Entries(executionContext context.Context) ([]Entry, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registryDocument, loadError := registry.load(executionContext)
	if loadError != nil {
		return nil, loadError
	}
	entries := append([]Entry{}, registryDocument.Repositories...)
	sort.Slice(entries, func(left int, right int) bool {
		return entries[left].RepositoryID < entries[right].RepositoryID
	})
	return entries, nil
}

func (registry *FileRegistry) update(executionContext context.Context, repositoryID string, mutate func(entry *Entry)) error {
	if len(strings.TrimSpace(repositoryID)) == 0 {
		return ErrRepositoryIDRequired
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registryDocument, loadError := registry.load(executionContext)
	if loadError != nil {
		return loadError
	}
	mutate(registryDocument.upsert(repositoryID))
	registryDocument.UpdatedAt = registry.clock.Now().UTC()
	return registry.save(executionContext, registryDocument)
}

func (registry *FileRegistry) load(executionContext context.Context) (*document, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}

	contents, readError := os.ReadFile(registry.path)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return &document{}, nil
		}
		return nil, fmt.Errorf(registryReadErrorTemplateConstant, registry.path, readError)
	}

	var registryDocument document
	if decodeError := yaml.Unmarshal(contents, &registryDocument); decodeError != nil {
		return nil, fmt.Errorf(registryDecodeErrorTemplateConstant, registry.path, decodeError)
	}
	return &registryDocument, nil
}

// save writes through a temporary file and rename so readers never observe a
// partially written document.
func (registry *FileRegistry) save(executionContext context.Context, registryDocument *document) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}

	contents, encodeError := yaml.Marshal(registryDocument)
	if encodeError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, encodeError)
	}

	directory := filepath.Dir(registry.path)
	if directoryError := os.MkdirAll(directory, registryDirectoryPermissionConstant); directoryError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, directoryError)
	}

	temporaryFile, createError := os.CreateTemp(directory, temporaryFilePatternConstant)
	if createError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, createError)
	}
	temporaryPath := temporaryFile.Name()
	defer os.Remove(temporaryPath)

	if _, writeError := temporaryFile.Write(contents); writeError != nil {
		temporaryFile.Close()
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, writeError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, closeError)
	}
	if chmodError := os.Chmod(temporaryPath, registryFilePermissionConstant); chmodError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, chmodError)
	}
	if renameError := os.Rename(temporaryPath, registry.path); renameError != nil {
		return fmt.Errorf(registryWriteErrorTemplateConstant, registry.path, renameError)
	}
	return nil
}
