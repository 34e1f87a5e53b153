package pruning

import "sync"

// RepositoryLocks serializes pruning runs that target the same repository.
type RepositoryLocks struct {
	guard sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRepositoryLocks constructs an empty lock set.
func NewRepositoryLocks() *RepositoryLocks {
	return &RepositoryLocks{locks: map[string]*sync.Mutex{}}
}

// Acquire blocks until the repository lock is held and returns its release function.
func (repositoryLocks *RepositoryLocks) Acquire(repositoryID string) func() {
	repositoryLocks.guard.Lock()
	if repositoryLocks.locks == nil {
		repositoryLocks.locks = map[string]*sync.Mutex{}
	}
	repositoryLock, exists := repositoryLocks.locks[repositoryID]
	if !exists {
		repositoryLock = &sync.Mutex{}
		repositoryLocks.locks[repositoryID] = repositoryLock
	}
	repositoryLocks.guard.Unlock()

	repositoryLock.Lock()
	return repositoryLock.Unlock
}
