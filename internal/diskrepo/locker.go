// Package diskrepo provides the disk-backed implementations of the
// collaborator interfaces internal/repoindex depends on but does not
// implement itself: locking, version ordering, dependency-pattern
// matching, and TOML-based index I/O.
package diskrepo

import (
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	flock "github.com/theckman/go-flock"
)

// FileLocker acquires one exclusive lock file per repository directory
// for the duration of one engine invocation, so two concurrent
// invocations against the same repository serialize instead of racing
// on the on-disk index files.
type FileLocker struct{}

// Lock acquires repoPath/.repodata.lock without blocking: a lock
// already held by another indexer is a failure, not a wait. Contention
// is reported as EWOULDBLOCK so the caller can map it to an exit code.
func (FileLocker) Lock(repoPath string) (func() error, error) {
	fl := flock.NewFlock(filepath.Join(repoPath, ".repodata.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "locking %s", repoPath)
	}
	if !locked {
		return nil, errors.Wrapf(syscall.EWOULDBLOCK, "locking %s: already held", repoPath)
	}
	return fl.Unlock, nil
}
