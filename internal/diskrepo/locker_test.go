package diskrepo

import (
	"io/ioutil"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
)

func TestFileLockerLockUnlock(t *testing.T) {
	dir, err := ioutil.TempDir("", "index-repos-test")
	if err != nil {
		t.Fatalf("TempDir: %s", err)
	}
	defer os.RemoveAll(dir)

	l := FileLocker{}
	unlock, err := l.Lock(dir)
	if err != nil {
		t.Fatalf("Lock: %s", err)
	}
	if unlock == nil {
		t.Fatal("expected a non-nil unlock function")
	}
	if err := unlock(); err != nil {
		t.Fatalf("Unlock: %s", err)
	}

	// Re-acquiring after release must succeed; the lock file itself
	// persists on disk, only the exclusive hold is released.
	unlock2, err := l.Lock(dir)
	if err != nil {
		t.Fatalf("re-Lock after Unlock: %s", err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("second Unlock: %s", err)
	}
}

func TestFileLockerContentionFails(t *testing.T) {
	// A lock already held by another indexer must fail immediately with
	// EWOULDBLOCK rather than blocking until the holder releases it.
	// flock treats separately opened descriptors for the same file as
	// independent holders, so a second Lock in the same process contends
	// the same way a second process would.
	dir, err := ioutil.TempDir("", "index-repos-test")
	if err != nil {
		t.Fatalf("TempDir: %s", err)
	}
	defer os.RemoveAll(dir)

	l := FileLocker{}
	unlock, err := l.Lock(dir)
	if err != nil {
		t.Fatalf("Lock: %s", err)
	}

	if _, err := l.Lock(dir); err == nil {
		t.Fatal("expected Lock on a held lock to fail")
	} else if errors.Cause(err) != syscall.EWOULDBLOCK {
		t.Errorf("expected EWOULDBLOCK as the cause, got %v", errors.Cause(err))
	}

	if err := unlock(); err != nil {
		t.Fatalf("Unlock: %s", err)
	}

	// The lock must be acquirable again once the holder releases it.
	unlock2, err := l.Lock(dir)
	if err != nil {
		t.Fatalf("Lock after release: %s", err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("second Unlock: %s", err)
	}
}
