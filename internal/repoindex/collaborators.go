package repoindex

// This file names the external collaborators the core consistency
// engine depends on but does not implement. internal/diskrepo
// provides the default, disk-backed
// implementations; tests provide in-memory fakes.

// PackageDict is the upstream package metadata record the engine
// retains a reference to but never interprets beyond the fields named
// here. Meta is carried along unexamined and never read by the engine;
// the metadata blob handed to the flusher is Repository.MetaBlob.
type PackageDict struct {
	Pkgver        string
	Provides      []string
	ShlibProvides []string
	ShlibRequires []string
	RunDepends    []string
	Meta          interface{}
}

// IndexReader enumerates the (pkgname -> record) pairs of one overlay
// of one repository.
type IndexReader interface {
	Entries() (map[string]*PackageDict, error)
}

// VersionOrderer totally orders pkgvers of the same pkgname. Order
// returns <0 if a is older than b, 0 if equal, >0 if a is newer.
type VersionOrderer interface {
	Order(a, b string) int
}

// PatternMatcher is the external dependency-pattern matcher the
// engine consults for names, version matches, and pkgver parsing.
type PatternMatcher interface {
	// NameOfPattern extracts the package name from a dependency pattern
	// such as "awk>=0". Returns an error if no name can be extracted.
	NameOfPattern(pattern string) (string, error)
	// Match reports whether pkgver satisfies pattern.
	Match(pkgver, pattern string) bool
	// NameOfPkgver extracts the package name from a "name-version"
	// pkgver string.
	NameOfPkgver(pkgver string) (string, error)
}

// Locker acquires the exclusive, process-wide lock on one repository
// directory for the duration of one invocation. A lock held elsewhere
// is an error, not a wait: the engine aborts on contention.
type Locker interface {
	Lock(repoPath string) (unlock func() error, err error)
}

// RepoWriter flushes one repository's newly selected index to disk.
type RepoWriter interface {
	Flush(repoPath string, entries map[string]*PackageDict, metaBlob []byte, compression string) error
}

// Repository is one opened (repo, {public, stage}) pair, as produced by
// an Opener.
type Repository struct {
	Path     string
	Public   IndexReader
	Stage    IndexReader
	MetaBlob []byte
}

// Opener opens the public and stage overlays for one repository path.
// An overlay absent on disk must be surfaced as a Repository whose
// Public/Stage is an IndexReader returning an empty map, not as an
// error.
type Opener func(repoPath string) (*Repository, error)
