// Package repoindex implements the promotion-consistency engine: it
// loads a repository's public and staged package indexes into an
// in-memory graph, lowers that graph into a boolean satisfiability
// problem, solves for the largest set of staged updates that can be
// promoted without breaking any already-served package's dependencies,
// and hands the resulting selection back for writing.
//
// The package has no knowledge of disk formats, locking, or version
// string grammars; those are supplied by the collaborator interfaces
// in collaborators.go and implemented by internal/diskrepo.
package repoindex
