package repoindex

import (
	"github.com/xbps-tools/index-repos/internal/log"
)

// Overlay names which of the two logical views of a repository an
// IndexReader is being loaded into.
type Overlay uint8

const (
	OverlayPublic Overlay = iota
	OverlayStage
)

func (o Overlay) String() string {
	if o == OverlayPublic {
		return "public"
	}
	return "stage"
}

// Builder ingests repositories into a Graph.
type Builder struct {
	Graph   *Graph
	Orderer VersionOrderer
	Log     *log.Logger

	// SoftErr accumulates the sticky non-fatal diagnostics produced
	// while building the provider indexes (unparseable virtual entries
	// are skipped with a diagnostic).
	SoftErr bool

	// repoPaths names the origin repository for each repoIndex seen so
	// far, so resolveCollision's diagnostic can name it. Left unset by
	// callers that only care about the graph (e.g. tests feeding fake
	// readers with no path), in which case the diagnostic prints "?" in
	// place of the path rather than erroring.
	repoPaths map[int]string
}

// NewBuilder returns a Builder writing into g.
func NewBuilder(g *Graph, orderer VersionOrderer, logger *log.Logger) *Builder {
	return &Builder{Graph: g, Orderer: orderer, Log: logger, repoPaths: map[int]string{}}
}

// SetRepoPath records the origin path of repoIndex for use in
// resolveCollision's diagnostic. The orchestrator calls this once per
// repository, before the matching LoadRepo calls.
func (b *Builder) SetRepoPath(repoIndex int, path string) {
	b.repoPaths[repoIndex] = path
}

func (b *Builder) pathFor(repoIndex int) string {
	if path, ok := b.repoPaths[repoIndex]; ok {
		return path
	}
	return "?"
}

// LoadRepo ingests one (repo, overlay) pair.
func (b *Builder) LoadRepo(reader IndexReader, overlay Overlay, repoIndex int) error {
	entries, err := reader.Entries()
	if err != nil {
		return opFailure(err, "loading repo index")
	}

	for pkgname, dict := range entries {
		name := b.Graph.Interner.Intern(pkgname)
		node := b.Graph.nodeFor(name)

		candidate := &PackageRecord{
			Pkgver:    b.Graph.Interner.Intern(dict.Pkgver),
			Dict:      dict,
			RepoIndex: repoIndex,
		}

		var slot **PackageRecord
		if overlay == OverlayPublic {
			slot = &node.Public
		} else {
			slot = &node.Stage
		}

		if *slot == nil {
			*slot = candidate
			b.Graph.indexPkgver(candidate.Pkgver, node)
			continue
		}

		incumbent := *slot
		if b.resolveCollision(slot, candidate) {
			b.Graph.indexPkgver(candidate.Pkgver, node)
			b.Graph.dropPkgver(incumbent.Pkgver, node)
		}
	}

	return nil
}

// resolveCollision keeps the strictly greater version; on equal
// version, the incumbent stays. The comparator is injected via
// b.Orderer so an alternate policy can be substituted without touching
// this control flow. The diagnostic names both pkgvers and their
// origin repository. Reports whether candidate displaced the
// incumbent.
func (b *Builder) resolveCollision(slot **PackageRecord, candidate *PackageRecord) bool {
	incumbent := *slot
	order := b.Orderer.Order(candidate.Pkgver.String(), incumbent.Pkgver.String())

	if order > 0 {
		b.Log.Warnf("'%s' from '%s' is about to push out '%s' from '%s'",
			candidate.Pkgver, b.pathFor(candidate.RepoIndex), incumbent.Pkgver, b.pathFor(incumbent.RepoIndex))
		*slot = candidate
		return true
	}

	b.Log.Warnf("'%s' from '%s' is about to push out '%s' from '%s'",
		incumbent.Pkgver, b.pathFor(incumbent.RepoIndex), candidate.Pkgver, b.pathFor(candidate.RepoIndex))
	// incumbent kept; candidate's dict is simply dropped here, no
	// explicit release step needed in Go.
	return false
}

// BuildProviderIndexes walks every populated slot of every node and
// fills in the shared-library and virtual-provider indexes. Must be
// called once, after every repo has been loaded.
//
// Two passes over the graph: the first populates the shlib-provides and
// virtual-provides indexes, the second checks shlib-requires against the
// now-complete provider index. A single combined pass would make the
// "unavailable shlib" diagnostic depend on pkgname sort order (a node
// whose requirement is satisfied by an alphabetically-later package
// would be warned about before that package's provides were indexed).
func (b *Builder) BuildProviderIndexes(matcher PatternMatcher) {
	b.Graph.Walk(func(n *Node) bool {
		b.indexProvides(n, n.Public, matcher)
		b.indexProvides(n, n.Stage, matcher)
		return false
	})

	b.Graph.Walk(func(n *Node) bool {
		b.checkRequires(n, n.Public)
		b.checkRequires(n, n.Stage)
		return false
	})
}

func (b *Builder) indexProvides(n *Node, rec *PackageRecord, matcher PatternMatcher) {
	if rec == nil {
		return
	}

	for _, shlib := range rec.Dict.ShlibProvides {
		b.Graph.shlibs.Append(shlib, rec.Pkgver)
	}

	for _, provide := range rec.Dict.Provides {
		virtualName, err := matcher.NameOfPkgver(provide)
		if err != nil || virtualName == "" {
			b.SoftErr = true
			b.Log.Warnf("%s: unparseable provides entry %q", n.Pkgname, provide)
			continue
		}
		b.Graph.virtuals.Append(virtualName, virtualProvider{
			providerPkgver: rec.Pkgver,
			virtualPkgver:  b.Graph.Interner.Intern(provide),
		})
	}
}

func (b *Builder) checkRequires(n *Node, rec *PackageRecord) {
	if rec == nil {
		return
	}

	for _, shlib := range rec.Dict.ShlibRequires {
		if _, ok := b.Graph.ShlibProviders(shlib); !ok {
			// Warn at build time, not only inside an eventual
			// UNSAT core.
			b.Log.Warnf("%s requires unavailable shlib %s", rec.Pkgver, shlib)
		}
	}
}
