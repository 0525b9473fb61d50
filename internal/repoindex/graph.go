package repoindex

import (
	"github.com/armon/go-radix"
)

// Selection records the promotion decision for one node.
type Selection uint8

const (
	// Stage is the initial selection for every node.
	Stage Selection = iota
	Public
)

func (s Selection) String() string {
	if s == Public {
		return "public"
	}
	return "stage"
}

// PackageRecord is one populated overlay slot.
type PackageRecord struct {
	Pkgver    *Interned
	Dict      *PackageDict
	RepoIndex int
}

// Node is keyed by interned pkgname and holds up to two PackageRecords.
type Node struct {
	Pkgname   *Interned
	Public    *PackageRecord
	Stage     *PackageRecord
	Selection Selection

	// PubGate and StageGate are the SAT literals gating "the public
	// record's provides/requires apply" and "the stage record's
	// provides/requires apply" respectively. They
	// are populated by the constraint generator, valid only once
	// Public or Stage (respectively) is non-nil, and are what the
	// solver's promotion decision actually chooses between, not a
	// single shared "real" variable, so that an inconsistent update
	// can fall back to the still-served public record instead of
	// removing the node outright.
	PubGate   VarID
	StageGate VarID
}

// Populated reports whether at least one overlay slot is non-nil,
// which must always be true for any node reachable from the Graph:
// empty nodes are never created.
func (n *Node) Populated() bool {
	return n.Public != nil || n.Stage != nil
}

// Selected returns the PackageRecord that node.Selection currently
// names, or nil if that slot is empty.
func (n *Node) Selected() *PackageRecord {
	if n.Selection == Public {
		return n.Public
	}
	return n.Stage
}

// nodeTrie is a typed wrapper around armon/go-radix: it exists purely to
// avoid type assertions everywhere else. Its Walk order is the sorted
// key order, which is load-bearing: it gives the graph deterministic
// traversal without an explicit sort step at every use site.
type nodeTrie struct {
	t *radix.Tree
}

func newNodeTrie() *nodeTrie {
	return &nodeTrie{t: radix.New()}
}

func (t *nodeTrie) Get(key string) (*Node, bool) {
	v, ok := t.t.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

func (t *nodeTrie) Insert(key string, n *Node) {
	t.t.Insert(key, n)
}

func (t *nodeTrie) Len() int {
	return t.t.Len()
}

// Walk visits every node in ascending key order, stopping early if fn
// returns true.
func (t *nodeTrie) Walk(fn func(key string, n *Node) bool) {
	t.t.Walk(func(s string, v interface{}) bool {
		return fn(s, v.(*Node))
	})
}

// providerTrie orders the shared-library provider index the same way,
// keyed by shared-library name.
type providerTrie struct {
	t *radix.Tree
}

func newProviderTrie() *providerTrie {
	return &providerTrie{t: radix.New()}
}

func (t *providerTrie) Append(key string, pkgver *Interned) {
	if v, ok := t.t.Get(key); ok {
		list := v.([]*Interned)
		t.t.Insert(key, append(list, pkgver))
		return
	}
	t.t.Insert(key, []*Interned{pkgver})
}

func (t *providerTrie) Get(key string) ([]*Interned, bool) {
	v, ok := t.t.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]*Interned), true
}

func (t *providerTrie) Walk(fn func(key string, pkgvers []*Interned) bool) {
	t.t.Walk(func(s string, v interface{}) bool {
		return fn(s, v.([]*Interned))
	})
}

// virtualProvider records that the package whose own pkgver is
// providerPkgver claims virtualPkgver under some virtual pkgname.
// providerPkgver is what NodeByPkgver and recordGate actually resolve
// against (the provider's own byPkgver entry); virtualPkgver is only
// the string being claimed, and is almost never a pkgver any node in
// the graph carries as its own.
type virtualProvider struct {
	providerPkgver *Interned
	virtualPkgver  *Interned
}

// virtualTrie maps a virtual pkgname to its ordered list of
// (provider, virtual_pkgver) pairs.
type virtualTrie struct {
	t *radix.Tree
}

func newVirtualTrie() *virtualTrie {
	return &virtualTrie{t: radix.New()}
}

func (t *virtualTrie) Append(virtualName string, v virtualProvider) {
	if cur, ok := t.t.Get(virtualName); ok {
		list := cur.([]virtualProvider)
		t.t.Insert(virtualName, append(list, v))
		return
	}
	t.t.Insert(virtualName, []virtualProvider{v})
}

func (t *virtualTrie) Get(virtualName string) ([]virtualProvider, bool) {
	v, ok := t.t.Get(virtualName)
	if !ok {
		return nil, false
	}
	return v.([]virtualProvider), true
}

func (t *virtualTrie) Walk(fn func(virtualName string, providers []virtualProvider) bool) {
	t.t.Walk(func(s string, v interface{}) bool {
		return fn(s, v.([]virtualProvider))
	})
}

// Graph is the in-memory data model built fresh for one engine
// invocation.
type Graph struct {
	Interner   *Interner
	Vars       *VarAllocator
	nodes      *nodeTrie
	shlibs     *providerTrie
	virtuals   *virtualTrie
	byPkgver   map[*Interned]*Node
	ReposCount int
}

// NewGraph returns an empty Graph ready for the builder to populate.
func NewGraph() *Graph {
	return &Graph{
		Interner: NewInterner(),
		Vars:     NewVarAllocator(),
		nodes:    newNodeTrie(),
		shlibs:   newProviderTrie(),
		virtuals: newVirtualTrie(),
		byPkgver: make(map[*Interned]*Node),
	}
}

// nodeFor returns the existing node for pkgname, or creates and inserts
// a new empty-but-about-to-be-populated one. Callers must populate at
// least one slot before returning to preserve the "no empty nodes"
// invariant.
func (g *Graph) nodeFor(pkgname *Interned) *Node {
	if n, ok := g.nodes.Get(pkgname.String()); ok {
		return n
	}
	n := &Node{Pkgname: pkgname, Selection: Stage}
	g.nodes.Insert(pkgname.String(), n)
	return n
}

// indexPkgver records that pkgver belongs to n, so NodeByPkgver can
// resolve a shared-library provider's pkgver back to its node without
// a linear scan. The builder calls this whenever it sets a slot.
func (g *Graph) indexPkgver(pkgver *Interned, n *Node) {
	g.byPkgver[pkgver] = n
}

// dropPkgver removes pkgver's reverse mapping, unless one of n's
// remaining slots still carries it (public and stage may share one
// pkgver). A collision loser's pkgver must not keep resolving to a node
// that no longer holds that record.
func (g *Graph) dropPkgver(pkgver *Interned, n *Node) {
	if n.Public != nil && n.Public.Pkgver == pkgver {
		return
	}
	if n.Stage != nil && n.Stage.Pkgver == pkgver {
		return
	}
	if g.byPkgver[pkgver] == n {
		delete(g.byPkgver, pkgver)
	}
}

// NodeByPkgver resolves a pkgver recorded by the builder back to its
// owning node.
func (g *Graph) NodeByPkgver(pkgver *Interned) (*Node, bool) {
	n, ok := g.byPkgver[pkgver]
	return n, ok
}

// NodeByName looks up a node by raw pkgname string without interning a
// new entry as a side effect of a miss.
func (g *Graph) NodeByName(pkgname string) (*Node, bool) {
	return g.nodes.Get(pkgname)
}

// Walk visits every node in deterministic (sorted pkgname) order.
func (g *Graph) Walk(fn func(n *Node) bool) {
	g.nodes.Walk(func(_ string, n *Node) bool { return fn(n) })
}

// NodeCount returns the number of distinct pkgnames in the graph.
func (g *Graph) NodeCount() int {
	return g.nodes.Len()
}

// ShlibProviders returns the ordered list of pkgvers that provide shlib,
// and whether any do.
func (g *Graph) ShlibProviders(shlib string) ([]*Interned, bool) {
	return g.shlibs.Get(shlib)
}

// WalkShlibs visits every shared-library name in deterministic order.
func (g *Graph) WalkShlibs(fn func(shlib string, providers []*Interned) bool) {
	g.shlibs.Walk(fn)
}

// VirtualProviders returns the ordered (provider, virtual_pkgver) pairs
// claiming virtualName, and whether any do.
func (g *Graph) VirtualProviders(virtualName string) ([]virtualProvider, bool) {
	return g.virtuals.Get(virtualName)
}

// WalkVirtuals visits every virtual pkgname in deterministic order.
func (g *Graph) WalkVirtuals(fn func(virtualName string, providers []virtualProvider) bool) {
	g.virtuals.Walk(fn)
}
