package repoindex

import (
	"fmt"
	"strings"

	"github.com/xbps-tools/index-repos/internal/log"
)

// Clause is one disjunction of signed literals, DIMACS-style: a positive
// int names VarID asserted true, a negative int names it asserted
// false.
type Clause []int

// Formula is the CNF generated for one Graph, plus enough bookkeeping
// for the solver driver and writer to act on the model it returns.
type Formula struct {
	Clauses []Clause
	NbVars  int

	// PromotionAssumptions holds one positive unit literal per node
	// whose Stage record is non-nil and differs from its Public record
	// (identity nodes get none): asserting it means "serve this
	// node's stage record". The solver tries to satisfy
	// as many of these as possible; one that can't hold simply leaves
	// the node on its public record (or, for a stage-only node,
	// absent) rather than failing the whole run.
	PromotionAssumptions []int

	// Text is the parallel human-readable clause log, one line per
	// clause, using the symbols ↔ → ∨ ¬ ⊤ ⊥ and the virt(·) notation.
	Text []string
}

// ConstraintGenerator lowers a Graph into a Formula.
type ConstraintGenerator struct {
	Graph *Graph
	Log   *log.Logger

	// SoftErr is set when a dependency pattern could not be parsed; the
	// dependency is then simply omitted from the formula rather than
	// failing the run (ClassMalformedInput).
	SoftErr bool
}

// NewConstraintGenerator returns a generator reading from g, logging
// any malformed dependency patterns it encounters to logger.
func NewConstraintGenerator(g *Graph, logger *log.Logger) *ConstraintGenerator {
	return &ConstraintGenerator{Graph: g, Log: logger}
}

// Generate produces the full CNF for the current state of the graph.
func (c *ConstraintGenerator) Generate(matcher PatternMatcher) *Formula {
	f := &Formula{}

	c.Graph.Walk(func(n *Node) bool {
		c.emitNode(f, n)
		return false
	})

	c.emitVirtualClosures(f)

	c.Graph.WalkShlibs(func(shlib string, providers []*Interned) bool {
		c.emitShlibClosure(f, shlib)
		_ = providers
		return false
	})

	// A required shlib with no provider gets an empty (⊥) closure.
	missing := make(map[string]bool)
	c.Graph.Walk(func(n *Node) bool {
		for _, rec := range []*PackageRecord{n.Public, n.Stage} {
			if rec == nil {
				continue
			}
			for _, shlib := range rec.Dict.ShlibRequires {
				if _, ok := c.Graph.ShlibProviders(shlib); !ok && !missing[shlib] {
					missing[shlib] = true
					c.emitShlibClosure(f, shlib)
				}
			}
		}
		return false
	})

	c.Graph.Walk(func(n *Node) bool {
		c.emitDepends(f, n, matcher)
		c.emitShlibRequires(f, n)
		return false
	})

	f.NbVars = c.Graph.Vars.Len()
	return f
}

// emitNode handles one node's identity and gating clauses. A node
// present in only one overlay aliases its gate directly onto its
// record's real(pkgver) variable. A node present in both overlays under the *same*
// pkgver (the overlays agree: nothing changed) emits a single unit
// clause on that shared pkgver's real() variable and aliases both
// gates onto it. A node present in both overlays under two different
// pkgvers gets two mutually exclusive real(pkgver) variables instead,
// one per record, so the solver can choose to keep serving the public
// record even when promoting the stage record would be inconsistent;
// a single shared variable could not express that fallback (the
// package would either have to vanish entirely or force the break
// through).
func (c *ConstraintGenerator) emitNode(f *Formula, n *Node) {
	switch {
	case n.Public != nil && n.Stage != nil && n.Public.Pkgver == n.Stage.Pkgver:
		real := c.Graph.Vars.Real(n.Public.Pkgver)
		f.Clauses = append(f.Clauses, Clause{int(real)})
		f.Text = append(f.Text, fmt.Sprintf("%s  ; ⊤, identity (public == stage)", litName(c.Graph, real, true)))
		n.PubGate = real
		n.StageGate = real

	case n.Public != nil && n.Stage == nil:
		// Hard unit clause, not a soft preference: a public-only
		// record must stay selected, so an unresolvable requirement of
		// an already-served package surfaces as an inconsistency
		// instead of the package silently vanishing from the index.
		real := c.Graph.Vars.Real(n.Public.Pkgver)
		f.Clauses = append(f.Clauses, Clause{int(real)})
		f.Text = append(f.Text, fmt.Sprintf("%s  ; ⊤, public-only", litName(c.Graph, real, true)))
		n.PubGate = real

	case n.Public == nil && n.Stage != nil:
		// real(X) is not hard-forced: it is exactly the promotion
		// assumption, so a rejected stage-only package resolves to
		// real(X)=false, i.e. it simply does not exist in the output.
		// No clause is emitted here, and Text stays clause-aligned by
		// emitting nothing either.
		real := c.Graph.Vars.Real(n.Stage.Pkgver)
		f.PromotionAssumptions = append(f.PromotionAssumptions, int(real))
		n.StageGate = real

	case n.Public != nil && n.Stage != nil:
		pub := c.Graph.Vars.Real(n.Public.Pkgver)
		stg := c.Graph.Vars.Real(n.Stage.Pkgver)

		// at least one of the two overlays serves this node: an
		// already-public package is never fully withdrawn just
		// because its staged update turns out to be inconsistent.
		f.Clauses = append(f.Clauses, Clause{int(pub), int(stg)})
		f.Text = append(f.Text, fmt.Sprintf("%s ∨ %s", litName(c.Graph, pub, true), litName(c.Graph, stg, true)))

		// at most one: the two overlay records never both serve.
		f.Clauses = append(f.Clauses, Clause{-int(pub), -int(stg)})
		f.Text = append(f.Text, fmt.Sprintf("%s ∨ %s", litName(c.Graph, pub, false), litName(c.Graph, stg, false)))

		f.PromotionAssumptions = append(f.PromotionAssumptions, int(stg))
		n.PubGate = pub
		n.StageGate = stg
	}
}

// emitVirtualClosures emits the bi-implication between each distinct
// virtual pkgver's variable and the disjunction of every record-level
// gate that provides it:
//
//	virt(X) ↔ (gate(P1) ∨ gate(P2) ∨ ...)
//
// virt is keyed by the virtual pkgver X itself, not by the bare
// virtual pkgname: two packages claiming different versions under the
// same virtual name
// ("mailer-1.0" vs "mailer-2.0") are distinct SAT variables, not one
// conflated name-level variable. Every (providerPkgver, virtualPkgver)
// pair recorded anywhere under any virtual pkgname is grouped here by
// virtualPkgver; a literal real package whose own pkgver equals X is
// folded into the same disjunction, since X can be satisfied either by
// that package being selected directly or by any other provider
// claiming it.
func (c *ConstraintGenerator) emitVirtualClosures(f *Formula) {
	type group struct {
		virtualPkgver *Interned
		providers     []*Interned
	}
	var order []*Interned
	groups := make(map[*Interned]*group)

	c.Graph.WalkVirtuals(func(_ string, providers []virtualProvider) bool {
		for _, p := range providers {
			g, ok := groups[p.virtualPkgver]
			if !ok {
				g = &group{virtualPkgver: p.virtualPkgver}
				groups[p.virtualPkgver] = g
				order = append(order, p.virtualPkgver)
			}
			g.providers = append(g.providers, p.providerPkgver)
		}
		return false
	})

	for _, x := range order {
		g := groups[x]
		virt := c.Graph.Vars.Virtual(x)

		var disjuncts []int
		var names []string
		seen := make(map[VarID]bool)
		add := func(gate VarID, label string) {
			if seen[gate] {
				return
			}
			seen[gate] = true
			disjuncts = append(disjuncts, int(gate))
			names = append(names, label)
		}

		if selfNode, ok := c.Graph.NodeByPkgver(x); ok {
			if gate, ok := c.recordGate(selfNode, x); ok {
				add(gate, litName(c.Graph, gate, true))
			}
		}

		for _, providerPkgver := range g.providers {
			node, ok := c.Graph.NodeByPkgver(providerPkgver)
			if !ok {
				continue
			}
			gate, ok := c.recordGate(node, providerPkgver)
			if !ok {
				continue
			}
			add(gate, litName(c.Graph, gate, true))
		}

		c.emitClosure(f, int(virt), disjuncts, fmt.Sprintf("virt(%s)", x.String()), names)
	}
}

// emitShlibClosure emits the same bi-implication shape for a shared
// library name against its ordered provider list.
func (c *ConstraintGenerator) emitShlibClosure(f *Formula, shlib string) {
	name := c.Graph.Interner.Intern(shlib)
	shlibVar := c.Graph.Vars.Shlib(name)

	providers, _ := c.Graph.ShlibProviders(shlib)
	var disjuncts []int
	var names []string
	seen := make(map[VarID]bool)
	for _, pkgver := range providers {
		node, ok := c.Graph.NodeByPkgver(pkgver)
		if !ok {
			continue
		}
		gate, ok := c.recordGate(node, pkgver)
		if !ok || seen[gate] {
			continue
		}
		seen[gate] = true
		disjuncts = append(disjuncts, int(gate))
		names = append(names, litName(c.Graph, gate, true))
	}

	c.emitClosure(f, int(shlibVar), disjuncts, fmt.Sprintf("shlib(%s)", shlib), names)
}

func (c *ConstraintGenerator) emitClosure(f *Formula, head int, disjuncts []int, headText string, names []string) {
	fwd := append(Clause{-head}, disjuncts...)
	f.Clauses = append(f.Clauses, fwd)
	for _, d := range disjuncts {
		f.Clauses = append(f.Clauses, Clause{-d, head})
	}

	body := "⊥"
	if joined := strings.Join(names, " ∨ "); joined != "" {
		body = joined
	}
	text := fmt.Sprintf("%s ↔ (%s)", headText, body)
	// One readable line per emitted CNF clause, duplicated, so clause
	// indices stay aligned between Text and Clauses.
	f.Text = append(f.Text, text)
	for range disjuncts {
		f.Text = append(f.Text, text)
	}
}

// recordGate returns the gating literal for whichever of node's two
// records owns pkgver.
func (c *ConstraintGenerator) recordGate(node *Node, pkgver *Interned) (VarID, bool) {
	if node.Public != nil && node.Public.Pkgver == pkgver {
		return node.PubGate, true
	}
	if node.Stage != nil && node.Stage.Pkgver == pkgver {
		return node.StageGate, true
	}
	return 0, false
}

// emitDepends emits one clause per runtime dependency pattern of each
// of a node's records, gated on that specific record's literal (not
// shared real(N)): gate(rec) → (gate of whichever candidate pkgver
// actually satisfies the pattern). This way a stage update's dependency
// set never leaks onto the still-served public record, and vice versa.
// A candidate only contributes a disjunct if
// matcher.Match(candidatePkgver, pattern) holds: a node merely
// existing under the right name is not enough, and this version check
// is what lets an update a consumer's pattern no longer accepts block
// that consumer. Patterns with no extractable name are a non-fatal
// soft error and are skipped.
func (c *ConstraintGenerator) emitDepends(f *Formula, n *Node, matcher PatternMatcher) {
	emitFor := func(rec *PackageRecord, gate VarID) {
		if rec == nil {
			return
		}
		for _, pattern := range rec.Dict.RunDepends {
			depName, err := matcher.NameOfPattern(pattern)
			if err != nil || depName == "" {
				c.SoftErr = true
				c.Log.Warnf("%s: %s", n.Pkgname, badPatternFailure("unparseable dependency pattern %q", pattern))
				continue
			}

			lits := []int{-int(gate)}

			if depNode, ok := c.Graph.NodeByName(depName); ok {
				if depNode.Public != nil && matcher.Match(depNode.Public.Pkgver.String(), pattern) {
					lits = append(lits, int(depNode.PubGate))
				}
				if depNode.Stage != nil &&
					(depNode.Public == nil || depNode.Stage.Pkgver != depNode.Public.Pkgver) &&
					matcher.Match(depNode.Stage.Pkgver.String(), pattern) {
					lits = append(lits, int(depNode.StageGate))
				}
			}

			if providers, ok := c.Graph.VirtualProviders(depName); ok {
				seenVirtual := make(map[*Interned]bool)
				for _, p := range providers {
					if seenVirtual[p.virtualPkgver] {
						continue
					}
					if !matcher.Match(p.virtualPkgver.String(), pattern) {
						continue
					}
					seenVirtual[p.virtualPkgver] = true
					// Reference virt(X), not the provider's own gate
					// directly: emitVirtualClosures already ties virt(X)
					// to every real provider's gate, and X is the
					// version the pattern actually matched against, not
					// necessarily any one provider's own pkgver.
					lits = append(lits, int(c.Graph.Vars.Virtual(p.virtualPkgver)))
				}
			}

			if len(lits) == 1 {
				// Nothing in the graph can satisfy this dependency;
				// the gate is forced false, which the solver resolves
				// the same way an unsatisfied hard clause always
				// does: by dropping this record's promotion if it has
				// an alternative, or surfacing PROTO-class
				// inconsistency if it has none.
				f.Clauses = append(f.Clauses, Clause{-int(gate)})
				f.Text = append(f.Text, fmt.Sprintf("%s  ; %s depends on %s, unresolvable", litName(c.Graph, gate, false), n.Pkgname, pattern))
				continue
			}

			f.Clauses = append(f.Clauses, Clause(lits))
			f.Text = append(f.Text, fmt.Sprintf("%s ∨ (dep %s)", litName(c.Graph, gate, false), pattern))
		}
	}

	emitFor(n.Public, n.PubGate)
	if n.Public == nil || n.StageGate != n.PubGate {
		emitFor(n.Stage, n.StageGate)
	}
}

// emitShlibRequires emits the per-record hard clause for each
// shlib-requires entry: ¬gate(rec) ∨ shlib(L). This is
// what actually ties a record's own selection to library availability;
// checkRequires in builder.go only logs the same condition as a
// pre-solve diagnostic and contributes no clause of its own.
func (c *ConstraintGenerator) emitShlibRequires(f *Formula, n *Node) {
	emitFor := func(rec *PackageRecord, gate VarID) {
		if rec == nil {
			return
		}
		for _, shlib := range rec.Dict.ShlibRequires {
			name := c.Graph.Interner.Intern(shlib)
			shlibVar := c.Graph.Vars.Shlib(name)
			f.Clauses = append(f.Clauses, Clause{-int(gate), int(shlibVar)})
			f.Text = append(f.Text, fmt.Sprintf("%s ∨ shlib(%s)", litName(c.Graph, gate, false), shlib))
		}
	}

	emitFor(n.Public, n.PubGate)
	if n.Public == nil || n.StageGate != n.PubGate {
		// An identity node aliases both gates onto one variable; its
		// requirements have already been emitted once above.
		emitFor(n.Stage, n.StageGate)
	}
}

// litName renders a named (real/virtual/shlib) variable for the
// readable clause log, e.g. "real(a-1_1)", with a leading ¬ for a
// negative literal.
func litName(g *Graph, id VarID, positive bool) string {
	name := g.Vars.NameOf(id)
	label := name.String()
	if kind, ok := g.Vars.KindOf(id); ok {
		label = kind.String() + "(" + label + ")"
	}
	if positive {
		return label
	}
	return "¬" + label
}
