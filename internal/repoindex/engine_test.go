package repoindex

import (
	"fmt"
	"strings"
	"testing"

	"github.com/xbps-tools/index-repos/internal/log"
)

// fakeReader is an in-memory IndexReader over a literal entry set.
type fakeReader map[string]*PackageDict

func (f fakeReader) Entries() (map[string]*PackageDict, error) {
	return map[string]*PackageDict(f), nil
}

// fakeOrderer compares dotted numeric versions lexically by split
// field, good enough for test fixtures without dragging semver parsing
// into these unit tests.
type fakeOrderer struct{}

func (fakeOrderer) Order(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	return len(as) - len(bs)
}

// fakeMatcher implements a "name>=version" / "name-version" pattern
// grammar, trimmed to what the test fixtures need.
type fakeMatcher struct{}

func (fakeMatcher) NameOfPattern(pattern string) (string, error) {
	for _, sep := range []string{">=", "<=", ">", "<", "="} {
		if idx := strings.Index(pattern, sep); idx > 0 {
			return pattern[:idx], nil
		}
	}
	if pattern == "" {
		return "", fmt.Errorf("empty pattern")
	}
	return pattern, nil
}

// Match parses the same "name<op>version" grammar NameOfPattern does
// and evaluates it against pkgver's own version half using fakeOrderer,
// so tests can exercise version-constrained dependencies rather than
// only name existence.
func (fakeMatcher) Match(pkgver, pattern string) bool {
	pkgName, pkgVersion := splitPkgver(pkgver)

	for _, sep := range []string{">=", "<=", ">", "<", "="} {
		idx := strings.Index(pattern, sep)
		if idx <= 0 {
			continue
		}
		patName := pattern[:idx]
		wantVersion := pattern[idx+len(sep):]
		if patName != pkgName {
			return false
		}
		if wantVersion == "" || wantVersion == "0" {
			return true
		}
		cmp := (fakeOrderer{}).Order(pkgVersion, wantVersion)
		switch sep {
		case ">=":
			return cmp >= 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		case "<":
			return cmp < 0
		default:
			return cmp == 0
		}
	}
	// Bare name with no operator: matches any version of that name.
	return pattern == pkgName
}

func (fakeMatcher) NameOfPkgver(pkgver string) (string, error) {
	idx := strings.LastIndex(pkgver, "-")
	if idx <= 0 {
		return "", fmt.Errorf("no name in %q", pkgver)
	}
	return pkgver[:idx], nil
}

func splitPkgver(pkgver string) (name, version string) {
	idx := strings.LastIndex(pkgver, "-")
	if idx <= 0 {
		return pkgver, ""
	}
	return pkgver[:idx], pkgver[idx+1:]
}

func newTestGraph() (*Graph, *Builder) {
	g := NewGraph()
	logger := log.New(&strings.Builder{})
	b := NewBuilder(g, fakeOrderer{}, logger)
	return g, b
}

func dict(pkgver string, runDepends ...string) *PackageDict {
	return &PackageDict{Pkgver: pkgver, RunDepends: runDepends}
}

func solveGraph(t *testing.T, g *Graph) (*Formula, *Decision) {
	t.Helper()
	gen := NewConstraintGenerator(g, log.New(&strings.Builder{}))
	formula := gen.Generate(fakeMatcher{})
	checkClauseLogAlignment(t, formula)
	decision, err := Solve(formula)
	if err != nil && ClassOf(err) != ClassInconsistent {
		t.Fatalf("Solve: %s", err)
	}
	return formula, decision
}

// checkClauseLogAlignment asserts the readable log is strictly 1:1 with
// the emitted clauses, the invariant the explanation pass depends on to
// map a core clause index back to its text.
func checkClauseLogAlignment(t *testing.T, f *Formula) {
	t.Helper()
	if len(f.Text) != len(f.Clauses) {
		t.Fatalf("clause log misaligned: %d text lines for %d clauses", len(f.Text), len(f.Clauses))
	}
}

func TestPublicOnlyPackageStaysSelected(t *testing.T) {
	// A package only present in public, with no staged counterpart,
	// must simply remain selected from public.
	g, b := newTestGraph()
	if err := b.LoadRepo(fakeReader{"foo": dict("foo-1.0")}, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(fakeReader{}, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	node, _ := g.NodeByName("foo")
	if node.Selection != Public {
		t.Errorf("want Public selection, got %s", node.Selection)
	}
	if entries[0]["foo"].Pkgver != "foo-1.0" {
		t.Errorf("unexpected written pkgver: %+v", entries[0]["foo"])
	}
}

func TestIdentityPromotion(t *testing.T) {
	// Public = {a-1_1 requires shlib libz.so.1; libz-1_1 provides
	// libz.so.1}, stage identical. Expected: unit clauses (real(a-1_1))
	// and (real(libz-1_1)) present; correcting subset empty; writer
	// re-emits public unchanged.
	g, b := newTestGraph()
	identical := fakeReader{
		"a":    {Pkgver: "a-1_1", ShlibRequires: []string{"libz.so.1"}},
		"libz": {Pkgver: "libz-1_1", ShlibProvides: []string{"libz.so.1"}},
	}
	if err := b.LoadRepo(identical, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(identical, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	formula, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	var sawA, sawLibz bool
	for _, line := range formula.Text {
		if strings.Contains(line, "real(a-1_1)") {
			sawA = true
		}
		if strings.Contains(line, "real(libz-1_1)") {
			sawLibz = true
		}
	}
	if !sawA || !sawLibz {
		t.Errorf("expected unit clauses for both identity pkgvers, got %v", formula.Text)
	}

	if len(decision.Promoted) != 0 {
		t.Errorf("want an empty correcting subset, got %v", decision.Promoted)
	}

	aNode, _ := g.NodeByName("a")
	libzNode, _ := g.NodeByName("libz")
	if aNode.PubGate != aNode.StageGate {
		t.Errorf("identity node must share one gate between pub and stage, got pub=%d stage=%d", aNode.PubGate, aNode.StageGate)
	}
	if aNode.Selection != Public || libzNode.Selection != Public {
		t.Errorf("want both identity nodes re-emitted from public, got a=%s libz=%s", aNode.Selection, libzNode.Selection)
	}
	if entries[0]["a"].Pkgver != "a-1_1" || entries[0]["libz"].Pkgver != "libz-1_1" {
		t.Errorf("unexpected written entries: %+v", entries[0])
	}
}

func TestCleanUpdate(t *testing.T) {
	// A newer staged version with no dependency problems should be
	// promoted over its older public counterpart.
	g, b := newTestGraph()
	if err := b.LoadRepo(fakeReader{"foo": dict("foo-1.0")}, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(fakeReader{"foo": dict("foo-2.0")}, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	node, _ := g.NodeByName("foo")
	if node.Selection != Stage {
		t.Errorf("want Stage selection (promoted), got %s", node.Selection)
	}
	if entries[0]["foo"].Pkgver != "foo-2.0" {
		t.Errorf("expected promoted pkgver foo-2.0, got %+v", entries[0]["foo"])
	}
}

func TestVersionConstrainedPromotionSucceeds(t *testing.T) {
	// Public = {a-1.0, b-1.0 requires a>=1}, stage = {a-2.0, b-1.0}.
	// The dependency pattern "a>=1" still matches a-2.0, so promoting a
	// must not be blocked by b's requirement.
	g, b := newTestGraph()
	pub := fakeReader{
		"a": dict("a-1.0"),
		"b": dict("b-1.0", "a>=1"),
	}
	stage := fakeReader{
		"a": dict("a-2.0"),
		"b": dict("b-1.0", "a>=1"),
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	aNode, _ := g.NodeByName("a")
	if aNode.Selection != Stage {
		t.Errorf("want a promoted to stage (a-2.0 still satisfies a>=1), got %s", aNode.Selection)
	}
	if entries[0]["a"].Pkgver != "a-2.0" {
		t.Errorf("expected a-2.0 written out, got %+v", entries[0]["a"])
	}
	if entries[0]["b"].Pkgver != "b-1.0" {
		t.Errorf("expected b-1.0 written out, got %+v", entries[0]["b"])
	}
}

func TestVersionConstrainedPromotionBlocked(t *testing.T) {
	// Public = {a-1.0, b-1.0 requires a<2}, stage = {a-2.0}. a-2.0 no
	// longer satisfies "a<2", so the solver must reject a's promotion
	// and keep a-1.0 serving to keep b consistent.
	g, b := newTestGraph()
	pub := fakeReader{
		"a": dict("a-1.0"),
		"b": dict("b-1.0", "a<2"),
	}
	stage := fakeReader{
		"a": dict("a-2.0"),
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	aNode, _ := g.NodeByName("a")
	if aNode.Selection != Public {
		t.Errorf("want a to stay on public (a-2.0 violates b's a<2 requirement), got %s", aNode.Selection)
	}
	if entries[0]["a"].Pkgver != "a-1.0" {
		t.Errorf("expected a-1.0 to remain served, got %+v", entries[0]["a"])
	}
	if entries[0]["b"].Pkgver != "b-1.0" {
		t.Errorf("expected b-1.0 re-emitted unchanged, got %+v", entries[0]["b"])
	}
}

func TestStageBreaksAConsumer(t *testing.T) {
	// bar-1.0 (public) depends on foo. bar's staged update bar-2.0
	// requires a name nothing provides, so it must not be promoted;
	// the already-public bar keeps serving.
	g, b := newTestGraph()
	pub := fakeReader{
		"foo": dict("foo-1.0"),
		"bar": dict("bar-1.0", "foo>=0"),
	}
	stage := fakeReader{
		"bar": dict("bar-2.0", "nonexistent>=0"),
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	barNode, _ := g.NodeByName("bar")
	if barNode.Selection != Public {
		t.Errorf("want bar to stay on Public (stage update breaks it), got %s", barNode.Selection)
	}
	if entries[0]["bar"].Pkgver != "bar-1.0" {
		t.Errorf("expected bar-1.0 to remain served, got %+v", entries[0]["bar"])
	}
}

func TestStageWouldBreakAConsumer(t *testing.T) {
	// bar is a stage-only package depending on the virtual "mailer",
	// which only sendmail's own stage record provides. sendmail's
	// stage record itself depends on something no repository provides
	// at all, so promoting sendmail is impossible, which means
	// promoting bar (its only consumer path) must be rejected too,
	// even though nothing about bar's own record is broken.
	g, b := newTestGraph()
	pub := fakeReader{}
	stage := fakeReader{
		"bar":      dict("bar-1.0", "mailer>=0"),
		"sendmail": {Pkgver: "sendmail-1.0", Provides: []string{"mailer-1.0"}, RunDepends: []string{"nonexistent>=0"}},
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	sendmailNode, _ := g.NodeByName("sendmail")
	if sendmailNode.Selection == Stage {
		t.Errorf("sendmail cannot be promoted: its own dependency is unsatisfiable")
	}
	barNode, _ := g.NodeByName("bar")
	if barNode.Selection == Stage {
		t.Errorf("bar cannot be promoted: its only mailer provider is unpromotable")
	}
	if _, ok := entries[0]["bar"]; ok {
		t.Errorf("bar must not be written out")
	}
}

func TestVirtualProviderPromotion(t *testing.T) {
	// bar depends on the virtual "mailer". Only a staged package
	// provides it; promoting that provider must satisfy bar.
	g, b := newTestGraph()
	pub := fakeReader{
		"bar": dict("bar-1.0", "mailer>=0"),
	}
	stage := fakeReader{
		"sendmail": {Pkgver: "sendmail-1.0", Provides: []string{"mailer-1.0"}},
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	sendmailNode, _ := g.NodeByName("sendmail")
	if sendmailNode.Selection != Stage {
		t.Errorf("want sendmail promoted to satisfy bar's virtual dependency, got %s", sendmailNode.Selection)
	}
	if _, ok := entries[0]["sendmail"]; !ok {
		t.Errorf("expected sendmail to be written out")
	}
}

func TestInconsistencyWithExplanation(t *testing.T) {
	// bar is already public and depends on foo, which is also only
	// public. If foo's own dependency is unsatisfiable from the start
	// (no staging involved at all), the base formula itself is UNSAT:
	// a PROTO-class failure, not a rejected promotion.
	g, b := newTestGraph()
	pub := fakeReader{
		"foo": dict("foo-1.0", "nonexistent>=0"),
		"bar": dict("bar-1.0", "foo>=0"),
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(fakeReader{}, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	gen := NewConstraintGenerator(g, log.New(&strings.Builder{}))
	formula := gen.Generate(fakeMatcher{})
	checkClauseLogAlignment(t, formula)
	decision, err := Solve(formula)
	if err == nil {
		t.Fatalf("expected an inconsistency error")
	}
	if ClassOf(err) != ClassInconsistent {
		t.Fatalf("expected ClassInconsistent, got %s", ClassOf(err))
	}
	if len(decision.Explanation) == 0 {
		t.Errorf("expected a non-empty explanation clause set")
	}
	var sawUnresolvable bool
	for _, line := range decision.Explanation {
		if strings.Contains(line, "unresolvable") {
			sawUnresolvable = true
		}
	}
	if !sawUnresolvable {
		t.Errorf("expected the explanation to include foo's unresolvable dependency clause, got %v", decision.Explanation)
	}
}

func TestShlibRequiresWithNoProviderIsInconsistent(t *testing.T) {
	// Public = {a-1_1 requires shlib libz.so.1}, no provider anywhere.
	// The formula must be UNSAT, driven by the
	// ¬real(a-1_1) ∨ shlib(libz.so.1) clause emitShlibRequires adds.
	g, b := newTestGraph()
	pub := fakeReader{
		"a": {Pkgver: "a-1_1", ShlibRequires: []string{"libz.so.1"}},
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(fakeReader{}, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	gen := NewConstraintGenerator(g, log.New(&strings.Builder{}))
	formula := gen.Generate(fakeMatcher{})
	checkClauseLogAlignment(t, formula)
	decision, err := Solve(formula)
	if err == nil {
		t.Fatalf("expected an inconsistency error")
	}
	if ClassOf(err) != ClassInconsistent {
		t.Fatalf("expected ClassInconsistent, got %s", ClassOf(err))
	}
	var sawRequires, sawClosure bool
	for _, line := range decision.Explanation {
		if strings.Contains(line, "¬real(a-1_1) ∨ shlib(libz.so.1)") {
			sawRequires = true
		}
		if strings.Contains(line, "shlib(libz.so.1) ↔ (⊥)") {
			sawClosure = true
		}
	}
	if !sawRequires || !sawClosure {
		t.Errorf("expected the core to contain both the shlib-requires clause and the empty-provider closure, got %v", decision.Explanation)
	}
}

func TestVirtualProviderWithDistinctOwnPkgver(t *testing.T) {
	// The non-degenerate case the general virtual-provider mechanism must
	// handle: the provider's own pkgver ("sendmail-2.0") is neither equal
	// to the virtual pkgver it claims ("mailer-1.0") nor to any other
	// node's own pkgver, so resolving the provider requires following
	// providerPkgver, not reinterpreting virtualPkgver as a real pkgver.
	g, b := newTestGraph()
	pub := fakeReader{
		"bar": dict("bar-1.0", "mailer>=0"),
	}
	stage := fakeReader{
		"sendmail": {Pkgver: "sendmail-2.0", Provides: []string{"mailer-1.0"}},
	}
	if err := b.LoadRepo(pub, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	_, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	sendmailNode, _ := g.NodeByName("sendmail")
	if sendmailNode.Selection != Stage {
		t.Errorf("want sendmail promoted to satisfy bar's virtual dependency, got %s", sendmailNode.Selection)
	}
	if _, ok := entries[0]["sendmail"]; !ok {
		t.Errorf("expected sendmail to be written out")
	}
}

func TestSharedVirtualPkgverBiImplication(t *testing.T) {
	// Public empty, stage = {awk-1_1 provides awk-1_1, gawk-5_1
	// provides awk-1_1, c-1_1 requires awk>=0}. The
	// shared virtual pkgver must collapse to a single bi-implication
	// virt(awk-1_1) ↔ (real(awk-1_1) ∨ real(gawk-5_1)), and all three
	// records must be promoted.
	g, b := newTestGraph()
	stage := fakeReader{
		"awk":  {Pkgver: "awk-1_1", Provides: []string{"awk-1_1"}},
		"gawk": {Pkgver: "gawk-5_1", Provides: []string{"awk-1_1"}},
		"c":    dict("c-1_1", "awk>=0"),
	}
	if err := b.LoadRepo(fakeReader{}, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadRepo(stage, OverlayStage, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	formula, decision := solveGraph(t, g)
	w := NewWriter(g)
	entries := w.Apply(decision)

	want := "virt(awk-1_1) ↔ (real(awk-1_1) ∨ real(gawk-5_1))"
	var sawBiImpl bool
	for _, line := range formula.Text {
		if !strings.Contains(line, "virt(awk-1_1) ↔") {
			continue
		}
		if line != want {
			t.Fatalf("unexpected bi-implication for the shared virtual pkgver: %q", line)
		}
		sawBiImpl = true
	}
	if !sawBiImpl {
		t.Errorf("expected the clause log to contain %q, got %v", want, formula.Text)
	}

	for _, pkgname := range []string{"awk", "gawk", "c"} {
		node, _ := g.NodeByName(pkgname)
		if node.Selection != Stage {
			t.Errorf("want %s promoted, got %s", pkgname, node.Selection)
		}
		if _, ok := entries[0][pkgname]; !ok {
			t.Errorf("expected %s to be written out", pkgname)
		}
	}
}

func TestDisplacementDiagnostic(t *testing.T) {
	// Two public entries for the same pkgname must collide according
	// to the injected VersionOrderer, keeping the newer one, and the
	// diagnostic must name both pkgvers and their origin repository.
	g := NewGraph()
	var logBuf strings.Builder
	b := NewBuilder(g, fakeOrderer{}, log.New(&logBuf))

	r := fakeReader{"foo": dict("foo-1.0")}
	b.SetRepoPath(0, "/repos/one")
	if err := b.LoadRepo(r, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	// Simulate a second repo's conflicting entry for the same pkgname
	// by loading again with a higher version under a different index.
	r2 := fakeReader{"foo": dict("foo-2.0")}
	b.SetRepoPath(1, "/repos/two")
	if err := b.LoadRepo(r2, OverlayPublic, 1); err != nil {
		t.Fatal(err)
	}

	node, ok := g.NodeByName("foo")
	if !ok {
		t.Fatal("expected node foo")
	}
	if node.Public.Pkgver.String() != "foo-2.0" {
		t.Errorf("expected collision to keep foo-2.0, got %s", node.Public.Pkgver)
	}

	got := logBuf.String()
	if !strings.Contains(got, "'foo-2.0' from '/repos/two'") || !strings.Contains(got, "'foo-1.0' from '/repos/one'") {
		t.Errorf("expected diagnostic to name both pkgvers and their origin repo, got %q", got)
	}
}

func TestUnparseableProvidesIsSoftError(t *testing.T) {
	_, b := newTestGraph()
	r := fakeReader{
		"weird": {Pkgver: "weird-1.0", Provides: []string{"noversionsuffix"}},
	}
	if err := b.LoadRepo(r, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	if !b.SoftErr {
		t.Errorf("expected SoftErr to be set for an unparseable provides entry")
	}
}

func TestUnparseableDependsIsSoftError(t *testing.T) {
	g, b := newTestGraph()
	r := fakeReader{"weird": dict("weird-1.0", "")}
	if err := b.LoadRepo(r, OverlayPublic, 0); err != nil {
		t.Fatal(err)
	}
	b.BuildProviderIndexes(fakeMatcher{})

	gen := NewConstraintGenerator(g, log.New(&strings.Builder{}))
	gen.Generate(fakeMatcher{})

	if !gen.SoftErr {
		t.Errorf("expected SoftErr to be set for an unparseable dependency pattern")
	}
}
