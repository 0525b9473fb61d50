package repoindex

// VarID is a positive SAT variable identifier, one-indexed to match the
// DIMACS-style convention the constraint generator and solver driver
// both use (a literal is a VarID, or its negation, as a signed int).
type VarID int32

// Kind distinguishes which of the three logical variables a given name
// is being asked for.
type Kind uint8

const (
	KindReal Kind = iota
	KindVirtual
	KindShlib
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindVirtual:
		return "virt"
	case KindShlib:
		return "shlib"
	default:
		return "?"
	}
}

// VarAllocator maps interned names to stable VarIDs.
//
// A stride-4 block per name (base, base+1, base+2, one spare) would
// recover a name from any of its three variables via a single
// arithmetic reverse lookup (id - id%stride), trading clarity for
// compactness. This allocator takes the clearer alternative instead:
// three explicit kind-keyed maps onto a single shared monotonic
// counter, with one reverse map from VarID back to (name, kind).
// Reverse lookup by name alone still works identically across all
// three kinds, since the reverse map is keyed by VarID only.
type VarAllocator struct {
	real    map[*Interned]VarID
	virtual map[*Interned]VarID
	shlib   map[*Interned]VarID
	names   map[VarID]*Interned
	kinds   map[VarID]Kind
	next    VarID
}

// NewVarAllocator returns a ready-to-use, empty VarAllocator.
func NewVarAllocator() *VarAllocator {
	return &VarAllocator{
		real:    make(map[*Interned]VarID),
		virtual: make(map[*Interned]VarID),
		shlib:   make(map[*Interned]VarID),
		names:   make(map[VarID]*Interned),
		kinds:   make(map[VarID]Kind),
		next:    1,
	}
}

func (a *VarAllocator) get(table map[*Interned]VarID, kind Kind, name *Interned) VarID {
	if id, ok := table[name]; ok {
		return id
	}
	id := a.next
	a.next++
	table[name] = id
	a.names[id] = name
	a.kinds[id] = kind
	return id
}

// Real returns "the real package named N is selected".
func (a *VarAllocator) Real(name *Interned) VarID { return a.get(a.real, KindReal, name) }

// Virtual returns "some provider supplies the virtual pkgver N".
func (a *VarAllocator) Virtual(name *Interned) VarID { return a.get(a.virtual, KindVirtual, name) }

// Shlib returns "the shared library named N is available".
func (a *VarAllocator) Shlib(name *Interned) VarID { return a.get(a.shlib, KindShlib, name) }

// NameOf recovers the interned name backing id, or nil if id was never
// allocated by this allocator.
func (a *VarAllocator) NameOf(id VarID) *Interned {
	return a.names[id]
}

// KindOf recovers which of the three logical variables id represents.
func (a *VarAllocator) KindOf(id VarID) (Kind, bool) {
	k, ok := a.kinds[id]
	return k, ok
}

// Len returns the number of DIMACS variables allocated so far; the SAT
// solver's variable count must be at least this.
func (a *VarAllocator) Len() int {
	return int(a.next - 1)
}
