package repoindex

import (
	"github.com/crillab/gophersat/solver"
)

// Decision is the outcome of one Solve call.
type Decision struct {
	// Promoted holds the VarID of every promotion assumption the
	// solver managed to satisfy: the maximal consistent subset of
	// stage records to push to public.
	Promoted map[int]bool

	// Explanation is populated only when the formula (without any
	// promotion assumptions at all) is itself unsatisfiable: a
	// PROTO-class inconsistency existed before staging was even
	// considered. It names one small clause subset sufficient to keep
	// the formula unsatisfiable, rather than dumping every clause, in
	// the human-readable form recovered from Formula.Text.
	Explanation []string
}

// Solve decides which of f's promotion assumptions can jointly hold.
//
// Clauses are handed to solver.ParseSliceNb, a cost function is
// attached so the optimizer favors satisfying assumptions over leaving
// them false, and the resulting model is read back bit by bit. Since
// every promotion preference is soft (cost only), a negative Minimize
// result can only mean the hard formula itself is unsatisfiable, which
// triggers the explanation pass.
func Solve(f *Formula) (decision *Decision, err error) {
	if f.NbVars == 0 {
		return &Decision{Promoted: map[int]bool{}}, nil
	}

	// gophersat panics rather than returning an error on a handful of
	// internal allocation failures (observed on formulas large enough to
	// exhaust the process's stack); recover and report it the way the
	// rest of the engine reports exhaustion, instead of crashing the
	// whole invocation.
	defer func() {
		if r := recover(); r != nil {
			decision, err = nil, noMemFailure("solving formula: %v", r)
		}
	}()

	// The cost of a model is the summed weight of the cost literals it
	// satisfies, so each cost literal is the *negation* of a promotion
	// assumption: a falsified assumption costs 1, and minimizing total
	// cost maximizes the number of stage records promoted. A cost of 0
	// therefore means every assumption held.
	costLits := make([]solver.Lit, 0, len(f.PromotionAssumptions))
	costWeights := make([]int, 0, len(f.PromotionAssumptions))
	for _, lit := range f.PromotionAssumptions {
		costLits = append(costLits, solver.IntToLit(int32(-lit)))
		costWeights = append(costWeights, 1)
	}

	problem := solver.ParseSliceNb(toIntSlices(f.Clauses), f.NbVars)
	if len(costLits) > 0 {
		problem.SetCostFunc(costLits, costWeights)
	}
	sat := solver.New(problem)

	var unsat bool
	if len(costLits) > 0 {
		unsat = sat.Minimize() < 0
	} else {
		// Nothing staged anywhere: no preferences to optimize, only
		// the hard consistency check.
		unsat = sat.Solve() == solver.Unsat
	}
	if unsat {
		// The promotion preferences live only in the cost function, so
		// a negative Minimize result means the hard clauses alone are
		// unsatisfiable: a PROTO-class inconsistency existed before
		// staging was even considered. A merely-rejected promotion
		// never lands here; it just contributes 1 to a non-negative
		// cost.
		core := shrinkUnsatCore(f.Clauses, f.NbVars)
		return &Decision{Explanation: textForCore(f, core)}, protoFailure("formula is unsatisfiable without any promotion")
	}

	return decisionFromModel(f, sat.Model()), nil
}

func decisionFromModel(f *Formula, model []bool) *Decision {
	promoted := make(map[int]bool, len(f.PromotionAssumptions))
	for _, lit := range f.PromotionAssumptions {
		idx := lit - 1
		if idx < 0 || idx >= len(model) {
			continue
		}
		if model[idx] {
			promoted[lit] = true
		}
	}
	return &Decision{Promoted: promoted}
}

func toIntSlices(clauses []Clause) [][]int {
	out := make([][]int, len(clauses))
	for i, c := range clauses {
		out[i] = []int(c)
	}
	return out
}

// coreClause pairs a clause with its index in the original
// Formula.Clauses slice, so a core can be mapped back to Formula.Text
// for the human-readable explanation.
type coreClause struct {
	origIndex int
	clause    Clause
}

// shrinkUnsatCore implements a deletion-based minimal unsatisfiable
// subset search: drop one clause at a time and keep the drop only if
// the remainder is still unsatisfiable, until no more clauses can be
// removed. gophersat exposes no trace or MUS API, so the core is found
// from the outside; the result is not guaranteed globally minimum,
// only locally irreducible.
func shrinkUnsatCore(clauses []Clause, nbVars int) []coreClause {
	working := make([]coreClause, len(clauses))
	for i, c := range clauses {
		working[i] = coreClause{origIndex: i, clause: c}
	}

	for i := 0; i < len(working); {
		trial := make([]coreClause, 0, len(working)-1)
		trial = append(trial, working[:i]...)
		trial = append(trial, working[i+1:]...)

		if len(trial) == 0 {
			i++
			continue
		}

		p := solver.ParseSliceNb(toIntSlicesCore(trial), nbVars)
		if solver.New(p).Solve() == solver.Unsat {
			working = trial
			continue
		}
		i++
	}

	return working
}

func toIntSlicesCore(cs []coreClause) [][]int {
	out := make([][]int, len(cs))
	for i, c := range cs {
		out[i] = []int(c.clause)
	}
	return out
}

// textForCore recovers the human-readable form of each clause in the
// core from f.Text, indexed identically to f.Clauses.
func textForCore(f *Formula, core []coreClause) []string {
	out := make([]string, 0, len(core))
	for _, c := range core {
		if c.origIndex >= 0 && c.origIndex < len(f.Text) {
			out = append(out, f.Text[c.origIndex])
		}
	}
	return out
}
