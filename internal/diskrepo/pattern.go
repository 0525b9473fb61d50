package diskrepo

import (
	"strings"

	"github.com/pkg/errors"
)

// operators are tried longest-first so ">=" is not misread as ">".
var patternOperators = []string{">=", "<=", "==", ">", "<", "="}

// Dependency patterns are handled by a plain operator split; no glob
// syntax is interpreted.

// PatternMatcher parses dependency patterns of the form
// "name<op>version" (operators >=, <=, ==, >, <, =) or a bare "name",
// which matches any version of that name. A pattern with no operator is
// taken whole as the name, so a "name-version" string such as
// "foo-1.0_1" is compared against the candidate's name, not treated as
// an exact pkgver.
type PatternMatcher struct {
	Orderer interface{ Order(a, b string) int }
}

// NewPatternMatcher returns a PatternMatcher whose Match uses orderer
// to compare version halves.
func NewPatternMatcher(orderer interface{ Order(a, b string) int }) PatternMatcher {
	return PatternMatcher{Orderer: orderer}
}

type parsedPattern struct {
	name string
	op   string
	ver  string
}

func splitPattern(pattern string) (parsedPattern, error) {
	for _, op := range patternOperators {
		if idx := strings.Index(pattern, op); idx > 0 {
			return parsedPattern{
				name: pattern[:idx],
				op:   op,
				ver:  pattern[idx+len(op):],
			}, nil
		}
	}
	if pattern == "" {
		return parsedPattern{}, errors.New("empty dependency pattern")
	}
	// No operator: either a bare pkgname, or a "name-version" pkgver
	// used as an implicit exact match. We can't always tell which
	// without a registry of known names, so we treat the whole string
	// as the name and leave ver empty; Match then degrades to "the
	// candidate's name matches", which is the safe, permissive choice
	// for an ambiguous pattern.
	return parsedPattern{name: pattern}, nil
}

// NameOfPattern extracts the package name half of a dependency
// pattern. Returns an error if pattern is empty or otherwise has no
// extractable name.
func (m PatternMatcher) NameOfPattern(pattern string) (string, error) {
	p, err := splitPattern(pattern)
	if err != nil {
		return "", err
	}
	if p.name == "" {
		return "", errors.Errorf("no name in pattern %q", pattern)
	}
	return p.name, nil
}

// Match reports whether pkgver (a "name-version" string) satisfies
// pattern.
func (m PatternMatcher) Match(pkgver, pattern string) bool {
	p, err := splitPattern(pattern)
	if err != nil {
		return false
	}
	name, version, ok := splitPkgver(pkgver)
	if !ok || name != p.name {
		return false
	}
	if p.ver == "" {
		return true
	}

	cmp := m.Orderer.Order(version, p.ver)
	switch p.op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "==", "=":
		return cmp == 0
	default:
		return false
	}
}

// NameOfPkgver extracts the package name half of a "name-version"
// pkgver string.
func (m PatternMatcher) NameOfPkgver(pkgver string) (string, error) {
	name, _, ok := splitPkgver(pkgver)
	if !ok {
		return "", errors.Errorf("malformed pkgver %q", pkgver)
	}
	return name, nil
}

func splitPkgver(pkgver string) (name, version string, ok bool) {
	idx := strings.LastIndex(pkgver, "-")
	if idx <= 0 || idx == len(pkgver)-1 {
		return "", "", false
	}
	return pkgver[:idx], pkgver[idx+1:], true
}
