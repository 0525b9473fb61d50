package diskrepo

import (
	"strings"

	"github.com/Masterminds/semver"
)

// SemverOrderer orders pkgvers by their trailing "-version" component
// using Masterminds/semver, falling back to a plain byte-wise compare
// for the non-semver-shaped version strings real repositories still
// carry (date-stamped revisions, "git" suffixes, and the like).
type SemverOrderer struct{}

// Order implements repoindex.VersionOrderer.
func (SemverOrderer) Order(a, b string) int {
	av, aErr := parsePkgverVersion(a)
	bv, bErr := parsePkgverVersion(b)
	if aErr != nil || bErr != nil {
		return strings.Compare(a, b)
	}
	return av.Compare(bv)
}

// parsePkgverVersion pulls the version half out of a "name-version"
// pkgver and parses it as semver.
func parsePkgverVersion(pkgver string) (*semver.Version, error) {
	idx := strings.LastIndex(pkgver, "-")
	versionPart := pkgver
	if idx >= 0 && idx+1 < len(pkgver) {
		versionPart = pkgver[idx+1:]
	}
	return semver.NewVersion(versionPart)
}
