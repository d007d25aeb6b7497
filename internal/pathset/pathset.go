// Package pathset implements the path universe: an ordered set of
// slash-paths with deterministic lexicographic iteration, ignore-prefix
// filtering, and a case-fold collision check.
package pathset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilnforge/care/internal/careerr"
)

// Set is an ordered set of slash-paths, keyed for O(1) membership and
// iterated in sorted order for deterministic reconciliation.
type Set struct {
	members map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{members: map[string]struct{}{}}
}

// Insert adds path to the set. A no-op if already present.
func (s *Set) Insert(path string) {
	s.members[path] = struct{}{}
}

// Remove deletes path from the set. A no-op if absent.
func (s *Set) Remove(path string) {
	delete(s.members, path)
}

// Contains reports set membership.
func (s *Set) Contains(path string) bool {
	_, ok := s.members[path]
	return ok
}

// Len reports the number of members.
func (s *Set) Len() int {
	return len(s.members)
}

// Sorted returns the set's members in lexicographic order.
func (s *Set) Sorted() []string {
	out := make([]string, 0, len(s.members))
	for p := range s.members {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsIgnored reports whether any pattern in ignores is an exact string
// prefix of path. No glob expansion: this is intentionally a plain
// prefix test.
func IsIgnored(path string, ignores []string) bool {
	for _, pat := range ignores {
		if strings.HasPrefix(path, pat) {
			return true
		}
	}
	return false
}

// CaseFoldIndex tracks, for a set of paths built incrementally (typically
// while walking the shadow repo's git tree), the mapping from case-folded
// form to the single originally-cased spelling seen so far. Used by Check
// to reject a script path whose casing disagrees with an existing git
// path of the same case-fold.
//
// Case folding is a simple case-insensitive string compare, not NFC/NFD
// normalization, so case-insensitive filesystems can produce false
// negatives on non-ASCII names.
type CaseFoldIndex struct {
	byFold map[string]string
}

// NewCaseFoldIndex returns an empty index.
func NewCaseFoldIndex() *CaseFoldIndex {
	return &CaseFoldIndex{byFold: map[string]string{}}
}

// Observe records path as seen (typically from the git tree walk), keyed
// by its case-folded form.
func (c *CaseFoldIndex) Observe(path string) {
	c.byFold[foldKey(path)] = path
}

// CheckInsert verifies that path does not collide, under case folding,
// with a previously Observe'd or CheckInsert'ed path of different casing.
// Returns a CaseMismatchError naming both spellings if it does; otherwise
// records path (idempotent with Observe) and returns nil.
func (c *CaseFoldIndex) CheckInsert(path string) error {
	key := foldKey(path)
	if found, ok := c.byFold[key]; ok && found != path {
		return careerr.New(careerr.KindCaseMismatch, fmt.Sprintf("path %q collides under case-insensitive comparison with existing path %q", path, found)).With("path", path)
	}
	c.byFold[key] = path
	return nil
}

func foldKey(path string) string {
	return strings.ToLower(path)
}
