// Package excludes matches archive paths against a set of glob
// patterns, letting a backup skip whole subtrees or individual files.
//
// Rather than hand-rolling wildcard matching, this package uses
// github.com/bmatcuk/doublestar/v4, a double-star glob engine, so a
// pattern like "**/*.tmp" or "build/**" behaves the way users of any
// modern glob-based ignore file expect.
package excludes

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/errs"
)

// Set is a compiled collection of exclude patterns.
type Set struct {
	patterns []string // each pattern already covers both itself and any descendant
}

// NewSet compiles patterns into a Set. A pattern beginning with '/'
// matches the full apath from the archive root; any other pattern
// matches against any suffix of path components, mirroring a typical
// ignore-file convention. Either way, a pattern that matches a
// directory also matches everything under it.
func NewSet(patterns []string) (*Set, error) {
	s := &Set{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		base := strings.TrimPrefix(p, "/")
		if !doublestar.ValidatePattern(base) {
			return nil, errs.New(errs.KindInvalidInput, "excludes.NewSet", p, fmt.Errorf("invalid glob pattern"))
		}
		rooted := strings.HasPrefix(p, "/")
		for _, compiled := range []string{base, base + "/**"} {
			if !rooted {
				compiled = "**/" + compiled
			}
			s.patterns = append(s.patterns, compiled)
		}
	}
	return s, nil
}

// Nothing returns a Set that excludes nothing; it is equivalent to the
// zero value.
func Nothing() *Set { return &Set{} }

// Match reports whether p should be excluded.
func (s *Set) Match(p apath.Apath) bool {
	if s == nil {
		return false
	}
	path := string(p)
	for _, pattern := range s.patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
