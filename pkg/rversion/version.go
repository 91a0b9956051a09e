// Package rversion implements §4.B's version and requirement algebra for
// Ruby/gem versions, which are not 3-component semver: segment counts
// vary and alphabetic segments may appear anywhere (e.g. "1.0.0.beta1").
// See SPEC_FULL.md's DOMAIN STACK note on why this is hand-rolled rather
// than built on Masterminds/semver/v3 (reserved for rv's own release
// version and the lockfile's bundled_with Bundler version, both true
// semver).
package rversion

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one dot-separated piece of a version: either a number or a
// string. A version is a prerelease iff any segment is a string.
type Segment struct {
	Num   uint64
	Str   string
	IsNum bool
}

func (s Segment) String() string {
	if s.IsNum {
		return strconv.FormatUint(s.Num, 10)
	}
	return s.Str
}

// Compare orders a segment against another: numeric > string (final >
// prerelease) whenever types mismatch; otherwise same-type comparison.
func (s Segment) Compare(o Segment) int {
	if s.IsNum && o.IsNum {
		switch {
		case s.Num < o.Num:
			return -1
		case s.Num > o.Num:
			return 1
		default:
			return 0
		}
	}
	if s.IsNum && !o.IsNum {
		return 1
	}
	if !s.IsNum && o.IsNum {
		return -1
	}
	return strings.Compare(s.Str, o.Str)
}

// Version is an ordered list of segments.
type Version struct {
	Segments []Segment
	original string
}

// Parse splits a version string on '.' into segments. Each segment is a
// number if it parses as one, otherwise a string. An empty string parses
// as an empty version (equivalent to "0" under comparison).
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{Segments: []Segment{{IsNum: true}}, original: s}, nil
	}
	parts := strings.Split(s, ".")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty segment", s)
		}
		if n, err := strconv.ParseUint(p, 10, 64); err == nil {
			segs = append(segs, Segment{Num: n, IsNum: true})
		} else {
			segs = append(segs, Segment{Str: p})
		}
	}
	return Version{Segments: segs, original: s}, nil
}

// MustParse panics on an invalid version; useful for compiled-in constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.original != "" {
		return v.original
	}
	parts := make([]string, len(v.Segments))
	for i, s := range v.Segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// IsPrerelease reports whether any segment is a string.
func (v Version) IsPrerelease() bool {
	for _, s := range v.Segments {
		if !s.IsNum {
			return true
		}
	}
	return false
}

// canonical strips trailing numeric zeros (but never trailing string
// segments) for comparison, per §4.B.
func (v Version) canonical() []Segment {
	segs := v.Segments
	end := len(segs)
	for end > 1 && segs[end-1].IsNum && segs[end-1].Num == 0 {
		end--
	}
	return segs[:end]
}

// Compare returns -1, 0, or 1 the way sort comparators expect.
func (v Version) Compare(o Version) int {
	a, b := v.canonical(), o.canonical()
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var sa, sb Segment
		if i < len(a) {
			sa = a[i]
		} else {
			sa = Segment{IsNum: true}
		}
		if i < len(b) {
			sb = b[i]
		} else {
			sb = Segment{IsNum: true}
		}
		if c := sa.Compare(sb); c != 0 {
			return c
		}
	}
	return 0
}

func (v Version) Equal(o Version) bool          { return v.Compare(o) == 0 }
func (v Version) LessThan(o Version) bool       { return v.Compare(o) < 0 }
func (v Version) GreaterThan(o Version) bool    { return v.Compare(o) > 0 }
func (v Version) LessOrEqual(o Version) bool    { return v.Compare(o) <= 0 }
func (v Version) GreaterOrEqual(o Version) bool { return v.Compare(o) >= 0 }

// Bump drops trailing string segments, then (if ≥2 segments remain)
// drops the last segment and increments the new last one. Used to
// compute the upper bound of a "~>" pessimistic-constraint requirement.
func (v Version) Bump() Version {
	segs := append([]Segment(nil), v.Segments...)
	for len(segs) > 0 && !segs[len(segs)-1].IsNum {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return Version{Segments: []Segment{{Num: 1, IsNum: true}}}
	}
	if len(segs) >= 2 {
		segs = segs[:len(segs)-1]
	}
	last := segs[len(segs)-1]
	last.Num++
	segs[len(segs)-1] = last
	return Version{Segments: segs}
}
