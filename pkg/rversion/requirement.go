package rversion

import (
	"fmt"
	"strings"
)

// Op is a requirement operator.
type Op string

const (
	OpEQ          Op = "="
	OpNEQ         Op = "!="
	OpGT          Op = ">"
	OpGE          Op = ">="
	OpLT          Op = "<"
	OpLE          Op = "<="
	OpPessimistic Op = "~>"
)

// Constraint is a single (operator, version) pair.
type Constraint struct {
	Op      Op
	Version Version
}

// Requirement is an AND-conjunction of constraints, e.g. ">= 2.0, < 3.0".
type Requirement struct {
	Constraints []Constraint
}

// ParseRequirement parses a comma-separated list of constraints. An empty
// string is treated as the always-true requirement ">= 0", per §4.B.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		zero, _ := Parse("0")
		return Requirement{Constraints: []Constraint{{Op: OpGE, Version: zero}}}, nil
	}
	parts := strings.Split(s, ",")
	cs := make([]Constraint, 0, len(parts))
	for _, p := range parts {
		c, err := parseConstraint(p)
		if err != nil {
			return Requirement{}, err
		}
		cs = append(cs, c)
	}
	return Requirement{Constraints: cs}, nil
}

func parseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	for _, op := range []Op{OpPessimistic, OpGE, OpLE, OpNEQ, OpEQ, OpGT, OpLT} {
		if rest, ok := strings.CutPrefix(s, string(op)); ok {
			v, err := Parse(strings.TrimSpace(rest))
			if err != nil {
				return Constraint{}, fmt.Errorf("invalid constraint %q: %w", s, err)
			}
			return Constraint{Op: op, Version: v}, nil
		}
	}
	// Bare version implies exact match.
	v, err := Parse(s)
	if err != nil {
		return Constraint{}, fmt.Errorf("invalid constraint %q: %w", s, err)
	}
	return Constraint{Op: OpEQ, Version: v}, nil
}

func (c Constraint) satisfiedBy(v Version) bool {
	switch c.Op {
	case OpEQ:
		return v.Equal(c.Version)
	case OpNEQ:
		return !v.Equal(c.Version)
	case OpGT:
		return v.GreaterThan(c.Version)
	case OpGE:
		return v.GreaterOrEqual(c.Version)
	case OpLT:
		return v.LessThan(c.Version)
	case OpLE:
		return v.LessOrEqual(c.Version)
	case OpPessimistic:
		return v.GreaterOrEqual(c.Version) && v.LessThan(c.Version.Bump())
	}
	return false
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Version)
}

// Satisfies reports whether v meets every constraint in the requirement.
// Prerelease versions are excluded unless at least one constraint in the
// requirement explicitly names a prerelease version, matching RubyGems'
// default "prereleases are opt-in" policy.
func (r Requirement) Satisfies(v Version) bool {
	if v.IsPrerelease() && !r.allowsPrerelease() {
		return false
	}
	for _, c := range r.Constraints {
		if !c.satisfiedBy(v) {
			return false
		}
	}
	return true
}

// SatisfiesIgnoringPrerelease checks the constraints without the
// default prerelease-exclusion gate, for callers that have already
// decided (by some other policy) to consider prereleases.
func (r Requirement) SatisfiesIgnoringPrerelease(v Version) bool {
	for _, c := range r.Constraints {
		if !c.satisfiedBy(v) {
			return false
		}
	}
	return true
}

func (r Requirement) allowsPrerelease() bool {
	for _, c := range r.Constraints {
		if c.Version.IsPrerelease() {
			return true
		}
	}
	return false
}

func (r Requirement) String() string {
	parts := make([]string, len(r.Constraints))
	for i, c := range r.Constraints {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}
