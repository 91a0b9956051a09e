package lockfile

import "github.com/spinel-coop/rv/pkg/rverrors"

// Mode controls how strictly the parser treats structural surprises: an
// unrecognized top-level section header, a dependency line at the wrong
// indentation, a spec line that doesn't parse.
type Mode int

const (
	// Strict rejects anything it doesn't recognize, with a precise
	// line/column pointing at the offending text.
	Strict Mode = iota
	// Lenient skips unrecognized lines and keeps going, for reading
	// lockfiles from newer Bundler versions that added sections rv
	// doesn't know about yet.
	Lenient
)

func errAt(line, col int, kind, msg string) error {
	return rverrors.InvalidLockfile(line, col, kind, msg)
}
