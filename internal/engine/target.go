package engine

// Target identifies which of the two backends a hunk mutates or reads
// from. The opposite backend is the source for copy-style hunks.
type Target int

const (
	TargetLeft Target = iota
	TargetRight
)

// Opposite returns the other target.
func (t Target) Opposite() Target {
	if t == TargetLeft {
		return TargetRight
	}
	return TargetLeft
}

func (t Target) String() string {
	if t == TargetLeft {
		return "left"
	}
	return "right"
}

// targets is the fixed iteration order used by the diff functions so
// their output is deterministic.
var targets = [2]Target{TargetLeft, TargetRight}
