package model

// Path is an ordered, fixed-length sequence of positions sampled at equal
// time intervals. A Path is never mutated after construction; callers that
// need a different route build a new one.
type Path struct {
	points []Position
}

// NewPath copies points into a new Path.
func NewPath(points []Position) Path {
	cp := make([]Position, len(points))
	copy(cp, points)
	return Path{points: cp}
}

// Len returns the number of samples.
func (p Path) Len() int { return len(p.points) }

// Empty reports whether the path has no samples.
func (p Path) Empty() bool { return len(p.points) == 0 }

// At returns the sample at i, clamped into [0, Len()-1]. It returns the zero
// Position for an empty path.
func (p Path) At(i int) Position {
	if len(p.points) == 0 {
		return Position{}
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.points) {
		i = len(p.points) - 1
	}
	return p.points[i]
}

// First returns the origin sample.
func (p Path) First() Position { return p.At(0) }

// Last returns the destination sample.
func (p Path) Last() Position { return p.At(len(p.points) - 1) }

// LastIndex returns Len()-1, or 0 for an empty path.
func (p Path) LastIndex() int {
	if len(p.points) == 0 {
		return 0
	}
	return len(p.points) - 1
}

// Suffix returns the samples from index i onward. The result shares no
// storage with p.
func (p Path) Suffix(i int) Path {
	if i < 0 {
		i = 0
	}
	if i >= len(p.points) {
		return Path{}
	}
	return NewPath(p.points[i:])
}

// Points returns a copy of the samples.
func (p Path) Points() []Position {
	cp := make([]Position, len(p.points))
	copy(cp, p.points)
	return cp
}
