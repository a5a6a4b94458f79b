package store

import "github.com/gravito-framework/connectty-go/pkg/types"

// series is an append-only, optionally capacity-bounded list of points.
// Eviction reslices from the front; the backing array is reclaimed the next
// time append has to grow it.
type series struct {
	points   []types.Point
	capacity int // 0 means unbounded
}

func (s *series) append(p types.Point) {
	if s.capacity > 0 && len(s.points) >= s.capacity {
		s.points = s.points[len(s.points)-s.capacity+1:]
	}
	s.points = append(s.points, p)
}

func (s *series) last() (types.Point, bool) {
	if len(s.points) == 0 {
		return types.Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// view returns a slice whose capacity equals its length. Later appends
// either write past every published view or reallocate, so a view never
// changes after it is handed out.
func (s *series) view() []types.Point {
	n := len(s.points)
	return s.points[:n:n]
}
