// Package returns keeps rolling log-return windows for instruments that are
// currently carried by an active signal.
package returns

import "time"

// Point is one timestamped log return.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series is a fixed-capacity window of returns, most recent first.
type Series struct {
	capacity int
	points   []Point
}

func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{capacity: capacity, points: make([]Point, 0, capacity)}
}

// Add pushes p to the front and evicts the oldest point when full.
func (s *Series) Add(p Point) {
	if len(s.points) < s.capacity {
		s.points = append(s.points, Point{})
	}
	copy(s.points[1:], s.points[:len(s.points)-1])
	s.points[0] = p
}

func (s *Series) Len() int { return len(s.points) }

// IsReady reports whether the window is full.
func (s *Series) IsReady() bool { return len(s.points) == s.capacity }

// Points returns a copy, most recent first.
func (s *Series) Points() []Point {
	return append([]Point(nil), s.points...)
}
