// Package detection turns raw object-detector output into a de-duplicated
// set of detections and runs inference on a fixed cadence.
package detection

import (
	"context"
	"time"
)

// Rect is an axis-aligned box in pixel space (top-left corner plus size).
type Rect struct {
	X, Y, W, H float64
}

// Area returns the box area, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Point is a normalized 2D position in [0,1]².
type Point struct {
	X, Y float64
}

// Point3 is a position in meters relative to the camera
// (x right, y down, z forward).
type Point3 struct {
	X, Y, Z float64
}

// Detection is one detected object.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"box"`
	Center     Point   `json:"center"`
	World      Point3  `json:"world"`
	HasWorld   bool    `json:"has_world"`
}

// Set is the output of one inference cycle. A new Set replaces the previous one.
type Set struct {
	Detections []Detection `json:"detections"`
	At         time.Time   `json:"at"`
}

// Len returns the number of detections.
func (s Set) Len() int {
	return len(s.Detections)
}

// Classes returns the distinct class names in confidence order.
func (s Set) Classes() []string {
	seen := make(map[string]bool, len(s.Detections))
	var out []string
	for _, d := range s.Detections {
		if !seen[d.ClassName] {
			seen[d.ClassName] = true
			out = append(out, d.ClassName)
		}
	}
	return out
}

// Has reports whether any detection has the given class.
func (s Set) Has(class string) bool {
	for _, d := range s.Detections {
		if d.ClassName == class {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := Set{At: s.At}
	if s.Detections != nil {
		out.Detections = make([]Detection, len(s.Detections))
		copy(out.Detections, s.Detections)
	}
	return out
}

// Inferer runs a detection model over an encoded frame.
type Inferer interface {
	Infer(frame []byte) (Set, error)
}

// FrameSource supplies encoded (JPEG) frames.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}
