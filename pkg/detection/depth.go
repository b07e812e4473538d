package detection

import "math"

// DepthEstimator places detections in camera space from their apparent size.
//
// Depth uses an inverse-width model: distance = Calibration / normalizedWidth,
// so an object filling 20% of the frame width sits at 1m with the default
// calibration of 0.2. Lateral offsets come from a pinhole model.
type DepthEstimator struct {
	// HorizontalFOV and VerticalFOV in degrees.
	HorizontalFOV float64
	VerticalFOV   float64

	// Calibration is the normalized width at which an object is 1m away.
	Calibration float64

	// MinDistance and MaxDistance clamp the estimate (meters).
	MinDistance float64
	MaxDistance float64
}

// DefaultDepthEstimator returns values for a typical 70° webcam.
func DefaultDepthEstimator() DepthEstimator {
	return DepthEstimator{
		HorizontalFOV: 70,
		VerticalFOV:   43,
		Calibration:   0.2,
		MinDistance:   0.3,
		MaxDistance:   5.0,
	}
}

// Depth returns the distance for a normalized box width, or 0 when the width is invalid.
func (e DepthEstimator) Depth(normWidth float64) float64 {
	if normWidth <= 0 || normWidth > 1 {
		return 0
	}
	d := e.Calibration / normWidth
	return min(e.MaxDistance, max(e.MinDistance, d))
}

// Locate fills World and HasWorld for each detection. frameW and frameH are
// the pixel dimensions the boxes are expressed in.
func (e DepthEstimator) Locate(dets []Detection, frameW, frameH float64) {
	if frameW <= 0 || frameH <= 0 {
		return
	}
	tanH := math.Tan(e.HorizontalFOV * math.Pi / 360)
	tanV := math.Tan(e.VerticalFOV * math.Pi / 360)

	for i := range dets {
		z := e.Depth(dets[i].Box.W / frameW)
		if z == 0 {
			dets[i].HasWorld = false
			continue
		}
		dets[i].World = Point3{
			X: (dets[i].Center.X*2 - 1) * z * tanH,
			Y: (dets[i].Center.Y*2 - 1) * z * tanV,
			Z: z,
		}
		dets[i].HasWorld = true
	}
}

// DistanceCategory returns a human-readable distance bucket.
func DistanceCategory(distance float64) string {
	switch {
	case distance <= 0:
		return "unknown"
	case distance < 0.5:
		return "very close"
	case distance < 1.0:
		return "close"
	case distance < 2.0:
		return "nearby"
	case distance < 3.0:
		return "moderate"
	default:
		return "far"
	}
}
