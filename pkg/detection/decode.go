package detection

import (
	"errors"
	"fmt"
	"sort"
)

// ErrShortTensor is returned when the output buffer is smaller than its declared shape.
var ErrShortTensor = errors.New("detection: tensor shorter than declared shape")

// DecodeOptions configures Decode.
type DecodeOptions struct {
	// ConfidenceThreshold applies to objectness and to the combined score.
	ConfidenceThreshold float64

	// TargetClass keeps only this class when non-empty.
	TargetClass string

	// InputWidth and InputHeight are the model's fixed input size. Box
	// parameters are scaled by these, not by the source frame size.
	InputWidth  int
	InputHeight int

	// Classes maps class index to name. Indexes outside it get "class_<n>".
	Classes []string
}

// Decode reads a [1, boxCount, 5+numClasses] tensor (cx, cy, w, h, objectness,
// class scores...) and returns the candidates that pass the thresholds.
// The result is not yet suppressed; see NMS.
func Decode(data []float32, boxCount, numClasses int, opts DecodeOptions) ([]Detection, error) {
	stride := 5 + numClasses
	if boxCount < 0 || numClasses <= 0 {
		return nil, fmt.Errorf("detection: invalid shape boxes=%d classes=%d", boxCount, numClasses)
	}
	if len(data) < boxCount*stride {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortTensor, len(data), boxCount*stride)
	}

	inW := float64(opts.InputWidth)
	inH := float64(opts.InputHeight)

	var out []Detection
	for i := 0; i < boxCount; i++ {
		row := data[i*stride : (i+1)*stride]

		objectness := float64(row[4])
		if objectness < opts.ConfidenceThreshold {
			continue
		}

		classID := 0
		best := row[5]
		for c := 1; c < numClasses; c++ {
			if row[5+c] > best {
				best = row[5+c]
				classID = c
			}
		}

		conf := float64(best) * objectness
		if conf < opts.ConfidenceThreshold {
			continue
		}

		name := className(opts.Classes, classID)
		if opts.TargetClass != "" && name != opts.TargetClass {
			continue
		}

		cx, cy := float64(row[0]), float64(row[1])
		w, h := float64(row[2]), float64(row[3])

		out = append(out, Detection{
			ClassID:    classID,
			ClassName:  name,
			Confidence: conf,
			Box: Rect{
				X: (cx - w/2) * inW,
				Y: (cy - h/2) * inH,
				W: w * inW,
				H: h * inH,
			},
			Center: Point{X: clamp01(cx), Y: clamp01(cy)},
		})
	}
	return out, nil
}

// IoU returns the intersection-over-union of a and b, or 0 when the union is empty.
func IoU(a, b Rect) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy non-maximum suppression: candidates are taken in
// descending confidence order and every remaining candidate overlapping a
// kept one by more than iouThreshold is dropped. Suppression ignores class,
// so overlapping boxes of different classes also suppress each other.
func NMS(cands []Detection, iouThreshold float64) []Detection {
	if len(cands) == 0 {
		return nil
	}

	sorted := make([]Detection, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// Truncate keeps at most n detections. n <= 0 means no limit.
func Truncate(dets []Detection, n int) []Detection {
	if n <= 0 || len(dets) <= n {
		return dets
	}
	return dets[:n]
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
