// Package yolo runs YOLO-style ONNX detectors through OpenCV DNN.
//
// The model output must be laid out as [1, boxCount, 5+numClasses]:
// normalized cx, cy, w, h, objectness, then one score per class.
package yolo

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dvegas03/MechAI/pkg/detection"
	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned when a frame decodes to an empty image.
var ErrEmptyImage = errors.New("yolo: empty image")

// Config holds engine configuration.
type Config struct {
	ModelPath string

	// Classes maps class index to name. COCO when empty.
	Classes []string

	ConfidenceThreshold float64
	IoUThreshold        float64
	MaxDetections       int

	// TargetClass keeps a single class when set.
	TargetClass string

	// Fixed model input size.
	InputWidth  int
	InputHeight int

	Backend gocv.NetBackendType
	Target  gocv.NetTargetType

	// Depth, when set, fills world positions.
	Depth *detection.DepthEstimator

	Logger *slog.Logger
}

// DefaultConfig returns defaults for a 640x640 YOLOv5 export.
func DefaultConfig() Config {
	return Config{
		ModelPath:           "models/yolov5s.onnx",
		Classes:             detection.COCOClasses,
		ConfidenceThreshold: 0.45,
		IoUThreshold:        0.45,
		MaxDetections:       20,
		InputWidth:          640,
		InputHeight:         640,
		Backend:             gocv.NetBackendDefault,
		Target:              gocv.NetTargetCPU,
	}
}

// Engine is an object detector backed by gocv.Net.
type Engine struct {
	net    gocv.Net
	config Config
	size   image.Point
	logger *slog.Logger
	mu     sync.Mutex
}

// New loads the model. A missing or unreadable model is a setup error.
func New(cfg Config) (*Engine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo: model file: %w", err)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("yolo: invalid input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = detection.COCOClasses
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo: failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(cfg.Backend)
	net.SetPreferableTarget(cfg.Target)

	return &Engine{
		net:    net,
		config: cfg,
		size:   image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger: cfg.Logger.With("component", "detection.yolo"),
	}, nil
}

// Infer decodes a JPEG frame, runs the model and returns the suppressed detections.
func (e *Engine) Infer(frame []byte) (detection.Set, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return detection.Set{}, fmt.Errorf("yolo: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return detection.Set{}, ErrEmptyImage
	}

	// BlobFromImage resizes to the fixed input size, so box coordinates are
	// expressed in model input pixels.
	blob := gocv.BlobFromImage(img, 1.0/255.0, e.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	boxCount, stride, err := outputShape(output.Size())
	if err != nil {
		return detection.Set{}, err
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return detection.Set{}, fmt.Errorf("yolo: read output: %w", err)
	}

	cands, err := detection.Decode(data, boxCount, stride-5, detection.DecodeOptions{
		ConfidenceThreshold: e.config.ConfidenceThreshold,
		TargetClass:         e.config.TargetClass,
		InputWidth:          e.config.InputWidth,
		InputHeight:         e.config.InputHeight,
		Classes:             e.config.Classes,
	})
	if err != nil {
		return detection.Set{}, err
	}

	dets := detection.Truncate(detection.NMS(cands, e.config.IoUThreshold), e.config.MaxDetections)
	if e.config.Depth != nil {
		e.config.Depth.Locate(dets, float64(e.config.InputWidth), float64(e.config.InputHeight))
	}

	e.logger.Debug("inference",
		"candidates", len(cands),
		"kept", len(dets),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return detection.Set{Detections: dets, At: time.Now()}, nil
}

// outputShape reads boxCount and row stride from [1, N, S] or [N, S].
func outputShape(dims []int) (boxCount, stride int, err error) {
	switch len(dims) {
	case 3:
		boxCount, stride = dims[1], dims[2]
	case 2:
		boxCount, stride = dims[0], dims[1]
	default:
		return 0, 0, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	if stride <= 5 {
		return 0, 0, fmt.Errorf("yolo: output rows too short: %v", dims)
	}
	return boxCount, stride, nil
}

// Close releases the network.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

var _ detection.Inferer = (*Engine)(nil)
