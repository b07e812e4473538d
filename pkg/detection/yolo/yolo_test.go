package yolo

import (
	"path/filepath"
	"testing"
)

func TestOutputShape(t *testing.T) {
	tests := []struct {
		name      string
		dims      []int
		wantBoxes int
		wantRow   int
		wantErr   bool
	}{
		{"batched", []int{1, 25200, 85}, 25200, 85, false},
		{"unbatched", []int{100, 10}, 100, 10, false},
		{"no classes", []int{1, 10, 5}, 0, 0, true},
		{"flat", []int{85}, 0, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			boxes, row, err := outputShape(tc.dims)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if boxes != tc.wantBoxes || row != tc.wantRow {
				t.Errorf("got (%d, %d), want (%d, %d)", boxes, row, tc.wantBoxes, tc.wantRow)
			}
		})
	}
}

func TestNewMissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	if _, err := New(cfg); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		t.Errorf("ConfidenceThreshold should be 0-1, got %f", cfg.ConfidenceThreshold)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		t.Errorf("input size should be positive, got %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if len(cfg.Classes) != 80 {
		t.Errorf("expected COCO classes, got %d", len(cfg.Classes))
	}
}
