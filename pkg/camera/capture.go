package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ErrReadFailed is returned when the device yields no frame.
var ErrReadFailed = errors.New("camera: read failed")

// Capture reads frames from a gocv.VideoCapture and encodes them as JPEG.
type Capture struct {
	config Config
	logger *slog.Logger

	mu sync.Mutex
	vc *gocv.VideoCapture
}

// Open validates cfg and opens the device.
func Open(cfg Config, logger *slog.Logger) (*Capture, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %s", strings.Join(errs, "; "))
	}
	if logger == nil {
		logger = slog.Default()
	}

	var device interface{} = cfg.Device
	if idx, err := strconv.Atoi(cfg.Device); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("camera: open %s: %w", cfg.Device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	logger.Info("camera opened", "component", "camera", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height)

	return &Capture{
		config: cfg,
		logger: logger.With("component", "camera"),
		vc:     vc,
	}, nil
}

// Frame grabs one frame and returns it as JPEG bytes.
func (c *Capture) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, errors.New("camera: closed")
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := c.vc.Read(&img); !ok || img.Empty() {
		return nil, ErrReadFailed
	}

	resized := gocv.NewMat()
	defer resized.Close()

	out := img
	if img.Cols() != c.config.Width || img.Rows() != c.config.Height {
		gocv.Resize(img, &resized, image.Pt(c.config.Width, c.config.Height), 0, 0, gocv.InterpolationLinear)
		out = resized
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, out, []int{int(gocv.IMWriteJpegQuality), c.config.Quality})
	if err != nil {
		return nil, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	src := buf.GetBytes()
	jpeg := make([]byte, len(src))
	copy(jpeg, src)
	return jpeg, nil
}

// Config returns the capture configuration.
func (c *Capture) Config() Config {
	return c.config
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}
