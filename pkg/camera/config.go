// Package camera captures JPEG frames from a local video device or stream URL.
package camera

import "fmt"

// Config holds capture settings.
type Config struct {
	// Device is a device index ("0") or a stream URL / file path.
	Device string `json:"device"`

	Width   int `json:"width"`   // Output frame width in pixels
	Height  int `json:"height"`  // Output frame height in pixels
	Quality int `json:"quality"` // JPEG quality 1-100
}

// DefaultConfig returns settings for the first local camera at 640x480.
func DefaultConfig() Config {
	return Config{
		Device:  "0",
		Width:   640,
		Height:  480,
		Quality: 80,
	}
}

// Validate returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Device == "" {
		errs = append(errs, "device is required")
	}
	if c.Width < 160 || c.Width > 4096 {
		errs = append(errs, fmt.Sprintf("width must be between 160 and 4096, got %d", c.Width))
	}
	if c.Height < 120 || c.Height > 2160 {
		errs = append(errs, fmt.Sprintf("height must be between 120 and 2160, got %d", c.Height))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Sprintf("quality must be between 1 and 100, got %d", c.Quality))
	}

	return errs
}
