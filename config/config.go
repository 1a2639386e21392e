package config

import (
	"fmt"

	"flowcam/video/process"
)

type PatternConfig struct {
	Width, Height int
	// Speed in pixels per frame.
	Speed float64
	// Scale is log2 of the checker size.
	Scale uint8
}

type Config struct {
	// URI of the camera or video file. When empty the test pattern is used.
	URI        string
	CaptureFPS int
	Pattern    PatternConfig

	BufferSlots int

	// Estimator settings are read once at startup.
	Levels           int
	RefImageFilter   float32
	SuperResolution  bool
	Mode             string
	BurnFx, BurnFy   float32
	VarianceTracking bool
	// VariancePath, if set, receives the variance dump on exit.
	VariancePath string

	// OutputScale multiplies intensities of the RGB8 output.
	OutputScale float32

	// ClipsPath enables clip recording of the stabilized stream.
	ClipsPath        string
	RecordFPS        int
	BufferTimeSec    int
	RecordTimeSec    int
	MaxRecordTimeSec int

	// Jitter alerts. Reloaded while running.
	AlertThreshold         float64
	AlertFrames            int
	NotificationHoursStart int
	NotificationHoursEnd   int
	WebPushSubscriber      string

	// DatabaseDSN is a MySQL DSN for telemetry and web push subscriptions.
	DatabaseDSN string
	// TelemetryPath is a SQLite file for telemetry and web push
	// subscriptions, used without DatabaseDSN.
	TelemetryPath  string
	TelemetryEvery int
	TelemetryBatch int
}

func Default() *Config {
	return &Config{
		Pattern: PatternConfig{
			Width:  320,
			Height: 240,
			Speed:  0.25,
			Scale:  4,
		},
		Levels:                 process.DefaultLevels,
		RefImageFilter:         process.DefaultRefImageFilter,
		Mode:                   process.ModeCropFilterSubpixelStab.String(),
		OutputScale:            1,
		RecordFPS:              15,
		BufferTimeSec:          2,
		RecordTimeSec:          20,
		MaxRecordTimeSec:       300,
		AlertFrames:            15,
		NotificationHoursStart: 6,
		NotificationHoursEnd:   22,
		TelemetryEvery:         10,
		TelemetryBatch:         50,
	}
}

// MotionOptions converts the estimator settings.
func (c *Config) MotionOptions() (process.MotionOptions, error) {
	mode, err := process.ParseMode(c.Mode)
	if err != nil {
		return process.MotionOptions{}, err
	}
	return process.MotionOptions{
		Levels:           c.Levels,
		RefImageFilter:   c.RefImageFilter,
		SuperResolution:  c.SuperResolution,
		Mode:             mode,
		BurnFx:           c.BurnFx,
		BurnFy:           c.BurnFy,
		VarianceTracking: c.VarianceTracking,
		BufferSlots:      c.BufferSlots,
	}, nil
}

func validHour(h int) bool {
	return h >= 0 && h < 24
}

func (c *Config) Validate() error {
	if _, err := c.MotionOptions(); err != nil {
		return err
	}
	if c.URI == "" && (c.Pattern.Width <= 0 || c.Pattern.Height <= 0) {
		return fmt.Errorf("test pattern size %dx%d", c.Pattern.Width, c.Pattern.Height)
	}
	if c.BufferSlots < 0 {
		return fmt.Errorf("buffer slots %d", c.BufferSlots)
	}
	if c.OutputScale <= 0 {
		return fmt.Errorf("output scale %v", c.OutputScale)
	}
	if c.AlertThreshold < 0 || c.AlertFrames < 0 {
		return fmt.Errorf("alert threshold %v over %d frames", c.AlertThreshold, c.AlertFrames)
	}
	if !validHour(c.NotificationHoursStart) || !validHour(c.NotificationHoursEnd) {
		return fmt.Errorf("notification hours %d-%d", c.NotificationHoursStart, c.NotificationHoursEnd)
	}
	if c.ClipsPath != "" && (c.RecordFPS <= 0 || c.RecordTimeSec <= 0 || c.MaxRecordTimeSec < c.RecordTimeSec) {
		return fmt.Errorf("recording at %d fps for %d-%ds", c.RecordFPS, c.RecordTimeSec, c.MaxRecordTimeSec)
	}
	if c.TelemetryEvery < 0 || c.TelemetryBatch < 0 {
		return fmt.Errorf("telemetry every %d batch %d", c.TelemetryEvery, c.TelemetryBatch)
	}
	return nil
}

// RestartRequired lists the settings that differ between a and b but only
// take effect on restart.
func RestartRequired(a, b *Config) []string {
	var fields []string
	check := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}
	check("URI", a.URI != b.URI)
	check("CaptureFPS", a.CaptureFPS != b.CaptureFPS)
	check("Pattern", a.Pattern != b.Pattern)
	check("BufferSlots", a.BufferSlots != b.BufferSlots)
	check("Levels", a.Levels != b.Levels)
	check("RefImageFilter", a.RefImageFilter != b.RefImageFilter)
	check("SuperResolution", a.SuperResolution != b.SuperResolution)
	check("Mode", a.Mode != b.Mode)
	check("BurnFx", a.BurnFx != b.BurnFx)
	check("BurnFy", a.BurnFy != b.BurnFy)
	check("VarianceTracking", a.VarianceTracking != b.VarianceTracking)
	check("OutputScale", a.OutputScale != b.OutputScale)
	check("ClipsPath", a.ClipsPath != b.ClipsPath)
	check("DatabaseDSN", a.DatabaseDSN != b.DatabaseDSN)
	check("TelemetryPath", a.TelemetryPath != b.TelemetryPath)
	return fields
}
