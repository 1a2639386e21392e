package telemetry

import (
	"context"
	"time"

	"flowcam/video/process"
)

// FlowRecord is one persisted motion sample.
type FlowRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Session   string    `gorm:"index;size:36" json:"session"`
	Frame     uint64    `json:"frame"`
	Time      time.Time `gorm:"index" json:"time"`
	Hx        float32   `json:"hx"`
	Hy        float32   `json:"hy"`
	OutputHx  float32   `json:"output_hx"`
	OutputHy  float32   `json:"output_hy"`
	Magnitude float64   `json:"magnitude"`
}

func NewFlowRecord(session string, s process.MotionSample) FlowRecord {
	return FlowRecord{
		Session:   session,
		Frame:     s.Frame,
		Time:      s.Time,
		Hx:        s.Hx,
		Hy:        s.Hy,
		OutputHx:  s.OutputHx,
		OutputHy:  s.OutputHy,
		Magnitude: s.Magnitude(),
	}
}

// Store persists flow records.
type Store interface {
	Insert(ctx context.Context, records []FlowRecord) error
	// Recent returns up to limit of the newest records of a session, oldest
	// first.
	Recent(ctx context.Context, session string, limit int) ([]FlowRecord, error)
	Close() error
}
