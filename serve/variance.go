package serve

import (
	"bytes"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"

	"flowcam/video/process"
)

// VarianceSource snapshots the per-pixel flow variance.
type VarianceSource interface {
	Variance() *process.VarianceMap
}

// VarianceServer serves the binary variance dump.
type VarianceServer struct {
	Source VarianceSource
}

func (s *VarianceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v := s.Source.Variance()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="variance.bin"`)
	w.Header().Set("X-Variance-Samples", strconv.FormatUint(v.Samples, 10))
	if _, err := v.WriteTo(w); err != nil {
		log.Warnf("Failed to write variance dump to %v: %v", r.RemoteAddr, err)
	}
}

// VarianceHeatmapServer renders the variance map as a PNG heatmap. The
// optional "scale" form value sets the points per map pixel.
type VarianceHeatmapServer struct {
	Source VarianceSource
}

func (s *VarianceHeatmapServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scale := 2.0
	if v := r.Form.Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 16 {
			http.Error(w, "bad scale", http.StatusBadRequest)
			return
		}
		scale = f
	}

	v := s.Source.Variance()
	var buf bytes.Buffer
	if err := v.WriteHeatmap(&buf, vg.Length(float64(v.Width)*scale), vg.Length(float64(v.Height)*scale)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	buf.WriteTo(w)
}
