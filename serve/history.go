package serve

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"flowcam/telemetry"
)

const defaultHistoryLimit = 500

// HistorySource provides the newest persisted records, oldest first.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]telemetry.FlowRecord, error)
}

// HistoryServer renders recent telemetry as an HTML line chart. The optional
// "n" form value sets the number of records.
type HistoryServer struct {
	Source HistorySource
}

func (s *HistoryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := defaultHistoryLimit
	if v := r.Form.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad n", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.Source.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	xs := make([]string, 0, len(records))
	hx := make([]opts.LineData, 0, len(records))
	hy := make([]opts.LineData, 0, len(records))
	mag := make([]opts.LineData, 0, len(records))
	for _, rec := range records {
		xs = append(xs, rec.Time.Format("15:04:05.000"))
		hx = append(hx, opts.LineData{Value: rec.OutputHx})
		hy = append(hy, opts.LineData{Value: rec.OutputHy})
		mag = append(mag, opts.LineData{Value: rec.Magnitude})
	}

	session := ""
	if len(records) > 0 {
		session = records[0].Session
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "flowcam history", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Output transform", Subtitle: fmt.Sprintf("session=%s records=%d", session, len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xs).
		AddSeries("output_hx", hx).
		AddSeries("output_hy", hy).
		AddSeries("magnitude", mag)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
