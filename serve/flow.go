package serve

import (
	"encoding/json"
	"net/http"

	"flowcam/video"
	"flowcam/video/process"
)

// FlowSource provides the most recent motion sample.
type FlowSource interface {
	Latest() process.MotionSample
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

// FlowServer serves the latest motion sample as JSON.
type FlowServer struct {
	Flow FlowSource
}

func (s *FlowServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Flow.Latest())
}

// StatsServer serves the timing statistics of every pipeline stage.
type StatsServer struct{}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, video.Probes())
}
