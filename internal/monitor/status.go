package monitor

import (
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
)

// Status is a read-only snapshot of the monitoring loop
type Status struct {
	State         string           `json:"state"`
	FPS           float64          `json:"fps"`
	Frames        uint64           `json:"frames"`
	PersonFrames  uint64           `json:"person_frames"`
	People        int              `json:"people"` // detections in the latest frame
	AnalysisCount int              `json:"analysis_count"`
	AlertCount    int              `json:"alert_count"`
	LastResult    *analysis.Result `json:"last_result,omitempty"`
	ActiveAlert   *analysis.Result `json:"active_alert,omitempty"`
	Running       bool             `json:"running"`
	Ended         bool             `json:"ended"` // the capture source finished
	UpdatedAt     time.Time        `json:"updated_at"`
}
