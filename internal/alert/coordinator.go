package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Status texts shown for the current monitoring state
const (
	StatusMonitoring = "Monitoring"
	StatusAnalysing  = "Analysing..."
	StatusSafe       = "Safe"
	StatusDanger     = "DANGER"
)

// CooldownState holds the escalation and alert timers. A zero time means
// the event never happened.
type CooldownState struct {
	LastUploadTime  time.Time
	LastAlertTime   time.Time
	DisplayStart    time.Time
	LastAlertResult *analysis.Result
}

// Config contains the cooldown windows and the alert template
type Config struct {
	UploadCooldown  time.Duration
	AlertCooldown   time.Duration
	DisplayDuration time.Duration
	RuleName        string
	Location        string
	Severity        Severity
}

// EvidenceSaver persists the frame behind a danger result
type EvidenceSaver interface {
	Save(frame *capture.Frame, result analysis.Result, alertCount int, suppressed bool, t time.Time) (string, error)
}

// Outcome describes what handling one analysis result did
type Outcome struct {
	Danger     bool
	Delivered  bool // an alert record went to the notifier
	Suppressed bool // the alert cooldown held the notification back
	NotifiedOK bool // at least one channel accepted the record
	Record     *Record
	Evidence   []string
}

// Coordinator decides when frames are escalated and when danger results
// become notifications. It is owned by the monitoring loop and is not safe
// for concurrent use.
type Coordinator struct {
	config   Config
	state    CooldownState
	notifier Notifier
	evidence EvidenceSaver
	logger   *logger.Logger

	alertCount    int
	analysisCount int
	status        string
}

// NewCoordinator creates a coordinator. notifier and evidence may be nil.
func NewCoordinator(cfg Config, notifier Notifier, evidence EvidenceSaver, log *logger.Logger) *Coordinator {
	if cfg.RuleName == "" {
		cfg.RuleName = "Dangerous activity detection"
	}
	if cfg.Location == "" {
		cfg.Location = "Monitoring camera"
	}
	if cfg.Severity == "" {
		cfg.Severity = SeverityHigh
	}
	return &Coordinator{
		config:   cfg,
		notifier: notifier,
		evidence: evidence,
		logger:   log,
		status:   StatusMonitoring,
	}
}

// ShouldEscalate reports whether the current frame goes to the backend.
// The upload timer restarts as soon as the frame is escalated, not when
// its result arrives.
func (c *Coordinator) ShouldEscalate(hasPerson bool, t time.Time) bool {
	if !hasPerson {
		return false
	}
	if !c.state.LastUploadTime.IsZero() && t.Sub(c.state.LastUploadTime) < c.config.UploadCooldown {
		return false
	}
	c.state.LastUploadTime = t
	c.status = StatusAnalysing
	return true
}

// HandleResult applies one analysis result observed at time t. Every danger
// result saves evidence, and the alert cooldown decides whether it is also
// delivered.
func (c *Coordinator) HandleResult(ctx context.Context, result analysis.Result, frame *capture.Frame, t time.Time) Outcome {
	c.analysisCount++

	if !result.IsDanger {
		c.status = StatusSafe
		return Outcome{}
	}

	outcome := Outcome{Danger: true}
	c.state.DisplayStart = t
	kept := result
	c.state.LastAlertResult = &kept

	if path := c.saveEvidence(frame, result, false, t); path != "" {
		outcome.Evidence = append(outcome.Evidence, path)
	}

	c.trigger(ctx, result, frame, t, &outcome)
	c.status = StatusDanger
	return outcome
}

func (c *Coordinator) trigger(ctx context.Context, result analysis.Result, frame *capture.Frame, t time.Time, outcome *Outcome) {
	if !c.state.LastAlertTime.IsZero() && t.Sub(c.state.LastAlertTime) < c.config.AlertCooldown {
		c.logger.Debug("Alert cooldown active",
			"since_last_alert", t.Sub(c.state.LastAlertTime),
		)
		outcome.Suppressed = true
		if path := c.saveEvidence(frame, result, true, t); path != "" {
			outcome.Evidence = append(outcome.Evidence, path)
		}
		return
	}

	c.state.LastAlertTime = t
	c.alertCount++

	record := c.RecordFor(result, t)
	outcome.Delivered = true
	outcome.Record = &record
	if c.notifier != nil {
		outcome.NotifiedOK = c.notifier.SendAlert(ctx, record)
	}

	if path := c.saveEvidence(frame, result, false, t); path != "" {
		outcome.Evidence = append(outcome.Evidence, path)
	}

	c.logger.Warn("Alert triggered",
		"alert_count", c.alertCount,
		"alert_type", result.AlertType,
		"reasoning", result.Reasoning,
	)
}

// RecordFor builds the alert record describing result at time t
func (c *Coordinator) RecordFor(result analysis.Result, t time.Time) Record {
	reasoning := result.Reasoning
	if reasoning == "" {
		reasoning = "dangerous situation detected"
	}
	return Record{
		ID:          newRecordID(),
		RuleName:    c.config.RuleName,
		Description: fmt.Sprintf("Dangerous situation detected: %s", reasoning),
		Severity:    c.config.Severity,
		Location:    c.config.Location,
		Timestamp:   t,
		AlertType:   result.AlertType,
		Reasoning:   result.Reasoning,
		Confidence:  result.Confidence,
	}
}

// saveEvidence writes the frame; failures are logged and never stop the loop
func (c *Coordinator) saveEvidence(frame *capture.Frame, result analysis.Result, suppressed bool, t time.Time) string {
	if c.evidence == nil || frame == nil {
		return ""
	}
	path, err := c.evidence.Save(frame, result, c.alertCount, suppressed, t)
	if err != nil {
		c.logger.Error("Failed to save alert image", "error", err)
		return ""
	}
	return path
}

// DisplayedAlert returns the danger result that is still within its display
// window at time t. Once the window passes the display state is cleared.
func (c *Coordinator) DisplayedAlert(t time.Time) (analysis.Result, bool) {
	if c.state.DisplayStart.IsZero() {
		return analysis.Result{}, false
	}
	if t.Sub(c.state.DisplayStart) < c.config.DisplayDuration && c.state.LastAlertResult != nil {
		return *c.state.LastAlertResult, true
	}
	c.state.DisplayStart = time.Time{}
	c.state.LastAlertResult = nil
	return analysis.Result{}, false
}

// State returns a copy of the cooldown timers
func (c *Coordinator) State() CooldownState {
	return c.state
}

// AlertCount returns the number of delivered alerts
func (c *Coordinator) AlertCount() int {
	return c.alertCount
}

// AnalysisCount returns the number of results handled
func (c *Coordinator) AnalysisCount() int {
	return c.analysisCount
}

// Status returns the current status text
func (c *Coordinator) Status() string {
	return c.status
}
