package alert

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the urgency of an alert
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low
func (s Severity) Rank() int {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as urgent as min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Record is the alert handed to notifiers. It is not modified after creation.
type Record struct {
	ID          string    `json:"id"`
	RuleName    string    `json:"rule_name"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	AlertType   string    `json:"alert_type,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// Notifier delivers alert records. It reports whether any channel delivered.
type Notifier interface {
	SendAlert(ctx context.Context, record Record) bool
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, record Record) bool

// SendAlert calls f
func (f NotifierFunc) SendAlert(ctx context.Context, record Record) bool {
	return f(ctx, record)
}

func newRecordID() string {
	return uuid.New().String()
}
