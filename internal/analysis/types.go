package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
)

// ErrTransport wraps every failure to reach a reasoning backend or to read its reply
var ErrTransport = errors.New("analysis transport failure")

// Task is one frame escalated for remote arbitration
type Task struct {
	Frame       *capture.Frame
	Prompt      string
	SubmittedAt time.Time
}

// Result is the normalized verdict for one task
type Result struct {
	RawResponse  string    `json:"raw_response"`
	IsDanger     bool      `json:"is_danger"`
	Reasoning    string    `json:"reasoning"`
	Confidence   float64   `json:"confidence"` // always within [0, 1]
	AlertType    string    `json:"alert_type"`
	AlertMessage string    `json:"alert_message"`
	Failed       bool      `json:"failed"` // the backend could not be reached
	SubmittedAt  time.Time `json:"submitted_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Latency returns how long the task waited and ran
func (r Result) Latency() time.Duration {
	if r.SubmittedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.SubmittedAt)
}

// FailureResult is the safe verdict used when the backend call fails
func FailureResult(err error) Result {
	return Result{
		RawResponse: fmt.Sprintf("API call failed: %v", err),
		IsDanger:    false,
		Reasoning:   fmt.Sprintf("Analysis call failed: %v", err),
		Confidence:  0.0,
		Failed:      true,
	}
}

// Callback receives every result in addition to the result queue
type Callback func(Result)

// Backend performs the blocking call to a reasoning service and returns its raw text.
// Transport failures must wrap ErrTransport.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, image []byte, prompt string) (string, error)
}

// Analyzer is the asynchronous submit/poll contract shared by every backend
type Analyzer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetCallback(cb Callback)
	Submit(frame *capture.Frame, prompt string)
	GetResult() (Result, bool)
}
