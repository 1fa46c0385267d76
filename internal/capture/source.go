package capture

import (
	"context"
	"errors"
)

var (
	// ErrSourceClosed is returned by ReadFrame when the source has no more frames
	ErrSourceClosed = errors.New("frame source closed")
	// ErrNotConnected is returned when reading from a source that is not connected
	ErrNotConnected = errors.New("frame source not connected")
)

// SourceKind distinguishes live cameras from finite files
type SourceKind string

const (
	SourceKindCamera SourceKind = "camera"
	SourceKindFile   SourceKind = "file"
)

// Properties describes what the source actually negotiated
type Properties struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	FPS    float64    `json:"fps"`
	Kind   SourceKind `json:"kind"`
	Input  string     `json:"input"`
}

// Source opens a camera or file and yields raw frames.
// ReadFrame may reuse its buffer between calls; callers that keep a frame clone it.
type Source interface {
	Connect(ctx context.Context) error
	ReadFrame() (*Frame, error)
	Release() error
	IsConnected() bool
	Properties() Properties
	Kind() SourceKind
}
