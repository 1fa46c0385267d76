package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Client is an HTTP client for the person detection service
type Client struct {
	serviceURL          string
	httpClient          *http.Client
	logger              *logger.Logger
	confidenceThreshold float64
	personClass         string
	jpegQuality         int
}

// ClientConfig contains configuration for the detection client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	PersonClass         string
	JPEGQuality         int
}

// NewClient creates a new detection service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.PersonClass == "" {
		config.PersonClass = "person"
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = 85
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:              log,
		confidenceThreshold: config.ConfidenceThreshold,
		personClass:         config.PersonClass,
		jpegQuality:         config.JPEGQuality,
	}
}

// Detect reports whether a person is in the frame. It never fails: any
// error is logged and reported as no person.
func (c *Client) Detect(ctx context.Context, frame *capture.Frame) (bool, []Detection) {
	resp, err := c.Infer(ctx, frame)
	if err != nil {
		c.logger.Warn("Person detection failed", "error", err)
		return false, nil
	}

	detections := c.people(resp.BoundingBoxes)
	return len(detections) > 0, detections
}

// Infer sends a frame to the detection service and returns the raw response
func (c *Client) Infer(ctx context.Context, frame *capture.Frame) (*InferenceResponse, error) {
	data, err := capture.EncodeJPEG(frame, c.jpegQuality)
	if err != nil {
		return nil, err
	}

	req := InferenceRequest{
		Image:          base64.StdEncoding.EncodeToString(data),
		EnabledClasses: []string{c.personClass},
	}
	if c.confidenceThreshold > 0 {
		threshold := c.confidenceThreshold
		req.ConfidenceThreshold = &threshold
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Detection completed",
		"detection_count", inferenceResp.DetectionCount,
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &inferenceResp, nil
}

// people keeps the boxes that belong to the person class above the threshold
func (c *Client) people(boxes []BoundingBox) []Detection {
	var detections []Detection
	for _, box := range boxes {
		isPerson := strings.EqualFold(box.ClassName, c.personClass) ||
			(box.ClassName == "" && box.ClassID == PersonClassID)
		if !isPerson || box.Confidence < c.confidenceThreshold {
			continue
		}
		detections = append(detections, Detection{
			BBox:       [4]float64{box.X1, box.Y1, box.X2, box.Y2},
			Confidence: box.Confidence,
			ClassID:    box.ClassID,
		})
	}
	return detections
}

// HealthCheck checks if the detection service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection service health check failed: status %d", resp.StatusCode)
	}

	return nil
}
