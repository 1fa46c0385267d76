package analysis

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

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// maxErrorBody caps how much of an error reply is kept in messages
const maxErrorBody = 1024

// RemoteBackend calls the arbitration service over HTTP
type RemoteBackend struct {
	url        string
	httpClient *http.Client
	logger     *logger.Logger
}

type remoteRequest struct {
	ImageBase64 string `json:"image_base64"`
	Query       string `json:"query"`
}

type remoteResponse struct {
	Response *string `json:"response"`
}

// NewRemoteBackend creates a backend posting to url
func NewRemoteBackend(url string, timeout time.Duration, log *logger.Logger) *RemoteBackend {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RemoteBackend{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Name returns the backend name
func (b *RemoteBackend) Name() string {
	return "remote"
}

// Analyze posts the image and prompt and returns the service's reply text
func (b *RemoteBackend) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	body, err := json.Marshal(remoteRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Query:       prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	b.logger.Debug("Sending analysis request", "url", b.url)
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: server returned status %d: %s", ErrTransport, resp.StatusCode, string(errBody))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}
	if decoded.Response == nil {
		return "", fmt.Errorf("%w: response field missing", ErrTransport)
	}
	if strings.TrimSpace(*decoded.Response) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrTransport)
	}

	return *decoded.Response, nil
}
