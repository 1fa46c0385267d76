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

// GeminiBackend calls the Gemini generateContent API with an inline image
type GeminiBackend struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// GeminiConfig contains Gemini API settings
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// NewGeminiBackend creates a Gemini backend. The API key is required.
func NewGeminiBackend(cfg GeminiConfig, log *logger.Logger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured (set GEMINI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &GeminiBackend{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}, nil
}

// Name returns the backend name
func (b *GeminiBackend) Name() string {
	return "gemini"
}

// Analyze sends the prompt and JPEG image and returns the generated text
func (b *GeminiBackend) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	req := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// The key travels in a header so it never shows up in logged URLs.
	url := fmt.Sprintf("%s/models/%s:generateContent", b.endpoint, b.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", b.apiKey)

	b.logger.Debug("Sending Gemini request", "model", b.model)
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: gemini error (status %d): %s", ErrTransport, resp.StatusCode, string(errBody))
	}

	var geminiResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", ErrTransport)
	}

	candidate := geminiResp.Candidates[0]
	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		content.WriteString(part.Text)
	}
	if strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("%w: empty reply (finish reason %s)", ErrTransport, candidate.FinishReason)
	}
	return content.String(), nil
}
