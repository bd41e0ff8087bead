// Package genclient is a retryable wrapper around a remote text/vision
// generation endpoint speaking the generateContent REST protocol.
package genclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Config holds connection and retry settings for the generation endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns sensible defaults for the given API key.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		Model:       "gemini-2.5-flash",
		Timeout:     2 * time.Minute,
		MaxAttempts: 4,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// InlineData is an inline binary content part (e.g. a page image).
type InlineData struct {
	MIMEType string
	Data     []byte
}

// Part is one content part of a request: text or inline data.
type Part struct {
	Text       string
	InlineData *InlineData
}

// Request bundles content parts, an optional system instruction, and
// generation parameters for a single call.
type Request struct {
	Parts             []Part
	SystemInstruction string
	Temperature       float64
	MaxOutputTokens   int
	JSONOutput        bool
}

// Client calls the generation endpoint with retry and backoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Client from cfg, filling unset retry parameters with the
// defaults.
func New(cfg Config, log *slog.Logger) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Wire types for the generateContent request/response bodies.

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type wireRequest struct {
	Contents          []wireContent        `json:"contents"`
	SystemInstruction *wireContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  wireGenerationConfig `json:"generationConfig"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one generation request, retrying transient failures
// with exponential backoff and jitter. The final attempt's error is
// returned verbatim.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt - 1)
			c.log.Debug("genclient: retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.do(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

// backoffDelay returns the pause before retry n (1-based): exponential
// from MinDelay, capped at MaxDelay, plus 0–20% random jitter.
func (c *Client) backoffDelay(n int) time.Duration {
	d := c.cfg.MinDelay << uint(n-1)
	if d > c.cfg.MaxDelay || d <= 0 {
		d = c.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

// do performs a single HTTP round trip and extracts the response text.
func (c *Client) do(ctx context.Context, req Request) (string, error) {
	body := wireRequest{
		Contents: []wireContent{{Role: "user", Parts: make([]wirePart, 0, len(req.Parts))}},
		GenerationConfig: wireGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	for _, p := range req.Parts {
		wp := wirePart{Text: p.Text}
		if p.InlineData != nil {
			wp.InlineData = &wireInlineData{
				MIMEType: p.InlineData.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			}
		}
		body.Contents[0].Parts = append(body.Contents[0].Parts, wp)
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}
	if req.JSONOutput {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("genclient: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("genclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("genclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("genclient: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(raw),
			Op:         "generateContent",
		}
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return "", fmt.Errorf("genclient: parse response: %w", err)
	}
	if wr.Error != nil {
		return "", &APIError{StatusCode: wr.Error.Code, Message: wr.Error.Message, Op: "generateContent"}
	}
	if len(wr.Candidates) == 0 || len(wr.Candidates[0].Content.Parts) == 0 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "empty completion", Op: "generateContent"}
	}

	var sb strings.Builder
	for _, part := range wr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// apiMessage extracts the error message from an error response body,
// falling back to the trimmed body itself.
func apiMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
