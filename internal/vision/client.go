// Package vision sends frame payloads to an OpenAI-compatible chat
// completions endpoint. The prompt content and response shape are the
// caller's concern; this client only carries the wire contract.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/config"
)

// Client calls the vision model over HTTP
type Client struct {
	logger  zerolog.Logger
	http    *http.Client
	baseURL string
	model   string
	apiKey  string
}

// New builds a vision client from config
func New(logger zerolog.Logger, cfg config.VisionConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		logger:  logger,
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
	}
}

// content parts of one chat message: the lens text plus image data URLs
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Analyze submits the lens text and encoded frames as one chat completion
// and returns the model's text response verbatim
func (c *Client) Analyze(ctx context.Context, lens string, frameURLs []string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("vision API key not set")
	}
	if len(frameURLs) == 0 {
		return "", errors.New("no frames to analyze")
	}

	parts := make([]contentPart, 0, len(frameURLs)+1)
	parts = append(parts, contentPart{Type: "text", Text: lens})
	for _, url := range frameURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode vision request: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("frames", len(frameURLs)).
		Int("lens_chars", len(lens)).
		Msg("submitting vision analysis")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read vision response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("vision API error: %s", apiErr.Error.Message)
		}
		return "", fmt.Errorf("vision API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", fmt.Errorf("failed to parse vision response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("vision response has no choices")
	}

	return response.Choices[0].Message.Content, nil
}
