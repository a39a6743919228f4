// Package transcribe talks to an OpenAI-compatible audio transcription
// endpoint and converts its verbose output into manifest timing types
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/config"
	"github.com/keller/filmstrip/internal/manifest"
)

// MaxUploadBytes is the hard upload ceiling enforced by hosted Whisper
// endpoints. Larger audio must be chunked before it reaches the client
const MaxUploadBytes = 25 * 1024 * 1024

// ErrAudioTooLarge is returned when the audio file exceeds MaxUploadBytes
var ErrAudioTooLarge = errors.New("audio file exceeds the 25MB upload limit")

// Client is an HTTP client for audio transcription
type Client struct {
	logger  zerolog.Logger
	http    *http.Client
	baseURL string
	model   string
	apiKey  string

	// retryDelay overrides the backoff base, for tests
	retryDelay time.Duration
}

// New builds a transcription client from config
func New(logger zerolog.Logger, cfg config.TranscribeConfig) *Client {
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

// Transcribe uploads one audio file and returns its timed transcription.
// Timestamps in the result are relative to the start of the uploaded file
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*manifest.TranscriptionResult, error) {
	if c.apiKey == "" {
		return nil, errors.New("transcription API key not set")
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %s is %.1fMB", ErrAudioTooLarge, filepath.Base(audioPath), float64(info.Size())/(1024*1024))
	}

	form, contentType, err := c.buildForm(audioPath)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("file", filepath.Base(audioPath)).
		Float64("size_mb", float64(info.Size())/(1024*1024)).
		Str("model", c.model).
		Msg("uploading audio for transcription")

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("transcription API error: %s", apiErr.Error.Message)
		}
		return nil, fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(body))
	}

	result, err := parseVerboseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	c.logger.Debug().
		Str("file", filepath.Base(audioPath)).
		Int("words", len(result.Words)).
		Int("segments", len(result.Segments)).
		Float64("duration", result.Duration).
		Msg("transcription complete")

	return result, nil
}

// buildForm assembles the multipart request body once so retries can
// replay it from a fresh reader
func (c *Client) buildForm(audioPath string) ([]byte, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy audio into form: %w", err)
	}

	writer.WriteField("model", c.model)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("timestamp_granularities[]", "word")
	writer.WriteField("timestamp_granularities[]", "segment")
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

// parseVerboseJSON converts the verbose_json wire format into manifest types
func parseVerboseJSON(data []byte) (*manifest.TranscriptionResult, error) {
	var response struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
		Words    []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
		Segments []struct {
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}

	result := &manifest.TranscriptionResult{
		Text:     strings.TrimSpace(response.Text),
		Duration: response.Duration,
	}
	for _, w := range response.Words {
		result.Words = append(result.Words, manifest.Word{
			Word:  w.Word,
			Start: w.Start,
			End:   w.End,
		})
	}
	for _, s := range response.Segments {
		result.Segments = append(result.Segments, manifest.SpeechSegment{
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start,
			End:   s.End,
		})
	}

	if result.Duration == 0 && len(result.Words) > 0 {
		result.Duration = result.Words[len(result.Words)-1].End
	}

	return result, nil
}
