// Package voiceprint registers and identifies speakers through an HTTP
// voiceprint service.
package voiceprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/resilience"
)

// ErrNoMatch means no registered speaker scored above the threshold
var ErrNoMatch = errors.New("voiceprint: no matching speaker")

// Identity is an identified speaker
type Identity struct {
	UserID string
	Score  float64
}

// Client talks to the voiceprint service
type Client struct {
	baseURL    string
	threshold  float64
	sampleRate int
	guard      *resilience.Guard
	httpClient *http.Client
}

// NewClient creates a client. guard may be nil.
func NewClient(baseURL string, threshold float64, sampleRate int, guard *resilience.Guard) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		threshold:  threshold,
		sampleRate: sampleRate,
		guard:      guard,
		httpClient: &http.Client{},
	}
}

// Register enrolls frames as userID's voice
func (c *Client) Register(ctx context.Context, userID string, frames []audio.Frame) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("voiceprint: empty user id")
	}
	return c.do(ctx, func(ctx context.Context) error {
		resp, err := c.post(ctx, "/v1/vpr/register", map[string]string{"username": userID}, frames)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// Identify returns the best matching speaker, or ErrNoMatch
func (c *Client) Identify(ctx context.Context, frames []audio.Frame) (Identity, error) {
	var result struct {
		Username string  `json:"username"`
		Score    float64 `json:"score"`
	}
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.post(ctx, "/v1/vpr/identify", nil, frames)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return Identity{}, err
	}
	if result.Username == "" || result.Score < c.threshold {
		return Identity{}, ErrNoMatch
	}
	return Identity{UserID: result.Username, Score: result.Score}, nil
}

// HealthCheck reports whether the service answers
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("voiceprint: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.guard == nil {
		return fn(ctx)
	}
	return c.guard.Do(ctx, fn)
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string, frames []audio.Frame) (*http.Response, error) {
	wav, err := audio.EncodeWAV(audio.PCMOf(frames), c.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("voiceprint: write field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "voice.wav")
	if err != nil {
		return nil, fmt.Errorf("voiceprint: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("voiceprint: write wav: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("voiceprint: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		err := fmt.Errorf("voiceprint: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}
	return resp, nil
}
