package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/lexiqai/device-gateway/internal/audio"
)

// WhisperClient transcribes through a whisper.cpp server's /inference endpoint
type WhisperClient struct {
	serverURL  string
	language   string
	artifacts  *ArtifactWriter
	httpClient *http.Client
}

// NewWhisperClient creates a client for the server at serverURL
func NewWhisperClient(serverURL, language string, artifacts *ArtifactWriter) *WhisperClient {
	return &WhisperClient{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   language,
		artifacts:  artifacts,
		httpClient: &http.Client{},
	}
}

// Transcribe implements Transcriber
func (w *WhisperClient) Transcribe(ctx context.Context, sessionID string, frames []audio.Frame) (Transcript, error) {
	path, err := w.artifacts.Write(sessionID, frames)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: save utterance: %w", err)
	}
	wav, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: read utterance: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if w.language != "" {
		if err := mw.WriteField("language", w.language); err != nil {
			return Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return Transcript{}, fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.serverURL+"/inference", &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("whisper: server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return Transcript{Text: strings.TrimSpace(result.Text), ArtifactPath: path}, nil
}

// HealthCheck reports whether the server answers
func (w *WhisperClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.serverURL+"/", nil)
	if err != nil {
		return false, err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("whisper: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError, nil
}
