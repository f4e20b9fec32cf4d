// Package vision finds the image a visual question is about.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/device-gateway/internal/observability"
)

// ErrNoImage means no image could be captured and none was on disk
var ErrNoImage = errors.New("no image available")

const maxImageBytes = 10 << 20

// Source captures camera snapshots or reuses the newest saved image
type Source struct {
	cameraURL  string
	dir        string
	maxImages  int
	httpClient *http.Client
	logger     zerolog.Logger

	mu sync.Mutex
}

// NewSource creates a Source storing images in dir. cameraURL may be empty.
func NewSource(cameraURL, dir string, maxImages int) *Source {
	return &Source{
		cameraURL:  cameraURL,
		dir:        dir,
		maxImages:  maxImages,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     observability.WithComponent("vision"),
	}
}

// Capture returns the path of a fresh snapshot, or of the newest saved image
// when no camera is configured or the snapshot fails.
func (s *Source) Capture(ctx context.Context) (string, error) {
	if s.cameraURL != "" {
		path, err := s.snapshot(ctx)
		if err == nil {
			return path, nil
		}
		s.logger.Warn().Err(err).Msg("Camera snapshot failed, reusing latest image")
	}
	return s.Latest()
}

func (s *Source) snapshot(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cameraURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("camera request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("camera read: %w", err)
	}
	ext := ".jpg"
	if strings.Contains(resp.Header.Get("Content-Type"), "png") {
		ext = ".png"
	}
	return s.store(data, ext)
}

// Save stores an image sent by the device. data may be raw base64 or a data URL.
func (s *Source) Save(encoded string) (string, error) {
	ext := ".jpg"
	if strings.HasPrefix(encoded, "data:") {
		header, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return "", errors.New("malformed data url")
		}
		if strings.Contains(header, "png") {
			ext = ".png"
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	return s.store(data, ext)
}

// Latest returns the newest .jpg/.jpeg/.png in the image directory
func (s *Source) Latest() (string, error) {
	images, err := s.list()
	if err != nil || len(images) == 0 {
		return "", ErrNoImage
	}
	return images[len(images)-1].path, nil
}

func (s *Source) store(data []byte, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	name := fmt.Sprintf("img_%s_%s%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	s.prune()
	return path, nil
}

type image struct {
	path    string
	modTime time.Time
}

// list returns images oldest first
func (s *Source) list() ([]image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var images []image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, image{path: filepath.Join(s.dir, e.Name()), modTime: info.ModTime()})
	}
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].modTime.Equal(images[j].modTime) {
			return images[i].path < images[j].path
		}
		return images[i].modTime.Before(images[j].modTime)
	})
	return images, nil
}

func (s *Source) prune() {
	if s.maxImages <= 0 {
		return
	}
	images, err := s.list()
	if err != nil {
		return
	}
	for len(images) > s.maxImages {
		if err := os.Remove(images[0].path); err != nil {
			s.logger.Warn().Err(err).Str("path", images[0].path).Msg("Failed to prune image")
		}
		images = images[1:]
	}
}

// IsVisualQuery reports whether text contains any of keywords
func IsVisualQuery(text string, keywords []string) bool {
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
