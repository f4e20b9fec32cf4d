// Package wakeword recognises configured wake phrases in transcripts and
// resolves the prerecorded reply to play for them.
package wakeword

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/lexiqai/device-gateway/internal/config"
)

// SupportedExtensions lists the asset formats the table will pick up
var SupportedExtensions = []string{".wav", ".mp3", ".ogg", ".flac"}

// Resolution says how a matched phrase found its asset
type Resolution int

const (
	Configured  Resolution = iota // The phrase's own asset
	Random                        // Drawn from the asset pool
	Unavailable                   // No asset; fall back to the normal pipeline
)

func (r Resolution) String() string {
	switch r {
	case Configured:
		return "configured"
	case Random:
		return "random"
	}
	return "unavailable"
}

// Match is the outcome of checking one transcript
type Match struct {
	IsWake     bool
	Phrase     string
	Resolution Resolution
	Asset      string // Path of the asset to play; empty when Unavailable
}

type entry struct {
	phrase     string
	normalized string
	asset      string
}

// Table is the immutable wake word mapping built at startup. Only the random
// source is guarded; everything else is read-only after NewTable.
type Table struct {
	enabled bool
	random  bool
	entries []entry
	pool    []string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTable builds a table from configuration. Assets named by phrases are
// not opened here; they are validated when first played.
func NewTable(cfg *config.WakeWords) (*Table, error) {
	t := &Table{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	if cfg == nil || !cfg.Enabled {
		return t, nil
	}
	t.enabled = true
	t.random = cfg.RandomResponse

	for _, r := range cfg.Responses {
		n := Normalize(r.WakeWord)
		if n == "" {
			return nil, fmt.Errorf("wake word %q is empty after normalization", r.WakeWord)
		}
		e := entry{phrase: r.WakeWord, normalized: n}
		if r.AudioFile != "" {
			e.asset = filepath.Join(cfg.AudioDir, r.AudioFile)
		}
		t.entries = append(t.entries, e)
	}

	pool, err := scanPool(cfg.AudioDir)
	if err != nil {
		return nil, err
	}
	t.pool = pool
	return t, nil
}

func scanPool(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wake asset dir: %w", err)
	}

	var pool []string
	for _, de := range entries {
		if de.IsDir() || !Supported(de.Name()) {
			continue
		}
		pool = append(pool, filepath.Join(dir, de.Name()))
	}
	sort.Strings(pool)
	return pool, nil
}

// Supported reports whether name has an asset extension the table accepts
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Normalize lowercases text and strips punctuation, symbols, emoji and
// whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) ||
			unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Match checks text against the phrases in configuration order; the first
// phrase contained in the normalized text wins.
func (t *Table) Match(text string) Match {
	if !t.enabled {
		return Match{}
	}
	n := Normalize(text)
	if n == "" {
		return Match{}
	}

	for _, e := range t.entries {
		if !strings.Contains(n, e.normalized) {
			continue
		}
		m := Match{IsWake: true, Phrase: e.phrase}
		switch {
		case t.random && len(t.pool) > 0:
			m.Resolution, m.Asset = Random, t.pick()
		case e.asset != "":
			m.Resolution, m.Asset = Configured, e.asset
		case len(t.pool) > 0:
			m.Resolution, m.Asset = Random, t.pick()
		default:
			m.Resolution = Unavailable
		}
		return m
	}
	return Match{}
}

// RandomAsset draws from the pool, excluding one path if possible
func (t *Table) RandomAsset(exclude string) (string, bool) {
	candidates := make([]string, 0, len(t.pool))
	for _, p := range t.pool {
		if p != exclude {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return candidates[t.rng.IntN(len(candidates))], true
}

func (t *Table) pick() string {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.pool[t.rng.IntN(len(t.pool))]
}

// Enabled reports whether wake words are active
func (t *Table) Enabled() bool {
	return t.enabled
}

// Pool returns the sorted asset pool
func (t *Table) Pool() []string {
	return append([]string(nil), t.pool...)
}

// Assets returns every configured phrase asset, for warm-up
func (t *Table) Assets() []string {
	var out []string
	for _, e := range t.entries {
		if e.asset != "" {
			out = append(out, e.asset)
		}
	}
	return out
}
