package session

import (
	"context"
	"errors"
	"strings"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/playback"
	"github.com/lexiqai/device-gateway/internal/wakeword"
)

const sentenceEnders = "。！？!?；;\n"

// speak synthesizes text sentence by sentence and plays it. It reports
// whether the transport failed and the session must close.
func (s *Session) speak(ctx context.Context, text string) bool {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return false
	}

	if s.marker(TTSStart, "") != nil {
		return true
	}
	for _, sentence := range sentences {
		if s.abort.Load() {
			break
		}
		seq, err := s.deps.TTS.Speak(ctx, sentence)
		if err != nil {
			s.logger.Error().Err(err).Str("sentence", sentence).Msg("Synthesis failed")
			s.metrics.RecordError("tts_error", "tts")
			continue
		}
		outcome, failed := s.play(ctx, sentence, seq)
		if failed {
			return true
		}
		if outcome == playback.Aborted {
			break
		}
	}
	return s.marker(TTSStop, "") != nil
}

// playWake plays the reply audio for a wake word. A missing or broken asset
// falls back to another pool asset, and is skipped when none loads.
func (s *Session) playWake(ctx context.Context, m wakeword.Match) bool {
	seq, err := s.deps.Assets.Load(ctx, m.Asset)
	if err != nil {
		s.logger.Warn().Err(err).Str("asset", m.Asset).Msg("Wake reply asset failed")
		s.metrics.RecordError("asset_error", "wakeword")
		alt, ok := s.deps.Wake.RandomAsset(m.Asset)
		if !ok {
			return false
		}
		if seq, err = s.deps.Assets.Load(ctx, alt); err != nil {
			s.logger.Warn().Err(err).Str("asset", alt).Msg("Fallback wake asset failed, skipping reply")
			return false
		}
	}

	if s.marker(TTSStart, "") != nil {
		return true
	}
	if _, failed := s.play(ctx, m.Phrase, seq); failed {
		return true
	}
	return s.marker(TTSStop, "") != nil
}

// play sends one sentence bracketed by sentence markers
func (s *Session) play(ctx context.Context, text string, seq *audio.PacketSequence) (playback.Outcome, bool) {
	if s.marker(TTSSentenceStart, text) != nil {
		return playback.Failed, true
	}
	outcome, err := s.sender.Send(ctx, s, seq, s.abort.Load)
	s.metrics.RecordPlayback(outcome.String())
	if err != nil {
		s.logger.Error().Err(err).Msg("Playback failed")
		s.metrics.RecordError("transport_error", "playback")
		return outcome, true
	}
	if s.marker(TTSSentenceEnd, text) != nil {
		return playback.Failed, true
	}
	return outcome, false
}

func (s *Session) marker(state, text string) error {
	err := s.writeJSON(TTSMessage{Type: TypeTTS, State: state, Text: text, SessionID: s.id})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Error().Err(err).Str("state", state).Msg("Failed to send tts marker")
	}
	return err
}

// splitSentences cuts text after sentence-ending punctuation
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if t := strings.TrimSpace(b.String()); t != "" {
			out = append(out, t)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			flush()
		}
	}
	flush()
	return out
}
