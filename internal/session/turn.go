package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/chat"
	"github.com/lexiqai/device-gateway/internal/vision"
	"github.com/lexiqai/device-gateway/internal/voiceprint"
	"github.com/lexiqai/device-gateway/internal/wakeword"
)

// Spoken lines
const (
	askNameReply        = "好的，请告诉我你的名字。"
	registerFailedReply = "抱歉，声纹注册失败，请稍后再试。"
	noImageReply        = "抱歉，我无法访问摄像头，也没有找到任何现有图片。"
	defaultVisionAsk    = "请描述这张图片。"
)

var namePrefixes = []string{"我叫", "我是", "叫我"}

// runTurn executes one turn and always reports on turnDone
func (s *Session) runTurn(ctx context.Context, t turn) {
	s.abort.Store(false)
	closeAfter := false
	defer func() {
		s.turnDone <- turnResult{close: closeAfter}
	}()

	switch t.kind {
	case turnUtterance:
		tr, err := s.deps.STT.Transcribe(ctx, s.id, t.frames)
		if err != nil {
			s.logger.Error().Err(err).Msg("Transcription failed")
			s.metrics.RecordError("stt_error", "stt")
			return
		}
		text := strings.TrimSpace(tr.Text)
		if wakeword.Normalize(text) == "" {
			s.logger.Debug().Str("text", text).Msg("Transcript has no words")
			return
		}
		s.logger.Info().Str("text", text).Str("artifact", tr.ArtifactPath).Msg("Transcribed utterance")
		closeAfter = s.interpret(ctx, text, t.frames)

	case turnText:
		closeAfter = s.interpret(ctx, t.text, nil)

	case turnVision:
		s.metrics.RecordTurn("vision")
		s.answerImage(ctx, t.text, t.image)

	case turnFarewell:
		s.metrics.RecordTurn("farewell")
		s.chatTurn(ctx, s.opts.FarewellPrompt, false)
		closeAfter = true
	}
}

// interpret routes recognized text and reports whether the session should close
func (s *Session) interpret(ctx context.Context, text string, frames []audio.Frame) bool {
	if err := s.writeJSON(STTMessage{Type: TypeSTT, Text: text, SessionID: s.id}); err != nil {
		return true
	}

	if s.pendingName != nil {
		pending := s.pendingName
		s.pendingName = nil
		if name := extractName(text); name != "" {
			s.metrics.RecordTurn("register")
			return s.register(ctx, name, pending)
		}
	}

	if s.deps.Wake != nil {
		if m := s.deps.Wake.Match(text); m.IsWake {
			s.metrics.RecordWakeWord(m.Resolution.String())
			if m.Resolution != wakeword.Unavailable {
				s.metrics.RecordTurn("wake")
				s.identify(ctx, frames)
				return s.playWake(ctx, m)
			}
			s.logger.Warn().Str("phrase", m.Phrase).Msg("Wake word has no reply audio, continuing with chat")
		}
	}

	if s.deps.Voiceprint != nil && s.opts.RegisterTrigger != "" && frames != nil &&
		strings.Contains(text, s.opts.RegisterTrigger) {
		s.metrics.RecordTurn("register")
		s.pendingName = frames
		return s.speak(ctx, askNameReply)
	}

	if s.deps.Images != nil && vision.IsVisualQuery(text, s.opts.VisionKeywords) {
		s.metrics.RecordTurn("vision")
		path, err := s.deps.Images.Capture(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("No image for visual question")
			return s.speak(ctx, noImageReply)
		}
		return s.answerImage(ctx, text, path)
	}

	if s.isExitCommand(text) {
		s.metrics.RecordTurn("exit")
		s.logger.Info().Str("text", text).Msg("Exit command received")
		return true
	}

	s.metrics.RecordTurn("chat")
	return s.chatTurn(ctx, text, true)
}

func (s *Session) isExitCommand(text string) bool {
	norm := wakeword.Normalize(text)
	if norm == "" || utf8.RuneCountInString(norm) > s.opts.MaxCmdLength {
		return false
	}
	for _, cmd := range s.opts.ExitCommands {
		if wakeword.Normalize(cmd) == norm {
			return true
		}
	}
	return false
}

func (s *Session) chatTurn(ctx context.Context, text string, remember bool) bool {
	reply, err := s.deps.Chat.Chat(ctx, chat.Request{
		SessionID: s.id,
		DeviceID:  s.deviceID,
		UserID:    s.speakerID,
		History:   s.history.Messages(),
		Text:      text,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Chat failed")
		s.metrics.RecordError("chat_error", "chat")
		return false
	}
	if reply == "" {
		return false
	}
	if remember {
		s.history.Add(text, reply)
	}
	return s.speak(ctx, reply)
}

func (s *Session) answerImage(ctx context.Context, question, path string) bool {
	if question == "" {
		question = defaultVisionAsk
	}
	reply, err := s.deps.Vision.Chat(ctx, chat.Request{
		SessionID: s.id,
		DeviceID:  s.deviceID,
		UserID:    s.speakerID,
		Text:      question,
		ImagePath: path,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("image", path).Msg("Image understanding failed")
		s.metrics.RecordError("vision_error", "vision")
		return false
	}
	if reply == "" {
		return false
	}
	s.history.Add(question, reply)
	return s.speak(ctx, reply)
}

func (s *Session) register(ctx context.Context, name string, frames []audio.Frame) bool {
	if err := s.deps.Voiceprint.Register(ctx, name, frames); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("Voiceprint registration failed")
		s.metrics.RecordError("voiceprint_error", "voiceprint")
		return s.speak(ctx, registerFailedReply)
	}
	s.speakerID = name
	s.logger.Info().Str("name", name).Msg("Voiceprint registered")
	return s.speak(ctx, fmt.Sprintf("我已经记住你了，%s。下次见到你我会认出你的。", name))
}

// identify tags the session with the wake utterance's speaker
func (s *Session) identify(ctx context.Context, frames []audio.Frame) {
	if s.deps.Voiceprint == nil || len(frames) == 0 {
		return
	}
	id, err := s.deps.Voiceprint.Identify(ctx, frames)
	if err != nil {
		if !errors.Is(err, voiceprint.ErrNoMatch) {
			s.logger.Warn().Err(err).Msg("Speaker identification failed")
		}
		return
	}
	s.speakerID = id.UserID
	s.logger.Info().Str("speaker", id.UserID).Float64("score", id.Score).Msg("Speaker identified")
}

func extractName(text string) string {
	name := strings.TrimSpace(text)
	for _, p := range namePrefixes {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	return strings.TrimFunc(name, func(r rune) bool {
		return strings.ContainsRune("，。！？,.!? ", r)
	})
}
