package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		os.Setenv(k, v)
		key := k
		t.Cleanup(func() { os.Unsetenv(key) })
	}
}

func TestLoad(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENAI_API_KEY": "test-openai-key",
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when OPENAI_API_KEY is missing for the openai providers")
	}
}

func TestLoad_DeepgramRequiresKey(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENAI_API_KEY": "test-openai-key",
		"STT_PROVIDER":   "deepgram",
	})
	os.Unsetenv("DEEPGRAM_API_KEY")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing")
	}

	setEnv(t, map[string]string{"DEEPGRAM_API_KEY": "dg"})
	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected no error with DEEPGRAM_API_KEY set, got %v", err)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENAI_API_KEY": "test-openai-key",
		"CHAT_PROVIDER":  "carrier-pigeon",
	})

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unknown CHAT_PROVIDER")
	}
}

func TestLoad_InvalidListenMode(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENAI_API_KEY": "test-openai-key",
		"LISTEN_MODE":    "sometimes",
	})

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for invalid LISTEN_MODE")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENAI_API_KEY": "test-openai-key",
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("Expected default Port '8000', got '%s'", cfg.Port)
	}
	if cfg.WSPath != "/xiaozhi/v1/" {
		t.Errorf("Expected default WSPath '/xiaozhi/v1/', got '%s'", cfg.WSPath)
	}
	if cfg.ListenMode != "auto" {
		t.Errorf("Expected default ListenMode 'auto', got '%s'", cfg.ListenMode)
	}
	if cfg.MinUtteranceFrames != 3 {
		t.Errorf("Expected default MinUtteranceFrames 3, got %d", cfg.MinUtteranceFrames)
	}
	if cfg.MaxUtteranceFrames() != 1000 {
		t.Errorf("Expected default MaxUtteranceFrames 1000, got %d", cfg.MaxUtteranceFrames())
	}
	if cfg.IdleTimeout() != 120*time.Second {
		t.Errorf("Expected default IdleTimeout 120s, got %v", cfg.IdleTimeout())
	}
	if cfg.FrameDuration() != 60*time.Millisecond {
		t.Errorf("Expected default FrameDuration 60ms, got %v", cfg.FrameDuration())
	}
	if cfg.STTProvider != "whisper" {
		t.Errorf("Expected default STTProvider 'whisper', got '%s'", cfg.STTProvider)
	}
	if cfg.OutputSampleRate != 24000 {
		t.Errorf("Expected default OutputSampleRate 24000, got %d", cfg.OutputSampleRate)
	}
	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if len(cfg.VisionKeywords) == 0 {
		t.Error("Expected default VisionKeywords to be populated")
	}
}

func TestTrimmedExitCommands(t *testing.T) {
	cfg := &Config{ExitCommands: []string{" 退出 ", "", "关闭"}}

	got := cfg.TrimmedExitCommands()
	if len(got) != 2 || got[0] != "退出" || got[1] != "关闭" {
		t.Errorf("Expected [退出 关闭], got %v", got)
	}
}

func TestParseWakeWords(t *testing.T) {
	data := []byte(`
enabled: true
audio_dir: assets/wake
random_response: false
responses:
  - wake_word: 小智
    audio_file: greet.wav
  - wake_word: 你好小智
`)

	ww, err := ParseWakeWords(data)
	if err != nil {
		t.Fatalf("ParseWakeWords() failed: %v", err)
	}
	if !ww.Enabled {
		t.Error("Expected table to be enabled")
	}
	if ww.AudioDir != "assets/wake" {
		t.Errorf("Expected AudioDir 'assets/wake', got '%s'", ww.AudioDir)
	}
	if len(ww.Responses) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(ww.Responses))
	}
	if ww.Responses[0].AudioFile != "greet.wav" {
		t.Errorf("Expected first asset 'greet.wav', got '%s'", ww.Responses[0].AudioFile)
	}
	if ww.Responses[1].AudioFile != "" {
		t.Errorf("Expected second asset to be empty, got '%s'", ww.Responses[1].AudioFile)
	}
}

func TestParseWakeWords_DefaultAudioDir(t *testing.T) {
	ww, err := ParseWakeWords([]byte("enabled: true\n"))
	if err != nil {
		t.Fatalf("ParseWakeWords() failed: %v", err)
	}
	if ww.AudioDir != "wake_responses" {
		t.Errorf("Expected default AudioDir 'wake_responses', got '%s'", ww.AudioDir)
	}
}

func TestParseWakeWords_EmptyPhrase(t *testing.T) {
	_, err := ParseWakeWords([]byte("responses:\n  - audio_file: a.wav\n"))
	if err == nil {
		t.Error("Expected error for an empty wake_word")
	}
}

func TestLoadWakeWords_MissingFile(t *testing.T) {
	ww, err := LoadWakeWords(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Expected no error for a missing file, got %v", err)
	}
	if ww.Enabled {
		t.Error("Expected missing file to yield a disabled table")
	}
}
