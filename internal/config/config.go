package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the device gateway service
type Config struct {
	// Server configuration
	Port   string `envconfig:"PORT" default:"8000"`
	WSPath string `envconfig:"WS_PATH" default:"/xiaozhi/v1/"` // Path devices connect to

	// Session behaviour
	ListenMode         string   `envconfig:"LISTEN_MODE" default:"auto"`           // auto or manual
	MinUtteranceFrames int      `envconfig:"MIN_UTTERANCE_FRAMES" default:"3"`     // Shorter utterances are noise
	MaxUtteranceSecs   int      `envconfig:"MAX_UTTERANCE_SECONDS" default:"60"`   // Longer utterances are cut; 0 disables
	IdleTimeoutSeconds int      `envconfig:"IDLE_TIMEOUT_SECONDS" default:"120"`   // Silence before the farewell
	MaxCmdLength       int      `envconfig:"MAX_CMD_LENGTH" default:"20"`          // Max runes for an exit command
	ExitCommands       []string `envconfig:"EXIT_COMMANDS" default:"退出,关闭,再见了"` // Comma separated
	SuppressRingFrames int      `envconfig:"SUPPRESS_RING_FRAMES" default:"64"`    // Frames kept while reception is off
	SystemPrompt       string   `envconfig:"SYSTEM_PROMPT" default:"你是一个叫小智的语音助手，回答简短自然。"`
	ChatHistoryTurns   int      `envconfig:"CHAT_HISTORY_TURNS" default:"10"`
	FarewellPrompt     string   `envconfig:"FAREWELL_PROMPT" default:"时间过得真快，我都好久没说话了。请你用十个字左右话跟我告别，以\"再见\"或\"拜拜\"为结尾"`

	// Audio configuration
	InputSampleRate  int `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`  // Device microphone rate
	OutputSampleRate int `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"` // Rate of packets sent to devices
	FrameDurationMS  int `envconfig:"FRAME_DURATION_MS" default:"60"`     // Nominal opus packet duration

	// Voice activity detection
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // Minimum RMS for voice
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"12"`      // Silence frames that end an utterance
	VADNoiseMultiplier float64 `envconfig:"VAD_NOISE_MULTIPLIER" default:"3.0"`   // Voice must exceed floor * multiplier

	// Provider selection
	STTProvider  string `envconfig:"STT_PROVIDER" default:"whisper"`  // whisper, deepgram
	TTSProvider  string `envconfig:"TTS_PROVIDER" default:"openai"`   // openai, cartesia
	ChatProvider string `envconfig:"CHAT_PROVIDER" default:"openai"`  // openai, orchestrator
	ArtifactDir  string `envconfig:"ARTIFACT_DIR" default:"tmp/asr"` // Where utterance WAVs are written

	// Whisper server configuration
	WhisperURL      string `envconfig:"WHISPER_URL" default:"http://localhost:8081"`
	WhisperLanguage string `envconfig:"WHISPER_LANGUAGE" default:"zh"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"zh-CN"`

	// OpenAI compatible endpoints (chat, speech, vision)
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	ChatModel     string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	SpeechModel   string `envconfig:"SPEECH_MODEL" default:"tts-1"`
	SpeechVoice   string `envconfig:"SPEECH_VOICE" default:"alloy"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Cognitive Orchestrator gRPC endpoint
	OrchestratorURL        string `envconfig:"ORCHESTRATOR_URL" default:"localhost:50051"`
	OrchestratorTLSEnabled bool   `envconfig:"ORCHESTRATOR_TLS_ENABLED" default:"false"`

	// Vision
	VisionModel     string   `envconfig:"VISION_MODEL" default:"gpt-4o-mini"`
	CameraURL       string   `envconfig:"CAMERA_URL" default:""` // Snapshot endpoint, optional
	ImageDir        string   `envconfig:"IMAGE_DIR" default:"tmp/images"`
	VisionKeywords  []string `envconfig:"VISION_KEYWORDS" default:"看看这个,拍照,摄像头,相机,照片,图片内容,图中,看到什么,看一下,帮我看"`
	VisionMaxImages int      `envconfig:"VISION_MAX_IMAGES" default:"20"`

	// Voiceprint
	VoiceprintURL       string  `envconfig:"VOICEPRINT_URL" default:""` // Empty disables voiceprint
	VoiceprintThreshold float64 `envconfig:"VOICEPRINT_THRESHOLD" default:"0.6"`
	RegisterTrigger     string  `envconfig:"REGISTER_TRIGGER" default:"记住我"`

	// Wake words
	WakeWordConfig string `envconfig:"WAKE_WORD_CONFIG" default:"wake_words.yaml"`

	// Resilience configuration
	CollaboratorTimeoutSeconds int `envconfig:"COLLABORATOR_TIMEOUT_SECONDS" default:"30"`  // Per call timeout
	ProviderConcurrency        int `envconfig:"PROVIDER_CONCURRENCY" default:"4"`           // In-flight calls per provider
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the keys required by the selected providers are present
func (c *Config) Validate() error {
	switch c.ListenMode {
	case "auto", "manual":
	default:
		return fmt.Errorf("LISTEN_MODE must be auto or manual, got %q", c.ListenMode)
	}

	switch c.STTProvider {
	case "whisper":
		if c.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required")
		}
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}

	switch c.TTSProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "cartesia":
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider)
	}

	switch c.ChatProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "orchestrator":
		if c.OrchestratorURL == "" {
			return fmt.Errorf("ORCHESTRATOR_URL is required")
		}
	default:
		return fmt.Errorf("unknown CHAT_PROVIDER %q", c.ChatProvider)
	}

	if c.FrameDurationMS <= 0 {
		return fmt.Errorf("FRAME_DURATION_MS must be positive")
	}
	if c.MinUtteranceFrames < 1 {
		return fmt.Errorf("MIN_UTTERANCE_FRAMES must be at least 1")
	}
	if c.MaxUtteranceSecs < 0 {
		return fmt.Errorf("MAX_UTTERANCE_SECONDS must not be negative")
	}
	return nil
}

// IdleTimeout returns the silence duration after which a session says goodbye
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// MaxUtteranceFrames returns the frame count at which an utterance is cut,
// or 0 when utterances are unbounded
func (c *Config) MaxUtteranceFrames() int {
	if c.MaxUtteranceSecs <= 0 || c.FrameDurationMS <= 0 {
		return 0
	}
	return c.MaxUtteranceSecs * 1000 / c.FrameDurationMS
}

// FrameDuration returns the nominal duration of one audio packet
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMS) * time.Millisecond
}

// CollaboratorTimeout returns the timeout applied to every provider call
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

// TrimmedExitCommands returns the configured exit commands without blanks
func (c *Config) TrimmedExitCommands() []string {
	out := make([]string, 0, len(c.ExitCommands))
	for _, cmd := range c.ExitCommands {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			out = append(out, cmd)
		}
	}
	return out
}
