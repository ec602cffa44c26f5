package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Speech providers
const (
	SpeechProviderGroq     = "groq"
	SpeechProviderCartesia   = "cartesia"
	SpeechProviderElevenLabs = "elevenlabs"
)

// Publish targets
const (
	PublishCloudflare = "cloudflare"
	PublishSupabase   = "supabase"
)

type Config struct {
	// Server
	AppEnv             string
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Cloudflare Stream
	CloudflareAccountID   string
	CloudflareStreamToken string
	PublishTarget         string

	// Script + metadata LLM (OpenAI-compatible)
	OpenAIKey     string
	OpenAIBaseURL string
	ScriptModel   string

	// Gemini (animation documents)
	GeminiKey      string
	AnimationModel string

	// Speech
	SpeechProvider    string
	GroqKey           string
	GroqBaseURL       string
	SpeechModel       string
	SpeechVoice       string
	CartesiaKey       string
	CartesiaURL       string
	CartesiaVoiceID   string
	ElevenLabsKey     string
	ElevenLabsURL     string
	ElevenLabsVoiceID string

	// Video shape
	VideoLengthMinutes int
	SegmentsPerMinute  int
	TokensPerSegment   int

	// Worker
	MaxConcurrentJobs int

	// Pipeline tuning; env overrides applied on top of PIPELINE_CONFIG_PATH
	PipelineConfigPath string
	Pipeline           Pipeline
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "production"),
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "videos"),
		CloudflareAccountID:   getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
		CloudflareStreamToken: getEnv("CLOUDFLARE_STREAM_TOKEN", ""),
		PublishTarget:         getEnv("PUBLISH_TARGET", PublishCloudflare),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		ScriptModel:           getEnv("SCRIPT_MODEL", "gpt-4o-mini"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		AnimationModel:        getEnv("ANIMATION_MODEL", "gemini-2.5-flash"),
		SpeechProvider:        getEnv("SPEECH_PROVIDER", SpeechProviderGroq),
		GroqKey:               getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:           getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		SpeechModel:           getEnv("SPEECH_MODEL", "playai-tts"),
		SpeechVoice:           getEnv("SPEECH_VOICE", "Fritz-PlayAI"),
		CartesiaKey:           getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:           getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID:       getEnv("CARTESIA_VOICE_ID", ""),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsURL:         getEnv("ELEVENLABS_API_URL", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		VideoLengthMinutes:    getEnvInt("VIDEO_LENGTH_MINUTES", 1),
		SegmentsPerMinute:     getEnvInt("SEGMENTS_PER_MINUTE", 6),
		TokensPerSegment:      getEnvInt("TOKENS_PER_SEGMENT", 300),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		PipelineConfigPath:    getEnv("PIPELINE_CONFIG_PATH", ""),
	}

	pipeline := DefaultPipeline()
	if cfg.PipelineConfigPath != "" {
		loaded, err := LoadPipelineFile(cfg.PipelineConfigPath)
		if err != nil {
			return nil, err
		}
		pipeline = loaded
	}
	cfg.Pipeline = applyPipelineEnv(pipeline)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required keys for the enabled components.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.VideoLengthMinutes <= 0 || c.SegmentsPerMinute <= 0 {
		return fmt.Errorf("VIDEO_LENGTH_MINUTES and SEGMENTS_PER_MINUTE must be positive")
	}

	if c.WorkerEnabled {
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}

		if c.Pipeline.UseAIAnimations && c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI animations are enabled")
		}

		switch c.SpeechProvider {
		case SpeechProviderGroq:
			if c.GroqKey == "" {
				return fmt.Errorf("GROQ_API_KEY is required for the groq speech provider")
			}
		case SpeechProviderCartesia:
			if c.CartesiaKey == "" {
				return fmt.Errorf("CARTESIA_API_KEY is required for the cartesia speech provider")
			}
		case SpeechProviderElevenLabs:
			if c.ElevenLabsKey == "" {
				return fmt.Errorf("ELEVENLABS_API_KEY is required for the elevenlabs speech provider")
			}
		default:
			return fmt.Errorf("unknown SPEECH_PROVIDER %q", c.SpeechProvider)
		}

		switch c.PublishTarget {
		case PublishCloudflare:
			if c.CloudflareAccountID == "" || c.CloudflareStreamToken == "" {
				return fmt.Errorf("CLOUDFLARE_ACCOUNT_ID and CLOUDFLARE_STREAM_TOKEN are required")
			}
		case PublishSupabase:
			if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
				return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
			}
		default:
			return fmt.Errorf("unknown PUBLISH_TARGET %q", c.PublishTarget)
		}
	}

	return c.Pipeline.Validate()
}

// TotalSegments is the number of script segments requested per video.
func (c *Config) TotalSegments() int {
	return c.VideoLengthMinutes * c.SegmentsPerMinute
}

func applyPipelineEnv(p Pipeline) Pipeline {
	p.BatchSize = getEnvInt("RENDER_BATCH_SIZE", p.BatchSize)
	p.RenderTimeout = getEnvDuration("RENDER_TIMEOUT", p.RenderTimeout)
	p.AnimationTimeout = getEnvDuration("ANIMATION_GENERATION_TIMEOUT", p.AnimationTimeout)
	p.UseAIAnimations = getEnvBool("USE_AI_ANIMATIONS", p.UseAIAnimations)
	p.AudioWorkers = getEnvInt("AUDIO_GENERATION_WORKERS", p.AudioWorkers)
	p.AudioMaxAttempts = getEnvInt("MAX_RETRY_ATTEMPTS", p.AudioMaxAttempts)
	p.AudioTimeout = getEnvDuration("AUDIO_API_TIMEOUT", p.AudioTimeout)
	p.ClipEncodeTimeout = getEnvDuration("FFMPEG_TIMEOUT", p.ClipEncodeTimeout)
	p.TransitionsEnabled = getEnvBool("TRANSITIONS_ENABLED", p.TransitionsEnabled)
	p.TransitionDuration = getEnvFloat("TRANSITION_DURATION_SECONDS", p.TransitionDuration)
	p.MinClipDuration = getEnvFloat("MIN_CLIP_DURATION_SECONDS", p.MinClipDuration)
	p.MusicPath = getEnv("BACKGROUND_MUSIC_PATH", p.MusicPath)
	p.ScratchDir = getEnv("SCRATCH_DIR", p.ScratchDir)
	p.ChromePath = getEnv("CHROME_PATH", p.ChromePath)
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or bare seconds ("180").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
