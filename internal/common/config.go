package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig
	Blob      BlobConfig
	Limits    LimitsConfig
	RateLimit RateLimitConfig
	Lock      LockConfig
	OCR       OCRConfig
	Sanitize  SanitizeConfig
	Provider  ProviderConfig
	Queue     QueueConfig
	Retention RetentionConfig
}

// StoreConfig selects and tunes the transactional document store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string
	DSN         string
	DialTimeout time.Duration
}

// BlobConfig holds source-document storage configuration.
type BlobConfig struct {
	RootDir string
}

// LimitsConfig bounds a single upload request.
type LimitsConfig struct {
	MaxFiles  int
	MaxSizeMB int
	MaxPages  int
}

// RateLimitConfig holds quota policy knobs. Buckets are per-minute
// policies: refill rate is capacity/60 tokens per second.
type RateLimitConfig struct {
	Enabled         bool
	JobsPerMinCap   int
	FilesPerMinCap  int
	RetryPerMinCap  int
	IPPerMinCap     int
	UseIPFallback   bool
	DailyGlobal     int
	DailyPerSession int
	// TZOffsetMinutes fixes the local-midnight boundary for daily
	// counters (no daylight-saving adjustment).
	TZOffsetMinutes int
}

// LockConfig holds the processing-lock staleness threshold.
type LockConfig struct {
	StaleAfter time.Duration
}

// OCRConfig holds tier selection and text-quality gate settings.
type OCRConfig struct {
	// Endpoint is the base URL of the OCR engine service.
	Endpoint       string
	RequestTimeout time.Duration

	// SyncMaxPages is the largest page count routed to the synchronous tier.
	SyncMaxPages int
	// TextLayerMaxPages bounds the embedded-text-layer attempt; 0 disables it.
	TextLayerMaxPages int
	BatchTimeout      time.Duration

	// Quality gate for embedded text layers.
	MinTextLength      int
	MaxSymbolRatio     float64
	MaxTableNoiseRatio float64
	Keywords           []string
}

// SanitizeConfig tunes the pre-LLM text sanitizer.
type SanitizeConfig struct {
	MaxChars    int
	StripTop    int
	StripBottom int
}

// ProviderConfig holds extraction-provider settings.
type ProviderConfig struct {
	GeminiAPIKey     string
	GeminiModel      string
	OpenRouterAPIKey string
	OpenRouterModel  string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// QueueConfig tunes the local worker pool. Inline bypasses the pool and
// runs each job on the enqueuing goroutine, the local fallback mode.
type QueueConfig struct {
	Inline         bool
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// RetentionConfig controls the age-based job sweep.
type RetentionConfig struct {
	MaxAge       time.Duration
	LoopEnabled  bool
	LoopInterval time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "sqlite"),
			DSN:         getEnv("STORE_DSN", "./invoices.db"),
			DialTimeout: getEnvAsDuration("STORE_DIAL_TIMEOUT", 3*time.Second),
		},
		Blob: BlobConfig{
			RootDir: getEnv("BLOB_ROOT", "./blobs"),
		},
		Limits: LimitsConfig{
			MaxFiles:  getEnvAsInt("MAX_FILES", 10),
			MaxSizeMB: getEnvAsInt("MAX_SIZE_MB", 10),
			MaxPages:  getEnvAsInt("MAX_PAGES", 20),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("RL_ENABLED", true),
			JobsPerMinCap:   getEnvAsInt("RL_JOBS_PER_MIN_CAP", 10),
			FilesPerMinCap:  getEnvAsInt("RL_FILES_PER_MIN_CAP", 20),
			RetryPerMinCap:  getEnvAsInt("RL_RETRY_PER_MIN_CAP", 5),
			IPPerMinCap:     getEnvAsInt("RL_IP_PER_MIN_CAP", 30),
			UseIPFallback:   getEnvAsBool("RL_USE_IP_FALLBACK", false),
			DailyGlobal:     getEnvAsInt("RL_DAILY_GLOBAL", 500),
			DailyPerSession: getEnvAsInt("RL_DAILY_PER_SESSION", 50),
			TZOffsetMinutes: getEnvAsInt("RL_TZ_OFFSET_MINUTES", 60),
		},
		Lock: LockConfig{
			StaleAfter: getEnvAsDuration("LOCK_STALE_AFTER", 15*time.Minute),
		},
		OCR: OCRConfig{
			Endpoint:           getEnv("OCR_ENDPOINT", "http://localhost:8089"),
			RequestTimeout:     getEnvAsDuration("OCR_REQUEST_TIMEOUT", 60*time.Second),
			SyncMaxPages:       getEnvAsInt("OCR_SYNC_MAX_PAGES", 5),
			TextLayerMaxPages:  getEnvAsInt("OCR_TEXT_LAYER_MAX_PAGES", 8),
			BatchTimeout:       getEnvAsDuration("OCR_BATCH_TIMEOUT", 300*time.Second),
			MinTextLength:      getEnvAsInt("OCR_GATE_MIN_TEXT_LEN", 200),
			MaxSymbolRatio:     getEnvAsFloat("OCR_GATE_MAX_SYMBOL_RATIO", 0.35),
			MaxTableNoiseRatio: getEnvAsFloat("OCR_GATE_MAX_TABLE_NOISE_RATIO", 0.30),
			Keywords:           getEnvAsList("OCR_GATE_KEYWORDS", "invoice,factuur,total,totaal,btw,vat,amount,bedrag"),
		},
		Sanitize: SanitizeConfig{
			MaxChars:    getEnvAsInt("PREPROCESS_MAX_CHARS", 12000),
			StripTop:    getEnvAsInt("ZONE_STRIP_TOP", 0),
			StripBottom: getEnvAsInt("ZONE_STRIP_BOTTOM", 0),
		},
		Provider: ProviderConfig{
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterModel:  getEnv("OPENROUTER_MODEL", "meta-llama/llama-3.3-70b-instruct:free"),
			ConnectTimeout:   getEnvAsDuration("PROVIDER_CONNECT_TIMEOUT", 5*time.Second),
			RequestTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
			RetryAttempts:    getEnvAsInt("PROVIDER_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvAsDuration("PROVIDER_RETRY_BASE_DELAY", 200*time.Millisecond),
			RetryMaxDelay:    getEnvAsDuration("PROVIDER_RETRY_MAX_DELAY", 5*time.Second),
		},
		Queue: QueueConfig{
			Inline:         getEnvAsBool("QUEUE_INLINE", false),
			Workers:        getEnvAsInt("QUEUE_WORKERS", 4),
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 6*time.Minute),
		},
		Retention: RetentionConfig{
			MaxAge:       getEnvAsDuration("RETENTION_MAX_AGE", 24*time.Hour),
			LoopEnabled:  getEnvAsBool("RETENTION_LOOP_ENABLE", true),
			LoopInterval: getEnvAsDuration("RETENTION_LOOP_INTERVAL", time.Hour),
		},
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "STORE_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Store.DSN == "" {
		return NewAppError("CONFIG_ERROR", "STORE_DSN is required", ErrInvalidInput)
	}
	if c.Blob.RootDir == "" {
		return NewAppError("CONFIG_ERROR", "BLOB_ROOT is required", ErrInvalidInput)
	}
	if c.Provider.GeminiAPIKey == "" && c.Provider.OpenRouterAPIKey == "" {
		return NewAppError("CONFIG_ERROR", "at least one of GEMINI_API_KEY or OPENROUTER_API_KEY is required", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
