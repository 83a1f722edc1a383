// Package config loads process configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		// Fine in production where real env vars are set directly.
		log.Println("No .env file found or error loading it, using system environment variables")
	}
}

// DerivativeSpec describes one output rendition's target width and WebP quality.
type DerivativeSpec struct {
	Variant string
	Width   int
	Quality int
}

// Settings holds every tunable named in the ingest pipeline specification.
type Settings struct {
	DatabaseURL string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	OpenRouterAPIKey string

	MaxImagePixels int64

	Derivatives []DerivativeSpec

	MinConfidenceForAssignment float64
	VisionCheckLowerBound      float64
	VisionCheckUpperBound      float64
	VisionSampleRate           float64

	FetchTimeout           time.Duration
	RateLimitSweepInterval time.Duration
	RateLimitBucketIdle    time.Duration

	WorkerCount    int
	PollInterval   time.Duration
	MaxJobAttempts int

	Env string
}

// Load reads Settings from the process environment, applying the defaults
// named in the ingest pipeline spec where a variable is unset.
func Load() *Settings {
	return &Settings{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      getEnv("R2_BUCKET_NAME", "card-images"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),

		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),

		MaxImagePixels: getEnvInt64("MAX_IMAGE_PIXELS", 20_000_000),

		Derivatives: []DerivativeSpec{
			{Variant: "thumb", Width: 160, Quality: 75},
			{Variant: "grid", Width: 360, Quality: 80},
			{Variant: "detail", Width: 960, Quality: 80},
		},

		MinConfidenceForAssignment: getEnvFloat("MIN_CONFIDENCE_FOR_ASSIGNMENT", 0.85),
		VisionCheckLowerBound:      getEnvFloat("VISION_CHECK_LOWER_BOUND", 0.6),
		VisionCheckUpperBound:      getEnvFloat("VISION_CHECK_UPPER_BOUND", 0.9),
		VisionSampleRate:           getEnvFloat("VISION_SAMPLE_RATE", 0.1),

		FetchTimeout:           getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		RateLimitSweepInterval: getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 60*time.Second),
		RateLimitBucketIdle:    getEnvDuration("RATE_LIMIT_BUCKET_IDLE", 60*time.Second),

		WorkerCount:    int(getEnvInt64("WORKER_COUNT", 4)),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 5*time.Second),
		MaxJobAttempts: int(getEnvInt64("MAX_JOB_ATTEMPTS", 3)),

		Env: getEnv("NODE_ENV", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
