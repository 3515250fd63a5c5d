package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service reads from the environment.
// It is loaded once in main and passed down; request-handling code never
// does ambient os.Getenv lookups.
type Config struct {
	Host string
	Port string

	// Azure OpenAI upstream. Endpoint, APIKey and Deployment are required.
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string

	// Optional persona template file (Markdown, YAML frontmatter allowed).
	PromptPath string

	// Status cache backing the /health upstream probe.
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	ProbeTTL     time.Duration

	// Upper bound on the total duration of one upstream completion stream.
	StreamTimeout time.Duration

	StaticDir string
	VersionID string
}

// Load reads configuration from the process environment. A .env file in the
// working directory, if present, overrides inherited environment variables.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host:          getenv("HOST", "0.0.0.0"),
		Port:          getenv("PORT", "8000"),
		Endpoint:      strings.TrimRight(os.Getenv("AZURE_OPENAI_ENDPOINT"), "/"),
		APIKey:        os.Getenv("AZURE_OPENAI_API_KEY"),
		Deployment:    os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME"),
		APIVersion:    getenv("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		PromptPath:    getenv("PROMPT_PATH", ".github/prompts/CompassionateTherapist.prompt.md"),
		CacheBackend:  getenv("CACHE_BACKEND", "memory"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		ProbeTTL:      getdur("PROBE_TTL", 30*time.Second),
		StreamTimeout: getdur("STREAM_TIMEOUT", 2*time.Minute),
		StaticDir:     getenv("STATIC_DIR", "web/static"),
		VersionID:     getenv("APP_VERSION", "v1"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that every required upstream setting is present.
// A missing value here is a fatal deployment error, not a per-request one.
func (c Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if c.APIKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if c.Deployment == "" {
		missing = append(missing, "AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getdur parses a duration environment variable, falling back to def on
// absence or parse failure.
func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
