package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string

	// Completion service. An empty APIVersion talks to a plain OpenAI-compatible
	// endpoint instead of an Azure deployment.
	LLMEndpoint   string
	LLMAPIKey     string
	LLMModel      string
	LLMAPIVersion string

	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxContinuations int
	RequestTimeout   time.Duration

	DatasetPath     string
	DatasetRequired bool
	ExampleStages   []string

	MaxConcurrentRuns int
	MaxUploadBytes    int64

	DatabaseURL string
	NatsURL     string
	NatsToken   string

	// Users maps basic-auth usernames to passwords. With no users every
	// protected route is refused unless AuthDisabled is set.
	Users        map[string]string
	AuthDisabled bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		Port:              envInt("BDDGEN_PORT", 8760),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		LLMEndpoint:       envStr("AZURE_OAI_ENDPOINT", ""),
		LLMAPIKey:         envStr("AZURE_OAI_KEY", ""),
		LLMModel:          envStr("AZURE_OAI_MODEL", "gpt-4"),
		LLMAPIVersion:     envStr("AZURE_OAI_API_VERSION", "2023-12-01-preview"),
		MaxTokens:         envInt("LLM_MAX_TOKENS", 4000),
		TopP:              envFloat("LLM_TOP_P", 0.95),
		FrequencyPenalty:  envFloat("LLM_FREQUENCY_PENALTY", 0),
		PresencePenalty:   envFloat("LLM_PRESENCE_PENALTY", 0),
		MaxContinuations:  envInt("LLM_MAX_CONTINUATIONS", 8),
		RequestTimeout:    envDuration("LLM_REQUEST_TIMEOUT", 5*time.Minute),
		DatasetPath:       envStr("DATASET_PATH", "TestData.xlsx"),
		DatasetRequired:   envBool("DATASET_REQUIRED", true),
		ExampleStages:     envList("EXAMPLE_STAGES", ",", []string{"glue"}),
		MaxConcurrentRuns: envInt("PIPELINE_MAX_RUNS", 4),
		MaxUploadBytes:    int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		NatsURL:           envStr("NATS_URL", ""),
		NatsToken:         envStr("NATS_TOKEN", ""),
		Users:             envUsers("user_names", "passwords"),
		AuthDisabled:      envBool("AUTH_DISABLED", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key, sep string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envUsers pairs two ';'-separated lists by raw index, so a blank entry in
// either list never shifts later pairs. Entries with a blank name or password
// are ignored.
func envUsers(namesKey, passwordsKey string) map[string]string {
	names := strings.Split(os.Getenv(namesKey), ";")
	passwords := strings.Split(os.Getenv(passwordsKey), ";")
	users := make(map[string]string, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || i >= len(passwords) {
			continue
		}
		if pass := strings.TrimSpace(passwords[i]); pass != "" {
			users[name] = pass
		}
	}
	return users
}
