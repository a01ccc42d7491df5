package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSystemInstruction is the persona and safety contract sent with every
// chat generation.
const DefaultSystemInstruction = "ROLE: You are a healthcare and cautious medical assistant named Welli.\n" +
	"SCOPE: Only answer medical/health questions. Refuse anything else.\n" +
	"QUALITY: Be accurate, up-to-date, and evidence-based. Be friendly and empathetic.\n" +
	"CITATIONS: Include 1-3 reliable sources (guidelines, peer-reviewed articles, or major health orgs).\n" +
	"FORMAT: Keep responses concise, plain language, with short paragraphs or bullet points.\n" +
	"SAFETY: Add a brief disclaimer that this is general information, not a diagnosis.\n" +
	"If the user describes an emergency (e.g. chest pain, severe bleeding, stroke signs, suicidal thoughts), " +
	"urge immediate local emergency care, do not provide a primary diagnosis, and encourage them to consult a doctor.\n" +
	"ABSOLUTE RULE: Responses over 1000 tokens are not allowed. If unsure, respond with a shorter summary."

// Config contains all runtime settings for the medical chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowedOrigins []string

	CompletionProvider string
	CompletionHTTPURL  string
	CompletionTimeout  time.Duration

	GeminiAPIKey      string
	ModelName         string
	MaxOutputTokens   int
	Temperature       float64
	SystemInstruction string

	SummarizeOverMessages int
	KeepRecentMessages    int

	SessionStoreURL   string
	SessionMaxEntries int
	SessionIdleTTL    time.Duration
	GateBeforeIngest  bool

	ReactionVerifyToken string
}

// Load reads an optional .env file, then environment variables, and applies
// safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "welli"),
		AllowedOrigins:        splitList(envOrDefault("CORS_ALLOW_ORIGINS", "*")),
		CompletionProvider:    strings.ToLower(envOrDefault("COMPLETION_PROVIDER", "auto")),
		CompletionHTTPURL:     stringsTrimSpace("COMPLETION_HTTP_URL"),
		GeminiAPIKey:          stringsTrimSpace("GOOGLE_GENAI_API_KEY"),
		ModelName:             envOrDefault("MODEL_NAME", "gemini-2.5-flash"),
		SystemInstruction:     envOrDefault("SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		SessionStoreURL:       stringsTrimSpace("SESSION_STORE_URL"),
		ReactionVerifyToken:   stringsTrimSpace("REACTION_VERIFY_TOKEN"),
		ShutdownTimeout:       15 * time.Second,
		CompletionTimeout:     60 * time.Second,
		MaxOutputTokens:       1200,
		Temperature:           0.3,
		SummarizeOverMessages: 20,
		KeepRecentMessages:    10,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTTL, err = durationFromEnv("SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxOutputTokens, err = intFromEnv("MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeOverMessages, err = intFromEnv("SUMMARIZE_OVER_MESSAGES", cfg.SummarizeOverMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepRecentMessages, err = intFromEnv("KEEP_RECENT_MESSAGES", cfg.KeepRecentMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxEntries, err = intFromEnv("SESSION_MAX_ENTRIES", cfg.SessionMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.GateBeforeIngest, err = boolFromEnv("GATE_BEFORE_INGEST", cfg.GateBeforeIngest)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Callers building a Config by hand
// (tests, embedders) should call it too.
func (c Config) Validate() error {
	if c.KeepRecentMessages <= 0 {
		return fmt.Errorf("KEEP_RECENT_MESSAGES must be positive")
	}
	if c.SummarizeOverMessages <= c.KeepRecentMessages {
		return fmt.Errorf("SUMMARIZE_OVER_MESSAGES (%d) must be greater than KEEP_RECENT_MESSAGES (%d)",
			c.SummarizeOverMessages, c.KeepRecentMessages)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("MAX_OUTPUT_TOKENS must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be in [0,2]")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if c.SessionMaxEntries < 0 {
		return fmt.Errorf("SESSION_MAX_ENTRIES must be >= 0")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be >= 0")
	}
	switch c.CompletionProvider {
	case "auto", "gemini", "http", "mock":
	default:
		return fmt.Errorf("invalid COMPLETION_PROVIDER: %q (expected auto|gemini|http|mock)", c.CompletionProvider)
	}
	if strings.TrimSpace(c.SystemInstruction) == "" {
		return fmt.Errorf("SYSTEM_INSTRUCTION must not be empty")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
