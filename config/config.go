package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMProvider    string // anthropic, openai, ollama
	AnthropicKey   string // API key (X-Api-Key header)
	AnthropicToken string // OAuth token (Authorization: Bearer header)
	OpenAIKey      string
	LLMModel       string
	OllamaBaseURL  string

	EmbeddingModel   string
	EmbeddingBaseURL string
	EmbeddingDims    int

	DiscordToken   string
	DiscordChannel string

	DatabasePath string
	Timezone     string

	HistoryUserLimit int           // max user messages kept per conversation
	SweepInterval    time.Duration // schedule sweep cadence

	WeatherUserAgent string

	HomeAssistantURL   string
	HomeAssistantToken string

	PlaneraURL      string
	PlaneraUsername string
	PlaneraToken    string
	ShoppingSlug    string
}

func Load() *Config {
	_ = godotenv.Load() // ignore error if no .env

	return &Config{
		LLMProvider:    envOr("LLM_PROVIDER", "anthropic"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicToken: os.Getenv("ANTHROPIC_AUTH_TOKEN"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		OllamaBaseURL:  envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1"),

		EmbeddingModel:   os.Getenv("EMBEDDING_MODEL"),
		EmbeddingBaseURL: os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingDims:    envIntOr("EMBEDDING_DIMENSIONS", 256),

		DiscordToken:   os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannel: os.Getenv("DISCORD_CHANNEL_ID"),

		DatabasePath: envOr("DATABASE_PATH", "./data.db"),
		Timezone:     os.Getenv("TIMEZONE"),

		HistoryUserLimit: envIntOr("HISTORY_USER_LIMIT", 10),
		SweepInterval:    envDurationOr("SWEEP_INTERVAL", 20*time.Second),

		WeatherUserAgent: envOr("WEATHER_USER_AGENT", "alva/1.0"),

		HomeAssistantURL:   os.Getenv("HOME_ASSISTANT_URL"),
		HomeAssistantToken: os.Getenv("HOME_ASSISTANT_TOKEN"),

		PlaneraURL:      os.Getenv("PLANERA_URL"),
		PlaneraUsername: os.Getenv("PLANERA_USERNAME"),
		PlaneraToken:    os.Getenv("PLANERA_TOKEN"),
		ShoppingSlug:    envOr("PLANERA_SHOPPING_SLUG", "shopping-list"),
	}
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
