package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the enrichment core, read from
// environment variables and an optional .env file.
type Config struct {
	Env  string
	Addr string // HTTP_ADDR

	RedisURL    string
	DatabaseURL string

	PipelineName  string
	RoutesFile    string
	BudgetLimit   float64
	RequeueMax    int
	RequeueBaseMS int

	ChimeraStationTimeout time.Duration
	TelnyxTimeout         time.Duration
	MissionQueueName      string
	MissionDLQName        string
	LeadQueueName         string
	LeadDLQName           string
	WorkerConcurrency     int

	TelnyxAPIKey    string
	SkipTraceURL    string
	SkipTraceAPIKey string
	SkipTraceCost   float64
	CensusAPIKey    string

	WebhookURL      string
	SlackWebhookURL string

	LogLevel string
}

// Load reads configuration from the environment, falling back to an
// optional .env file and then to the documented defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:  getEnv("ENV", "development"),
		Addr: getEnv("HTTP_ADDR", ":8090"),

		RedisURL:    firstNonEmpty(os.Getenv("REDIS_URL"), os.Getenv("APP_REDIS_URL"), "redis://localhost:6379"),
		DatabaseURL: firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("APP_DATABASE_URL"), ""),

		PipelineName:  getEnv("PIPELINE_NAME", ""),
		RoutesFile:    os.Getenv("ROUTES_FILE"),
		BudgetLimit:   getEnvFloat("PIPELINE_BUDGET_LIMIT", 5.0),
		RequeueMax:    getEnvInt("MAX_RETRIES", 3),
		RequeueBaseMS: getEnvInt("RETRY_DELAY_BASE_MS", 5000),

		ChimeraStationTimeout: time.Duration(getEnvInt("CHIMERA_STATION_TIMEOUT", 120)) * time.Second,
		TelnyxTimeout:         time.Duration(getEnvInt("TELNYX_TIMEOUT_SEC", 30)) * time.Second,
		MissionQueueName:      getEnv("CHIMERA_MISSION_QUEUE", "chimera:missions"),
		MissionDLQName:        getEnv("CHIMERA_MISSION_DLQ", "chimera:missions:dead"),
		LeadQueueName:         getEnv("LEAD_QUEUE", "leads_to_enrich"),
		LeadDLQName:           getEnv("LEAD_DLQ", "failed_leads"),
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 4),

		TelnyxAPIKey:    os.Getenv("TELNYX_API_KEY"),
		SkipTraceURL:    os.Getenv("SKIPTRACE_API_URL"),
		SkipTraceAPIKey: os.Getenv("SKIPTRACE_API_KEY"),
		SkipTraceCost:   getEnvFloat("SKIPTRACE_COST", 0.15),
		CensusAPIKey:    os.Getenv("CENSUS_API_KEY"),

		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
