// Package config loads ReCiSt's environment-driven configuration,
// following kube-rca-backend's getenv-with-fallback shape but covering the
// full set of external interfaces named by the operator: telemetry
// backends, the LLM provider, the ephemeral cache, and the durable
// store, plus the operator-wide policy defaults, each overridable by a
// RECIST_* environment variable. No SelfHealingPolicy manifest is
// loaded here.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/recist/recist/internal/model"
)

type Config struct {
	Telemetry TelemetryConfig
	LLM       LLMConfig
	Cache     CacheConfig
	Postgres  PostgresConfig
	Notify    NotifyConfig
	API       APIConfig
	Auth      AuthConfig
	Cluster   ClusterConfig
	LogLevel  string
	Defaults  model.SelfHealingPolicy
}

// AuthConfig configures the operator dashboard's JWT-guarded login,
// following kube-rca-backend's env-driven auth knobs.
type AuthConfig struct {
	JWTSecret      string
	JWTAccessTTL   string
	JWTRefreshTTL  string
	AllowSignup    string
	CookieSecure   string
	CookieSameSite string
	CookiePath     string
	CookieDomain   string
	AdminUsername  string
	AdminPassword  string
}

type TelemetryConfig struct {
	PrometheusURL string
	LokiURL       string
}

type LLMConfig struct {
	Provider string // claude | openai | gemini | ollama
	APIKey   string
	BaseURL  string // for ollama / self-hosted claude-compatible gateways
}

type CacheConfig struct {
	RedisURL string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
	VectorDim   int
}

type NotifyConfig struct {
	SlackWebhookURL string
}

type APIConfig struct {
	ListenAddr string
	JWTSecret  string
}

type ClusterConfig struct {
	Kubeconfig string // empty means in-cluster config
	QdrantURL  string // recognized for deployments fronting Postgres with a Qdrant-compatible proxy; unused by the default pgvector-backed store
}

func Load() Config {
	_ = godotenv.Load()

	defaults := model.DefaultPolicy()
	defaults.CheckInterval = getDuration("RECIST_CHECK_INTERVAL", defaults.CheckInterval)
	defaults.Lookback = getDuration("RECIST_LOOKBACK", defaults.Lookback)
	defaults.LLMTimeout = getDuration("RECIST_LLM_TIMEOUT", defaults.LLMTimeout)
	defaults.ConfidenceThreshold = getFloat("RECIST_CONFIDENCE_THRESHOLD", defaults.ConfidenceThreshold)
	defaults.MaxMicroAgents = getInt("RECIST_MAX_MICRO_AGENTS", defaults.MaxMicroAgents)
	defaults.ActionTimeout = getDuration("RECIST_ACTION_TIMEOUT", defaults.ActionTimeout)
	defaults.VerificationWait = getDuration("RECIST_VERIFICATION_WAIT", defaults.VerificationWait)
	defaults.MaxAttempts = getInt("RECIST_MAX_ATTEMPTS", defaults.MaxAttempts)
	defaults.DecisionThreshold = getFloat("RECIST_DECISION_THRESHOLD", defaults.DecisionThreshold)
	defaults.MaxLocalEvents = getInt("RECIST_MAX_LOCAL_EVENTS", defaults.MaxLocalEvents)
	defaults.KnowledgeTTL = getDuration("RECIST_KNOWLEDGE_TTL", defaults.KnowledgeTTL)
	defaults.TopicSimilarity = getFloat("RECIST_TOPIC_SIMILARITY", defaults.TopicSimilarity)
	defaults.LLMProvider = getenv("LLM_PROVIDER", defaults.LLMProvider)
	defaults.Namespaces = getStringSlice("RECIST_NAMESPACES", []string{"default"})

	return Config{
		Telemetry: TelemetryConfig{
			PrometheusURL: getenv("PROMETHEUS_URL", "http://prometheus.monitoring.svc:9090"),
			LokiURL:       getenv("LOKI_URL", "http://loki.monitoring.svc:3100"),
		},
		LLM: LLMConfig{
			Provider: defaults.LLMProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
		},
		Cache: CacheConfig{
			RedisURL: getenv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
			VectorDim:   getInt("RECIST_EMBEDDING_DIM", 1536),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		},
		API: APIConfig{
			ListenAddr: getenv("RECIST_LISTEN_ADDR", ":8080"),
			JWTSecret:  os.Getenv("RECIST_JWT_SECRET"),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("RECIST_JWT_SECRET"),
			JWTAccessTTL:   getenv("JWT_ACCESS_TTL", "15m"),
			JWTRefreshTTL:  getenv("JWT_REFRESH_TTL", "168h"),
			AllowSignup:    os.Getenv("ALLOW_SIGNUP"),
			CookieSecure:   getenv("AUTH_COOKIE_SECURE", "true"),
			CookieSameSite: getenv("AUTH_COOKIE_SAMESITE", "lax"),
			CookiePath:     getenv("AUTH_COOKIE_PATH", "/"),
			CookieDomain:   os.Getenv("AUTH_COOKIE_DOMAIN"),
			AdminUsername:  os.Getenv("ADMIN_USERNAME"),
			AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		},
		Cluster: ClusterConfig{
			Kubeconfig: os.Getenv("KUBECONFIG"),
			QdrantURL:  os.Getenv("QDRANT_URL"),
		},
		LogLevel: getenv("RECIST_LOG_LEVEL", "info"),
		Defaults: defaults,
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getStringSlice(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
