package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	MongoURI       string
	PostgresURI    string
	RedisURI       string
	EncryptionKey  string
	AdminKeyHash   string // Argon2id hash of the admin API key (X-Admin-Key)
	Port           string
	Environment    string // ENV: production, development, etc.
	AllowedOrigins []string

	// Conversation flow tuning. Defaults match the production rollout; every
	// value can be overridden through the environment for staging experiments.
	SessionTimeout        time.Duration // inactivity window before a session expires
	ChallengeTTL          time.Duration // absolute lifetime of a one-time-code challenge
	CodePeriod            uint          // TOTP time step, seconds
	MaxCodeAttempts       int           // verification attempts per challenge
	RateWindow            time.Duration // sliding window for code issuances
	RateCeiling           int64         // issuances allowed inside the window
	TempBlockDuration     time.Duration // length of an automatic temporary block
	BlockEscalation       int64         // temporary blocks before the next one is permanent
	BlockHistoryTTL       time.Duration // retention of the per-address block counter
	ResetHistoryOnUnblock bool          // whether manual unblock also wipes the block counter
	DedupTTL              time.Duration // how long inbound message ids are remembered
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	return &Config{
		MongoURI:       getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/veriflow")),
		PostgresURI:    getEnv("POSTGRES_URI", "postgres://localhost:5432/veriflow?sslmode=disable"),
		RedisURI:       getEnv("REDIS_URI", "redis://localhost:6379/0"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		AdminKeyHash:   getEnv("ADMIN_KEY_HASH", ""),
		Port:           getEnv("PORT", "8080"),
		Environment:    env,
		AllowedOrigins: allowedOrigins,

		SessionTimeout:        getEnvDuration("SESSION_TIMEOUT", 5*time.Minute),
		ChallengeTTL:          getEnvDuration("CHALLENGE_TTL", 10*time.Minute),
		CodePeriod:            uint(getEnvInt("CODE_PERIOD_SECONDS", 300)),
		MaxCodeAttempts:       getEnvInt("MAX_CODE_ATTEMPTS", 3),
		RateWindow:            getEnvDuration("RATE_WINDOW", 600*time.Second),
		RateCeiling:           int64(getEnvInt("RATE_CEILING", 3)),
		TempBlockDuration:     getEnvDuration("TEMP_BLOCK_DURATION", 1800*time.Second),
		BlockEscalation:       int64(getEnvInt("BLOCK_ESCALATION_THRESHOLD", 3)),
		BlockHistoryTTL:       getEnvDuration("BLOCK_HISTORY_TTL", 30*24*time.Hour),
		ResetHistoryOnUnblock: getEnvBool("RESET_HISTORY_ON_UNBLOCK", false),
		DedupTTL:              getEnvDuration("DEDUP_TTL", 24*time.Hour),
	}
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5m") or bare seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
