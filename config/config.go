package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	// BackendNone disables the broker; live results fall back to polling.
	BackendNone = "none"

	MailLog    = "log"
	MailResend = "resend"
)

type Config struct {
	AppPort string
	AppMode string
	AppEnv  string

	StorageMode string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBTimeout   time.Duration

	JWTSecret     string
	JWTExpiryMin  int
	RefreshExpiry int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	OTPBackend     string
	OTPTTL         time.Duration
	OTPCooldown    time.Duration
	OTPSweepPeriod time.Duration

	BrokerBackend    string
	LivePollInterval time.Duration

	MailDriver   string
	MailFrom     string
	ResendAPIKey string
	ResendURL    string

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PresignTTL time.Duration

	CORSOrigins []string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppMode: getEnv("APP_MODE", "debug"),
		AppEnv:  getEnv("APP_ENV", "development"),

		StorageMode: getEnv("STORAGE_MODE", StoragePostgres),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "univote"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBTimeout:   getEnvAsMillis("DB_TIMEOUT_MS", 5*time.Second),

		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 15),
		RefreshExpiry: getEnvAsInt("REFRESH_EXPIRY_DAYS", 14),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OTPBackend:     getEnv("OTP_BACKEND", BackendRedis),
		OTPTTL:         getEnvAsSeconds("OTP_TTL_SECONDS", 5*time.Minute),
		OTPCooldown:    getEnvAsSeconds("OTP_RESEND_COOLDOWN_SECONDS", 30*time.Second),
		OTPSweepPeriod: getEnvAsSeconds("OTP_SWEEP_SECONDS", time.Minute),

		BrokerBackend:    getEnv("BROKER_BACKEND", BackendRedis),
		LivePollInterval: getEnvAsSeconds("LIVE_POLL_SECONDS", 3*time.Second),

		MailDriver:   getEnv("MAIL_DRIVER", MailLog),
		MailFrom:     getEnv("MAIL_FROM", "UniVote <onboarding@resend.dev>"),
		ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		ResendURL:    getEnv("RESEND_URL", "https://api.resend.com/emails"),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PresignTTL: getEnvAsSeconds("S3_PRESIGN_SECONDS", 15*time.Minute),

		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}
}

// UsesRedis reports whether any backend needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.OTPBackend == BackendRedis || c.BrokerBackend == BackendRedis
}

// SnapshotsEnabled reports whether result snapshots can be archived.
func (c *Config) SnapshotsEnabled() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsSeconds(key string, fallback time.Duration) time.Duration {
	if value := getEnvAsInt(key, -1); value >= 0 {
		return time.Duration(value) * time.Second
	}
	return fallback
}

func getEnvAsMillis(key string, fallback time.Duration) time.Duration {
	if value := getEnvAsInt(key, -1); value > 0 {
		return time.Duration(value) * time.Millisecond
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
