package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	PlatformAPIBase string

	R2Endpoint string
	R2Bucket   string

	CoverURLMode string // "public" or "signed"
	SignedURLTTL time.Duration

	SyncInterval     time.Duration
	SyncDaysBack     int
	TokenWarningDays int

	CORSOrigins []string

	// raw secrets kept in-memory only; never log these
	R2KeysRaw          string
	AppSecret          string
	WebhookVerifyToken string
	AdminSecretKey     string
	EncryptionKeysRaw  string
	EncryptionKey      []byte // decoded from EncryptionKeysRaw
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:              os.Getenv("DB_DSN"),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:           getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		PlatformAPIBase:    getenvDefault("PLATFORM_API_BASE", "https://graph.facebook.com/v19.0"),
		R2Endpoint:         getenvDefault("R2_ENDPOINT", ""),
		R2Bucket:           getenvDefault("R2_BUCKET", ""),
		R2KeysRaw:          os.Getenv("R2_KEYS"),
		CoverURLMode:       getenvDefault("COVER_URL_MODE", "public"),
		AppSecret:          os.Getenv("APP_SECRET"),
		WebhookVerifyToken: os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		AdminSecretKey:     getenvDefault("ADMIN_SECRET_KEY", ""),
	}

	cfg.EncryptionKeysRaw = os.Getenv("ENCRYPTION_KEY")

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	if cfg.CoverURLMode != "public" && cfg.CoverURLMode != "signed" {
		return Config{}, errors.New("COVER_URL_MODE must be public or signed")
	}

	ttlMinutes, err := getenvInt("SIGNED_URL_TTL_MINUTES", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.SignedURLTTL = time.Duration(ttlMinutes) * time.Minute

	syncMinutes, err := getenvInt("SYNC_INTERVAL_MINUTES", 360)
	if err != nil {
		return Config{}, err
	}
	cfg.SyncInterval = time.Duration(syncMinutes) * time.Minute

	if cfg.SyncDaysBack, err = getenvInt("SYNC_DAYS_BACK", 30); err != nil {
		return Config{}, err
	}
	if cfg.TokenWarningDays, err = getenvInt("TOKEN_WARNING_DAYS", 7); err != nil {
		return Config{}, err
	}

	// light validation: ensure secrets are valid json if set
	if cfg.R2KeysRaw != "" {
		var tmp any
		if err := json.Unmarshal([]byte(cfg.R2KeysRaw), &tmp); err != nil {
			return Config{}, errors.New("R2_KEYS must be valid json")
		}
	}

	// decode encryption key (base64, must be 32 bytes)
	if cfg.EncryptionKeysRaw != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKeysRaw)
		if err != nil {
			return Config{}, errors.New("ENCRYPTION_KEY must be valid base64")
		}
		if len(key) != 32 {
			return Config{}, errors.New("ENCRYPTION_KEY must be 32 bytes (256 bits)")
		}
		cfg.EncryptionKey = key
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, errors.New(k + " must be a positive integer")
	}
	return n, nil
}
