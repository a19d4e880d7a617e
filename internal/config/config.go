package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TelegramToken      string
	MediaGroupDebounce time.Duration

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	WebAddr        string
	MetricsAddr    string
	MaxUploadBytes int64
	SessionIdleTTL time.Duration
	MaxConcurrent  int
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration

	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiTransport  string
	RemoveBGURL      string
}

// fileConfig mirrors the optional YAML file named by CONFIG_FILE.
// Environment variables win over anything set here.
type fileConfig struct {
	LogLevel              string `yaml:"log_level"`
	Debug                 *bool  `yaml:"debug"`
	PreferIPv4            *bool  `yaml:"prefer_ipv4"`
	WebAddr               string `yaml:"web_addr"`
	MetricsAddr           string `yaml:"metrics_addr"`
	MaxUploadMB           int    `yaml:"max_upload_mb"`
	SessionIdleTTLMinutes int    `yaml:"session_idle_ttl_minutes"`
	MaxConcurrent         int    `yaml:"max_concurrent"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	HTTPTimeoutSeconds    int    `yaml:"http_timeout_seconds"`
	GeminiBaseURL         string `yaml:"gemini_base_url"`
	GeminiAPIVersion      string `yaml:"gemini_api_version"`
	GeminiTransport       string `yaml:"gemini_transport"`
	RemoveBGURL           string `yaml:"removebg_url"`
	MediaGroupDebounceMS  int    `yaml:"media_group_debounce_ms"`
}

const (
	TransportREST = "rest"
	TransportSDK  = "sdk"
)

func Load() (Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", orString(file.LogLevel, "info"))),
		Debug:            getEnvBool("DEBUG", orBool(file.Debug, false)),
		PreferIPv4:       getEnvBool("PREFER_IPV4", orBool(file.PreferIPv4, true)),
		WebAddr:          getEnv("WEB_ADDR", orString(file.WebAddr, ":8080")),
		MetricsAddr:      getEnv("METRICS_ADDR", file.MetricsAddr),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", orInt(file.MaxUploadMB, 25))) << 20,
		SessionIdleTTL:   time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", orInt(file.SessionIdleTTLMinutes, 120))) * time.Minute,
		MaxConcurrent:    getEnvInt("MAX_CONCURRENT", orInt(file.MaxConcurrent, 4)),
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", orInt(file.RequestTimeoutSeconds, 240))) * time.Second,
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", orInt(file.HTTPTimeoutSeconds, 180))) * time.Second,
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", orString(file.GeminiBaseURL, "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion: getEnv("GEMINI_API_VERSION", orString(file.GeminiAPIVersion, "v1beta")),
		GeminiTransport:  strings.ToLower(getEnv("GEMINI_TRANSPORT", orString(file.GeminiTransport, TransportREST))),
		RemoveBGURL:      getEnv("REMOVEBG_URL", orString(file.RemoveBGURL, "https://api.remove.bg/v1.0/removebg")),
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.MediaGroupDebounce = time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", orInt(file.MediaGroupDebounceMS, 1200))) * time.Millisecond

	switch cfg.GeminiTransport {
	case TransportREST, TransportSDK:
	default:
		return Config{}, fmt.Errorf("GEMINI_TRANSPORT must be %q or %q, got %q", TransportREST, TransportSDK, cfg.GeminiTransport)
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 2 * time.Hour
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}

	return cfg, nil
}

// RequireTelegram is checked by the bot binary only; the web server runs without a token.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func orString(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orBool(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
