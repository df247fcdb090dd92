// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceName identifies this process in logs and Mongo connection metadata.
const ServiceName = "birthday-notifier"

const (
	// Canonical environment variable keys.
	KeyMongoURI         = "MONGO_URI"
	KeyMongoDB          = "MONGO_DB"
	KeyAppEnv           = "APP_ENV"
	KeyLogLevel         = "LOG_LEVEL"
	KeyHTTPPort         = "PORT"
	KeySMTPHost         = "SMTP_HOST"
	KeySMTPPort         = "SMTP_PORT"
	KeySMTPUsername     = "SMTP_USERNAME"
	KeySMTPPassword     = "SMTP_PASSWORD"
	KeyMailFrom         = "MAIL_FROM"
	KeyBirthdayCron     = "BIRTHDAY_CRON"
	KeyBirthdayTimezone = "BIRTHDAY_TIMEZONE"
	KeyStaticDir        = "STATIC_DIR"
	KeyMailDriver       = "MAIL_DRIVER"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Supported mail drivers.
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"

	// Defaults for optional settings.
	DefaultAppEnv           = EnvProduction
	DefaultLogLevel         = "info"
	DefaultHTTPPort         = 3000
	DefaultSMTPHost         = "smtp.gmail.com"
	DefaultSMTPPort         = 587
	DefaultBirthdayCron     = "0 7 * * *"
	DefaultBirthdayTimezone = "Africa/Accra"
	DefaultStaticDir        = "public"
	DefaultMailDriver       = MailDriverSMTP

	// Recommended database names by environment.
	DefaultMongoDBProd = "birthday_notifier"
	DefaultMongoDBDev  = "birthday_notifier_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the service must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the service.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
		Notes:       "Must use the mongodb:// or mongodb+srv:// scheme.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Default:     DefaultMongoDBProd,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP listen port for registration, health and metrics.",
	},
	{
		Key:         KeyMailDriver,
		Example:     MailDriverSMTP + " / " + MailDriverLog,
		Default:     DefaultMailDriver,
		Description: "Birthday mail transport.",
		Notes:       MailDriverLog + " only logs messages; SMTP credentials are then optional.",
	},
	{
		Key:         KeySMTPHost,
		Example:     DefaultSMTPHost,
		Default:     DefaultSMTPHost,
		Description: "SMTP relay host used for birthday mail.",
	},
	{
		Key:         KeySMTPPort,
		Example:     strconv.Itoa(DefaultSMTPPort),
		Default:     strconv.Itoa(DefaultSMTPPort),
		Description: "SMTP relay port (STARTTLS is required).",
	},
	{
		Key:         KeySMTPUsername,
		Example:     "team@example.com",
		Required:    true,
		Description: "SMTP login.",
		Notes:       "Required when " + KeyMailDriver + "=" + MailDriverSMTP + ".",
	},
	{
		Key:         KeySMTPPassword,
		Example:     "app-password",
		Required:    true,
		Description: "SMTP password or app password.",
		Notes:       "Required when " + KeyMailDriver + "=" + MailDriverSMTP + ".",
	},
	{
		Key:         KeyMailFrom,
		Example:     "team@example.com",
		Description: "Sender address for birthday mail.",
		Notes:       "Defaults to " + KeySMTPUsername + ".",
	},
	{
		Key:         KeyBirthdayCron,
		Example:     DefaultBirthdayCron,
		Default:     DefaultBirthdayCron,
		Description: "Five-field cron expression for the daily birthday scan.",
	},
	{
		Key:         KeyBirthdayTimezone,
		Example:     DefaultBirthdayTimezone,
		Default:     DefaultBirthdayTimezone,
		Description: "IANA timezone used for the schedule and for deciding what day it is.",
	},
	{
		Key:         KeyStaticDir,
		Example:     DefaultStaticDir,
		Default:     DefaultStaticDir,
		Description: "Directory served as static assets at /.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	MongoURI         string
	MongoDB          string
	AppEnv           string
	LogLevel         string
	HTTPPort         int
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	MailFrom         string
	BirthdayCron     string
	BirthdayTimezone string
	StaticDir        string
	MailDriver       string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		MongoURI:         strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:          firstNonEmpty(os.Getenv(KeyMongoDB), DefaultMongoDBProd),
		LogLevel:         firstNonEmpty(os.Getenv(KeyLogLevel), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		SMTPHost:         firstNonEmpty(os.Getenv(KeySMTPHost), DefaultSMTPHost),
		SMTPPort:         DefaultSMTPPort,
		SMTPUsername:     strings.TrimSpace(os.Getenv(KeySMTPUsername)),
		SMTPPassword:     strings.TrimSpace(os.Getenv(KeySMTPPassword)),
		BirthdayCron:     firstNonEmpty(os.Getenv(KeyBirthdayCron), DefaultBirthdayCron),
		BirthdayTimezone: firstNonEmpty(os.Getenv(KeyBirthdayTimezone), DefaultBirthdayTimezone),
		StaticDir:        firstNonEmpty(os.Getenv(KeyStaticDir), DefaultStaticDir),
		MailDriver:       firstNonEmpty(normalizeEnv(os.Getenv(KeyMailDriver)), DefaultMailDriver),
	}
	cfg.MailFrom = firstNonEmpty(os.Getenv(KeyMailFrom), cfg.SMTPUsername)

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}
	if cfg.MailDriver != MailDriverSMTP && cfg.MailDriver != MailDriverLog {
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeyMailDriver, MailDriverSMTP, MailDriverLog)
	}

	missing := make([]string, 0)

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}
	if cfg.MailDriver == MailDriverSMTP {
		if cfg.SMTPUsername == "" {
			missing = append(missing, KeySMTPUsername)
		}
		if cfg.SMTPPassword == "" {
			missing = append(missing, KeySMTPPassword)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	if cfg.HTTPPort, err = parsePort(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.SMTPPort, err = parsePort(KeySMTPPort, DefaultSMTPPort); err != nil {
		return Config{}, err
	}

	if _, err := time.LoadLocation(cfg.BirthdayTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyBirthdayTimezone, err)
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// Location resolves the configured birthday timezone, falling back to UTC when
// the name cannot be loaded. Load has already validated the name.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BirthdayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatRedacted renders the configuration for diagnostics with secrets masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"mongo_uri: " + redactMongoURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"mail_driver: " + cfg.MailDriver,
		"smtp_host: " + cfg.SMTPHost,
		"smtp_port: " + strconv.Itoa(cfg.SMTPPort),
		"smtp_username: " + cfg.SMTPUsername,
		"smtp_password: " + redactSecret(cfg.SMTPPassword),
		"mail_from: " + cfg.MailFrom,
		"birthday_cron: " + cfg.BirthdayCron,
		"birthday_timezone: " + cfg.BirthdayTimezone,
		"static_dir: " + cfg.StaticDir,
	}

	return strings.Join(lines, "\n")
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateMongoURI(raw string) error {
	if strings.HasPrefix(raw, "mongodb://") || strings.HasPrefix(raw, "mongodb+srv://") {
		return nil
	}

	return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
}

func parsePort(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 1 and 65535", key)
	}

	return port, nil
}

func redactMongoURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}

	parsed.User = nil
	return parsed.String()
}

func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "redacted"
	}

	return secret[:2] + "...redacted"
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
