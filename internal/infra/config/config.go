package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ReminderSettings is everything a reminder run needs from the outside. It is checked at the
// start of every run, not at load time.
type ReminderSettings struct {
	APIKey         string
	APISecret      string
	Template3Day   string
	Template1Day   string
	TemplateDueDay string
}

// Missing lists the names of required settings that are empty.
func (s ReminderSettings) Missing() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("api_key", s.APIKey)
	check("api_secret", s.APISecret)
	check("template_3day", s.Template3Day)
	check("template_1day", s.Template1Day)
	check("template_dueday", s.TemplateDueDay)
	return missing
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string
	HTTPAddr    string

	Timezone     *time.Location
	ReminderTime string // HH:MM in Timezone
	RunDeadline  time.Duration
	SendTimeout  time.Duration
	SendRetries  int
	SendRate     float64 // sends per second
	AdminUserIDs []int64

	Provider string // sms, telegram or email
	Reminder ReminderSettings

	SMSBaseURL string
	SMTPHost   string
	SMTPPort   int
	SMTPFrom   string

	TelegramToken   string
	AdminTelegramID int64

	RedisURL         string
	BroadcastChannel string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	tzName := getEnv("REMINDER_TIMEZONE", "UTC")
	cfg.Timezone, err = time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIMEZONE %q: %w", tzName, err)
	}

	cfg.ReminderTime = getEnv("REMINDER_TIME", "09:00")
	if _, _, err := ParseHHMM(cfg.ReminderTime); err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIME: %w", err)
	}

	if cfg.RunDeadline, err = getDuration("REMINDER_RUN_DEADLINE", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = getDuration("REMINDER_SEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendRetries, err = getInt("REMINDER_SEND_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.SendRetries < 0 {
		return nil, fmt.Errorf("REMINDER_SEND_RETRIES must not be negative")
	}
	rate := getEnv("REMINDER_SEND_RATE", "5")
	cfg.SendRate, err = strconv.ParseFloat(rate, 64)
	if err != nil || cfg.SendRate <= 0 {
		return nil, fmt.Errorf("invalid REMINDER_SEND_RATE %q", rate)
	}
	cfg.AdminUserIDs, err = ParseIDList(os.Getenv("REMINDER_ADMIN_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_ADMIN_USER_IDS: %w", err)
	}

	cfg.Provider = strings.ToLower(getEnv("PROVIDER", "sms"))
	switch cfg.Provider {
	case "sms", "telegram", "email":
	default:
		return nil, fmt.Errorf("unknown PROVIDER %q", cfg.Provider)
	}
	cfg.Reminder = ReminderSettings{
		APIKey:         os.Getenv("PROVIDER_API_KEY"),
		APISecret:      os.Getenv("PROVIDER_API_SECRET"),
		Template3Day:   os.Getenv("TEMPLATE_3DAY"),
		Template1Day:   os.Getenv("TEMPLATE_1DAY"),
		TemplateDueDay: os.Getenv("TEMPLATE_DUEDAY"),
	}

	cfg.SMSBaseURL = getEnv("SMS_BASE_URL", "https://api.sms-gateway.local")
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.Provider == "telegram" && cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required for the telegram provider")
	}
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.BroadcastChannel = getEnv("BROADCAST_CHANNEL", "notifications")

	return cfg, nil
}

// ParseHHMM parses a wall-clock time such as "09:30".
func ParseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseIDList parses a comma separated list of positive ids. Blank input yields nil.
func ParseIDList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
