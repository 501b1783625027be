package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Security    SecurityConfig
	Telegram    TelegramConfig
	Maintenance MaintenanceConfig
	Medications MedicationsConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type StoreConfig struct {
	// Backend is "sqlite" or "file".
	Backend string
	Path    string
}

type SecurityConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type MaintenanceConfig struct {
	Enabled  bool
	Schedule string
}

type MedicationsConfig struct {
	Path string
}

// MedicationEntry is one medication definition from the medications
// file.
type MedicationEntry struct {
	Name               string   `json:"name"`
	Dose               string   `json:"dose,omitempty"`
	Times              []string `json:"times"`
	SnoozeMinutes      int      `json:"snooze_minutes,omitempty"`
	NotifyServices     []string `json:"notify_services,omitempty"`
	NagIntervalMinutes int      `json:"nag_interval_minutes,omitempty"`
	NagMax             int      `json:"nag_max,omitempty"`
	RefillThreshold    int      `json:"refill_threshold,omitempty"`
	UnitsPerIntake     int      `json:"units_per_intake,omitempty"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	rateLimitWindow, err := time.ParseDuration(getEnv("RATE_LIMIT_WINDOW", "1m"))
	if err != nil {
		rateLimitWindow = 1 * time.Minute
	}
	rateLimitReqs, _ := strconv.Atoi(getEnv("RATE_LIMIT_REQUESTS", "100"))

	telegramEnabled, _ := strconv.ParseBool(getEnv("TELEGRAM_ENABLED", "false"))
	telegramChatID, _ := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)

	maintenanceEnabled, _ := strconv.ParseBool(getEnv("MAINTENANCE_ENABLED", "true"))

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "sqlite"),
			Path:    getEnv("STORE_PATH", "./data/reminder.db"),
		},
		Security: SecurityConfig{
			RateLimitRequests: rateLimitReqs,
			RateLimitWindow:   rateLimitWindow,
		},
		Telegram: TelegramConfig{
			Enabled: telegramEnabled,
			Token:   getEnv("TELEGRAM_TOKEN", ""),
			ChatID:  telegramChatID,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  maintenanceEnabled,
			Schedule: getEnv("MAINTENANCE_SCHEDULE", "0 3 * * *"),
		},
		Medications: MedicationsConfig{
			Path: getEnv("MEDICATIONS_PATH", "./medications.json"),
		},
	}

	switch cfg.Store.Backend {
	case "sqlite", "file":
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q, use sqlite or file", cfg.Store.Backend)
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			return nil, fmt.Errorf("TELEGRAM_TOKEN is required when telegram is enabled")
		}
		if cfg.Telegram.ChatID == 0 {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when telegram is enabled")
		}
	}

	return cfg, nil
}

// LoadMedications reads the medication definitions file. A missing file
// is not an error: the server starts with no medications.
func LoadMedications(path string) ([]MedicationEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read medications file: %w", err)
	}

	var entries []MedicationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse medications file: %w", err)
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("medication entry %d is missing a name", i)
		}
	}
	return entries, nil
}

// getEnv gets an environment variable with a fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
