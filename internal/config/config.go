package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken          string
	BotUsername       string
	MySQLDSN          string
	AdminTelegramID   int64
	FreeLimit         int
	ReferralBonus     int
	BroadcastInterval time.Duration
	DeliveryCaption   string
	AdminListenAddr   string
	AdminUsername     string
	AdminPassword     string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		FreeLimit:         getInt("FREE_LIMIT", 5),
		ReferralBonus:     getInt("REFERRAL_BONUS", 5),
		BroadcastInterval: time.Millisecond * time.Duration(getInt("BROADCAST_INTERVAL_MS", 50)),
		DeliveryCaption:   getEnv("DELIVERY_CAPTION", "Kino tayyor! Do'stlaringizga ulashing."),
		AdminListenAddr:   getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.BotUsername = normalizeBotUsername(os.Getenv("BOT_USERNAME"))
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AdminTelegramID = getInt64("ADMIN_TELEGRAM_ID", 0)

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.BotUsername == "" {
		missing = append(missing, "BOT_USERNAME")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.AdminTelegramID == 0 {
		missing = append(missing, "ADMIN_TELEGRAM_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.FreeLimit < 0 {
		return Config{}, fmt.Errorf("FREE_LIMIT must be non-negative, got %d", cfg.FreeLimit)
	}
	if cfg.ReferralBonus < 0 {
		return Config{}, fmt.Errorf("REFERRAL_BONUS must be non-negative, got %d", cfg.ReferralBonus)
	}
	if cfg.BroadcastInterval <= 0 {
		return Config{}, fmt.Errorf("BROADCAST_INTERVAL_MS must be positive")
	}

	return cfg, nil
}

// ReferralLink builds the personal invite link for a user.
func (c Config) ReferralLink(telegramID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", c.BotUsername, telegramID)
}

// BotLink is the plain deep link back to the bot, used on delivery keyboards.
func (c Config) BotLink() string {
	return fmt.Sprintf("https://t.me/%s", c.BotUsername)
}

func normalizeBotUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	if strings.HasPrefix(username, "https://t.me/") {
		username = strings.TrimPrefix(username, "https://t.me/")
	}
	return strings.TrimSuffix(username, "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely off the process environment is fine.
	return nil
}
