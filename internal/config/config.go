// Package config loads process settings from the environment and job
// definitions from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"jobsched/internal/shared"
)

// Config holds application configuration values.
type Config struct {
	Env          string        `validate:"required,oneof=dev prod"`
	JobsFile     string        `validate:"required"`
	PollInterval time.Duration `validate:"min=1s"`
	Store        struct {
		Driver      string `validate:"required,oneof=memory sqlite postgres"`
		SQLitePath  string `validate:"required_if=Driver sqlite"`
		PostgresDSN string `validate:"required_if=Driver postgres"`
	}
	Telegram struct {
		Token         string
		ChatID        int64 `validate:"required_with=Token"`
		AllowedIDs    string
		WebhookURL    string `validate:"omitempty,url"`
		WebhookSecret string
	}
	HTTP struct {
		Addr string // "off" disables the API
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string // "off" disables the file log
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error
	c.Env = getenv("ENV", "prod")
	c.JobsFile = getenv("JOBS_FILE", "jobs.yaml")
	if c.PollInterval, err = time.ParseDuration(getenv("POLL_INTERVAL", "5s")); err != nil {
		return Config{}, fmt.Errorf("%w: POLL_INTERVAL: %v", shared.ErrValidation, err)
	}
	c.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", "sqlite"))
	c.Store.SQLitePath = getenv("STORE_SQLITE_PATH", "data/jobsched.db")
	c.Store.PostgresDSN = os.Getenv("STORE_POSTGRES_DSN")
	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if c.Telegram.ChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("%w: TELEGRAM_CHAT_ID: %v", shared.ErrValidation, err)
		}
	}
	c.Telegram.AllowedIDs = os.Getenv("TELEGRAM_ALLOWED_IDS")
	c.Telegram.WebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	c.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	if c.HTTP.Addr == "off" {
		c.HTTP.Addr = ""
	}
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/jobsched.log")
	if c.Log.File == "off" {
		c.Log.File = ""
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if c.Telegram.WebhookURL != "" {
		if c.Telegram.Token == "" {
			return Config{}, errors.New("TELEGRAM_BOT_TOKEN required when TELEGRAM_WEBHOOK_URL is set")
		}
		if c.Telegram.WebhookSecret == "" {
			return Config{}, errors.New("TELEGRAM_WEBHOOK_SECRET required when TELEGRAM_WEBHOOK_URL is set")
		}
		if c.HTTP.Addr == "" {
			return Config{}, errors.New("HTTP_ADDR required when TELEGRAM_WEBHOOK_URL is set")
		}
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
