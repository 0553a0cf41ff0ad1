package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/campuskinect/kinect-go/internal/logger"
)

const (
	defaultDevURL  = "http://localhost:3001/api/v1"
	defaultProdURL = "https://api.campuskinect.net/api/v1"
)

// Config carries everything the client needs from the environment.
type Config struct {
	Env           string
	BaseURL       string
	SocketURL     string
	KeyringPath   string
	KeyringSecret string

	// Poll cadence for the open chat and the conversation list.
	MessagePollInterval      time.Duration
	ConversationPollInterval time.Duration
}

// Load reads the configuration from environment variables, applying
// development defaults. KINECT_KEYRING_SECRET is the only required value:
// without it stored tokens cannot be sealed.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                      logger.GetAppEnv(),
		BaseURL:                  os.Getenv("KINECT_API_URL"),
		SocketURL:                os.Getenv("KINECT_WS_URL"),
		KeyringPath:              os.Getenv("KINECT_KEYRING_PATH"),
		KeyringSecret:            os.Getenv("KINECT_KEYRING_SECRET"),
		MessagePollInterval:      2 * time.Second,
		ConversationPollInterval: 5 * time.Second,
	}

	if cfg.BaseURL == "" {
		if cfg.Env == "production" {
			cfg.BaseURL = defaultProdURL
		} else {
			cfg.BaseURL = defaultDevURL
		}
	}

	if cfg.KeyringSecret == "" {
		return nil, fmt.Errorf("KINECT_KEYRING_SECRET environment variable is required")
	}

	if cfg.KeyringPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.KeyringPath = filepath.Join(home, ".campuskinect", "keyring.db")
	}

	if v := os.Getenv("KINECT_MESSAGE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid KINECT_MESSAGE_POLL_INTERVAL: %w", err)
		}
		cfg.MessagePollInterval = d
	}
	if v := os.Getenv("KINECT_CONVERSATION_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid KINECT_CONVERSATION_POLL_INTERVAL: %w", err)
		}
		cfg.ConversationPollInterval = d
	}

	return cfg, nil
}
