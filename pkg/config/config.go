package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API     APIConfig
	Live    LiveConfig
	Camera  CameraConfig
	Session SessionConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LiveConfig struct {
	BaseURL          string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

type CameraConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SessionConfig struct {
	Path string
}

type LogConfig struct {
	Level string
	File  string
}

func Load() *Config {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	return &Config{
		API: APIConfig{
			BaseURL: getEnv("PARKING_API_URL", "http://localhost:8000"),
			Timeout: getDuration("PARKING_API_TIMEOUT", 10*time.Second),
		},
		Live: LiveConfig{
			BaseURL:          getEnv("PARKING_WS_URL", "ws://localhost:8000"),
			ReconnectDelay:   getDuration("PARKING_WS_RECONNECT_DELAY", 5*time.Second),
			HandshakeTimeout: getDuration("PARKING_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Camera: CameraConfig{
			BaseURL: getEnv("ML_SERVICE_URL", "http://localhost:5000"),
			Timeout: getDuration("ML_SERVICE_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			Path: getEnv("LOTVIEW_SESSION_PATH", defaultSessionPath()),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lotview-session.json"
	}
	return filepath.Join(dir, "lotview", "session.json")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
