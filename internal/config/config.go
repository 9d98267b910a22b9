package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Device        DeviceConfig
	Server        ServerConfig
	Pixlet        PixletConfig
	Redis         RedisConfig
	HomeAssistant HomeAssistantConfig
	SunsetHue     SunsetHueConfig
	Dashboard     DashboardConfig
	LogLevel      string
}

// DeviceConfig holds e-paper controller settings
type DeviceConfig struct {
	Host         string
	Timeout      int // seconds
	MaxUsage     float64
	RequeryFree  bool
	Rotate180    bool
	ClearAtStart bool
}

// ServerConfig holds management API settings
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// PixletConfig holds Pixlet-related configuration
type PixletConfig struct {
	AppsPath               string
	SecretEncryptionKeyB64 string // Base64 encoded secret keyset for Pixlet
	KeyEncryptionKeyB64    string // Base64 encoded key encryption key for Pixlet
	RenderTimeout          int    // seconds
	Workers                int
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	StateStream   string
	ConsumerGroup string
	ConsumerName  string
	ResultPrefix  string
}

// HomeAssistantConfig holds the Home Assistant REST endpoint
type HomeAssistantConfig struct {
	URL   string
	Token string
}

// SunsetHueConfig holds the sunset forecast API settings
type SunsetHueConfig struct {
	APIKey    string
	Latitude  float64
	Longitude float64
}

// DashboardConfig holds layout settings
type DashboardConfig struct {
	LayoutPath string
	Timezone   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "inkboard"
	}

	cfg := &Config{
		Device: DeviceConfig{
			Host:         getEnv("INKBOARD_DEVICE_HOST", ""),
			Timeout:      getEnvAsInt("INKBOARD_DEVICE_TIMEOUT", 5),
			MaxUsage:     getEnvAsFloat("INKBOARD_MAX_USAGE", 0.8),
			RequeryFree:  getEnvAsBool("INKBOARD_REQUERY_FREE", false),
			Rotate180:    getEnvAsBool("INKBOARD_ROTATE_180", false),
			ClearAtStart: getEnvAsBool("INKBOARD_CLEAR_AT_START", false),
		},
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Pixlet: PixletConfig{
			AppsPath:               getEnv("PIXLET_APPS_PATH", "/opt/apps"),
			SecretEncryptionKeyB64: getEnv("PIXLET_SECRET_KEYSET_B64", ""),
			KeyEncryptionKeyB64:    getEnv("PIXLET_KEY_ENCRYPTION_KEY_B64", ""),
			RenderTimeout:          getEnvAsInt("PIXLET_RENDER_TIMEOUT", 30),
			Workers:                getEnvAsInt("PIXLET_WORKERS", 2),
		},
		Redis: RedisConfig{
			Addr:          getRedisAddr(),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			StateStream:   getEnv("REDIS_STATE_STREAM", "inkboard:state_changed"),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "inkboard"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", hostname),
			ResultPrefix:  getEnv("REDIS_RESULT_PREFIX", "inkboard:uploads:"),
		},
		HomeAssistant: HomeAssistantConfig{
			URL:   getEnv("HA_URL", "http://homeassistant.local:8123"),
			Token: getEnv("HA_TOKEN", ""),
		},
		SunsetHue: SunsetHueConfig{
			APIKey:    getEnv("SUNSETHUE_API_KEY", ""),
			Latitude:  getEnvAsFloat("SUNSETHUE_LATITUDE", 0),
			Longitude: getEnvAsFloat("SUNSETHUE_LONGITUDE", 0),
		},
		Dashboard: DashboardConfig{
			LayoutPath: getEnv("INKBOARD_LAYOUT", "layout.yaml"),
			Timezone:   getEnv("INKBOARD_TIMEZONE", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Device.MaxUsage <= 0 || cfg.Device.MaxUsage > 1 {
		return nil, fmt.Errorf("INKBOARD_MAX_USAGE must be in (0, 1], got %v", cfg.Device.MaxUsage)
	}

	return cfg, nil
}

// DeviceTimeout returns the per-request device timeout
func (c DeviceConfig) DeviceTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool accepts the strconv.ParseBool spellings plus yes/no
func getEnvAsBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// getRedisAddr prefers REDIS_URL (with or without redis://), then REDIS_ADDR
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "localhost:6379")
}
