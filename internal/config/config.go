package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LIVECLASS_HTTP_PORT.
const EnvPrefix = "LIVECLASS"

// Storage backends
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageNone   = "none"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Room      *RoomConfig      `mapstructure:"room"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Storage   *StorageConfig   `mapstructure:"storage"`
	Terminal  *TerminalConfig  `mapstructure:"terminal"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RoomConfig struct {
	ChatHistoryLimit int           `mapstructure:"chat_history_limit"`
	MaxChatLength    int           `mapstructure:"max_chat_length"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type StorageConfig struct {
	Backend      string        `mapstructure:"backend"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RedisURL     string        `mapstructure:"redis_url"`
	WorkspaceTTL time.Duration `mapstructure:"workspace_ttl"`
}

type TerminalConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WorkRoot       string        `mapstructure:"work_root"`
	Shell          string        `mapstructure:"shell"`
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// DefaultConfig returns settings for a single classroom server on localhost.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     256,
			MaxMessageSize: 1 << 20,
		},
		Room: &RoomConfig{
			ChatHistoryLimit: 100,
			MaxChatLength:    2000,
			TypingTTL:        5 * time.Second,
			ChatRateLimit:    60,
			SweepInterval:    time.Second,
		},
		Auth: &AuthConfig{
			Issuer:   "liveclass",
			TokenTTL: 12 * time.Hour,
		},
		Storage: &StorageConfig{
			Backend:      StorageSQLite,
			SQLitePath:   "./liveclass.db",
			Timeout:      5 * time.Second,
			RedisURL:     "redis://localhost:6379/0",
			WorkspaceTTL: 30 * 24 * time.Hour,
		},
		Terminal: &TerminalConfig{
			Enabled:        false,
			WorkRoot:       "./workspaces",
			Shell:          "/bin/sh",
			ExecTimeout:    10 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Room == nil || c.Auth == nil || c.Storage == nil || c.Terminal == nil {
		return errors.New("all configuration sections are required")
	}

	// Port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Room.ChatHistoryLimit <= 0 {
		return fmt.Errorf("room chat history limit must be positive")
	}
	if c.Room.MaxChatLength <= 0 {
		return fmt.Errorf("room max chat length must be positive")
	}
	if c.Room.TypingTTL <= 0 || c.Room.SweepInterval <= 0 {
		return fmt.Errorf("room typing TTL and sweep interval must be positive")
	}
	if c.Room.ChatRateLimit < 0 {
		return fmt.Errorf("room chat rate limit cannot be negative")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	switch c.Storage.Backend {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage sqlite path cannot be empty")
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage redis URL cannot be empty")
		}
	case StorageNone:
	default:
		return fmt.Errorf("storage backend must be one of sqlite, redis, none")
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}

	if c.Terminal.Enabled {
		if c.Terminal.WorkRoot == "" || c.Terminal.Shell == "" {
			return fmt.Errorf("terminal work root and shell are required when terminals are enabled")
		}
		if c.Terminal.ExecTimeout <= 0 || c.Terminal.MaxOutputBytes <= 0 {
			return fmt.Errorf("terminal exec timeout and output limit must be positive")
		}
	}

	return nil
}

// NewViper returns a viper instance carrying every default and reading
// LIVECLASS_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so environment overrides are seen by Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("http.host", c.HTTP.Host)
	v.SetDefault("http.port", c.HTTP.Port)
	v.SetDefault("http.read_timeout", c.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", c.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", c.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", c.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", c.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", c.WebSocket.WriteTimeout)
	v.SetDefault("websocket.send_buffer", c.WebSocket.SendBuffer)
	v.SetDefault("websocket.max_message_size", c.WebSocket.MaxMessageSize)

	v.SetDefault("room.chat_history_limit", c.Room.ChatHistoryLimit)
	v.SetDefault("room.max_chat_length", c.Room.MaxChatLength)
	v.SetDefault("room.typing_ttl", c.Room.TypingTTL)
	v.SetDefault("room.chat_rate_limit", c.Room.ChatRateLimit)
	v.SetDefault("room.sweep_interval", c.Room.SweepInterval)

	v.SetDefault("auth.jwt_secret", c.Auth.JWTSecret)
	v.SetDefault("auth.issuer", c.Auth.Issuer)
	v.SetDefault("auth.token_ttl", c.Auth.TokenTTL)

	v.SetDefault("storage.backend", c.Storage.Backend)
	v.SetDefault("storage.sqlite_path", c.Storage.SQLitePath)
	v.SetDefault("storage.timeout", c.Storage.Timeout)
	v.SetDefault("storage.redis_url", c.Storage.RedisURL)
	v.SetDefault("storage.workspace_ttl", c.Storage.WorkspaceTTL)

	v.SetDefault("terminal.enabled", c.Terminal.Enabled)
	v.SetDefault("terminal.work_root", c.Terminal.WorkRoot)
	v.SetDefault("terminal.shell", c.Terminal.Shell)
	v.SetDefault("terminal.exec_timeout", c.Terminal.ExecTimeout)
	v.SetDefault("terminal.max_output_bytes", c.Terminal.MaxOutputBytes)
}

// Load resolves configuration with precedence flags > env > file > defaults.
// An empty path skips the config file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
