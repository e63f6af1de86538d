package config

import "time"

// Config holds relay and client configuration values.
type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	Relay  RelayConfig  `mapstructure:"relay" yaml:"relay"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// RelayConfig configures the development relay.
type RelayConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	HostTokenSecret   string        `mapstructure:"host_token_secret" yaml:"host_token_secret"`
	HostTokenTTL      time.Duration `mapstructure:"host_token_ttl" yaml:"host_token_ttl"`
	// CommandsPerMinute throttles each connection; 0 disables the limit.
	CommandsPerMinute int           `mapstructure:"commands_per_minute" yaml:"commands_per_minute"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	LiveKit           LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// LiveKitConfig configures the media server used by live-audio sanctuaries.
type LiveKitConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	URL       string `mapstructure:"url" yaml:"url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
}

// ClientConfig configures the terminal client and its local storage.
type ClientConfig struct {
	ServerURL         string          `mapstructure:"server_url" yaml:"server_url"`
	APIURL            string          `mapstructure:"api_url" yaml:"api_url"`
	Alias             string          `mapstructure:"alias" yaml:"alias"`
	AvatarIndex       int             `mapstructure:"avatar_index" yaml:"avatar_index"`
	Storage           StorageConfig   `mapstructure:"storage" yaml:"storage"`
	CacheTTL          time.Duration   `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	ReactionTTL       time.Duration   `mapstructure:"reaction_ttl" yaml:"reaction_ttl"`
	ReactionCap       int             `mapstructure:"reaction_cap" yaml:"reaction_cap"`
	LedgerMaxMessages int             `mapstructure:"ledger_max_messages" yaml:"ledger_max_messages"`
	DashboardRefresh  time.Duration   `mapstructure:"dashboard_refresh" yaml:"dashboard_refresh"`
	ExpiringSoon      time.Duration   `mapstructure:"expiring_soon" yaml:"expiring_soon"`
	HostTokenTTL      time.Duration   `mapstructure:"host_token_ttl" yaml:"host_token_ttl"`
	RequestTimeout    time.Duration   `mapstructure:"request_timeout" yaml:"request_timeout"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// StorageConfig selects the local key-value backend: memory, sqlite or redis.
type StorageConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Path     string `mapstructure:"path" yaml:"path"`
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
}

// ReconnectConfig bounds the event stream reconnect schedule.
type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Relay: RelayConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DatabasePath:      "sanctuary.db",
			HostTokenSecret:   "change-me",
			HostTokenTTL:      48 * time.Hour,
			CommandsPerMinute: 120,
			MaxMessageBytes:   1 << 16,
			HistoryLimit:      200,
			SweepInterval:     30 * time.Second,
			LiveKit: LiveKitConfig{
				URL:       "ws://localhost:7880",
				APIKey:    "devkey",
				APISecret: "secret",
			},
		},
		Client: ClientConfig{
			ServerURL: "ws://localhost:8080/ws",
			APIURL:    "http://localhost:8080",
			Storage: StorageConfig{
				Driver: "sqlite",
				Path:   "sanctuary-client.db",
			},
			CacheTTL:          24 * time.Hour,
			ReactionTTL:       3 * time.Second,
			ReactionCap:       5,
			LedgerMaxMessages: 500,
			DashboardRefresh:  30 * time.Second,
			ExpiringSoon:      time.Hour,
			HostTokenTTL:      48 * time.Hour,
			RequestTimeout:    10 * time.Second,
			Reconnect: ReconnectConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				MaxElapsed:      5 * time.Minute,
			},
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the values exposed as command-line flags are covered.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.Relay.Addr != "" {
		c.Relay.Addr = other.Relay.Addr
	}
	if other.Relay.DatabasePath != "" {
		c.Relay.DatabasePath = other.Relay.DatabasePath
	}
	if other.Relay.ReadHeaderTimeout != 0 {
		c.Relay.ReadHeaderTimeout = other.Relay.ReadHeaderTimeout
	}
	if other.Relay.ShutdownTimeout != 0 {
		c.Relay.ShutdownTimeout = other.Relay.ShutdownTimeout
	}
	if other.Client.ServerURL != "" {
		c.Client.ServerURL = other.Client.ServerURL
	}
	if other.Client.APIURL != "" {
		c.Client.APIURL = other.Client.APIURL
	}
	if other.Client.Alias != "" {
		c.Client.Alias = other.Client.Alias
	}
	if other.Client.Storage.Driver != "" {
		c.Client.Storage.Driver = other.Client.Storage.Driver
	}
	if other.Client.Storage.Path != "" {
		c.Client.Storage.Path = other.Client.Storage.Path
	}
	if other.Client.Storage.RedisURL != "" {
		c.Client.Storage.RedisURL = other.Client.Storage.RedisURL
	}
}
