package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Relay     RelayConfig     `mapstructure:"relay" yaml:"relay"`
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Presence  PresenceConfig  `mapstructure:"presence" yaml:"presence"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// RateLimit is the number of inbound messages allowed per connection per minute; 0 disables it.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AuthConfig configures identity verification.
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience    string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	AllowAnonymous bool          `mapstructure:"allow_anonymous" yaml:"allow_anonymous"`
}

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	ConnBuffer       int           `mapstructure:"conn_buffer" yaml:"conn_buffer"`
	FirstJoinerHost  bool          `mapstructure:"first_joiner_host" yaml:"first_joiner_host"`
}

// AdmissionConfig holds the waiting room defaults for rooms without stored settings.
type AdmissionConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Capacity       int           `mapstructure:"capacity" yaml:"capacity"`
	AutoAdmit      bool          `mapstructure:"auto_admit" yaml:"auto_admit"`
	AutoAdmitDelay time.Duration `mapstructure:"auto_admit_delay" yaml:"auto_admit_delay"`
}

// ClientConfig configures the command line client.
type ClientConfig struct {
	Servers           []string      `mapstructure:"servers" yaml:"servers"`
	SubscribeTimeout  time.Duration `mapstructure:"subscribe_timeout" yaml:"subscribe_timeout"`
	BaseDelay         time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MinSendInterval   time.Duration `mapstructure:"min_send_interval" yaml:"min_send_interval"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// StorageConfig configures persistence of room settings and admission decisions.
type StorageConfig struct {
	// DatabasePath is the sqlite file; empty keeps settings in memory only.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// PresenceConfig configures the optional redis presence mirror.
type PresenceConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			MaxMessageBytes:   1 << 20,
			RateLimit:         600,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Auth: AuthConfig{
			JWTIssuer: "wirechat",
			TokenTTL:  24 * time.Hour,
		},
		Relay: RelayConfig{
			HeartbeatTimeout: 90 * time.Second,
			SweepInterval:    30 * time.Second,
			ConnBuffer:       64,
			FirstJoinerHost:  true,
		},
		Admission: AdmissionConfig{
			Capacity:       50,
			AutoAdmitDelay: time.Second,
		},
		Client: ClientConfig{
			Servers:           []string{"ws://localhost:8080/ws"},
			SubscribeTimeout:  10 * time.Second,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			MaxAttempts:       5,
			MinSendInterval:   50 * time.Millisecond,
			QueueSize:         64,
			HeartbeatInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "wirechat.db",
		},
		Presence: PresenceConfig{
			KeyPrefix: "wirechat:",
			TTL:       2 * time.Minute,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = other.Auth.JWTSecret
	}
	if other.Auth.AllowAnonymous {
		c.Auth.AllowAnonymous = true
	}
	if other.Storage.DatabasePath != "" {
		c.Storage.DatabasePath = other.Storage.DatabasePath
	}
	if other.Presence.RedisAddr != "" {
		c.Presence.RedisAddr = other.Presence.RedisAddr
	}
	if len(other.Client.Servers) > 0 {
		c.Client.Servers = other.Client.Servers
	}
}
