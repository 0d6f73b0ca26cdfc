package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIRECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env vars such as WIRECHAT_SERVER_ADDR are picked up.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_header_timeout", cfg.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.max_message_bytes", cfg.Server.MaxMessageBytes)
	v.SetDefault("server.rate_limit", cfg.Server.RateLimit)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("auth.jwt_secret", cfg.Auth.JWTSecret)
	v.SetDefault("auth.jwt_issuer", cfg.Auth.JWTIssuer)
	v.SetDefault("auth.jwt_audience", cfg.Auth.JWTAudience)
	v.SetDefault("auth.token_ttl", cfg.Auth.TokenTTL)
	v.SetDefault("auth.allow_anonymous", cfg.Auth.AllowAnonymous)

	v.SetDefault("relay.heartbeat_timeout", cfg.Relay.HeartbeatTimeout)
	v.SetDefault("relay.sweep_interval", cfg.Relay.SweepInterval)
	v.SetDefault("relay.conn_buffer", cfg.Relay.ConnBuffer)
	v.SetDefault("relay.first_joiner_host", cfg.Relay.FirstJoinerHost)

	v.SetDefault("admission.enabled", cfg.Admission.Enabled)
	v.SetDefault("admission.capacity", cfg.Admission.Capacity)
	v.SetDefault("admission.auto_admit", cfg.Admission.AutoAdmit)
	v.SetDefault("admission.auto_admit_delay", cfg.Admission.AutoAdmitDelay)

	v.SetDefault("client.servers", cfg.Client.Servers)
	v.SetDefault("client.subscribe_timeout", cfg.Client.SubscribeTimeout)
	v.SetDefault("client.base_delay", cfg.Client.BaseDelay)
	v.SetDefault("client.max_delay", cfg.Client.MaxDelay)
	v.SetDefault("client.max_attempts", cfg.Client.MaxAttempts)
	v.SetDefault("client.min_send_interval", cfg.Client.MinSendInterval)
	v.SetDefault("client.queue_size", cfg.Client.QueueSize)
	v.SetDefault("client.heartbeat_interval", cfg.Client.HeartbeatInterval)

	v.SetDefault("storage.database_path", cfg.Storage.DatabasePath)

	v.SetDefault("presence.redis_addr", cfg.Presence.RedisAddr)
	v.SetDefault("presence.redis_password", cfg.Presence.RedisPassword)
	v.SetDefault("presence.redis_db", cfg.Presence.RedisDB)
	v.SetDefault("presence.key_prefix", cfg.Presence.KeyPrefix)
	v.SetDefault("presence.ttl", cfg.Presence.TTL)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
