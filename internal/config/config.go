package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is the application version, set at build time.
var Version = "0.1.0"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Debrid        DebridConfig        `mapstructure:"debrid"`
	Source        SourceConfig        `mapstructure:"source"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds local media storage configuration.
type StorageConfig struct {
	// Root is the directory downloaded files are written under.
	// Empty means a per-OS default is resolved at startup.
	Root string `mapstructure:"root"`
}

// DebridConfig holds magnet resolution backend configuration.
type DebridConfig struct {
	APIToken string `mapstructure:"api_token"`
	BaseURL  string `mapstructure:"base_url"`
	// RequestTimeout bounds each individual backend call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// PollInterval and PollAttempts bound the torrent status polling loop.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
	// VideoExtensions are the extensions considered playable when the
	// backend asks for an explicit file selection.
	VideoExtensions []string `mapstructure:"video_extensions"`
}

// SourceConfig holds torrent source discovery configuration.
type SourceConfig struct {
	// AggregatorURL is the base URL of the stream aggregator used to
	// discover candidate torrents.
	AggregatorURL string `mapstructure:"aggregator_url"`
	// PreferredQualities is the ordered quality preference used when
	// picking the best candidate automatically.
	PreferredQualities []string      `mapstructure:"preferred_qualities"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NotificationsConfig holds outbound notification configuration.
type NotificationsConfig struct {
	// WebhookURL, when set, receives download lifecycle events as JSON POSTs.
	WebhookURL string `mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.offlinio")
	}

	v.SetEnvPrefix("OFFLINIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with defaults + env vars.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 11471)

	v.SetDefault("database.path", "./data/offlinio.db")

	v.SetDefault("storage.root", "")

	v.SetDefault("debrid.api_token", "")
	v.SetDefault("debrid.base_url", "https://api.real-debrid.com/rest/1.0")
	v.SetDefault("debrid.request_timeout", 30*time.Second)
	v.SetDefault("debrid.poll_interval", 15*time.Second)
	v.SetDefault("debrid.poll_attempts", 40)
	v.SetDefault("debrid.video_extensions", []string{"mkv", "mp4", "avi"})

	v.SetDefault("source.aggregator_url", "https://comet.elfhosted.com")
	v.SetDefault("source.preferred_qualities", []string{"2160p", "1080p", "720p"})
	v.SetDefault("source.request_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("notifications.webhook_url", "")
}

// Address returns the server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
