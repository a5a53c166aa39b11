package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrMissingOption = errors.New("missing required option")

type Config struct {
	JVBBaseURL     string        `mapstructure:"jvb-base-url"`
	RTCStatsServer string        `mapstructure:"rtcstats-server"`
	Interval       int           `mapstructure:"interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch-timeout"`
	StatusPort     int           `mapstructure:"status-port"`
	Mode           string        `mapstructure:"mode"`
	LogLevel       string        `mapstructure:"log-level"`
}

// PollInterval is Interval (milliseconds) as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}

// Load reads options from args, then from environment variables named
// like the flag (jvb-base-url -> JVB_BASE_URL), then from the optional
// --config YAML file. Explicit flags win.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("config", "", "optional YAML config file")
	fs.String("jvb-base-url", "", "bridge base address polled for conference state (required)")
	fs.String("rtcstats-server", "", "rtcstats collector WebSocket address (required)")
	fs.Int("interval", 30000, "poll interval in milliseconds")
	fs.Duration("fetch-timeout", 10*time.Second, "timeout of a single poll")
	fs.Int("status-port", 0, "port of the status endpoint, 0 disables it")
	fs.String("mode", "release", "status endpoint mode (release or debug)")
	fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JVBBaseURL == "" {
		return fmt.Errorf("%w: jvb-base-url", ErrMissingOption)
	}
	if c.RTCStatsServer == "" {
		return fmt.Errorf("%w: rtcstats-server", ErrMissingOption)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", c.Interval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch-timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("status-port out of range: %d", c.StatusPort)
	}
	return nil
}
