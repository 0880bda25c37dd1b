package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the client.
type Config struct {
	Server struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"server"`
	Refresh struct {
		// Delay between a successful action and the confirmatory pull
		// refresh that reconciles the optimistic update.
		AfterAction time.Duration `mapstructure:"after_action"`
		// Interval of the periodic pull refresh while watching; zero
		// disables it.
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"refresh"`
	// StateDir is where the session token and derived profile fields are
	// persisted between invocations.
	StateDir string `mapstructure:"state_dir"`
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path falls back to $HOME/.pipewatch/config.yaml; a missing file
// is not an error, defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pipewatch"))
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("pipewatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.timeout", 15*time.Second)
	v.SetDefault("refresh.after_action", 2*time.Second)
	v.SetDefault("refresh.interval", 30*time.Second)
	v.SetDefault("state_dir", defaultStateDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Server.URL = strings.TrimRight(strings.TrimSpace(config.Server.URL), "/")

	return &config, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pipewatch"
	}
	return filepath.Join(home, ".pipewatch")
}
