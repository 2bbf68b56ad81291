// Package config loads process configuration from a config file and
// MAILVAULT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nhle/mailvault/internal/credential"
)

// Config is the process-wide configuration.
type Config struct {
	// ListenAddr is the web server bind address.
	ListenAddr string `mapstructure:"listen_addr"`

	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// MasterSecret derives the credential encryption key. Mandatory:
	// the process refuses to start without it and there is no default.
	MasterSecret string `mapstructure:"master_secret"`

	// AdminPassword gates the web UI login.
	AdminPassword string `mapstructure:"admin_password"`
}

// ErrNoMasterSecret means no master secret was found in the environment,
// the config file, or the system keyring.
var ErrNoMasterSecret = errors.New(
	"config: master secret is required; set MAILVAULT_MASTER_SECRET, " +
		"master_secret in the config file, or store it in the system keyring",
)

// Load reads configuration from path (optional) and the environment,
// then resolves the master secret. A missing master secret is a fatal
// startup error, never a silent default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILVAULT")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("db_path", defaultDBPath())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(configHome(), "mailvault"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// viper only binds env vars it has seen; register the keys we read.
	for _, key := range []string{"listen_addr", "db_path", "master_secret", "admin_password"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.MasterSecret == "" {
		// Last resort: the OS keyring.
		if stored, err := credential.Get(credential.MasterSecretKey); err == nil && stored != "" {
			cfg.MasterSecret = stored
		}
	}
	if cfg.MasterSecret == "" {
		return nil, ErrNoMasterSecret
	}

	return &cfg, nil
}

// configHome returns the base config directory.
func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

// defaultDBPath places the database next to the config.
func defaultDBPath() string {
	return filepath.Join(configHome(), "mailvault", "mailvault.db")
}
