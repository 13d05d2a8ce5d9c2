package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default values
const (
	DefaultDatabasePath      = "./modfetch.db"
	DefaultInactivityTimeout = 10 * time.Minute
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// LoginMode selects how SteamCMD authenticates against Steam
type LoginMode string

const (
	LoginAnonymous    LoginMode = "anonymous"
	LoginCredentialed LoginMode = "credentialed"
)

// Settings is the read-only configuration snapshot consumed by the download
// core: where SteamCMD lives, where finished mods go, and how to log in.
type Settings struct {
	SteamCMDPath string        `mapstructure:"steamcmd_path"`
	TargetDir    string        `mapstructure:"target_dir"`
	Login        LoginSettings `mapstructure:"login"`

	// AutoClearQueue removes terminal entries from the live queue once a
	// batch closes.
	AutoClearQueue bool `mapstructure:"auto_clear_queue"`

	// InactivityTimeout kills a SteamCMD run that produces no output for
	// this long. Zero disables the watchdog.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`

	Database DatabaseSettings `mapstructure:"database"`
	Log      LogSettings      `mapstructure:"log"`
}

type LoginSettings struct {
	Anonymous bool   `mapstructure:"anonymous"`
	Username  string `mapstructure:"username"`
}

type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Mode returns the effective login mode.
func (l LoginSettings) Mode() LoginMode {
	if l.Anonymous {
		return LoginAnonymous
	}
	return LoginCredentialed
}

// Load reads settings from the given config file (or the default search
// path when empty), with environment variable overrides.
func Load(configPath string) (*Settings, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("modfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/modfetch")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MODFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only covers keys viper already knows about, so keys
	// without a default must be bound explicitly for MODFETCH_* overrides
	// to reach Unmarshal.
	for _, key := range []string{
		"steamcmd_path",
		"target_dir",
		"login.anonymous",
		"login.username",
		"auto_clear_queue",
		"inactivity_timeout",
		"database.path",
		"log.level",
		"log.format",
		"log.file",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("login.anonymous", true)
	v.SetDefault("auto_clear_queue", true)
	v.SetDefault("inactivity_timeout", DefaultInactivityTimeout)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &settings, nil
}

// Validate checks that the settings are usable before any batch is
// attempted. Every problem found is reported; a batch must never start with
// an invalid tool path or target directory.
func (s *Settings) Validate() error {
	info, err := os.Stat(s.SteamCMDPath)
	if err != nil {
		return fmt.Errorf("steamcmd not found at %q: %w", s.SteamCMDPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("steamcmd path %q is not a file", s.SteamCMDPath)
	}

	if s.TargetDir == "" {
		return fmt.Errorf("target directory is not configured")
	}
	if err := os.MkdirAll(s.TargetDir, 0o755); err != nil {
		return fmt.Errorf("target directory %q is not usable: %w", s.TargetDir, err)
	}

	if !s.Login.Anonymous && s.Login.Username == "" {
		return fmt.Errorf("username required for non-anonymous login")
	}

	return nil
}
