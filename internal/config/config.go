package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	CONFIGS_DIR_NAME         = ".config"
	WATCHDOG_CONFIG_DIR_NAME = "watchdog"
	CONFIG_FILE_NAME         = "config"
	CONFIG_FILE_EXT          = "yml"
)

type Config struct {
	ID            string        `mapstructure:"id"`
	Listen        string        `mapstructure:"listen"`
	Service       string        `mapstructure:"service"`
	Domain        string        `mapstructure:"domain"`
	QueryInterval time.Duration `mapstructure:"query_interval"`
	PeerTTL       time.Duration `mapstructure:"peer_ttl"`
	InboxCapacity int           `mapstructure:"inbox_capacity"`
	Verbose       bool          `mapstructure:"verbose"`
}

func GetDefault() Config {
	return Config{
		ID:            "",
		Listen:        ":7117",
		Service:       "_watchdog._tcp",
		Domain:        "local.",
		QueryInterval: 10 * time.Second,
		PeerTTL:       45 * time.Second,
		InboxCapacity: 0,
		Verbose:       false,
	}
}

func (config Config) Map() map[string]any {
	m := map[string]any{}
	for _, field := range structs.Fields(config) {
		key := field.Tag("mapstructure")
		value := field.Value()
		m[key] = value
	}
	return m
}

func (config Config) Yaml() []byte {
	var builder strings.Builder
	m := config.Map()
	keys := maps.Keys(m)
	slices.Sort(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			builder.WriteString(fmt.Sprintf("%s: %q", k, v))
		default:
			builder.WriteString(fmt.Sprintf("%s: %v", k, v))
		}
		builder.WriteRune('\n')
	}
	return []byte(builder.String())
}

// FromViper decodes the current viper state.
func FromViper() (Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

// Dir returns the directory holding the config file.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home dir: %w", err)
	}
	return filepath.Join(home, CONFIGS_DIR_NAME, WATCHDOG_CONFIG_DIR_NAME), nil
}

// Init initializes the viper config.
// `config.yml` is created in $HOME/.config/watchdog if not already existing.
// NOTE: The precedence levels of viper are the following: flags -> config file -> defaults.
func Init() error {
	configPath, err := Dir()
	if err != nil {
		return err
	}
	return InitAt(configPath)
}

// InitAt is Init with an explicit config directory.
func InitAt(configPath string) error {
	viper.AddConfigPath(configPath)
	viper.SetConfigName(CONFIG_FILE_NAME)
	viper.SetConfigType(CONFIG_FILE_EXT)

	if err := viper.ReadInConfig(); err != nil {
		// Create config file if not found.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			err := os.MkdirAll(configPath, os.ModePerm)
			if err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			file := filepath.Join(configPath, fmt.Sprintf("%s.%s", CONFIG_FILE_NAME, CONFIG_FILE_EXT))
			if err := os.WriteFile(file, GetDefault().Yaml(), 0o600); err != nil {
				return fmt.Errorf("could not write defaults to config file: %w", err)
			}
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("could not read created config file: %w", err)
			}
		} else {
			return fmt.Errorf("could not read config file: %w", err)
		}
	}
	for k, v := range GetDefault().Map() {
		viper.SetDefault(k, v)
	}
	return nil
}
