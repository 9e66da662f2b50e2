package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/veilchat/veilchat/globals"
)

const (
	defaultRateLimit  = 10
	defaultResyncSpec = "@every 1m"
)

// Config is the global configuration object which is filled via the configuration file,
// environment variables (prefix VEILCHAT) and command-line flags.
type Config struct {
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"rate_limit"`
	ProxyHeader       string            `mapstructure:"proxy_header"`
	ResyncSpec        string            `mapstructure:"resync_spec"`
	LogLevel          string            `mapstructure:"log_level"`
}

// PersistenceConfig selects the room store backend. Type is one of
// "buntdb", "sqlite" or "postgres", DSN is the backend-specific data source
// (a file path for buntdb).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// RateLimitConfig configures the per-user inbound packet quota.
// MessagesPerSecond <= 0 disables rate limiting.
type RateLimitConfig struct {
	MessagesPerSecond int `mapstructure:"messages_per_second"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("proxy-header", "", "trusted header carrying the client ip (f.e. X-Forwarded-For), empty = use the peer address")
	flagSet.String("log-level", "", "log level")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("rate_limit.messages_per_second", defaultRateLimit)
	viper.SetDefault("resync_spec", defaultResyncSpec)
	viper.SetDefault("log_level", "INFO")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("VEILCHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
