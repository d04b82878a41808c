package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "conjctl.yaml"

type config struct {
	Redis redisConfig `yaml:"redis"`
	Log   logConfig   `yaml:"log"`
}

type redisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type logConfig struct {
	Level string `yaml:"level"`
}

func defaultConfig() config {
	return config{
		Redis: redisConfig{Addr: "localhost:6379"},
		Log:   logConfig{Level: "info"},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless the path was given explicitly.
func loadConfig(path string, explicit bool) (config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return config{}, err
	}
	if override := os.Getenv("CONJCTL_REDIS_PASSWORD"); override != "" {
		cfg.Redis.Password = override
	}
	return cfg, nil
}

// applyFlags copies flags the user actually set onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config) error {
	var err error
	visit := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "redis-addr":
			cfg.Redis.Addr = f.Value.String()
		case "redis-db":
			cfg.Redis.DB, err = fs.GetInt("redis-db")
		case "redis-username":
			cfg.Redis.Username = f.Value.String()
		case "log-level":
			cfg.Log.Level = f.Value.String()
		}
	}
	fs.Visit(visit)
	return err
}
