package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-voice-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate runs struct validation plus the duration checks that decide
// whether the process is allowed to start at all.
func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(types.ErrConfigValidateFailed, err.Error())
	}

	if _, err := time.ParseDuration(config.Cache.TTL); err != nil {
		return types.Errorf(types.ErrConfigInvalidTTL, "ttl: %s", config.Cache.TTL)
	}

	if config.Health != nil && config.Health.Enabled {
		if config.Health.Interval != "" {
			if _, err := time.ParseDuration(config.Health.Interval); err != nil {
				return types.Errorf(types.ErrConfigValidateFailed, "health interval: %s", config.Health.Interval)
			}
		}
		if config.Health.Timeout != "" {
			if _, err := time.ParseDuration(config.Health.Timeout); err != nil {
				return types.Errorf(types.ErrConfigValidateFailed, "health timeout: %s", config.Health.Timeout)
			}
		}
	}

	return nil
}

func Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-voice-cache",
		Version: "0.1.0",
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cache: &types.CacheConfig{
			TTL:           "24h",
			SweepSchedule: "@every 10m",
			Memory:        &types.MemoryTierConfig{Capacity: 256},
			Disk:          &types.DiskTierConfig{Path: "./data/audio-cache", Capacity: 4096},
			Remote:        &types.RemoteTierConfig{Enabled: false},
		},
		Health: &types.HealthConfig{
			Enabled:           true,
			Interval:          "30s",
			Timeout:           "5s",
			FailureThreshold:  3,
			RecoveryThreshold: 2,
		},
		Failover: &types.FailoverConfig{Enabled: true},
		Metrics:  &types.MetricsConfig{Enabled: false, Type: "memory", Namespace: "sai_voice_cache"},
		Cron:     &types.CronConfig{Enabled: true, Timezone: "UTC"},
	}
}
