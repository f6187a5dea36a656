package config

import (
	"sync/atomic"

	"github.com/saiset-co/sai-voice-cache/types"
)

type ConfigurationManager struct {
	config     atomic.Pointer[types.ServiceConfig]
	configPath string
	loader     *Loader
}

func NewConfigurationManager(configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewFromConfig wraps an already built config, validating it first. Used
// by embedders that assemble configuration programmatically.
func NewFromConfig(config *types.ServiceConfig) (*ConfigurationManager, error) {
	loader := NewLoader()
	if err := loader.Validate(config); err != nil {
		return nil, err
	}

	cm := &ConfigurationManager{loader: loader}
	cm.config.Store(config)
	return cm, nil
}

func (cm *ConfigurationManager) Load() error {
	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}
