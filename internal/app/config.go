// Package app wires configuration, storage, providers and sessions together.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/azyu/talemind/internal/storage"
	"github.com/azyu/talemind/pkg/types"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrProviderNotFound = errors.New("provider not configured")
)

// ConfigManager loads and saves the global configuration.
type ConfigManager struct {
	globalConfigPath string
	globalConfig     *types.GlobalConfig
}

// NewConfigManager creates a manager for $XDG_CONFIG_HOME/talemind/config.yaml.
func NewConfigManager() (*ConfigManager, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return NewConfigManagerAt(filepath.Join(configDir, "config.yaml")), nil
}

// NewConfigManagerAt creates a manager for the config file at path.
func NewConfigManagerAt(path string) *ConfigManager {
	return &ConfigManager{globalConfigPath: path}
}

// Path returns the config file location.
func (cm *ConfigManager) Path() string {
	return cm.globalConfigPath
}

func getConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "talemind"), nil
}

// LoadGlobalConfig loads the global configuration. A missing file yields the
// defaults. Engine fields left at zero take their default values.
func (cm *ConfigManager) LoadGlobalConfig() (*types.GlobalConfig, error) {
	if cm.globalConfig != nil {
		return cm.globalConfig, nil
	}

	config := types.DefaultGlobalConfig()
	data, err := os.ReadFile(cm.globalConfigPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read global config: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	fillEngineDefaults(&config.Engine)

	for name, provider := range config.Providers {
		if provider == nil {
			delete(config.Providers, name)
			continue
		}
		provider.APIKey = expandEnv(provider.APIKey)
	}
	config.DataDir = expandPath(config.DataDir)
	config.Engine.DBPath = expandPath(config.Engine.DBPath)

	cm.globalConfig = config
	return cm.globalConfig, nil
}

// SaveGlobalConfig writes the configuration atomically. The file holds API
// keys, so it is only readable by the owner.
func (cm *ConfigManager) SaveGlobalConfig(config *types.GlobalConfig) error {
	if err := validate(config); err != nil {
		return err
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := storage.AtomicWriteFileMode(cm.globalConfigPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	cm.globalConfig = config
	return nil
}

// GetProviderConfig returns the configuration for a provider.
func (cm *ConfigManager) GetProviderConfig(providerName string) (*types.ProviderConfig, error) {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return nil, err
	}
	provider, ok := config.Providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}
	return provider, nil
}

// DBPath returns the database location.
func (cm *ConfigManager) DBPath() (string, error) {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return "", err
	}
	if config.Engine.DBPath != "" {
		return config.Engine.DBPath, nil
	}
	return filepath.Join(config.DataDir, "talemind.db"), nil
}

func validate(config *types.GlobalConfig) error {
	e := config.Engine
	switch {
	case e.ContextLimit < 0:
		return fmt.Errorf("%w: context_limit must not be negative", ErrInvalidConfig)
	case e.ResponseReserve < 0:
		return fmt.Errorf("%w: response_reserve must not be negative", ErrInvalidConfig)
	case e.GracePeriod < 0, e.IllustrationTimeout < 0, e.IllustrationTimeoutHigh < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

func fillEngineDefaults(e *types.EngineConfig) {
	def := types.DefaultEngineConfig()
	if e.Tokenizer == "" {
		e.Tokenizer = def.Tokenizer
	}
	if e.GracePeriod == 0 {
		e.GracePeriod = def.GracePeriod
	}
	if e.IllustrationTimeout == 0 {
		e.IllustrationTimeout = def.IllustrationTimeout
	}
	if e.IllustrationTimeoutHigh == 0 {
		e.IllustrationTimeoutHigh = def.IllustrationTimeoutHigh
	}
}

// expandEnv resolves a "${VAR}" value from the environment. Other values are
// returned as is.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
