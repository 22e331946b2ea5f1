package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/lumad/internal/logger"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $XDG_CONFIG_HOME/lumad/config.yaml
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "lumad", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile
// selects the default path; a missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("outputs", len(m.config.Outputs())).
		Str("processor", string(m.config.Processor)).
		Msg("Config loaded")

	return m, nil
}

// Parse decodes YAML on top of the defaults. Keys absent from data keep
// their default values; output lists replace the default list entirely.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	cfg.Output = OutputByType{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Processor == "" {
		cfg.Processor = ProcessorVulkan
	}
	return cfg, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// SetLogLevel overrides the log level in memory (flag/env override)
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetPrettyLog overrides console log formatting in memory
func (m *Manager) SetPrettyLog(pretty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.PrettyLog = pretty
}

// SetProcessor overrides the processor backend in memory
func (m *Manager) SetProcessor(p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Processor = p
}

// SetAPIPort enables the status API on the given port
func (m *Manager) SetAPIPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.API.Enabled = true
	m.config.API.Port = port
}

// GetConfigPath returns the path of the backing file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
