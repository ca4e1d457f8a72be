package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	v          *viper.Viper
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/irisstreamer/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "irisstreamer", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile
// selects the default path. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
		v:          viper.New(),
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := m.Get()
	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", cfg.Source.Type).
		Int("nodes", len(cfg.Graph.Nodes)).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file
// keep their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	// The default graph is replaced wholesale when the file has one.
	cfg.Graph.Nodes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Graph.Nodes) == 0 {
		cfg.Graph = DefaultGraph()
	}
	if cfg.SidePackets == nil {
		cfg.SidePackets = map[string]float64{}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	return m.syncViperLocked()
}

// syncViperLocked reloads the viper view from the in-memory config.
func (m *Manager) syncViperLocked() error {
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to index config: %w", err)
	}
	m.v = v
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	return m.config.Clone()
}

// GetViper exposes the configuration as a viper instance for dotted key
// lookups such as "source.fps". Writes must go through Set.
func (m *Manager) GetViper() *viper.Viper {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v
}

// Set assigns a dotted key, validates the result and saves it. Only keys
// already present in the config, or new side packets, may be set.
func (m *Manager) Set(key string, value interface{}) error {
	key = strings.ToLower(key)

	m.mu.Lock()
	if !m.v.IsSet(key) && !strings.HasPrefix(key, "side_packets.") {
		m.mu.Unlock()
		return fmt.Errorf("configuration key not found: %s", key)
	}

	m.v.Set(key, value)
	data, err := yaml.Marshal(m.v.AllSettings())
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	cfg := Defaults()
	cfg.Graph.Nodes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		// Roll the viper view back to the last valid config.
		_ = m.syncViperLocked()
		m.mu.Unlock()
		return err
	}
	m.config = cfg
	m.mu.Unlock()

	return m.Save()
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	m.mu.Lock()
	if m.config == nil {
		m.config = cfg
	}
	err = m.syncViperLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg.Clone()
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// SetSidePacket stores a numeric side packet such as focal_length_pixel
func (m *Manager) SetSidePacket(name string, value float64) error {
	if name == "" {
		return fmt.Errorf("side packet name is empty")
	}
	return m.Set("side_packets."+name, value)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
