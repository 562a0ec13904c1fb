package publisher

import (
	"fmt"

	"go.uber.org/zap"
)

// Config is per-platform adapter configuration.
type Config struct {
	PlatformName string            `json:"platform_name"`
	Enabled      bool              `json:"enabled"`
	Options      map[string]string `json:"options"`
}

// Manager is the registry of platform publishers. Registration happens once
// at process startup; lookups are read-only afterwards.
type Manager struct {
	publishers map[string]Publisher
	configs    map[string]Config
	logger     *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		configs:    make(map[string]Config),
		logger:     logger,
	}
}

func (m *Manager) Register(p Publisher) error {
	name := p.Platform()
	if _, exists := m.publishers[name]; exists {
		return fmt.Errorf("publisher for platform %s already registered", name)
	}
	m.publishers[name] = p
	m.logger.Info("Publisher registered", zap.String("platform", name))
	return nil
}

func (m *Manager) Get(platform string) (Publisher, error) {
	p, exists := m.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platform)
	}
	return p, nil
}

// Platforms returns the names of all registered publishers.
func (m *Manager) Platforms() []string {
	var names []string
	for name := range m.publishers {
		names = append(names, name)
	}
	return names
}

func (m *Manager) SetConfig(platform string, cfg Config) {
	m.configs[platform] = cfg
}

func (m *Manager) GetConfig(platform string) (Config, error) {
	cfg, exists := m.configs[platform]
	if !exists {
		return Config{}, fmt.Errorf("config for platform %s not found", platform)
	}
	return cfg, nil
}

// Enabled reports whether the platform is registered and switched on.
func (m *Manager) Enabled(platform string) bool {
	if _, exists := m.publishers[platform]; !exists {
		return false
	}
	cfg, exists := m.configs[platform]
	return exists && cfg.Enabled
}
