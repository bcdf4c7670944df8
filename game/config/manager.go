package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNoConfigDir     = errors.New("no config directory")
)

// ProfileInfo describes one available profile
type ProfileInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ServerURL   string `json:"server_url"`
	Builtin     bool   `json:"builtin"`
	Filename    string `json:"filename,omitempty"`
}

// Manager loads and caches connection profiles. Profiles are JSON files in
// the config directory; the built-in "local" and "production" profiles are
// used when no file overrides them.
type Manager struct {
	configDir     string
	defaultConfig *Config
	profiles      map[string]*Config
	mu            sync.RWMutex
}

// NewManager creates a profile manager. An empty configDir serves only the
// built-in profiles.
func NewManager(configDir string) (*Manager, error) {
	if configDir != "" {
		info, err := os.Stat(configDir)
		if err != nil {
			return nil, errors.Wrapf(err, "config directory %s", configDir)
		}
		if !info.IsDir() {
			return nil, errors.Errorf("config directory %s is not a directory", configDir)
		}
	}

	m := &Manager{
		configDir: configDir,
		profiles:  make(map[string]*Config),
	}

	if err := m.loadDefaultConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to load default profile")
	}

	return m, nil
}

// Dir returns the config directory, empty when only built-ins are served
func (m *Manager) Dir() string { return m.configDir }

// LoadProfile returns the named profile with defaults applied. The result
// is a copy and may be modified by the caller.
func (m *Manager) LoadProfile(name string) (*Config, error) {
	name = strings.TrimSuffix(name, ".json")

	m.mu.RLock()
	if cfg, ok := m.profiles[name]; ok {
		m.mu.RUnlock()
		return cfg.Clone(), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.profiles[name]; ok {
		return cfg.Clone(), nil
	}

	cfg, err := m.readProfile(name)
	if err != nil {
		return nil, err
	}

	m.profiles[name] = cfg
	return cfg.Clone(), nil
}

// readProfile looks in the config directory first, then the built-ins
func (m *Manager) readProfile(name string) (*Config, error) {
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return nil, errors.Wrapf(ErrProfileNotFound, "invalid profile name %q", name)
	}

	if m.configDir != "" {
		data, err := os.ReadFile(filepath.Join(m.configDir, name+".json"))
		switch {
		case err == nil:
			var cfg Config
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrapf(ErrInvalidConfig, "profile %s: %v", name, err)
			}
			if cfg.Name == "" {
				cfg.Name = name
			}
			out := cfg.withDefaults()
			if err := out.Validate(); err != nil {
				return nil, errors.Wrapf(err, "profile %s", name)
			}
			return out, nil
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "failed to read profile %s", name)
		}
	}

	if cfg, ok := builtins()[name]; ok {
		return cfg, nil
	}
	return nil, errors.Wrapf(ErrProfileNotFound, "%s", name)
}

// ListProfiles returns every built-in and on-disk profile, sorted by name.
// Files that fail to load are skipped.
func (m *Manager) ListProfiles() ([]*ProfileInfo, error) {
	seen := make(map[string]*ProfileInfo)

	for name, cfg := range builtins() {
		seen[name] = &ProfileInfo{
			Name:        name,
			Description: cfg.Description,
			ServerURL:   cfg.ServerURL,
			Builtin:     true,
		}
	}

	if m.configDir != "" {
		entries, err := os.ReadDir(m.configDir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config directory")
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".json")

			cfg, err := m.LoadProfile(name)
			if err != nil {
				continue
			}
			seen[name] = &ProfileInfo{
				Name:        name,
				Description: cfg.Description,
				ServerURL:   cfg.ServerURL,
				Filename:    entry.Name(),
			}
		}
	}

	profiles := make([]*ProfileInfo, 0, len(seen))
	for _, p := range seen {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// GetDefault returns a copy of the default profile
func (m *Manager) GetDefault() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig.Clone()
}

// SetDefault makes the named profile the default
func (m *Manager) SetDefault(name string) error {
	cfg, err := m.LoadProfile(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultConfig = cfg
	return nil
}

// RefreshCache forgets cached profiles so the next load rereads disk
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.profiles = make(map[string]*Config)
	m.mu.Unlock()

	return m.loadDefaultConfig()
}

// loadDefaultConfig uses local.json when present, the built-in otherwise
func (m *Manager) loadDefaultConfig() error {
	cfg, err := m.LoadProfile(DefaultProfile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.defaultConfig = cfg
	m.mu.Unlock()
	return nil
}

// SaveProfile validates cfg and writes it as <name>.json
func (m *Manager) SaveProfile(name string, cfg *Config) error {
	if m.configDir == "" {
		return ErrNoConfigDir
	}
	name = strings.TrimSuffix(name, ".json")
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return errors.Wrapf(ErrInvalidConfig, "invalid profile name %q", name)
	}

	out := cfg.withDefaults()
	out.Name = name
	if err := out.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal profile")
	}

	path := filepath.Join(m.configDir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write profile")
	}

	m.mu.Lock()
	m.profiles[name] = out
	m.mu.Unlock()

	return nil
}
