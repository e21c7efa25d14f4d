// Package config handles configuration persistence for the cipscan driver.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the complete driver configuration.
type Config struct {
	// DefaultPeriod is the scan period PeriodFor returns for a tag
	// selection that does not specify one (spec §6).
	DefaultPeriod time.Duration `yaml:"default_period"`

	// Verbosity is a diagnostic level, 0..10. It is loaded and saved with
	// the file, but nothing in the module reads it: debug output is
	// controlled by cipscand's -log-debug protocol filter, and
	// Registry.Report takes its level as an argument.
	Verbosity int `yaml:"verbosity"`

	// TransferBufferLimit overrides the worker's per-transfer byte
	// budget; 0 means use eip.DefaultTransferBufferLimit (spec §9).
	TransferBufferLimit int `yaml:"transfer_buffer_limit,omitempty"`

	PLCs []PLCConfig `yaml:"plcs"`

	// dataMu protects all fields against concurrent access. Callers
	// that modify config should Lock(), modify, then UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// PLCConfig stores configuration for a single ControlLogix controller.
type PLCConfig struct {
	Name    string        `yaml:"name"`
	Address string        `yaml:"address"`
	Slot    byte          `yaml:"slot"`
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout,omitempty"` // 0 = driver default

	// TransferBufferLimit overrides the Config-wide default for this one
	// PLC; 0 means use the Config's TransferBufferLimit (spec §9).
	TransferBufferLimit int `yaml:"transfer_buffer_limit,omitempty"`

	Tags []TagSelection `yaml:"tags,omitempty"`
}

// TagSelection is one statically configured tag to poll on a PLC.
type TagSelection struct {
	Symbolic string        `yaml:"tag"`
	Period   time.Duration `yaml:"period,omitempty"` // 0 = DefaultPeriod
	Elements uint32        `yaml:"elements,omitempty"`
}

// DefaultConfig returns a Config with sane, empty-PLC-set defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultPeriod: time.Second,
		Verbosity:     2,
	}
}

// DefaultPath returns the default config file location under the
// caller's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cipscan", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults
// (and best-effort saving them back out) if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		_ = cfg.Save(path)
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.DefaultPeriod <= 0 {
		cfg.DefaultPeriod = time.Second
	}
	return cfg, nil
}

// AddOnChangeListener registers a callback invoked whenever Save
// succeeds. Returns an ID that can be used to remove the listener.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}
	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access. Use before
// modifying fields directly, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.notifyChangeListeners()
	return nil
}

// FindPLC returns the PLC config with the given name, or nil if absent.
func (c *Config) FindPLC(name string) *PLCConfig {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			return &c.PLCs[i]
		}
	}
	return nil
}

// AddPLC appends a new PLC configuration.
func (c *Config) AddPLC(plc PLCConfig) {
	c.PLCs = append(c.PLCs, plc)
}

// RemovePLC removes the named PLC configuration, reporting whether one
// was found.
func (c *Config) RemovePLC(name string) bool {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			c.PLCs = append(c.PLCs[:i], c.PLCs[i+1:]...)
			return true
		}
	}
	return false
}

// PeriodFor resolves a tag selection's scan period, falling back to the
// config's DefaultPeriod (spec §6).
func (c *Config) PeriodFor(sel TagSelection) time.Duration {
	if sel.Period > 0 {
		return sel.Period
	}
	return c.DefaultPeriod
}

// TransferBufferLimitFor resolves a PLC's per-transfer byte budget: the
// PLC's own override if set, else the config-wide default, else 0 (the
// caller falls back to eip.DefaultTransferBufferLimit) (spec §9).
func (c *Config) TransferBufferLimitFor(plc PLCConfig) int {
	if plc.TransferBufferLimit > 0 {
		return plc.TransferBufferLimit
	}
	return c.TransferBufferLimit
}
