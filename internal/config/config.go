package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RouterConfig holds tuning knobs for the intent cascade.
type RouterConfig struct {
	// SemanticThreshold is the minimum cosine similarity for a layer-3
	// direct match against a canonical intent phrase.
	SemanticThreshold float64 `yaml:"semantic_threshold,omitempty"`
	// TopK is the number of candidates returned by layer-4 retrieval.
	TopK int `yaml:"top_k,omitempty"`
	// CacheSize bounds the query embedding cache.
	CacheSize int `yaml:"cache_size,omitempty"`
	// EmbedTimeout bounds a single embedding backend call.
	EmbedTimeout time.Duration `yaml:"embed_timeout,omitempty"`
}

// IndexConfig holds settings for the on-disk vector index.
type IndexConfig struct {
	// LockTimeout bounds the wait for the exclusive index lock.
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`
}

// Config is the in-memory representation of ~/.dispatch/dispatch.yaml.
type Config struct {
	DataDir      string       `yaml:"data_dir"`
	RegistryPath string       `yaml:"registry_path"`
	IntentsPath  string       `yaml:"intents_path"`
	Router       RouterConfig `yaml:"router,omitempty"`
	Index        IndexConfig  `yaml:"index,omitempty"`
}

// Defaults applied where the config file leaves a field unset.
const (
	DefaultSemanticThreshold = 0.82
	DefaultTopK              = 8
	DefaultCacheSize         = 256
	DefaultEmbedTimeout      = 30 * time.Second
	DefaultLockTimeout       = 5 * time.Second
)

// DispatchDir returns the absolute path to ~/.dispatch/.
func DispatchDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".dispatch"), nil
}

// ConfigPath returns the absolute path to ~/.dispatch/dispatch.yaml.
func ConfigPath() (string, error) {
	dir, err := DispatchDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dispatch.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the default Config written on first dispatch init.
func DefaultConfig() (*Config, error) {
	dir, err := DispatchDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		DataDir:      filepath.Join(dir, "data"),
		RegistryPath: filepath.Join(dir, "actions.yaml"),
		IntentsPath:  filepath.Join(dir, "intents.yaml"),
		Router: RouterConfig{
			SemanticThreshold: DefaultSemanticThreshold,
			TopK:              DefaultTopK,
			CacheSize:         DefaultCacheSize,
			EmbedTimeout:      DefaultEmbedTimeout,
		},
		Index: IndexConfig{
			LockTimeout: DefaultLockTimeout,
		},
	}, nil
}

// Load reads and parses ~/.dispatch/dispatch.yaml.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	// Expand ~ in paths at load time.
	for _, p := range []*string{&cfg.DataDir, &cfg.RegistryPath, &cfg.IntentsPath} {
		*p, err = ExpandPath(*p)
		if err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save marshals cfg and writes it to ~/.dispatch/dispatch.yaml.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Router.SemanticThreshold == 0 {
		c.Router.SemanticThreshold = DefaultSemanticThreshold
	}
	if c.Router.TopK == 0 {
		c.Router.TopK = DefaultTopK
	}
	if c.Router.CacheSize == 0 {
		c.Router.CacheSize = DefaultCacheSize
	}
	if c.Router.EmbedTimeout == 0 {
		c.Router.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.Index.LockTimeout == 0 {
		c.Index.LockTimeout = DefaultLockTimeout
	}
}
