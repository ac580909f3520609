package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rari-build/rari-go/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "rari.json"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "dist"
)

// Config represents the complete rari.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Version is the project version.
	Version string `json:"version,omitempty"`

	// Port is the default server port (convenience field, also in Dev).
	Port int `json:"port,omitempty"`

	// Paths contains path configuration for various directories.
	Paths PathsConfig `json:"paths,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Render contains render/streaming engine configuration.
	Render RenderConfig `json:"render,omitempty"`

	// Reload contains hot-reload controller configuration.
	Reload ReloadConfig `json:"reload,omitempty"`

	// ModuleSource configures an optional remote module source store.
	ModuleSource ModuleSourceConfig `json:"moduleSource,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// PathsConfig contains path configuration for project directories.
type PathsConfig struct {
	// Routes is the path to the routes directory.
	Routes string `json:"routes,omitempty"`

	// Components is the path to the components directory.
	Components string `json:"components,omitempty"`

	// Dist is the build output directory served to the runtime.
	Dist string `json:"dist,omitempty"`

	// NodeModules is the path to node_modules for bare-specifier resolution.
	NodeModules string `json:"nodeModules,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// Watch contains paths to watch for changes.
	Watch []string `json:"watch,omitempty"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty"`

	// HotReload enables hot reload in development.
	HotReload bool `json:"hotReload,omitempty"`
}

// RenderConfig contains render engine settings.
type RenderConfig struct {
	// Streaming enables progressive streaming of suspense boundaries.
	Streaming bool `json:"streaming,omitempty"`

	// ScriptTimeoutMs is the per-script execution deadline (default 1000).
	ScriptTimeoutMs int `json:"scriptTimeoutMs,omitempty"`

	// RenderTimeoutMs is the initial-render completion ceiling (default 3000).
	RenderTimeoutMs int `json:"renderTimeoutMs,omitempty"`

	// MaxConcurrentRenders is the advisory cap on in-flight renders.
	MaxConcurrentRenders int `json:"maxConcurrentRenders,omitempty"`
}

// ReloadConfig contains hot-reload controller settings.
type ReloadConfig struct {
	// Enabled controls whether the reload controller runs at all.
	Enabled bool `json:"enabled,omitempty"`

	// MaxRetryAttempts bounds reload retries (default 3).
	MaxRetryAttempts int `json:"maxRetryAttempts,omitempty"`

	// ReloadTimeoutMs is the per-reload deadline (default 5000).
	ReloadTimeoutMs int `json:"reloadTimeoutMs,omitempty"`

	// ParallelReloads runs batch reloads concurrently (default true).
	ParallelReloads *bool `json:"parallelReloads,omitempty"`

	// DebounceDelayMs is the coalescing window for file events (default 150).
	DebounceDelayMs int `json:"debounceDelayMs,omitempty"`

	// MaxHistorySize bounds the reload history ring (default 100).
	MaxHistorySize int `json:"maxHistorySize,omitempty"`

	// EnableMemoryMonitoring logs queue/history memory usage.
	EnableMemoryMonitoring bool `json:"enableMemoryMonitoring,omitempty"`
}

// ModuleSourceConfig configures the optional S3-backed module source.
type ModuleSourceConfig struct {
	// S3Bucket, when set, enables fetching component sources from S3.
	S3Bucket string `json:"s3Bucket,omitempty"`

	// S3Prefix is the key prefix for module objects.
	S3Prefix string `json:"s3Prefix,omitempty"`

	// S3Region overrides the default AWS region.
	S3Region string `json:"s3Region,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Version: "0.1.0",
		Port:    DefaultPort,
		Paths: PathsConfig{
			Routes:      "app/routes",
			Components:  "app/components",
			Dist:        DefaultOutput,
			NodeModules: "node_modules",
		},
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			Watch:     []string{"app"},
			HotReload: true,
		},
		Render: RenderConfig{
			Streaming:            true,
			ScriptTimeoutMs:      1000,
			RenderTimeoutMs:      3000,
			MaxConcurrentRenders: 64,
		},
		Reload: ReloadConfig{
			Enabled:          true,
			MaxRetryAttempts: 3,
			ReloadTimeoutMs:  5000,
			DebounceDelayMs:  150,
			MaxHistorySize:   100,
		},
	}
}

// Load reads configuration from the given directory, falling back to
// defaults when no rari.json exists.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := New()
			cfg.configPath = path
			return cfg, nil
		}
		return nil, errors.New("E101").WithDetail(path).Wrap(err)
	}

	cfg := New()
	// Dev.Port inherits the top-level Port unless the file sets dev.port.
	cfg.Dev.Port = 0
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E100").WithDetail(path).Wrap(err)
	}
	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills zero values left by a sparse config file.
func (c *Config) applyDefaults() {
	d := New()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Dev.Port == 0 {
		c.Dev.Port = c.Port
	}
	if c.Dev.Host == "" {
		c.Dev.Host = d.Dev.Host
	}
	if len(c.Dev.Watch) == 0 {
		c.Dev.Watch = d.Dev.Watch
	}
	if c.Paths.Routes == "" {
		c.Paths.Routes = d.Paths.Routes
	}
	if c.Paths.Components == "" {
		c.Paths.Components = d.Paths.Components
	}
	if c.Paths.Dist == "" {
		c.Paths.Dist = d.Paths.Dist
	}
	if c.Paths.NodeModules == "" {
		c.Paths.NodeModules = d.Paths.NodeModules
	}
	if c.Render.ScriptTimeoutMs == 0 {
		c.Render.ScriptTimeoutMs = d.Render.ScriptTimeoutMs
	}
	if c.Render.RenderTimeoutMs == 0 {
		c.Render.RenderTimeoutMs = d.Render.RenderTimeoutMs
	}
	if c.Render.MaxConcurrentRenders == 0 {
		c.Render.MaxConcurrentRenders = d.Render.MaxConcurrentRenders
	}
	if c.Reload.MaxRetryAttempts == 0 {
		c.Reload.MaxRetryAttempts = d.Reload.MaxRetryAttempts
	}
	if c.Reload.ReloadTimeoutMs == 0 {
		c.Reload.ReloadTimeoutMs = d.Reload.ReloadTimeoutMs
	}
	if c.Reload.DebounceDelayMs == 0 {
		c.Reload.DebounceDelayMs = d.Reload.DebounceDelayMs
	}
	if c.Reload.MaxHistorySize == 0 {
		c.Reload.MaxHistorySize = d.Reload.MaxHistorySize
	}
}

// ParallelReloadsEnabled resolves the tri-state flag (default true).
func (c *ReloadConfig) ParallelReloadsEnabled() bool {
	if c.ParallelReloads == nil {
		return true
	}
	return *c.ParallelReloads
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("E100").WithDetail("config has no path; use SaveTo")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the given path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E100").Wrap(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.New("E100").WithDetail(path).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return "."
	}
	return filepath.Dir(c.configPath)
}
