package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem layout configuration.
type Paths struct {
	// LocalRoots are the filesystems searched for raw data, in order.
	LocalRoots []string `toml:"local_roots"`
	// StagingRoot is the upload-server directory that workers drain.
	StagingRoot string `toml:"staging_root"`
	ScratchDir  string `toml:"scratch_dir"`
	LogDir      string `toml:"log_dir"`
	// PathRule names the meaning of the leading path segments under a root.
	PathRule string `toml:"path_rule"`
}

// Database contains the durable store location.
type Database struct {
	Path string `toml:"path"`
}

// Upload contains defaults for the upload pipeline.
type Upload struct {
	// Storage is the default destination storage name for new upload jobs.
	Storage     string `toml:"storage"`
	Parallelism int    `toml:"parallelism"`
}

// StorageTarget describes one object-storage destination.
type StorageTarget struct {
	Protocol  string `toml:"protocol"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Folder    string `toml:"folder"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Compute contains settings for analysis execution.
type Compute struct {
	DefaultTarget string `toml:"default_target"`
	// SorterCommand is the external spike-sorter invoked by the spks analysis.
	SorterCommand string `toml:"sorter_command"`
	// AllowStorageGet permits workers to pull missing inputs from object storage.
	AllowStorageGet bool `toml:"allow_storage_get"`
}

// Worker contains worker-loop settings.
type Worker struct {
	PollInterval int `toml:"poll_interval"`
	// Host overrides the hostname stamped on claimed jobs.
	Host string `toml:"host"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration object.
type Config struct {
	Paths    Paths                    `toml:"paths"`
	Database Database                 `toml:"database"`
	Upload   Upload                   `toml:"upload"`
	Storage  map[string]StorageTarget `toml:"storage"`
	Compute  Compute                  `toml:"compute"`
	Worker   Worker                   `toml:"worker"`
	Logging  Logging                  `toml:"logging"`
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return filepath.Join("~", ".config", "labsync", "config.toml")
}

// Load reads the config file at path (or the default location when path is
// empty), applies defaults, normalizes paths, and validates the result.
func Load(path string) (*Config, error) {
	resolved := expandPath(path)
	if resolved == "" {
		resolved = expandPath(DefaultPath())
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config file %s does not exist (run `labsync config init`)", resolved)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved := expandPath(path)
	if resolved == "" {
		resolved = expandPath(DefaultPath())
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file %s already exists", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories labsync writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.StagingRoot,
		c.Paths.ScratchDir,
		c.Paths.LogDir,
		filepath.Dir(c.Database.Path),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Hostname returns the worker identity stamped onto claimed jobs.
func (c *Config) Hostname() string {
	if c.Worker.Host != "" {
		return c.Worker.Host
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return host
}
