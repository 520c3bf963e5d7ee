package config

import (
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() {
	c.normalizePaths()
	c.normalizeUpload()
	c.normalizeCompute()
	c.normalizeWorker()
	c.normalizeLogging()
}

func (c *Config) normalizePaths() {
	roots := make([]string, 0, len(c.Paths.LocalRoots))
	for _, root := range c.Paths.LocalRoots {
		if expanded := expandPath(root); expanded != "" {
			roots = append(roots, expanded)
		}
	}
	c.Paths.LocalRoots = roots
	c.Paths.StagingRoot = expandPath(c.Paths.StagingRoot)
	c.Paths.ScratchDir = expandPath(c.Paths.ScratchDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Database.Path = expandPath(c.Database.Path)
	if strings.TrimSpace(c.Paths.PathRule) == "" {
		c.Paths.PathRule = defaultPathRule
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.Storage = strings.TrimSpace(c.Upload.Storage)
	if c.Upload.Parallelism <= 0 {
		c.Upload.Parallelism = defaultParallelism
	}
}

func (c *Config) normalizeCompute() {
	if strings.TrimSpace(c.Compute.DefaultTarget) == "" {
		c.Compute.DefaultTarget = defaultComputeTarget
	}
	if strings.TrimSpace(c.Compute.SorterCommand) == "" {
		c.Compute.SorterCommand = defaultSorterCommand
	}
}

func (c *Config) normalizeWorker() {
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultPollInterval
	}
	c.Worker.Host = strings.TrimSpace(c.Worker.Host)
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if trimmed == "~" {
				return home
			}
			return filepath.Join(home, trimmed[2:])
		}
	}
	return filepath.Clean(trimmed)
}
