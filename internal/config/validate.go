package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingRoot == "" {
		return errors.New("paths.staging_root must be set")
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be set")
	}
	rule := c.Paths.PathRule
	for _, segment := range []string{"{subject}", "{session}", "{dataset}"} {
		if !strings.Contains(rule, segment) {
			return fmt.Errorf("paths.path_rule must contain %s", segment)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Upload.Storage == "" {
		return errors.New("upload.storage must name a [storage.*] entry")
	}
	if _, ok := c.Storage[c.Upload.Storage]; !ok {
		return fmt.Errorf("upload.storage %q has no matching [storage.%s] section", c.Upload.Storage, c.Upload.Storage)
	}
	for name, target := range c.Storage {
		switch target.Protocol {
		case "", "s3":
			if target.Bucket == "" {
				return fmt.Errorf("storage.%s.bucket must be set", name)
			}
		case "local":
			if target.Folder == "" {
				return fmt.Errorf("storage.%s.folder must be set for local storage", name)
			}
		default:
			return fmt.Errorf("storage.%s.protocol %q is not supported", name, target.Protocol)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
