package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/fswatch/internal/cache"
	"github.com/openmined/fswatch/internal/utils"
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigDir    = filepath.Join(home, ".fswatch")
	DefaultSettingsPath = filepath.Join(DefaultConfigDir, "capabilities.json")
	DefaultLogFilePath  = filepath.Join(DefaultConfigDir, "logs", "fswatch.log")
)

const (
	DefaultIgnoreWindow = cache.DefaultIgnoreWindow
	DefaultStopTimeout  = 5 * time.Second
)

type Config struct {
	Root         string        `mapstructure:"root"`
	IgnoreWindow time.Duration `mapstructure:"ignore_window"`
	Extensions   []string      `mapstructure:"extensions"`
	Ignore       []string      `mapstructure:"ignore"`
	Kinds        []string      `mapstructure:"kinds"`

	// PollFrequency overrides the adaptive poll frequency when non-zero.
	PollFrequency time.Duration `mapstructure:"poll_frequency"`

	// SettingsPath caches probe results between runs. Empty always probes.
	SettingsPath string        `mapstructure:"settings"`
	Reprobe      bool          `mapstructure:"reprobe"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	LogFile     string        `mapstructure:"log_file"`
	Verbose     bool          `mapstructure:"verbose"`

	Path string `mapstructure:"-"`
}

// Validate normalizes paths and checks every value. It is safe to call more than once.
func (c *Config) Validate() error {
	var err error

	if c.Root == "" {
		return errors.New("config `root` is required")
	}
	if c.Root, err = utils.ResolvePath(c.Root); err != nil {
		return fmt.Errorf("config `root`: %w", err)
	}
	if !utils.DirExists(c.Root) {
		return fmt.Errorf("config `root` %q is not a directory", c.Root)
	}

	if c.IgnoreWindow < 0 {
		return fmt.Errorf("config `ignore_window` must not be negative, got %s", c.IgnoreWindow)
	}
	if c.IgnoreWindow == 0 {
		c.IgnoreWindow = DefaultIgnoreWindow
	}
	if c.PollFrequency < 0 {
		return fmt.Errorf("config `poll_frequency` must not be negative, got %s", c.PollFrequency)
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("config `probe_timeout` must not be negative, got %s", c.ProbeTimeout)
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}

	c.Extensions = splitList(c.Extensions)
	c.Ignore = splitList(c.Ignore)
	c.Kinds = splitList(c.Kinds)
	if _, err := c.KindSet(); err != nil {
		return err
	}

	if c.SettingsPath != "" {
		if c.SettingsPath, err = utils.ResolvePath(c.SettingsPath); err != nil {
			return fmt.Errorf("config `settings`: %w", err)
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("config `log_file`: %w", err)
		}
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	return nil
}

// KindSet returns the change kinds to report. No kinds means all of them.
func (c *Config) KindSet() (cache.KindSet, error) {
	if len(c.Kinds) == 0 {
		return cache.AllKinds, nil
	}

	var set cache.KindSet
	for _, name := range c.Kinds {
		k, ok := cache.ParseKind(name)
		if !ok {
			return 0, fmt.Errorf("config `kinds`: unknown change kind %q", name)
		}
		set |= cache.Kinds(k)
	}
	return set, nil
}

// splitList flattens comma separated entries, as env vars deliver lists in one value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
