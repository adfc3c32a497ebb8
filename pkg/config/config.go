// Package config loads nbtool settings from a TOML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	LauncherJupyter = "jupyter"
	LauncherDocker  = "docker"
)

// Config is the resolved runtime configuration.
type Config struct {
	Addr      string
	LogLevel  slog.Level
	Kernel    Kernel
	Execution Execution
	Editor    Editor
	// Nbconvert invokes nbconvert for html, pdf and slides exports.
	Nbconvert []string
}

type Kernel struct {
	Launcher       string
	DefaultSpec    string
	StartupTimeout time.Duration
	JupyterURL     string
	JupyterToken   string
	DockerImage    string
	DockerSpecs    []string
}

type Execution struct {
	Timeout      time.Duration
	PollInterval time.Duration
	MaxRetries   int
	RetryPause   time.Duration
}

type Editor struct {
	// Command is run with the notebook path appended after writes.
	Command []string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:     "127.0.0.1:8765",
		LogLevel: slog.LevelInfo,
		Kernel: Kernel{
			Launcher:       LauncherJupyter,
			DefaultSpec:    "python3",
			StartupTimeout: 60 * time.Second,
			JupyterURL:     "http://127.0.0.1:8888",
			DockerImage:    "quay.io/jupyter/base-notebook:latest",
			DockerSpecs:    []string{"python3"},
		},
		Execution: Execution{
			Timeout:      30 * time.Second,
			PollInterval: 500 * time.Millisecond,
			MaxRetries:   2,
			RetryPause:   500 * time.Millisecond,
		},
		Nbconvert: []string{"jupyter", "nbconvert"},
	}
}

// fileConfig mirrors the TOML layout.
type fileConfig struct {
	Addr      string   `toml:"addr"`
	LogLevel  string   `toml:"log_level"`
	Nbconvert []string `toml:"nbconvert"`
	Kernel    struct {
		Launcher       string `toml:"launcher"`
		DefaultSpec    string `toml:"default_spec"`
		StartupTimeout string `toml:"startup_timeout"`
		Jupyter        struct {
			URL   string `toml:"url"`
			Token string `toml:"token"`
		} `toml:"jupyter"`
		Docker struct {
			Image string   `toml:"image"`
			Specs []string `toml:"specs"`
		} `toml:"docker"`
	} `toml:"kernel"`
	Execution struct {
		Timeout      string `toml:"timeout"`
		PollInterval string `toml:"poll_interval"`
		MaxRetries   int    `toml:"max_retries"`
		RetryPause   string `toml:"retry_pause"`
	} `toml:"execution"`
	Editor struct {
		Command []string `toml:"command"`
	} `toml:"editor"`
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Warn("Ignoring unknown config keys", "path", path, "keys", undecoded)
	}

	if meta.IsDefined("addr") {
		c.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("log_level") {
		if err := c.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return fmt.Errorf("load config: log_level: %w", err)
		}
	}
	if meta.IsDefined("nbconvert") {
		c.Nbconvert = raw.Nbconvert
	}
	if meta.IsDefined("kernel", "launcher") {
		c.Kernel.Launcher = strings.TrimSpace(raw.Kernel.Launcher)
	}
	if meta.IsDefined("kernel", "default_spec") {
		c.Kernel.DefaultSpec = strings.TrimSpace(raw.Kernel.DefaultSpec)
	}
	if meta.IsDefined("kernel", "jupyter", "url") {
		c.Kernel.JupyterURL = strings.TrimSpace(raw.Kernel.Jupyter.URL)
	}
	if meta.IsDefined("kernel", "jupyter", "token") {
		c.Kernel.JupyterToken = raw.Kernel.Jupyter.Token
	}
	if meta.IsDefined("kernel", "docker", "image") {
		c.Kernel.DockerImage = strings.TrimSpace(raw.Kernel.Docker.Image)
	}
	if meta.IsDefined("kernel", "docker", "specs") {
		c.Kernel.DockerSpecs = raw.Kernel.Docker.Specs
	}
	if meta.IsDefined("execution", "max_retries") {
		c.Execution.MaxRetries = raw.Execution.MaxRetries
	}
	if meta.IsDefined("editor", "command") {
		c.Editor.Command = raw.Editor.Command
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"kernel", "startup_timeout"}, raw.Kernel.StartupTimeout, &c.Kernel.StartupTimeout},
		{[]string{"execution", "timeout"}, raw.Execution.Timeout, &c.Execution.Timeout},
		{[]string{"execution", "poll_interval"}, raw.Execution.PollInterval, &c.Execution.PollInterval},
		{[]string{"execution", "retry_pause"}, raw.Execution.RetryPause, &c.Execution.RetryPause},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("load config: %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) overlayEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("NBTOOL_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("NBTOOL_KERNEL_LAUNCHER"); ok && v != "" {
		c.Kernel.Launcher = v
	}
	if v, ok := lookup("NBTOOL_JUPYTER_URL"); ok && v != "" {
		c.Kernel.JupyterURL = v
	}
	if v, ok := lookup("NBTOOL_JUPYTER_TOKEN"); ok {
		c.Kernel.JupyterToken = v
	}
	if v, ok := lookup("NBTOOL_DOCKER_IMAGE"); ok && v != "" {
		c.Kernel.DockerImage = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Kernel.Launcher {
	case LauncherJupyter:
		if c.Kernel.JupyterURL == "" {
			return fmt.Errorf("invalid config: kernel.jupyter.url is required for the jupyter launcher")
		}
	case LauncherDocker:
		if c.Kernel.DockerImage == "" {
			return fmt.Errorf("invalid config: kernel.docker.image is required for the docker launcher")
		}
	default:
		return fmt.Errorf("invalid config: kernel.launcher %q (expected %s or %s)", c.Kernel.Launcher, LauncherJupyter, LauncherDocker)
	}
	if c.Kernel.DefaultSpec == "" {
		return fmt.Errorf("invalid config: kernel.default_spec must not be empty")
	}
	if c.Kernel.StartupTimeout <= 0 {
		return fmt.Errorf("invalid config: kernel.startup_timeout must be positive")
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("invalid config: execution.timeout must be positive")
	}
	if c.Execution.PollInterval <= 0 || c.Execution.PollInterval >= time.Second {
		return fmt.Errorf("invalid config: execution.poll_interval must be between 0 and 1s")
	}
	if c.Execution.MaxRetries < 1 {
		return fmt.Errorf("invalid config: execution.max_retries must be at least 1")
	}
	if c.Execution.RetryPause < 0 {
		return fmt.Errorf("invalid config: execution.retry_pause must not be negative")
	}
	if len(c.Nbconvert) == 0 {
		return fmt.Errorf("invalid config: nbconvert command must not be empty")
	}
	return nil
}
