package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a medic configuration from the given YAML file path.
// After parsing, defaults are applied to any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a medic config in standard locations and loads the
// first one found. Search order: ./medic.yaml, ~/.medic/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"medic.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".medic", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no medic config found (searched: %v)", candidates)
}

// Default returns a config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in values for fields the config file left unset.
func applyDefaults(cfg *Config) {
	if cfg.Repo == "" {
		cfg.Repo = "."
	}
	if cfg.Build.Command == "" {
		cfg.Build.Command = "make"
	}
	if cfg.Build.LogFile == "" {
		cfg.Build.LogFile = "build.log"
	}
	if cfg.Build.TailLines <= 0 {
		cfg.Build.TailLines = 200
	}
	if cfg.Loop.MaxIterations <= 0 {
		cfg.Loop.MaxIterations = 10
	}
	if cfg.Loop.Window <= 0 {
		cfg.Loop.Window = 5
	}
	if cfg.Loop.BackupRetention <= 0 {
		cfg.Loop.BackupRetention = 3
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "ollama"
	}
	if cfg.Backend.Endpoint == "" && cfg.Backend.Kind == "ollama" {
		cfg.Backend.Endpoint = "http://127.0.0.1:11434"
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = "llama3:8b-instruct-q4_K_M"
	}
	if cfg.Backend.APIKeyEnv == "" {
		cfg.Backend.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Backend.Retries <= 0 {
		cfg.Backend.Retries = 3
	}
	if cfg.Checkpoint.Branch == "" {
		cfg.Checkpoint.Branch = "medic/autofix"
	}
	if cfg.Checkpoint.Trunk == "" {
		cfg.Checkpoint.Trunk = "main"
	}
	if len(cfg.Ignore) == 0 {
		cfg.Ignore = []string{".git/**", "build/**", "**/__pycache__/**", "**/*.bak"}
	}
}
