package config

import "time"

// Config is the top-level configuration structure parsed from medic YAML.
type Config struct {
	Repo       string     `yaml:"repo"`
	Task       string     `yaml:"task"`
	Build      Build      `yaml:"build"`
	Loop       Loop       `yaml:"loop"`
	Backend    Backend    `yaml:"backend"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Ignore     []string   `yaml:"ignore"`
	HintsDir   string     `yaml:"hints_dir"`
}

// Build configures the build command the repair loop drives.
type Build struct {
	Command   string `yaml:"command"`
	Timeout   string `yaml:"timeout"`
	LogFile   string `yaml:"log_file"`
	TailLines int    `yaml:"tail_lines"`
}

// Loop configures the control loop: budgets, windows, pacing.
type Loop struct {
	MaxIterations   int    `yaml:"max_iterations"`
	Window          int    `yaml:"window"`
	BackupRetention int    `yaml:"backup_retention"`
	RateLimit       string `yaml:"rate_limit"`
	AutoApprove     bool   `yaml:"auto_approve"`
}

// Backend configures the fix-proposal backend.
type Backend struct {
	Kind           string `yaml:"kind"` // "ollama" or "openai"
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Retries        int    `yaml:"retries"`
	RetryDelay     string `yaml:"retry_delay"`
	RequestTimeout string `yaml:"request_timeout"`
}

// Checkpoint configures the integration branch the loop commits to.
type Checkpoint struct {
	Branch string `yaml:"branch"`
	Trunk  string `yaml:"trunk"`
	Push   *bool  `yaml:"push"`
}

// BuildTimeout returns the parsed build timeout.
func (c *Config) BuildTimeout() time.Duration {
	return parseDuration(c.Build.Timeout, 10*time.Minute)
}

// RateLimit returns the minimum delay between proposal requests.
func (c *Config) RateLimit() time.Duration {
	return parseDuration(c.Loop.RateLimit, 2*time.Second)
}

// RetryDelay returns the delay between backend retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return parseDuration(c.Backend.RetryDelay, 5*time.Second)
}

// RequestTimeout returns the per-request backend timeout.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Backend.RequestTimeout, 10*time.Minute)
}

// PushEnabled reports whether Finish should attempt to publish the branch.
func (c *Config) PushEnabled() bool {
	if c.Checkpoint.Push == nil {
		return true
	}
	return *c.Checkpoint.Push
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
