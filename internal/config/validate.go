package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedBackends is the set of valid backend kinds.
var recognizedBackends = map[string]bool{
	"ollama": true,
	"openai": true,
}

// destructivePatterns flags build commands that would damage the working tree
// instead of building it. The loop runs its command unattended, so an
// obviously destructive command is rejected at startup.
var destructivePatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	":(){",
	"dd if=",
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Repo == "" {
		errs = append(errs, ValidationError{Field: "repo", Message: "is required"})
	}
	if cfg.Build.Command == "" {
		errs = append(errs, ValidationError{Field: "build.command", Message: "is required"})
	}
	for _, pat := range destructivePatterns {
		if strings.Contains(cfg.Build.Command, pat) {
			errs = append(errs, ValidationError{
				Field:   "build.command",
				Message: fmt.Sprintf("contains destructive operation %q", pat),
			})
		}
	}

	if cfg.Loop.MaxIterations < 1 {
		errs = append(errs, ValidationError{Field: "loop.max_iterations", Message: "must be at least 1"})
	}
	if cfg.Loop.Window < 2 {
		errs = append(errs, ValidationError{Field: "loop.window", Message: "must be at least 2"})
	}

	if !recognizedBackends[cfg.Backend.Kind] {
		errs = append(errs, ValidationError{
			Field:   "backend.kind",
			Message: fmt.Sprintf("unrecognized backend %q", cfg.Backend.Kind),
		})
	}
	if cfg.Backend.Kind == "openai" && cfg.Backend.Endpoint == "" && cfg.Backend.APIKeyEnv == "" {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: "openai backend requires an endpoint or an api_key_env",
		})
	}
	if cfg.Backend.Retries < 1 {
		errs = append(errs, ValidationError{Field: "backend.retries", Message: "must be at least 1"})
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"build.timeout", cfg.Build.Timeout},
		{"loop.rate_limit", cfg.Loop.RateLimit},
		{"backend.retry_delay", cfg.Backend.RetryDelay},
		{"backend.request_timeout", cfg.Backend.RequestTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, ValidationError{
				Field:   field.name,
				Message: fmt.Sprintf("invalid duration %q", field.value),
			})
		}
	}

	if cfg.Checkpoint.Branch == cfg.Checkpoint.Trunk {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.branch",
			Message: "integration branch must differ from trunk",
		})
	}

	return errs
}
