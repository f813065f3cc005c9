package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "orchestration.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateOrchestration()...)
	errs = append(errs, c.validateOracle()...)
	errs = append(errs, c.validateWorkers()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateOrchestration() []ValidationError {
	var errs []ValidationError
	o := c.Orchestration

	positive := []struct {
		field string
		value int
	}{
		{"orchestration.max_stalls", o.MaxStalls},
		{"orchestration.max_selection_attempts", o.MaxSelectionAttempts},
		{"orchestration.worker_timeout_seconds", o.WorkerTimeoutSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Value: p.value, Message: "must be positive"})
		}
	}

	if o.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestration.max_retries",
			Value:   o.MaxRetries,
			Message: "must be non-negative",
		})
	}
	if o.MaxRounds < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestration.max_rounds",
			Value:   o.MaxRounds,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	const maxWorkerTimeout = 3600
	if o.WorkerTimeoutSeconds > maxWorkerTimeout {
		errs = append(errs, ValidationError{
			Field:   "orchestration.worker_timeout_seconds",
			Value:   o.WorkerTimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxWorkerTimeout),
		})
	}
	return errs
}

func (c *Config) validateOracle() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidProviders(), c.Oracle.Provider) {
		errs = append(errs, ValidationError{
			Field:   "oracle.provider",
			Value:   c.Oracle.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviders(), ", ")),
		})
	}
	if strings.TrimSpace(c.Oracle.Model) == "" {
		errs = append(errs, ValidationError{Field: "oracle.model", Value: c.Oracle.Model, Message: "must not be empty"})
	}
	if c.Oracle.MaxTokens <= 0 {
		errs = append(errs, ValidationError{Field: "oracle.max_tokens", Value: c.Oracle.MaxTokens, Message: "must be positive"})
	}
	if c.Oracle.RequestTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "oracle.request_timeout_seconds",
			Value:   c.Oracle.RequestTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Oracle.BaseURL != "" {
		if err := validateHTTPURL(c.Oracle.BaseURL); err != "" {
			errs = append(errs, ValidationError{Field: "oracle.base_url", Value: c.Oracle.BaseURL, Message: err})
		}
	}
	return errs
}

func (c *Config) validateWorkers() []ValidationError {
	var errs []ValidationError
	w := c.Workers

	if !w.Coder.Enabled && !w.Executor.Enabled && !w.Files.Enabled && !w.Browser.Enabled {
		errs = append(errs, ValidationError{Field: "workers", Value: "none", Message: "at least one worker must be enabled"})
	}

	if w.Executor.Enabled {
		if w.Executor.Python == "" {
			errs = append(errs, ValidationError{Field: "workers.executor.python", Value: "", Message: "must not be empty"})
		}
		if w.Executor.Shell == "" {
			errs = append(errs, ValidationError{Field: "workers.executor.shell", Value: "", Message: "must not be empty"})
		}
	}

	if w.Files.ViewportBytes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "workers.files.viewport_bytes",
			Value:   w.Files.ViewportBytes,
			Message: "must be positive",
		})
	}
	for i, pattern := range w.Files.Allow {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("workers.files.allow[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	if w.Browser.Enabled {
		if err := validateHTTPURL(w.Browser.URL); err != "" {
			errs = append(errs, ValidationError{Field: "workers.browser.url", Value: w.Browser.URL, Message: err})
		}
	}
	return errs
}

func (c *Config) validateServer() []ValidationError {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return []ValidationError{{Field: "server.addr", Value: c.Server.Addr, Message: "must not be empty"}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	switch {
	case c.Logging.MaxSizeMB <= 0:
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be positive"})
	case c.Logging.MaxSizeMB > maxLogSizeMB:
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Value: c.Logging.MaxBackups, Message: "must be non-negative"})
	}
	return errs
}

// validateHTTPURL returns a message describing why raw is unusable, or "".
func validateHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "must use http or https"
	}
	if u.Host == "" {
		return "must include a host"
	}
	return ""
}
