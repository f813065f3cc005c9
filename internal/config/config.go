package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete relay configuration
type Config struct {
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Oracle        OracleConfig        `mapstructure:"oracle"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Server        ServerConfig        `mapstructure:"server"`
	Sessions      SessionsConfig      `mapstructure:"sessions"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Paths         PathsConfig         `mapstructure:"paths"`
}

// OrchestrationConfig bounds the control loop.
type OrchestrationConfig struct {
	// MaxRetries is the number of consecutive failures tolerated per worker
	// before further failures are absorbed without retry bookkeeping (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// MaxStalls is the number of consecutive stalled rounds that triggers
	// replanning (default: 3)
	MaxStalls int `mapstructure:"max_stalls"`
	// MaxSelectionAttempts bounds consecutive failed selections, counting both
	// oracle failures and unknown worker picks (default: 10)
	MaxSelectionAttempts int `mapstructure:"max_selection_attempts"`
	// MaxRounds bounds the number of selection rounds in a session.
	// 0 means unlimited. (default: 50)
	MaxRounds int `mapstructure:"max_rounds"`
	// WorkerTimeoutSeconds is the deadline applied to every worker call (default: 60)
	WorkerTimeoutSeconds int `mapstructure:"worker_timeout_seconds"`
}

// OracleConfig selects and tunes the decision oracle.
type OracleConfig struct {
	// Provider is the oracle backend. Options: "anthropic"
	Provider string `mapstructure:"provider"`
	// Model is the model identifier passed to the provider.
	Model string `mapstructure:"model"`
	// MaxTokens caps each oracle response (default: 4096)
	MaxTokens int `mapstructure:"max_tokens"`
	// APIKeyEnv names the environment variable holding the API key
	// (default: ANTHROPIC_API_KEY)
	APIKeyEnv string `mapstructure:"api_key_env"`
	// BaseURL overrides the provider endpoint. Empty uses the SDK default.
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeoutSeconds is the deadline for a single oracle request (default: 120)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// WorkersConfig enables and configures the built-in workers.
type WorkersConfig struct {
	Coder    CoderConfig    `mapstructure:"coder"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Files    FilesConfig    `mapstructure:"files"`
	Browser  BrowserConfig  `mapstructure:"browser"`
}

// CoderConfig configures the code-writing worker.
type CoderConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExecutorConfig configures the code-running worker.
type ExecutorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// WorkDir is where code artifacts are written and run.
	// Empty uses {data_dir}/workspace.
	WorkDir string `mapstructure:"work_dir"`
	// Python is the interpreter used for python artifacts (default: python3)
	Python string `mapstructure:"python"`
	// Shell is the interpreter used for shell artifacts (default: sh)
	Shell string `mapstructure:"shell"`
}

// FilesConfig configures the read-only file surfer.
type FilesConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Root is the directory the surfer may read. Empty uses the working directory.
	Root string `mapstructure:"root"`
	// Allow lists glob patterns (relative to Root) the surfer may open.
	// Empty allows every file under Root.
	Allow []string `mapstructure:"allow"`
	// ViewportBytes is the page size when reading files (default: 5120)
	ViewportBytes int `mapstructure:"viewport_bytes"`
}

// BrowserConfig configures the web browsing worker.
type BrowserConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URL is the streaming endpoint of the browsing service.
	URL string `mapstructure:"url"`
}

// ServerConfig configures `relay serve`.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8081)
	Addr string `mapstructure:"addr"`
	// AllowedOrigins restricts websocket origins. Empty allows same-origin only;
	// "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SessionsConfig controls persistence of finished sessions.
type SessionsConfig struct {
	// Persist writes each finished session to disk (default: true)
	Persist bool `mapstructure:"persist"`
	// Dir is where session records are written. Empty uses {data_dir}/sessions.
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is active (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// TracingConfig controls span recording.
type TracingConfig struct {
	// Enabled records session, oracle and worker spans and writes them to
	// the debug log (default: false)
	Enabled bool `mapstructure:"enabled"`
}

// PathsConfig controls where relay keeps its state.
type PathsConfig struct {
	// DataDir holds logs, sessions and the executor workspace.
	// Empty uses $XDG_STATE_HOME/relay or ~/.local/state/relay.
	DataDir string `mapstructure:"data_dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			MaxRetries:           3,
			MaxStalls:            3,
			MaxSelectionAttempts: 10,
			MaxRounds:            50,
			WorkerTimeoutSeconds: 60,
		},
		Oracle: OracleConfig{
			Provider:              "anthropic",
			Model:                 "claude-sonnet-4-5",
			MaxTokens:             4096,
			APIKeyEnv:             "ANTHROPIC_API_KEY",
			RequestTimeoutSeconds: 120,
		},
		Workers: WorkersConfig{
			Coder: CoderConfig{Enabled: true},
			Executor: ExecutorConfig{
				Enabled: true,
				Python:  "python3",
				Shell:   "sh",
			},
			Files: FilesConfig{
				Enabled:       true,
				Allow:         []string{},
				ViewportBytes: 5 * 1024,
			},
			Browser: BrowserConfig{
				Enabled: false,
				URL:     "http://localhost:8000/api/v1/web/stream",
			},
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8081",
			AllowedOrigins: []string{},
		},
		Sessions: SessionsConfig{
			Persist: true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// WorkerTimeout returns the per-call worker deadline as a duration.
func (c *OrchestrationConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request oracle deadline as a duration.
func (c *OracleConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("orchestration.max_retries", defaults.Orchestration.MaxRetries)
	viper.SetDefault("orchestration.max_stalls", defaults.Orchestration.MaxStalls)
	viper.SetDefault("orchestration.max_selection_attempts", defaults.Orchestration.MaxSelectionAttempts)
	viper.SetDefault("orchestration.max_rounds", defaults.Orchestration.MaxRounds)
	viper.SetDefault("orchestration.worker_timeout_seconds", defaults.Orchestration.WorkerTimeoutSeconds)

	viper.SetDefault("oracle.provider", defaults.Oracle.Provider)
	viper.SetDefault("oracle.model", defaults.Oracle.Model)
	viper.SetDefault("oracle.max_tokens", defaults.Oracle.MaxTokens)
	viper.SetDefault("oracle.api_key_env", defaults.Oracle.APIKeyEnv)
	viper.SetDefault("oracle.base_url", defaults.Oracle.BaseURL)
	viper.SetDefault("oracle.request_timeout_seconds", defaults.Oracle.RequestTimeoutSeconds)

	viper.SetDefault("workers.coder.enabled", defaults.Workers.Coder.Enabled)
	viper.SetDefault("workers.executor.enabled", defaults.Workers.Executor.Enabled)
	viper.SetDefault("workers.executor.work_dir", defaults.Workers.Executor.WorkDir)
	viper.SetDefault("workers.executor.python", defaults.Workers.Executor.Python)
	viper.SetDefault("workers.executor.shell", defaults.Workers.Executor.Shell)
	viper.SetDefault("workers.files.enabled", defaults.Workers.Files.Enabled)
	viper.SetDefault("workers.files.root", defaults.Workers.Files.Root)
	viper.SetDefault("workers.files.allow", defaults.Workers.Files.Allow)
	viper.SetDefault("workers.files.viewport_bytes", defaults.Workers.Files.ViewportBytes)
	viper.SetDefault("workers.browser.enabled", defaults.Workers.Browser.Enabled)
	viper.SetDefault("workers.browser.url", defaults.Workers.Browser.URL)

	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	viper.SetDefault("sessions.persist", defaults.Sessions.Persist)
	viper.SetDefault("sessions.dir", defaults.Sessions.Dir)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)

	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	// Comma-separated strings (e.g. RELAY_SERVER_ALLOWED_ORIGINS) decode into lists.
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&cfg, hook); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "relay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".config", "relay")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveDataDir returns the directory holding logs, sessions and the
// executor workspace, expanding a leading ~.
func (p *PathsConfig) ResolveDataDir() string {
	if p.DataDir != "" {
		return expandHome(p.DataDir)
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "relay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".local", "state", "relay")
}

// LogDir returns the directory debug.log is written to.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.ResolveDataDir(), "logs")
}

// SessionDir returns the directory session records are written to.
func (c *Config) SessionDir() string {
	if c.Sessions.Dir != "" {
		return expandHome(c.Sessions.Dir)
	}
	return filepath.Join(c.Paths.ResolveDataDir(), "sessions")
}

// ExecutorDir returns the executor's working directory.
func (c *Config) ExecutorDir() string {
	if c.Workers.Executor.WorkDir != "" {
		return expandHome(c.Workers.Executor.WorkDir)
	}
	return filepath.Join(c.Paths.ResolveDataDir(), "workspace")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// ValidProviders returns the supported oracle providers
func ValidProviders() []string {
	return []string{"anthropic"}
}
