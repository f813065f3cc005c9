package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify relay configuration",
	Long: `View or modify relay configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  relay config set orchestration.max_stalls 2
  relay config set oracle.model claude-sonnet-4-5
  relay config set workers.browser.enabled true
  relay config set workers.files.allow "*.md,docs/**"

Run 'relay config show' to list every key. The resulting configuration is
validated before it is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/relay/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	raw := args[1]

	if key == "config" || !slices.Contains(viper.AllKeys(), key) {
		return fmt.Errorf("unknown configuration key: %s\nRun 'relay config show' to see valid keys", key)
	}

	value, err := parseConfigValue(key, raw, viper.Get(key))
	if err != nil {
		return err
	}
	viper.Set(key, value)

	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// parseConfigValue converts raw to the type of the key's current value.
func parseConfigValue(key, raw string, current any) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int, int64:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case []string, []any:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return raw, nil
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'relay config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize relay's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/relay/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: RELAY_* (e.g., RELAY_ORCHESTRATION_MAX_STALLS)")
	return nil
}

const configTemplate = `# relay configuration

# Bounds on the control loop
orchestration:
  # Consecutive failures per worker before retry bookkeeping stops
  max_retries: 3
  # Consecutive stalled rounds that trigger replanning
  max_stalls: 3
  # Consecutive failed selections before the session fails
  max_selection_attempts: 10
  # Selection rounds per session (0 = unlimited)
  max_rounds: 50
  # Deadline for every worker call
  worker_timeout_seconds: 60

# Decision oracle
oracle:
  provider: anthropic
  model: claude-sonnet-4-5
  max_tokens: 4096
  # Environment variable holding the API key
  api_key_env: ANTHROPIC_API_KEY
  # Override the API endpoint (empty = provider default)
  base_url: ""
  request_timeout_seconds: 120

# Built-in workers
workers:
  coder:
    enabled: true
  executor:
    enabled: true
    # Where programs are written and run (empty = {data_dir}/workspace)
    work_dir: ""
    python: python3
    shell: sh
  files:
    enabled: true
    # Directory the file surfer may read (empty = current directory)
    root: ""
    # Glob patterns the surfer may open (empty = everything under root)
    allow: []
    viewport_bytes: 5120
  browser:
    enabled: false
    url: http://localhost:8000/api/v1/web/stream

# relay serve
server:
  addr: 127.0.0.1:8081
  # Websocket origins ("*" = any, empty = same host only)
  allowed_origins: []

sessions:
  # Save every finished session
  persist: true
  # Empty = {data_dir}/sessions
  dir: ""

logging:
  enabled: true
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3

tracing:
  # Record session, oracle and worker spans into the debug log
  enabled: false

paths:
  # Logs, sessions and the executor workspace (empty = ~/.local/state/relay)
  data_dir: ""
`
