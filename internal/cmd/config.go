package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pairpad/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Pairpad configuration",
	Long: `View or modify Pairpad configuration.

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
  pairpad config set session.conflict_resolution manual
  pairpad config set store.kind file
  pairpad config set broadcast.redis_addr redis.internal:6379

The resulting configuration is validated before it is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/pairpad/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd.OutOrStdout())

	if viper.ConfigFileUsed() != "" {
		p.line("# Config file: %s", viper.ConfigFileUsed())
	} else {
		p.line("# Config file: (none - using defaults)")
	}

	cfg, err := config.Load()
	if err != nil {
		p.line("%s", p.fail("# "+strings.ReplaceAll(err.Error(), "\n", "\n# ")))
		p.line("# Showing defaults instead.")
		cfg = config.Default()
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// keyKind is the value type of a settable key.
type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindList
)

var settableKeys = map[string]keyKind{
	"session.auto_save":            kindBool,
	"session.conflict_resolution":  kindString,
	"session.max_participants":     kindInt,
	"session.timeout_minutes":      kindInt,
	"session.allow_disjoint_merge": kindBool,
	"session.read_only_patterns":   kindList,
	"document.op_log_size":         kindInt,
	"logging.enabled":              kindBool,
	"logging.level":                kindString,
	"logging.dir":                  kindString,
	"logging.max_size_mb":          kindInt,
	"logging.max_backups":          kindInt,
	"logging.compress":             kindBool,
	"store.kind":                   kindString,
	"store.dir":                    kindString,
	"broadcast.kind":               kindString,
	"broadcast.redis_addr":         kindString,
	"broadcast.redis_db":           kindInt,
	"broadcast.channel_prefix":     kindString,
	"broadcast.publish_timeout_ms": kindInt,
	"metrics.enabled":              kindBool,
}

// settableKeyNames returns the keys accepted by config set, sorted.
func settableKeyNames() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nValid keys:\n  %s", key, strings.Join(settableKeyNames(), "\n  "))
	}
	switch kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case kindList:
		if value == "" {
			return []string{}, nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	viper.Set(key, value)
	if _, err := config.Load(); err != nil {
		return err
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	p := newPrinter(cmd.OutOrStdout())
	p.line("Set %s = %v", key, value)
	p.line("Config saved to %s", configFile)
	return nil
}

const configHeader = `# Pairpad configuration
#
# session.conflict_resolution: auto (last writer wins), manual (block the
#   file until resolved), or user_choice (reject the stale change only)
# store.kind: memory or file
# broadcast.kind: local or redis
#
# Every key can be overridden with a PAIRPAD_ environment variable, e.g.
# PAIRPAD_SESSION_MAX_PARTICIPANTS=4.

`

// defaultConfigFile renders the default configuration with a header.
func defaultConfigFile() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(config.Default()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'pairpad config set' to modify values", configFile)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := defaultConfigFile()
	if err != nil {
		return fmt.Errorf("render default config: %w", err)
	}
	if err := os.WriteFile(configFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	p := newPrinter(cmd.OutOrStdout())
	p.line("Created config file at %s", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd.OutOrStdout())
	if viper.ConfigFileUsed() != "" {
		p.line("Active config: %s", viper.ConfigFileUsed())
	} else {
		p.line("Default path: %s (not created)", config.ConfigFile())
	}

	p.line("\nSearch paths:")
	p.line("  1. %s", filepath.Join(config.ConfigDir(), "config.yaml"))
	p.line("  2. ./config.yaml (current directory)")
	p.line("\nEnvironment variables: PAIRPAD_* (e.g., PAIRPAD_STORE_KIND)")
	return nil
}
