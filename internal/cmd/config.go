package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/term"
)

var configShowFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage swarmproxy's configuration.

The configuration file is read from --config, $SWARMPROXY_CONFIG, or
~/.config/swarmproxy/config.yaml ($XDG_CONFIG_HOME/swarmproxy/config.yaml if
XDG_CONFIG_HOME is set). Files ending in .toml are read as TOML, anything
else as YAML.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective config",
	Long: `Print the effective configuration: file values over defaults, with
environment overrides applied and ~ expanded.

If no config file exists, shows the default configuration.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	Args:  cobra.NoArgs,
	Run:   runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config file",
	Long: `Create the default configuration file if it doesn't exist.

YAML files get a fully-commented template; TOML files get the defaults.
If the file already exists, this command does nothing.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configShowFormat, "format", "yaml", "output format: yaml or toml")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var format config.Format
	switch strings.ToLower(configShowFormat) {
	case "yaml", "yml":
		format = config.YAML
	case "toml":
		format = config.TOML
	default:
		return fmt.Errorf("unknown format %q (want yaml or toml)", configShowFormat)
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := config.Marshal(cfg, format)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	term.Print(string(data))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	term.Println(effectiveConfigPath())
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := effectiveConfigPath()

	created, err := config.WriteDefault(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		term.Printf("Config already exists at: %s\n", path)
		return nil
	}
	term.Printf("Created default config at: %s\n", path)
	return nil
}
