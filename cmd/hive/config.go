package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hive configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			return setConfigKey(out, cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values in key order.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	settings := config.Settings(cfg)
	keys := make([]string, 0, len(settings)+1)
	for k := range settings {
		keys = append(keys, k)
	}
	keys = append(keys, "anthropic.api_key")
	sort.Strings(keys)

	for _, k := range keys {
		v, _ := getConfigValue(cfg, k)
		fmt.Fprintf(w, "%s: %s\n", k, v)
	}
	if path := config.GetProjectConfigPath(); path != "" {
		fmt.Fprintf(w, "\n# project overrides from %s\n", path)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "anthropic.api_key" {
		apiKey, source, _ := config.ResolveAPIKey(cfg)
		if apiKey == "" {
			return config.MaskAPIKey(""), nil
		}
		return fmt.Sprintf("%s (%s)", config.MaskAPIKey(apiKey), source), nil
	}
	value, ok := config.Settings(cfg)[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(value), nil
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(w io.Writer, cfg *config.Config, key, value string) error {
	updated, err := config.Set(cfg, key, value)
	if err != nil {
		return err
	}
	if err := config.Save(updated); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	printStatus(w, "✓", fmt.Sprintf("Set %s = %s", key, value), color.FgGreen)
	return nil
}
