package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show every configuration field with its default and effective value
as JSON. Secrets are masked.

Values come from the config file, then BRIDGESCHED_ environment
variables, e.g. BRIDGESCHED_DATABASE_PATH.`,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := config.ConfigFilePath(cfgFile)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(config.GetConfigSchema(cfg, path))
}
