package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bridgesched",
	Short: "Activity scheduling and reconciliation engine",
	Long: `bridgesched turns schedule plans into concrete, timezone-aware
activity occurrences for study participants and keeps them in sync
with what participants have already started or finished.

  - Schedule plans are imported from YAML and selected per participant
    with CEL criteria
  - Occurrences are generated from intervals, cron expressions or one-off
    times, anchored on participant events
  - Persisted occurrences always win over regenerated ones
  - Survey references are pinned to the most recent published version

Import plans and list a participant's activities:
  bridgesched plans import plans.yaml
  bridgesched activities current --health-code hc-1`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./bridgesched.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures zerolog from the config file and the verbose flag.
func setupLogging() {
	level := zerolog.InfoLevel
	format := config.DefaultLogFormat
	caller := false

	if cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile}); err == nil {
		if parsed, parseErr := zerolog.ParseLevel(cfg.Logging.Level); parseErr == nil {
			level = parsed
		}
		format = cfg.Logging.Format
		caller = cfg.Logging.Caller
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if strings.EqualFold(format, "json") {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := logger.With().Timestamp()
	if caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// loadConfig reads the config file named by --config, or the default search
// paths, with BRIDGESCHED_ environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: cfgFile,
		EnvPrefix:  config.EnvPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openDB loads the config and opens the database, applying pending
// migrations.
func openDB() (*config.Config, *database.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	log.Debug().Str("path", cfg.Database.Path).Msg("Opened database")
	return cfg, db, nil
}

// commandContext returns the command's context, or a background one when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("bridgesched version %s", "0.1.0-dev")
}
