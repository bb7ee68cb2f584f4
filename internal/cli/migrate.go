package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Database migration commands for bridgesched.

Migrations are embedded in the binary and applied in version order.
Every other command that opens the database applies pending migrations
first. An applied migration whose file has changed stops startup.

Examples:
  bridgesched migrate status   Show applied and pending migrations
  bridgesched migrate apply    Apply pending migrations`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Show applied and pending migrations without applying anything.`,
	RunE:  runMigrateStatus,
}

var migrateApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending migrations",
	RunE:  runMigrateApply,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateApplyCmd)

	rootCmd.AddCommand(migrateCmd)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Opening through database.Open would apply pending migrations first.
	sqlDB, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlDB.Close()

	list, err := migrations.Status(commandContext(cmd), sqlDB)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	pending := 0
	for _, m := range list {
		if m.Applied {
			fmt.Fprintf(out, "  ✓ %03d - %s (applied %s)\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"))
			continue
		}
		pending++
		fmt.Fprintf(out, "  ○ %03d - %s\n", m.Version, m.Name)
	}

	fmt.Fprintln(out)
	if pending == 0 {
		fmt.Fprintln(out, "No pending migrations.")
	} else {
		fmt.Fprintf(out, "%d pending migrations. Run 'bridgesched migrate apply' to apply them.\n", pending)
	}
	return nil
}

func runMigrateApply(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Run(commandContext(cmd), db.DB); err != nil {
		return err
	}

	applied, err := migrations.GetApplied(commandContext(cmd), db.DB)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Database is up to date (%d migrations applied)\n", len(applied))
	return nil
}
