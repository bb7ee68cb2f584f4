package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/criteria"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/generator"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/plans"
)

var (
	plansWatch bool
	plansAppID string
	plansJSON  bool
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Schedule plan commands",
	Long: `Manage the schedule plans participants are scheduled from.

Plans are authored as YAML files holding an appId and a list of plans.
A plan without a guid is created; a plan with a known guid is updated
and its version incremented.

Examples:
  bridgesched plans import plans.yaml
  bridgesched plans import plans.yaml --watch
  bridgesched plans list --app study-1`,
}

var plansImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import schedule plans from a YAML file",
	Long: `Import schedule plans from a YAML file.

Every plan is checked before anything is written: structure, cron
expressions and criteria expressions must all be valid. Labels are
stripped of markup.

With --watch, the file is re-imported whenever it changes until the
command is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlansImport,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedule plans of an app",
	RunE:  runPlansList,
}

func init() {
	plansImportCmd.Flags().BoolVarP(&plansWatch, "watch", "w", false, "Re-import the file whenever it changes")

	plansListCmd.Flags().StringVar(&plansAppID, "app", "", "App ID")
	plansListCmd.Flags().BoolVar(&plansJSON, "json", false, "Print plans as JSON")
	_ = plansListCmd.MarkFlagRequired("app")

	plansCmd.AddCommand(plansImportCmd)
	plansCmd.AddCommand(plansListCmd)

	rootCmd.AddCommand(plansCmd)
}

func runPlansImport(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	matcher, err := criteria.NewMatcher()
	if err != nil {
		return fmt.Errorf("creating criteria matcher: %w", err)
	}

	importer := plans.NewImporter(plans.NewStore(db), matcher, generator.New())
	path := args[0]
	out := cmd.OutOrStdout()

	if err := importPlanFile(commandContext(cmd), importer, path, out); err != nil {
		return err
	}
	if !plansWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := NewPlanWatcher(path, watchDebounce, func(changed string) {
		if err := importPlanFile(ctx, importer, changed, out); err != nil {
			log.Error().Err(err).Str("path", changed).Msg("Failed to import plan file")
		}
	})
	if err != nil {
		return fmt.Errorf("watching plan file: %w", err)
	}
	watcher.Start(ctx)

	fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", path)
	<-ctx.Done()

	return watcher.Stop()
}

func importPlanFile(ctx context.Context, importer *plans.Importer, path string, out io.Writer) error {
	file, err := plans.ParseFile(path)
	if err != nil {
		return err
	}

	imported, err := importer.Import(ctx, file)
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}

	for _, plan := range imported {
		fmt.Fprintf(out, "  ✓ %s %q (version %d)\n", plan.GUID, plan.Label, plan.Version)
	}
	fmt.Fprintf(out, "✓ Imported %d schedule plans\n", len(imported))
	return nil
}

func runPlansList(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := plans.NewStore(db).ListPlans(commandContext(cmd), plansAppID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if plansJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintf(out, "No schedule plans for app %s.\n", plansAppID)
		return nil
	}

	for _, plan := range list {
		fmt.Fprintf(out, "%s  v%d  %s  %s\n", plan.GUID, plan.Version, plan.Strategy.Type, plan.Label)
	}
	return nil
}
