package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/activities"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	activitiesHealthCode string
	activitiesJSON       bool

	activitiesStartsOn       string
	activitiesDays           int
	activitiesTimeZone       string
	activitiesAppName        string
	activitiesAppVersion     int
	activitiesMinimum        int
	activitiesActionableOnly bool
	activitiesNow            string

	activitiesUpdateFile string
	activitiesGUID       string
	activitiesStartedOn  string
	activitiesFinishedOn string
	activitiesClientData string
)

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Scheduled activity commands",
	Long: `Retrieve and update a participant's scheduled activities.

Occurrences are generated from the participant's schedule plans for the
requested window and merged with what is already persisted: rows the
participant has started or finished are never replaced. New occurrences
are persisted on retrieval.

Examples:
  bridgesched activities current --health-code hc-1 --days 4
  bridgesched activities history --health-code hc-1 --starts-on 2024-03-01 --days 14
  bridgesched activities finish --health-code hc-1 --guid tap:2024-03-04T10:00:00.000
  bridgesched activities update --health-code hc-1 --file updates.json
  bridgesched activities purge --health-code hc-1`,
}

var activitiesCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "List actionable activities in a window",
	RunE:  runActivitiesCurrent,
}

var activitiesHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List every activity in a window, including finished and expired ones",
	RunE:  runActivitiesHistory,
}

var activitiesUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply a batch of updates from a JSON file",
	Long: `Apply a batch of updates from a JSON file ("-" reads stdin).

The file holds an array of objects with a guid and any of startedOn,
finishedOn and clientData. The batch is applied as a whole or not at all.

  [{"guid": "tap:2024-03-04T10:00:00.000", "startedOn": "2024-03-04T10:02:00Z"}]`,
	RunE: runActivitiesUpdate,
}

var activitiesFinishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Mark one activity as finished",
	RunE:  runActivitiesFinish,
}

var activitiesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one persisted activity as JSON",
	RunE:  runActivitiesShow,
}

var activitiesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every activity and recorded event of a participant",
	RunE:  runActivitiesPurge,
}

func init() {
	activitiesCmd.PersistentFlags().StringVar(&activitiesHealthCode, "health-code", "", "Participant health code")
	_ = activitiesCmd.MarkPersistentFlagRequired("health-code")

	for _, cmd := range []*cobra.Command{activitiesCurrentCmd, activitiesHistoryCmd} {
		cmd.Flags().StringVar(&activitiesStartsOn, "starts-on", "", "Window start, a date in the request zone or RFC 3339 (default today)")
		cmd.Flags().IntVar(&activitiesDays, "days", 4, "Window length in days")
		cmd.Flags().StringVar(&activitiesTimeZone, "time-zone", "", "Request time zone (default the participant's)")
		cmd.Flags().StringVar(&activitiesAppName, "app-name", "", "Calling app name")
		cmd.Flags().IntVar(&activitiesAppVersion, "app-version", 0, "Calling app version")
		cmd.Flags().IntVar(&activitiesMinimum, "minimum", 0, "Minimum occurrences per schedule")
		cmd.Flags().StringVar(&activitiesNow, "now", "", "Evaluate as of this instant, RFC 3339 (default now)")
		cmd.Flags().BoolVar(&activitiesJSON, "json", false, "Print activities as JSON")
	}
	activitiesCurrentCmd.Flags().BoolVar(&activitiesActionableOnly, "actionable-only", false, "Hide finished activities")

	activitiesUpdateCmd.Flags().StringVarP(&activitiesUpdateFile, "file", "f", "", "JSON file of updates")
	_ = activitiesUpdateCmd.MarkFlagRequired("file")

	activitiesFinishCmd.Flags().StringVar(&activitiesGUID, "guid", "", "Occurrence GUID")
	activitiesFinishCmd.Flags().StringVar(&activitiesStartedOn, "started-on", "", "Start instant, RFC 3339")
	activitiesFinishCmd.Flags().StringVar(&activitiesFinishedOn, "finished-on", "", "Finish instant, RFC 3339 (default now)")
	activitiesFinishCmd.Flags().StringVar(&activitiesClientData, "client-data", "", "Client data JSON")
	_ = activitiesFinishCmd.MarkFlagRequired("guid")

	activitiesShowCmd.Flags().StringVar(&activitiesGUID, "guid", "", "Occurrence GUID")
	_ = activitiesShowCmd.MarkFlagRequired("guid")

	activitiesCmd.AddCommand(activitiesCurrentCmd)
	activitiesCmd.AddCommand(activitiesHistoryCmd)
	activitiesCmd.AddCommand(activitiesUpdateCmd)
	activitiesCmd.AddCommand(activitiesFinishCmd)
	activitiesCmd.AddCommand(activitiesShowCmd)
	activitiesCmd.AddCommand(activitiesPurgeCmd)

	rootCmd.AddCommand(activitiesCmd)
}

func runActivitiesCurrent(cmd *cobra.Command, args []string) error {
	return runActivitiesGet(cmd, false)
}

func runActivitiesHistory(cmd *cobra.Command, args []string) error {
	return runActivitiesGet(cmd, true)
}

func runActivitiesGet(cmd *cobra.Command, history bool) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := commandContext(cmd)
	e, err := newEngine(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer e.Close()

	req := scheduleRequest{
		HealthCode:     activitiesHealthCode,
		StartsOn:       activitiesStartsOn,
		Days:           activitiesDays,
		AppName:        activitiesAppName,
		AppVersion:     activitiesAppVersion,
		Minimum:        activitiesMinimum,
		ActionableOnly: activitiesActionableOnly && !history,
	}
	if req.TimeZone, err = parseZone(activitiesTimeZone); err != nil {
		return err
	}
	if activitiesNow != "" {
		if req.Now, err = parseInstant(activitiesNow); err != nil {
			return err
		}
	}

	sc, err := e.scheduleContext(ctx, req)
	if err != nil {
		return err
	}

	var list []*models.ScheduledActivity
	if history {
		list, err = e.service.GetHistory(ctx, sc)
	} else {
		list, err = e.service.GetCurrent(ctx, sc)
	}
	if err != nil {
		return err
	}
	e.drain(ctx)

	return printActivities(cmd.OutOrStdout(), list, sc.Now, activitiesJSON)
}

// activityUpdate is the JSON shape of one entry of an update batch.
type activityUpdate struct {
	GUID       string          `json:"guid"`
	StartedOn  *time.Time      `json:"startedOn,omitempty"`
	FinishedOn *time.Time      `json:"finishedOn,omitempty"`
	ClientData json.RawMessage `json:"clientData,omitempty"`
}

func (u *activityUpdate) toScheduledActivity() *models.ScheduledActivity {
	return &models.ScheduledActivity{
		GUID:       u.GUID,
		StartedOn:  u.StartedOn,
		FinishedOn: u.FinishedOn,
		ClientData: u.ClientData,
	}
}

func readUpdates(r io.Reader) ([]*models.ScheduledActivity, error) {
	var entries []*activityUpdate
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing updates: %w", err)
	}

	out := make([]*models.ScheduledActivity, len(entries))
	for i, entry := range entries {
		if entry != nil {
			out[i] = entry.toScheduledActivity()
		}
	}
	return out, nil
}

func runActivitiesUpdate(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if activitiesUpdateFile != "-" {
		f, err := os.Open(activitiesUpdateFile)
		if err != nil {
			return fmt.Errorf("opening updates: %w", err)
		}
		defer f.Close()
		in = f
	}

	updates, err := readUpdates(in)
	if err != nil {
		return err
	}

	return applyUpdates(cmd, updates)
}

func runActivitiesFinish(cmd *cobra.Command, args []string) error {
	update := &activityUpdate{GUID: activitiesGUID}

	finishedOn := time.Now().UTC().Truncate(time.Millisecond)
	if activitiesFinishedOn != "" {
		t, err := parseInstant(activitiesFinishedOn)
		if err != nil {
			return err
		}
		finishedOn = t
	}
	update.FinishedOn = &finishedOn

	if activitiesStartedOn != "" {
		t, err := parseInstant(activitiesStartedOn)
		if err != nil {
			return err
		}
		update.StartedOn = &t
	}
	if activitiesClientData != "" {
		if !json.Valid([]byte(activitiesClientData)) {
			return fmt.Errorf("client data is not valid JSON")
		}
		update.ClientData = json.RawMessage(activitiesClientData)
	}

	return applyUpdates(cmd, []*models.ScheduledActivity{update.toScheduledActivity()})
}

func applyUpdates(cmd *cobra.Command, updates []*models.ScheduledActivity) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := commandContext(cmd)
	e, err := newEngine(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.service.UpdateBatch(ctx, activitiesHealthCode, updates); err != nil {
		return err
	}
	e.drain(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated %d activities\n", len(updates))
	return nil
}

func runActivitiesShow(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	sa, err := activities.NewStore(db).GetOccurrence(commandContext(cmd), activitiesHealthCode, activitiesGUID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sa)
}

func runActivitiesPurge(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := commandContext(cmd)
	e, err := newEngine(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.service.DeleteAllForOwner(ctx, activitiesHealthCode); err != nil {
		return err
	}
	if err := e.events.DeleteAll(ctx, activitiesHealthCode); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted activities and events of %s\n", activitiesHealthCode)
	return nil
}

func printActivities(out io.Writer, list []*models.ScheduledActivity, now time.Time, asJSON bool) error {
	if asJSON {
		if list == nil {
			list = []*models.ScheduledActivity{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No scheduled activities.")
		return nil
	}

	for _, sa := range list {
		expires := "never"
		if sa.LocalExpiresOn != nil {
			expires = sa.LocalExpiresOn.String()
		}
		fmt.Fprintf(out, "%s  %-9s  %s  expires %s  %s\n",
			sa.LocalScheduledOn, sa.Status(now), sa.GUID, expires, sa.Activity.Label)
	}
	return nil
}
