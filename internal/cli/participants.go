package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/activities"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/events"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/participants"
)

var (
	participantAppID      string
	participantHealthCode string
	participantUserID     string
	participantTimeZone   string
	participantDataGroups []string
	participantSubstudies []string
	participantLanguages  []string
	participantCreatedOn  string

	participantEventID string
	participantEventAt string
)

var participantsCmd = &cobra.Command{
	Use:   "participants",
	Short: "Participant enrollment commands",
	Long: `Enroll participants and record the anchor events their schedules
are computed from.

Enrolling records the enrollment and created_on events. Other events,
such as a study's custom events, are recorded with 'participants event'.

Examples:
  bridgesched participants enroll --app study-1 --health-code hc-1 --time-zone America/Los_Angeles --data-groups group1
  bridgesched participants event --health-code hc-1 --event-id two_weeks_before_surgery --at 2024-03-10T09:00:00Z
  bridgesched participants show --health-code hc-1`,
}

var participantsEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a participant",
	RunE:  runParticipantsEnroll,
}

var participantsEventCmd = &cobra.Command{
	Use:   "event",
	Short: "Record an anchor event, replacing an earlier timestamp",
	RunE:  runParticipantsEvent,
}

var participantsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a participant and their recorded events",
	RunE:  runParticipantsShow,
}

var participantsRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a participant with their activities and events",
	RunE:  runParticipantsRemove,
}

var participantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the participants of an app",
	RunE:  runParticipantsList,
}

func init() {
	participantsEnrollCmd.Flags().StringVar(&participantAppID, "app", "", "App ID")
	participantsEnrollCmd.Flags().StringVar(&participantHealthCode, "health-code", "", "Participant health code")
	participantsEnrollCmd.Flags().StringVar(&participantUserID, "user", "", "User ID")
	participantsEnrollCmd.Flags().StringVar(&participantTimeZone, "time-zone", "UTC", "Time zone at enrollment")
	participantsEnrollCmd.Flags().StringSliceVar(&participantDataGroups, "data-groups", nil, "Data groups")
	participantsEnrollCmd.Flags().StringSliceVar(&participantSubstudies, "substudies", nil, "Substudies")
	participantsEnrollCmd.Flags().StringSliceVar(&participantLanguages, "languages", nil, "Preferred languages, most preferred first")
	participantsEnrollCmd.Flags().StringVar(&participantCreatedOn, "created-on", "", "Enrollment instant, RFC 3339 (default now)")
	_ = participantsEnrollCmd.MarkFlagRequired("app")
	_ = participantsEnrollCmd.MarkFlagRequired("health-code")

	participantsEventCmd.Flags().StringVar(&participantHealthCode, "health-code", "", "Participant health code")
	participantsEventCmd.Flags().StringVar(&participantEventID, "event-id", "", "Event ID")
	participantsEventCmd.Flags().StringVar(&participantEventAt, "at", "", "Event instant, RFC 3339 (default now)")
	_ = participantsEventCmd.MarkFlagRequired("health-code")
	_ = participantsEventCmd.MarkFlagRequired("event-id")

	participantsShowCmd.Flags().StringVar(&participantHealthCode, "health-code", "", "Participant health code")
	_ = participantsShowCmd.MarkFlagRequired("health-code")

	participantsRemoveCmd.Flags().StringVar(&participantHealthCode, "health-code", "", "Participant health code")
	_ = participantsRemoveCmd.MarkFlagRequired("health-code")

	participantsListCmd.Flags().StringVar(&participantAppID, "app", "", "App ID")
	_ = participantsListCmd.MarkFlagRequired("app")

	participantsCmd.AddCommand(participantsEnrollCmd)
	participantsCmd.AddCommand(participantsEventCmd)
	participantsCmd.AddCommand(participantsShowCmd)
	participantsCmd.AddCommand(participantsRemoveCmd)
	participantsCmd.AddCommand(participantsListCmd)

	rootCmd.AddCommand(participantsCmd)
}

func runParticipantsEnroll(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	p := &participants.Participant{
		AppID:      participantAppID,
		HealthCode: participantHealthCode,
		UserID:     participantUserID,
		DataGroups: participantDataGroups,
		Substudies: participantSubstudies,
		Languages:  participantLanguages,
	}
	if p.TimeZone, err = parseZone(participantTimeZone); err != nil {
		return err
	}
	if participantCreatedOn != "" {
		if p.CreatedOn, err = parseInstant(participantCreatedOn); err != nil {
			return err
		}
	}

	ctx := commandContext(cmd)
	if err := participants.NewStore(db).Enroll(ctx, p); err != nil {
		return err
	}

	store := events.NewActivityEventStore(db)
	for _, id := range []string{models.EventEnrollment, models.EventCreatedOn} {
		if err := store.RecordFirst(ctx, p.HealthCode, id, p.CreatedOn); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Enrolled %s in %s (%s)\n", p.HealthCode, p.AppID, p.TimeZone)
	return nil
}

func runParticipantsEvent(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	at := time.Now().UTC().Truncate(time.Millisecond)
	if participantEventAt != "" {
		if at, err = parseInstant(participantEventAt); err != nil {
			return err
		}
	}

	ctx := commandContext(cmd)
	if _, err := participants.NewStore(db).Get(ctx, participantHealthCode); err != nil {
		return err
	}

	eventID := strings.TrimSpace(participantEventID)
	if err := events.NewActivityEventStore(db).Record(ctx, participantHealthCode, eventID, at); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded %s at %s\n", eventID, at.Format(time.RFC3339Nano))
	return nil
}

func runParticipantsShow(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := commandContext(cmd)
	p, err := participants.NewStore(db).Get(ctx, participantHealthCode)
	if err != nil {
		return err
	}
	recorded, err := events.NewActivityEventStore(db).Get(ctx, participantHealthCode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Health code:  %s\n", p.HealthCode)
	fmt.Fprintf(out, "App:          %s\n", p.AppID)
	fmt.Fprintf(out, "Time zone:    %s\n", p.TimeZone)
	fmt.Fprintf(out, "Data groups:  %s\n", strings.Join(p.DataGroups, ", "))
	fmt.Fprintf(out, "Substudies:   %s\n", strings.Join(p.Substudies, ", "))
	fmt.Fprintf(out, "Languages:    %s\n", strings.Join(p.Languages, ", "))
	fmt.Fprintf(out, "Created on:   %s\n", p.CreatedOn.Format(time.RFC3339Nano))

	ids := make([]string, 0, len(recorded))
	for id := range recorded {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Events:")
	for _, id := range ids {
		fmt.Fprintf(out, "  %-40s %s\n", id, recorded[id].Format(time.RFC3339Nano))
	}
	return nil
}

func runParticipantsRemove(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := commandContext(cmd)
	store := participants.NewStore(db)
	if _, err := store.Get(ctx, participantHealthCode); err != nil {
		return err
	}

	if err := activities.NewStore(db).DeleteAllForOwner(ctx, participantHealthCode); err != nil {
		return err
	}
	if err := events.NewActivityEventStore(db).DeleteAll(ctx, participantHealthCode); err != nil {
		return err
	}
	if err := store.Delete(ctx, participantHealthCode); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", participantHealthCode)
	return nil
}

func runParticipantsList(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := participants.NewStore(db).List(commandContext(cmd), participantAppID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No participants in app %s.\n", participantAppID)
		return nil
	}
	for _, p := range list {
		fmt.Fprintf(out, "%s  %s  %s\n", p.HealthCode, p.TimeZone, strings.Join(p.DataGroups, ","))
	}
	return nil
}
