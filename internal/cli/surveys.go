package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/surveys"
)

var (
	surveyAppID      string
	surveyGUID       string
	surveyIdentifier string
	surveyName       string
	surveyCreatedOn  string
	surveyPublish    bool
)

var surveysCmd = &cobra.Command{
	Use:   "surveys",
	Short: "Survey version commands",
	Long: `Manage survey versions.

Activities that reference a survey without a version are pinned to the
most recent published version when a schedule is generated.

Examples:
  bridgesched surveys create --app study-1 --guid mood --identifier mood-survey --publish
  bridgesched surveys publish --app study-1 --guid mood --created-on 2024-03-04T10:00:00.000Z
  bridgesched surveys list --app study-1 --guid mood`,
}

var surveysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a survey version",
	RunE:  runSurveysCreate,
}

var surveysPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an existing survey version",
	RunE:  runSurveysPublish,
}

var surveysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the versions of a survey, newest first",
	RunE:  runSurveysList,
}

func init() {
	surveysCmd.PersistentFlags().StringVar(&surveyAppID, "app", "", "App ID")
	surveysCmd.PersistentFlags().StringVar(&surveyGUID, "guid", "", "Survey GUID")
	_ = surveysCmd.MarkPersistentFlagRequired("app")
	_ = surveysCmd.MarkPersistentFlagRequired("guid")

	surveysCreateCmd.Flags().StringVar(&surveyIdentifier, "identifier", "", "Survey identifier")
	surveysCreateCmd.Flags().StringVar(&surveyName, "name", "", "Survey name")
	surveysCreateCmd.Flags().StringVar(&surveyCreatedOn, "created-on", "", "Version timestamp, RFC 3339 (default now)")
	surveysCreateCmd.Flags().BoolVar(&surveyPublish, "publish", false, "Publish the version")

	surveysPublishCmd.Flags().StringVar(&surveyCreatedOn, "created-on", "", "Version timestamp, RFC 3339")
	_ = surveysPublishCmd.MarkFlagRequired("created-on")

	surveysCmd.AddCommand(surveysCreateCmd)
	surveysCmd.AddCommand(surveysPublishCmd)
	surveysCmd.AddCommand(surveysListCmd)

	rootCmd.AddCommand(surveysCmd)
}

func runSurveysCreate(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	survey := &surveys.Survey{
		AppID:      surveyAppID,
		GUID:       surveyGUID,
		Identifier: surveyIdentifier,
		Name:       surveyName,
		Published:  surveyPublish,
	}
	if surveyCreatedOn != "" {
		if survey.CreatedOn, err = parseInstant(surveyCreatedOn); err != nil {
			return err
		}
	}

	ctx := commandContext(cmd)
	if err := surveys.NewStore(db).Create(ctx, survey); err != nil {
		return err
	}
	if survey.Published {
		invalidateSurvey(cmd, cfg, survey.AppID, survey.GUID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created survey %s version %s (published: %t)\n",
		survey.GUID, survey.CreatedOn.Format(time.RFC3339Nano), survey.Published)
	return nil
}

func runSurveysPublish(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	createdOn, err := parseInstant(surveyCreatedOn)
	if err != nil {
		return err
	}

	if err := surveys.NewStore(db).Publish(commandContext(cmd), surveyAppID, surveyGUID, createdOn); err != nil {
		return err
	}
	invalidateSurvey(cmd, cfg, surveyAppID, surveyGUID)

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Published survey %s version %s\n", surveyGUID, createdOn.Format(time.RFC3339Nano))
	return nil
}

func runSurveysList(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	versions, err := surveys.NewStore(db).ListVersions(commandContext(cmd), surveyAppID, surveyGUID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintf(out, "No versions of survey %s.\n", surveyGUID)
		return nil
	}

	for _, v := range versions {
		status := "draft"
		if v.Published {
			status = "published"
		}
		fmt.Fprintf(out, "%s  %-9s  %s  %s\n", v.CreatedOn.Format(time.RFC3339Nano), status, v.Identifier, v.Name)
	}
	return nil
}

// invalidateSurvey drops the cached published version so the next schedule
// request sees the new one. Failures are logged; stale entries expire after
// the TTL.
func invalidateSurvey(cmd *cobra.Command, cfg *config.Config, appID, guid string) {
	if !cfg.Cache.Enabled {
		return
	}

	ctx := commandContext(cmd)
	client, err := surveys.NewRedisClient(ctx, &cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("Survey cache unavailable, cached versions expire after the TTL")
		return
	}
	defer client.Close()

	lookup := surveys.NewCachedLookup(nil, client, cfg.Cache.TTL)
	if err := lookup.Invalidate(ctx, appID, guid); err != nil {
		log.Warn().Err(err).Str("survey_guid", guid).Msg("Failed to invalidate survey cache")
	}
}
