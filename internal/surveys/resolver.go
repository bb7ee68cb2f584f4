package surveys

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// DefaultConcurrency bounds parallel lookups when the caller passes zero.
const DefaultConcurrency = 8

// Resolver snapshots the latest published survey version into activities
// whose survey reference is not pinned.
type Resolver struct {
	lookup      Lookup
	concurrency int
}

func NewResolver(lookup Lookup, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		lookup:      lookup,
		concurrency: concurrency,
	}
}

// Resolve returns activity with its survey version pinned. Task activities
// and pinned survey references are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, appID string, activity models.Activity) (models.Activity, error) {
	if !needsResolution(activity) {
		return activity, nil
	}

	survey, err := r.lookup.MostRecentPublishedVersion(ctx, appID, activity.Survey.GUID)
	if err != nil {
		return activity, fmt.Errorf("resolving survey %s: %w", activity.Survey.GUID, err)
	}

	out := activity.Clone()
	pin(out.Survey, survey)
	return out, nil
}

// ResolveAll pins every unpinned survey reference in occurrences. Each
// distinct survey is looked up once, concurrently. Any lookup failure fails
// the whole call and leaves occurrences untouched.
func (r *Resolver) ResolveAll(ctx context.Context, appID string, occurrences []*models.ScheduledActivity) error {
	var guids []string
	seen := make(map[string]bool)
	for _, o := range occurrences {
		if !needsResolution(o.Activity) || seen[o.Activity.Survey.GUID] {
			continue
		}
		seen[o.Activity.Survey.GUID] = true
		guids = append(guids, o.Activity.Survey.GUID)
	}
	if len(guids) == 0 {
		return nil
	}

	var mu sync.Mutex
	resolved := make(map[string]*Survey, len(guids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, guid := range guids {
		g.Go(func() error {
			survey, err := r.lookup.MostRecentPublishedVersion(gctx, appID, guid)
			if err != nil {
				return fmt.Errorf("resolving survey %s: %w", guid, err)
			}
			mu.Lock()
			resolved[guid] = survey
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, o := range occurrences {
		if !needsResolution(o.Activity) {
			continue
		}
		pin(o.Activity.Survey, resolved[o.Activity.Survey.GUID])
	}

	log.Debug().
		Str("app_id", appID).
		Int("surveys", len(guids)).
		Msg("Resolved survey references")

	return nil
}

func needsResolution(activity models.Activity) bool {
	return activity.Survey != nil && activity.Survey.CreatedOn == nil
}

func pin(ref *models.SurveyReference, survey *Survey) {
	createdOn := survey.CreatedOn
	ref.CreatedOn = &createdOn
	if ref.Identifier == "" {
		ref.Identifier = survey.Identifier
	}
}
