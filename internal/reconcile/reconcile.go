// Package reconcile merges freshly generated occurrences with persisted ones.
// Everything here is a pure function of its inputs.
package reconcile

import (
	"slices"
	"strings"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// View selects the filtering applied to the merged set.
type View string

const (
	ViewCurrent View = "current"
	ViewHistory View = "history"
)

type Options struct {
	View View
	Now  time.Time

	// ActionableOnly additionally hides finished occurrences in the current
	// view.
	ActionableOnly bool

	// StartsOn and EndsOn bound which unmatched persisted rows the history
	// view includes.
	StartsOn time.Time
	EndsOn   time.Time
}

type Result struct {
	// Activities ordered by local scheduled time, then guid.
	Activities []*models.ScheduledActivity
	// ToPersist holds the generated occurrences with no persisted row, each
	// guid at most once.
	ToPersist []*models.ScheduledActivity
	// Refreshed holds persisted rows whose activity snapshot was replaced by
	// the generated one. They must be written back so a later update merges
	// onto the snapshot the caller was shown.
	Refreshed []*models.ScheduledActivity
}

// Writes returns every row the caller has to store: new occurrences
// followed by refreshed ones.
func (r Result) Writes() []*models.ScheduledActivity {
	if len(r.Refreshed) == 0 {
		return r.ToPersist
	}
	out := make([]*models.ScheduledActivity, 0, len(r.ToPersist)+len(r.Refreshed))
	out = append(out, r.ToPersist...)
	return append(out, r.Refreshed...)
}

// Reconcile merges generated with persisted. Generated occurrences repeating
// a guid are dropped after the first. Persisted rows win over generated ones,
// except that an unstarted row without client data takes the generated
// activity snapshot and is reported in Refreshed.
func Reconcile(generated, persisted []*models.ScheduledActivity, opts Options) Result {
	byGUID := make(map[string]*models.ScheduledActivity, len(persisted))
	for _, p := range persisted {
		byGUID[p.GUID] = p
	}

	var res Result
	var merged []*models.ScheduledActivity
	seen := make(map[string]bool, len(generated))
	matched := make(map[string]bool, len(persisted))

	for _, g := range generated {
		if seen[g.GUID] {
			continue
		}
		seen[g.GUID] = true

		p, ok := byGUID[g.GUID]
		if !ok {
			res.ToPersist = append(res.ToPersist, g)
			merged = append(merged, g)
			continue
		}
		matched[p.GUID] = true
		row, refreshed := applyDrift(p, g)
		if refreshed {
			res.Refreshed = append(res.Refreshed, row)
		}
		merged = append(merged, row)
	}

	if opts.View == ViewHistory {
		for _, p := range persisted {
			if matched[p.GUID] || seen[p.GUID] {
				continue
			}
			if inWindow(p.ScheduledOn(), opts.StartsOn, opts.EndsOn) {
				merged = append(merged, p)
				seen[p.GUID] = true
			}
		}
	}

	for _, sa := range merged {
		if opts.View == ViewCurrent && !Visible(sa, opts.Now, opts.ActionableOnly) {
			continue
		}
		res.Activities = append(res.Activities, sa)
	}

	Sort(res.Activities)
	return res
}

// Visible reports whether sa belongs in the current view at now. Expired rows
// that were never started are hidden, as are finished rows once expired, all
// finished rows when actionableOnly is set, and rows finished without being
// started.
func Visible(sa *models.ScheduledActivity, now time.Time, actionableOnly bool) bool {
	switch {
	case sa.IsFinished() && !sa.IsStarted():
		return false
	case sa.IsFinished() && actionableOnly:
		return false
	case sa.IsExpired(now) && (!sa.IsStarted() || sa.IsFinished()):
		return false
	default:
		return true
	}
}

// Sort orders occurrences by local scheduled time, ties broken by guid.
func Sort(occurrences []*models.ScheduledActivity) {
	slices.SortStableFunc(occurrences, func(a, b *models.ScheduledActivity) int {
		if c := a.LocalScheduledOn.Compare(b.LocalScheduledOn); c != 0 {
			return c
		}
		return strings.Compare(a.GUID, b.GUID)
	})
}

// applyDrift returns the row to report for a persisted occurrence that was
// generated again, and whether it differs from the stored one. A started
// row, or one carrying client data, is returned verbatim. Otherwise a changed
// activity snapshot replaces the persisted one.
func applyDrift(persisted, generated *models.ScheduledActivity) (*models.ScheduledActivity, bool) {
	if persisted.IsStarted() || persisted.HasClientData() {
		return persisted, false
	}
	if persisted.Activity.Equal(generated.Activity) {
		return persisted, false
	}

	out := persisted.Clone()
	out.Activity = generated.Activity.Clone()
	if out.SchedulePlanGUID == "" {
		out.SchedulePlanGUID = generated.SchedulePlanGUID
	}
	return out, true
}

func inWindow(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && !t.Before(end) {
		return false
	}
	return true
}
