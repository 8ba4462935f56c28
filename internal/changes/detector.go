package changes

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"mrpulse.app/dashboard/common/id"
	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/model"
)

const (
	postDeployDBPrefix = "post-deploy-db-"
	databaseLabel      = "database"
)

// Detector compares consecutive snapshots of one author and kind and
// produces notification events. It performs no I/O.
type Detector struct {
	policy config.MergeRequests
	now    func() time.Time
	newID  func() int64
}

func NewDetector(policy config.MergeRequests) *Detector {
	return &Detector{policy: policy, now: time.Now, newID: id.New}
}

// WithClock replaces the clock and the event ID source. Intended for tests.
func (d *Detector) WithClock(now func() time.Time, newID func() int64) *Detector {
	d.now = now
	d.newID = newID
	return d
}

// Diff returns the events between prev and curr. Snapshots with errors are
// never compared since their items cannot be trusted.
func (d *Detector) Diff(prev, curr *model.Snapshot, kind model.Kind) []model.NotificationEvent {
	if prev == nil || curr == nil || prev.HasErrors() || curr.HasErrors() {
		return nil
	}
	if prev.Kind != kind || curr.Kind != kind {
		return nil
	}

	previous := make(map[string]*model.MergeRequest, len(prev.Items))
	for i := range prev.Items {
		previous[prev.Items[i].IID] = &prev.Items[i]
	}

	var events []model.NotificationEvent
	for i := range curr.Items {
		mr := &curr.Items[i]
		old, existed := previous[mr.IID]

		if !existed {
			// An empty previous set is a first fetch, not a burst of merges.
			if kind == model.KindMerged && len(prev.Items) > 0 {
				events = append(events, d.mergedEvent(mr))
			}
			continue
		}

		if event, ok := d.labelChange(old, mr); ok {
			events = append(events, event)
		}
	}
	return events
}

func (d *Detector) mergedEvent(mr *model.MergeRequest) model.NotificationEvent {
	return model.NotificationEvent{
		ID:        d.newID(),
		Type:      model.EventMergeRequestMerged,
		Title:     "Merge request merged",
		Body:      mr.Reference + ": " + mr.Title,
		URL:       mr.WebURL,
		Tag:       mr.IID,
		Timestamp: d.now(),
	}
}

func (d *Detector) labelChange(prev, curr *model.MergeRequest) (model.NotificationEvent, bool) {
	if curr.Issue.Closed() {
		return model.NotificationEvent{}, false
	}

	before, _ := d.comparedTitles(prev, curr)
	after, suppressed := d.comparedTitles(curr, curr)
	if sameSet(before, after) {
		return model.NotificationEvent{}, false
	}
	// Scoped labels replace each other: a label swapped for a suppressed
	// post-deploy label is not a removal.
	if len(after) == 0 && suppressed > 0 {
		return model.NotificationEvent{}, false
	}

	if len(d.policy.NotificationRules) > 0 {
		watched := d.watchedLabels(prev, curr)
		if len(watched) == 0 {
			return model.NotificationEvent{}, false
		}
		if sameSet(intersect(before, watched), intersect(after, watched)) {
			return model.NotificationEvent{}, false
		}
	}

	var body string
	if len(after) == 0 {
		body = "no longer labeled " + strings.Join(before, ", ")
	} else {
		body = "changed to " + strings.Join(after, ", ")
	}

	return model.NotificationEvent{
		ID:        d.newID(),
		Type:      model.EventLabelChange,
		Title:     "Merge request labels changed",
		Body:      fmt.Sprintf("%s\n\n%s: %s", body, curr.Reference, curr.Title),
		URL:       curr.WebURL,
		Tag:       curr.IID,
		Timestamp: d.now(),
	}, true
}

// comparedTitles lists the contextual label titles of mr and how many
// post-deploy database labels it left out. Those only count when current
// carries the database label.
func (d *Detector) comparedTitles(mr, current *model.MergeRequest) ([]string, int) {
	keepPostDeploy := current.HasLabel(databaseLabel)

	titles := make([]string, 0, len(mr.ContextualLabels))
	suppressed := 0
	for _, l := range mr.ContextualLabels {
		name := strings.TrimPrefix(l.Title, d.policy.WorkflowNamespace)
		if strings.HasPrefix(name, postDeployDBPrefix) && !keepPostDeploy {
			suppressed++
			continue
		}
		titles = append(titles, l.Title)
	}
	return titles, suppressed
}

// watchedLabels is the union of the labels of every rule that applies to the
// merge request. A rule applies when its gates hold and one of its labels is
// on the merge request before or after the change.
func (d *Detector) watchedLabels(prev, curr *model.MergeRequest) []string {
	var watched []string
	for _, rule := range d.policy.NotificationRules {
		if rule.RequiredState != "" && rule.RequiredState != curr.State {
			continue
		}
		if rule.RequiredLabel != "" && !curr.HasLabel(rule.RequiredLabel) {
			continue
		}
		if !slices.ContainsFunc(rule.Labels, func(l string) bool { return prev.HasLabel(l) || curr.HasLabel(l) }) {
			continue
		}
		for _, l := range rule.Labels {
			if !slices.Contains(watched, l) {
				watched = append(watched, l)
			}
		}
	}
	return watched
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}

func intersect(titles, watched []string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if slices.Contains(watched, t) {
			out = append(out, t)
		}
	}
	return out
}
