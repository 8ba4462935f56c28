package dto

import (
	"strings"
	"time"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/model"
)

// Normalizer turns raw snapshots into ornamented domain snapshots. It does no
// I/O; the clock is only read for reviewer working hours.
type Normalizer struct {
	policy config.MergeRequests
	now    func() time.Time
}

func NewNormalizer(policy config.MergeRequests) *Normalizer {
	return &Normalizer{policy: policy, now: time.Now}
}

func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize builds the domain snapshot. issues maps issue iid to issue and
// may be nil.
func (n *Normalizer) Normalize(raw *fetcher.RawSnapshot, issues map[string]gateway.Issue) *model.Snapshot {
	snapshot := &model.Snapshot{
		Author:                raw.Author,
		Kind:                  raw.Kind,
		FetchedAt:             raw.FetchedAt,
		RequestDurationMs:     raw.RequestDurationMs,
		Errors:                raw.Errors,
		NextUpdateAt:          raw.NextUpdateAt,
		NextScheduledUpdateAt: raw.NextScheduledUpdateAt,
		Items:                 make([]model.MergeRequest, 0, len(raw.Items)),
	}

	seen := make(map[string]struct{}, len(raw.Items))
	batch := make([]gateway.CoreMergeRequest, 0, len(raw.Items))
	for _, mr := range raw.Items {
		if _, dup := seen[mr.IID]; dup {
			continue
		}
		seen[mr.IID] = struct{}{}
		batch = append(batch, mr)
	}

	now := n.now()
	for _, mr := range batch {
		snapshot.Items = append(snapshot.Items, n.mergeRequest(mr, raw.Kind, batch, issues, now))
	}
	return snapshot
}

func (n *Normalizer) mergeRequest(mr gateway.CoreMergeRequest, kind model.Kind, batch []gateway.CoreMergeRequest, issues map[string]gateway.Issue, now time.Time) model.MergeRequest {
	prefixes := n.policy.ContextualLabels.OpenMergeRequests
	if kind == model.KindMerged {
		prefixes = n.policy.ContextualLabels.MergedMergeRequests
	}
	labels := n.labels(mr.Labels.Nodes)

	out := model.MergeRequest{
		IID:                  mr.IID,
		WebURL:               mr.WebURL,
		Title:                mr.Title,
		Reference:            mr.Reference,
		State:                mr.State,
		SourceBranch:         mr.SourceBranch,
		TargetBranch:         mr.TargetBranch,
		ProjectFullPath:      mr.Project.FullPath,
		CreatedAt:            parseTime(mr.CreatedAt),
		UpdatedAt:            parseTime(mr.UpdatedAt),
		MergedAt:             parseTime(mr.MergedAt),
		Assignees:            users(mr.Assignees.Nodes),
		Reviewers:            n.reviewers(mr.Reviewers.Nodes, now),
		Labels:               labels,
		ContextualLabels:     ContextualLabels(labels, labelTitle, prefixes),
		UpstreamMergeRequest: upstream(mr, batch),
		Issue:                n.issue(mr, issues),
		HeadPipeline:         pipeline(mr.HeadPipeline),
		Conflicts:            mr.Conflicts,
		ApprovalsLeft:        deref(mr.ApprovalsLeft),
		DetailedMergeStatus:  deref(mr.DetailedMergeStatus),
	}

	if kind == model.KindOpen {
		out.StatusClass = StatusClass(mr, n.policy)
		out.MergeStatusLabel = Humanize(out.DetailedMergeStatus)
	}
	return out
}

func (n *Normalizer) labels(nodes []gateway.Label) []model.Label {
	out := make([]model.Label, len(nodes))
	for i, l := range nodes {
		out[i] = model.Label{
			Title:     l.Title,
			Color:     l.Color,
			TextColor: l.TextColor,
			WebTitle:  strings.TrimPrefix(l.Title, n.policy.WorkflowNamespace),
		}
	}
	return out
}

func labelTitle(l model.Label) string { return l.Title }

func (n *Normalizer) issue(mr gateway.CoreMergeRequest, issues map[string]gateway.Issue) *model.Issue {
	iid, ok := fetcher.IssueIID(mr.SourceBranch)
	if !ok {
		return nil
	}
	raw, ok := issues[iid]
	if !ok {
		return nil
	}

	labels := n.labels(raw.Labels.Nodes)
	return &model.Issue{
		IID:              raw.IID,
		WebURL:           raw.WebURL,
		Title:            raw.Title,
		State:            raw.State,
		Labels:           labels,
		ContextualLabels: ContextualLabels(labels, labelTitle, n.policy.ContextualLabels.Issues),
	}
}

// upstream finds the merge request of the batch this one is stacked on.
func upstream(mr gateway.CoreMergeRequest, batch []gateway.CoreMergeRequest) *model.MergeRequestRef {
	for _, other := range batch {
		if other.IID == mr.IID || other.SourceBranch != mr.TargetBranch {
			continue
		}
		return &model.MergeRequestRef{
			IID:          other.IID,
			Reference:    other.Reference,
			Title:        other.Title,
			WebURL:       other.WebURL,
			SourceBranch: other.SourceBranch,
		}
	}
	return nil
}

func pipeline(p *gateway.Pipeline) *model.Pipeline {
	if p == nil {
		return nil
	}

	finished, total := 0, 0
	if p.FinishedJobs != nil {
		finished = p.FinishedJobs.Count
	}
	if p.Jobs != nil {
		total = p.Jobs.Count
	}

	out := &model.Pipeline{
		Status:           p.Status,
		Path:             deref(p.Path),
		StartedAt:        parseTime(p.StartedAt),
		FinishedAt:       parseTime(p.FinishedAt),
		FinishedJobCount: finished,
		TotalJobCount:    total,
		StatusLabel:      PipelineStatusLabel(p.Status, finished, total),
	}
	if strings.EqualFold(p.Status, "running") {
		pct := CompletionPercentage(finished, total)
		out.CompletionPercentage = &pct
	}
	return out
}

func users(nodes []gateway.CoreUser) []model.User {
	out := make([]model.User, len(nodes))
	for i, u := range nodes {
		out[i] = model.User{
			Username:  u.Username,
			Name:      u.Name,
			WebURL:    u.WebURL,
			AvatarURL: u.AvatarURL,
		}
	}
	return out
}

// reviewers converts reviewer nodes, dropping bots.
func (n *Normalizer) reviewers(nodes []gateway.ExtendedUser, now time.Time) []model.Reviewer {
	out := make([]model.Reviewer, 0, len(nodes))
	for _, r := range nodes {
		if r.Bot || n.policy.IsBot(r.Username) {
			continue
		}

		reviewer := model.Reviewer{
			Username:           r.Username,
			Name:               r.Name,
			WebURL:             r.WebURL,
			AvatarURL:          r.AvatarURL,
			LastActivityOn:     parseTime(r.LastActivityOn),
			Location:           deref(r.Location),
			ActiveReviewsCount: r.ActiveReviewsCount,
			Timezone:           deref(r.Timezone),
		}
		if r.Status != nil {
			reviewer.Status = &model.UserStatus{
				Availability: deref(r.Status.Availability),
				Message:      deref(r.Status.Message),
				Emoji:        deref(r.Status.Emoji),
			}
			reviewer.ReviewLimit = ReviewLimit(reviewer.Status.Emoji)
		}
		if r.MergeRequestInteraction != nil {
			reviewer.Interaction = &model.ReviewerInteraction{
				Approved:    r.MergeRequestInteraction.Approved,
				ReviewState: r.MergeRequestInteraction.ReviewState,
			}
		}
		reviewer.InWorkingHours = InWorkingHours(reviewer.Timezone, now, n.policy.WorkingHours)

		out = append(out, reviewer)
	}
	return out
}

// parseTime accepts RFC 3339 timestamps and bare dates. Absent or
// unparseable values stay absent.
func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}
