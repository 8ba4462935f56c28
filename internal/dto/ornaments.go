package dto

import (
	"fmt"
	"strings"
	"time"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/gateway"
)

const (
	classWarning   = "warning"
	classSecondary = "secondary"
)

var waitingReviewStates = map[string]bool{
	"UNREVIEWED":     true,
	"UNAPPROVED":     true,
	"REVIEW_STARTED": true,
}

var returnedReviewStates = map[string]bool{
	"REVIEWED":          true,
	"REQUESTED_CHANGES": true,
}

// StatusClass picks the display class of an open merge request. Rules apply
// in order and the first match wins.
func StatusClass(mr gateway.CoreMergeRequest, policy config.MergeRequests) string {
	switch {
	case mr.Conflicts:
		return classWarning
	case ReturnedToAssignee(mr):
		return classWarning
	case WaitingOnOthers(mr):
		return classSecondary
	}
	return policy.StatusClass(deref(mr.DetailedMergeStatus))
}

// ReturnedToAssignee reports whether the ball is back with the author: every
// reviewer approved but approvals are still missing, or a reviewer finished
// reviewing without approving.
func ReturnedToAssignee(mr gateway.CoreMergeRequest) bool {
	reviewers := mr.Reviewers.Nodes

	allApproved := len(reviewers) > 0
	for _, r := range reviewers {
		if r.MergeRequestInteraction == nil || !r.MergeRequestInteraction.Approved {
			allApproved = false
			break
		}
	}
	if allApproved && (!mr.Approved || deref(mr.ApprovalsLeft) > 0) {
		return true
	}

	if deref(mr.DetailedMergeStatus) != "NOT_APPROVED" {
		return false
	}
	for _, r := range reviewers {
		if r.MergeRequestInteraction != nil && returnedReviewStates[r.MergeRequestInteraction.ReviewState] {
			return true
		}
	}
	return false
}

func WaitingOnOthers(mr gateway.CoreMergeRequest) bool {
	for _, r := range mr.Reviewers.Nodes {
		if r.MergeRequestInteraction != nil && waitingReviewStates[r.MergeRequestInteraction.ReviewState] {
			return true
		}
	}
	return false
}

// Humanize turns an enum token like "CI_MUST_PASS" into "CI Must Pass".
// A trailing "_STATUS" is dropped.
func Humanize(token string) string {
	token = strings.TrimSuffix(token, "_STATUS")
	words := strings.FieldsFunc(token, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		w = strings.ToLower(w)
		if w == "ci" {
			words[i] = "CI"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CompletionPercentage is finished*100/total, or 0 when there are no jobs.
func CompletionPercentage(finished, total int) int {
	if total <= 0 {
		return 0
	}
	return finished * 100 / total
}

// PipelineStatusLabel renders the pipeline status, with the completion
// percentage appended while it runs.
func PipelineStatusLabel(status string, finished, total int) string {
	label := Humanize(status)
	if strings.EqualFold(status, "running") {
		label = fmt.Sprintf("%s %d%%", label, CompletionPercentage(finished, total))
	}
	return label
}

// ContextualLabels returns the labels whose title starts with one of the
// prefixes, in their original order.
func ContextualLabels[L any](labels []L, title func(L) string, prefixes []string) []L {
	out := make([]L, 0)
	for _, l := range labels {
		t := title(l)
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

var emojiNumerals = map[string]int{
	"zero":       0,
	"red_circle": 0,
	"one":        1,
	"two":        2,
	"three":      3,
	"four":       4,
	"five":       5,
	"six":        6,
	"seven":      7,
	"eight":      8,
	"nine":       9,
}

// ReviewLimit reads the number of reviews a reviewer accepts from their
// status emoji. It returns nil when the emoji states no limit.
func ReviewLimit(emoji string) *int {
	limit, ok := emojiNumerals[strings.Trim(emoji, ":")]
	if !ok {
		return nil
	}
	return &limit
}

// InWorkingHours reports whether now falls on a weekday within the working
// hours of the given IANA zone. Unknown zones are never in working hours.
func InWorkingHours(timezone string, now time.Time, hours config.WorkingHours) bool {
	if timezone == "" {
		return false
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return false
	}

	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return local.Hour() >= hours.Start && local.Hour() < hours.End
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
