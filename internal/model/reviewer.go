package model

import "time"

type UserStatus struct {
	Availability string `json:"availability,omitempty"`
	Message      string `json:"message,omitempty"`
	Emoji        string `json:"emoji,omitempty"`
}

type ReviewerInteraction struct {
	Approved    bool   `json:"approved"`
	ReviewState string `json:"review_state"`
}

type Reviewer struct {
	Username           string               `json:"username"`
	Name               string               `json:"name,omitempty"`
	WebURL             string               `json:"web_url,omitempty"`
	AvatarURL          string               `json:"avatar_url,omitempty"`
	LastActivityOn     *time.Time           `json:"last_activity_on,omitempty"`
	Location           string               `json:"location,omitempty"`
	Status             *UserStatus          `json:"status,omitempty"`
	Interaction        *ReviewerInteraction `json:"merge_request_interaction,omitempty"`
	ActiveReviewsCount *int                 `json:"active_reviews_count,omitempty"`
	ReviewLimit        *int                 `json:"review_limit,omitempty"`
	Timezone           string               `json:"timezone,omitempty"`
	InWorkingHours     bool                 `json:"in_working_hours"`
}
