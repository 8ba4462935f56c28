package model

import "time"

type EventType string

const (
	EventMergeRequestMerged EventType = "merge_request_merged"
	EventLabelChange        EventType = "label_change"
)

// NotificationEvent is produced by change detection and consumed immediately
// by the dispatcher. It is never persisted.
type NotificationEvent struct {
	ID        int64          `json:"id"`
	Type      EventType      `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	URL       string         `json:"url"`
	Tag       string         `json:"tag"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type PushSubscription struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Endpoint  string    `json:"endpoint"`
	AuthKey   string    `json:"auth_key"`
	P256dhKey string    `json:"p256dh_key"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardUser is a user who has opened the dashboard.
type DashboardUser struct {
	Username    string    `json:"username"`
	ContactedAt time.Time `json:"contacted_at"`
}
