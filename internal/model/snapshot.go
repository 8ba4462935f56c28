package model

import "time"

// GatewayErrorKind classifies upstream failures carried as values.
type GatewayErrorKind string

const (
	GatewayErrorHTTP      GatewayErrorKind = "http"
	GatewayErrorTimeout   GatewayErrorKind = "timeout"
	GatewayErrorMalformed GatewayErrorKind = "malformed"
	GatewayErrorGraphQL   GatewayErrorKind = "graphql"
)

type GatewayError struct {
	Kind       GatewayErrorKind `json:"kind"`
	Message    string           `json:"message"`
	StatusCode int              `json:"status_code,omitempty"`
	// Query names the document that failed, e.g. "open" or "merged".
	Query string `json:"query,omitempty"`
}

func (e GatewayError) Error() string {
	if e.Query != "" {
		return e.Query + ": " + e.Message
	}
	return e.Message
}

// Snapshot is the normalized view of one author's merge requests of one kind.
// Items must not be trusted when Errors is non-empty.
type Snapshot struct {
	Author                string         `json:"author"`
	Kind                  Kind           `json:"kind"`
	FetchedAt             time.Time      `json:"fetched_at"`
	RequestDurationMs     float64        `json:"request_duration_ms"`
	Errors                []GatewayError `json:"errors,omitempty"`
	NextUpdateAt          time.Time      `json:"next_update_at"`
	NextScheduledUpdateAt time.Time      `json:"next_scheduled_update_at"`
	Items                 []MergeRequest `json:"items"`
}

func (s *Snapshot) HasErrors() bool {
	return s != nil && len(s.Errors) > 0
}
