package model

import "time"

type Kind string

const (
	KindOpen   Kind = "open"
	KindMerged Kind = "merged"
)

var Kinds = []Kind{KindOpen, KindMerged}

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindOpen, KindMerged:
		return Kind(s), true
	}
	return "", false
}

type Label struct {
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	TextColor string `json:"text_color,omitempty"`
	WebTitle  string `json:"web_title"`
}

type Issue struct {
	IID              string  `json:"iid"`
	WebURL           string  `json:"web_url"`
	Title            string  `json:"title"`
	State            string  `json:"state"`
	Labels           []Label `json:"labels"`
	ContextualLabels []Label `json:"contextual_labels"`
}

func (i *Issue) Closed() bool {
	return i != nil && i.State == "closed"
}

type Pipeline struct {
	Status               string     `json:"status"`
	Path                 string     `json:"path,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	FinishedJobCount     int        `json:"finished_job_count"`
	TotalJobCount        int        `json:"total_job_count"`
	CompletionPercentage *int       `json:"completion_percentage,omitempty"`
	StatusLabel          string     `json:"status_label"`
}

type User struct {
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	WebURL    string `json:"web_url,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// MergeRequestRef points at another merge request of the same batch.
type MergeRequestRef struct {
	IID          string `json:"iid"`
	Reference    string `json:"reference"`
	Title        string `json:"title"`
	WebURL       string `json:"web_url"`
	SourceBranch string `json:"source_branch"`
}

type MergeRequest struct {
	IID                  string           `json:"iid"`
	WebURL               string           `json:"web_url"`
	Title                string           `json:"title"`
	Reference            string           `json:"reference"`
	State                string           `json:"state"`
	SourceBranch         string           `json:"source_branch"`
	TargetBranch         string           `json:"target_branch"`
	ProjectFullPath      string           `json:"project_full_path"`
	CreatedAt            *time.Time       `json:"created_at,omitempty"`
	UpdatedAt            *time.Time       `json:"updated_at,omitempty"`
	MergedAt             *time.Time       `json:"merged_at,omitempty"`
	Assignees            []User           `json:"assignees"`
	Reviewers            []Reviewer       `json:"reviewers"`
	Labels               []Label          `json:"labels"`
	ContextualLabels     []Label          `json:"contextual_labels"`
	UpstreamMergeRequest *MergeRequestRef `json:"upstream_merge_request,omitempty"`
	Issue                *Issue           `json:"issue,omitempty"`
	HeadPipeline         *Pipeline        `json:"head_pipeline,omitempty"`
	Conflicts            bool             `json:"conflicts"`
	ApprovalsLeft        int              `json:"approvals_left"`
	DetailedMergeStatus  string           `json:"detailed_merge_status,omitempty"`
	StatusClass          string           `json:"status_class,omitempty"`
	MergeStatusLabel     string           `json:"merge_status_label,omitempty"`
}

// HasLabel reports whether the raw label set contains title.
func (mr *MergeRequest) HasLabel(title string) bool {
	for _, l := range mr.Labels {
		if l.Title == title {
			return true
		}
	}
	return false
}
