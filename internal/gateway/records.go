package gateway

// Records mirror the GraphQL fragments in queries.go. Optional scalars are
// pointers so absent and null stay distinguishable from zero values.

type Nodes[T any] struct {
	Nodes []T `json:"nodes"`
}

type Count struct {
	Count int `json:"count"`
}

type CoreUser struct {
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	WebURL    string `json:"webUrl,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
}

type UserStatus struct {
	Availability *string `json:"availability,omitempty"`
	Message      *string `json:"message,omitempty"`
	Emoji        *string `json:"emoji,omitempty"`
}

type ReviewerInteraction struct {
	Approved    bool   `json:"approved"`
	ReviewState string `json:"reviewState"`
}

// ExtendedUser is a reviewer node. ActiveReviewsCount and Timezone are not
// part of any query; enrichment fills them.
type ExtendedUser struct {
	CoreUser
	LastActivityOn          *string              `json:"lastActivityOn,omitempty"`
	Location                *string              `json:"location,omitempty"`
	Status                  *UserStatus          `json:"status,omitempty"`
	MergeRequestInteraction *ReviewerInteraction `json:"mergeRequestInteraction,omitempty"`
	ActiveReviewsCount      *int                 `json:"activeReviewsCount,omitempty"`
	Timezone                *string              `json:"timezone,omitempty"`
}

type Label struct {
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	TextColor string `json:"textColor,omitempty"`
}

type Pipeline struct {
	Status       string  `json:"status"`
	Path         *string `json:"path,omitempty"`
	StartedAt    *string `json:"startedAt,omitempty"`
	FinishedAt   *string `json:"finishedAt,omitempty"`
	FinishedJobs *Count  `json:"finishedJobs,omitempty"`
	Jobs         *Count  `json:"jobs,omitempty"`
}

type Project struct {
	FullPath string `json:"fullPath"`
}

type CoreMergeRequest struct {
	IID                 string              `json:"iid"`
	WebURL              string              `json:"webUrl"`
	Title               string              `json:"title"`
	Reference           string              `json:"reference"`
	State               string              `json:"state"`
	SourceBranch        string              `json:"sourceBranch"`
	TargetBranch        string              `json:"targetBranch"`
	CreatedAt           *string             `json:"createdAt,omitempty"`
	UpdatedAt           *string             `json:"updatedAt,omitempty"`
	MergedAt            *string             `json:"mergedAt,omitempty"`
	Project             Project             `json:"project"`
	Labels              Nodes[Label]        `json:"labels"`
	Assignees           Nodes[CoreUser]     `json:"assignees"`
	Reviewers           Nodes[ExtendedUser] `json:"reviewers"`
	HeadPipeline        *Pipeline           `json:"headPipeline,omitempty"`
	Conflicts           bool                `json:"conflicts,omitempty"`
	DetailedMergeStatus *string             `json:"detailedMergeStatus,omitempty"`
	ApprovalsLeft       *int                `json:"approvalsLeft,omitempty"`
	Approved            bool                `json:"approved,omitempty"`
}

type Issue struct {
	IID    string       `json:"iid"`
	WebURL string       `json:"webUrl"`
	Title  string       `json:"title"`
	State  string       `json:"state"`
	Labels Nodes[Label] `json:"labels"`
}

// MergeRequestsData is the data member of the open and merged queries.
// User is nil when the username does not exist.
type MergeRequestsData struct {
	User *struct {
		CoreUser
		MergeRequests Nodes[CoreMergeRequest] `json:"mergeRequests"`
	} `json:"user"`
}

type ProjectIssuesData struct {
	Project *struct {
		Issues Nodes[Issue] `json:"issues"`
	} `json:"project"`
}

type ApprovedBy struct {
	ApprovedBy Nodes[CoreUser] `json:"approvedBy"`
}

type ReviewerData struct {
	User *struct {
		ExtendedUser
		ReviewRequestedMergeRequests Nodes[ApprovedBy] `json:"reviewRequestedMergeRequests"`
	} `json:"user"`
}

type MonthlyMergedCountData struct {
	User *struct {
		MergeRequests Count `json:"mergeRequests"`
	} `json:"user"`
}
