package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MergeRequests holds the label, status and notification policy applied to
// fetched merge requests. It is loaded once and passed by value.
type MergeRequests struct {
	WorkflowNamespace     string                  `yaml:"workflow_namespace" json:"workflow_namespace" jsonschema:"description=Label namespace stripped from web titles"`
	ContextualLabels      ContextualLabelPrefixes `yaml:"contextual_labels" json:"contextual_labels"`
	StatusClasses         map[string]string       `yaml:"detailed_merge_status_classes" json:"detailed_merge_status_classes,omitempty"`
	NotificationRules     []NotificationRule      `yaml:"notification_rules" json:"notification_rules,omitempty"`
	Bots                  []string                `yaml:"bots" json:"bots,omitempty"`
	IssueProjectOverrides map[string]string       `yaml:"issue_project_overrides" json:"issue_project_overrides,omitempty"`
	WorkingHours          WorkingHours            `yaml:"working_hours" json:"working_hours"`
}

// ContextualLabelPrefixes lists, per context, the label title prefixes that
// make a label contextual.
type ContextualLabelPrefixes struct {
	OpenMergeRequests   []string `yaml:"open_merge_requests" json:"open_merge_requests"`
	MergedMergeRequests []string `yaml:"merged_merge_requests" json:"merged_merge_requests"`
	Issues              []string `yaml:"issues" json:"issues"`
}

// NotificationRule narrows label-change notifications to the watched labels.
// RequiredState and RequiredLabel, when set, gate the rule on the merge
// request's state and raw labels.
type NotificationRule struct {
	Labels        []string `yaml:"labels" json:"labels" jsonschema:"minItems=1"`
	RequiredState string   `yaml:"required_state,omitempty" json:"required_state,omitempty" jsonschema:"enum=opened,enum=merged,enum=closed"`
	RequiredLabel string   `yaml:"required_label,omitempty" json:"required_label,omitempty"`
}

type WorkingHours struct {
	Start int `yaml:"start" json:"start" jsonschema:"minimum=0,maximum=23"`
	End   int `yaml:"end" json:"end" jsonschema:"minimum=1,maximum=24"`
}

const defaultStatusClass = "secondary"

func DefaultMergeRequests() MergeRequests {
	return MergeRequests{
		WorkflowNamespace: "workflow::",
		ContextualLabels: ContextualLabelPrefixes{
			OpenMergeRequests:   []string{"pipeline::", "pipeline:"},
			MergedMergeRequests: []string{"workflow::", "deploy::"},
			Issues:              []string{"workflow::"},
		},
		StatusClasses: map[string]string{
			"MERGEABLE":                "success",
			"CI_MUST_PASS":             "info",
			"CI_STILL_RUNNING":         "info",
			"CHECKING":                 "info",
			"DISCUSSIONS_NOT_RESOLVED": "warning",
			"NEED_REBASE":              "warning",
			"NOT_APPROVED":             "secondary",
			"DRAFT_STATUS":             "secondary",
			"BLOCKED_STATUS":           "danger",
			"BROKEN_STATUS":            "danger",
			"NOT_OPEN":                 "danger",
		},
		WorkingHours: WorkingHours{Start: 9, End: 18},
	}
}

// LoadMergeRequests reads the YAML policy at path on top of the defaults.
// A missing file yields the defaults.
func LoadMergeRequests(path string) (MergeRequests, error) {
	cfg := DefaultMergeRequests()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return MergeRequests{}, fmt.Errorf("reading merge requests config: %w", err)
	}

	return ParseMergeRequests(data)
}

func ParseMergeRequests(data []byte) (MergeRequests, error) {
	cfg := DefaultMergeRequests()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MergeRequests{}, fmt.Errorf("parsing merge requests config: %w", err)
	}

	for i, rule := range cfg.NotificationRules {
		if len(rule.Labels) == 0 {
			return MergeRequests{}, fmt.Errorf("notification rule %d has no labels", i)
		}
	}
	if cfg.WorkingHours.End <= cfg.WorkingHours.Start {
		return MergeRequests{}, fmt.Errorf("working hours end (%d) must be after start (%d)", cfg.WorkingHours.End, cfg.WorkingHours.Start)
	}

	return cfg, nil
}

// StatusClass maps a detailed merge status to a display class.
func (c MergeRequests) StatusClass(detailedMergeStatus string) string {
	if class, ok := c.StatusClasses[detailedMergeStatus]; ok {
		return class
	}
	return defaultStatusClass
}

func (c MergeRequests) IsBot(username string) bool {
	if strings.HasSuffix(username, "-bot") {
		return true
	}
	for _, bot := range c.Bots {
		if strings.EqualFold(bot, username) {
			return true
		}
	}
	return false
}

// IssueProject returns the project that owns issues referenced from
// projectPath, following security-mirror overrides.
func (c MergeRequests) IssueProject(projectPath string) string {
	if canonical, ok := c.IssueProjectOverrides[projectPath]; ok {
		return canonical
	}
	return projectPath
}
