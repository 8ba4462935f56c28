package fetcher

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/gateway"
)

// Branch names like "pedro/173741-fix-flaky-spec" or "173741/fix" reference
// issue 173741. Only the first digit run counts.
var issueBranchPattern = regexp.MustCompile(`(?i)^\D*(\d+)[/-].*`)

// IssueIID extracts the referenced issue iid from a branch name.
func IssueIID(branch string) (string, bool) {
	m := issueBranchPattern.FindStringSubmatch(branch)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IssueRef identifies an issue by the project that owns it.
type IssueRef struct {
	ProjectPath string
	IID         string
}

func (r IssueRef) String() string {
	return r.ProjectPath + "#" + r.IID
}

// IssueRefs returns the distinct issues referenced by the merge requests'
// source branches, sorted by project then iid.
func (f *MergeRequestFetcher) IssueRefs(items []gateway.CoreMergeRequest) []IssueRef {
	seen := make(map[IssueRef]struct{})
	refs := make([]IssueRef, 0, len(items))
	for _, mr := range items {
		iid, ok := IssueIID(mr.SourceBranch)
		if !ok {
			continue
		}
		ref := IssueRef{ProjectPath: f.policy.IssueProject(mr.Project.FullPath), IID: iid}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	slices.SortFunc(refs, func(a, b IssueRef) int {
		if c := strings.Compare(a.ProjectPath, b.ProjectPath); c != 0 {
			return c
		}
		return strings.Compare(a.IID, b.IID)
	})
	return refs
}

// FetchIssues resolves the issues referenced by the merge requests, keyed by
// iid. One query runs per project. Projects whose query fails are missing
// from the result and the partial result is not cached.
func (f *MergeRequestFetcher) FetchIssues(ctx context.Context, items []gateway.CoreMergeRequest) (map[string]gateway.Issue, error) {
	refs := f.IssueRefs(items)
	if len(refs) == 0 {
		return map[string]gateway.Issue{}, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mrpulse.fetcher.issues"})

	identity := make([]string, len(refs))
	for i, ref := range refs {
		identity[i] = ref.String()
	}
	key := f.keys.Key("issues", f.versions.issues, identity...)

	cached := make(map[string]gateway.Issue)
	if hit, err := f.store.Read(ctx, key, &cached); err == nil && hit {
		return cached, nil
	} else if err != nil {
		slog.WarnContext(ctx, "cache read failed, fetching issues", "error", err)
	}

	byProject := make(map[string][]string)
	projects := make([]string, 0)
	for _, ref := range refs {
		if _, ok := byProject[ref.ProjectPath]; !ok {
			projects = append(projects, ref.ProjectPath)
		}
		byProject[ref.ProjectPath] = append(byProject[ref.ProjectPath], ref.IID)
	}

	var (
		mu      sync.Mutex
		issues  = make(map[string]gateway.Issue, len(refs))
		partial bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, project := range projects {
		g.Go(func() error {
			resp, err := f.gateway.Query(gctx, "issues", gateway.ProjectIssuesQuery, map[string]any{
				"fullPath": project,
				"iids":     byProject[project],
			})
			if err != nil {
				return err
			}

			var data gateway.ProjectIssuesData
			failed := !resp.OK()
			if failed {
				slog.WarnContext(gctx, "issue query failed", "project", project, "errors", len(resp.Errors))
			} else if err := resp.Decode(&data); err != nil {
				failed = true
				slog.WarnContext(gctx, "issue payload malformed", "project", project, "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if failed {
				partial = true
				return nil
			}
			if data.Project == nil {
				return nil
			}
			for _, issue := range data.Project.Issues.Nodes {
				issues[issue.IID] = issue
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !partial {
		if err := f.store.Write(ctx, key, issues, f.cfg.Validity); err != nil {
			slog.WarnContext(ctx, "failed to cache issues", "error", err)
		}
	}
	return issues, nil
}
