package fetcher_test

import (
	"context"
	"encoding/json"
	"sync"

	"mrpulse.app/dashboard/internal/gateway"
)

type mockGateway struct {
	mu      sync.Mutex
	calls   map[string]int
	queryFn func(ctx context.Context, name string, variables map[string]any) (*gateway.Response, error)
}

func newMockGateway(fn func(ctx context.Context, name string, variables map[string]any) (*gateway.Response, error)) *mockGateway {
	return &mockGateway{calls: make(map[string]int), queryFn: fn}
}

func (m *mockGateway) Query(ctx context.Context, name, _ string, variables map[string]any) (*gateway.Response, error) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
	return m.queryFn(ctx, name, variables)
}

func (m *mockGateway) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

type mockResolver struct {
	resolveFn func(ctx context.Context, location string) (string, error)
}

func (m *mockResolver) Resolve(ctx context.Context, location string) (string, error) {
	return m.resolveFn(ctx, location)
}

func dataResponse(v any) *gateway.Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &gateway.Response{Data: data, RequestDurationMs: 12.5}
}

func userMergeRequests(nodes ...map[string]any) map[string]any {
	if nodes == nil {
		nodes = []map[string]any{}
	}
	return map[string]any{
		"user": map[string]any{
			"username":      "pedropombeiro",
			"mergeRequests": map[string]any{"nodes": nodes},
		},
	}
}

func mergeRequestNode(iid, sourceBranch string, pipelineStatus string) map[string]any {
	node := map[string]any{
		"iid":          iid,
		"title":        "Merge request " + iid,
		"reference":    "!" + iid,
		"state":        "opened",
		"sourceBranch": sourceBranch,
		"targetBranch": "master",
		"project":      map[string]any{"fullPath": "gitlab-org/gitlab"},
		"labels":       map[string]any{"nodes": []any{}},
		"assignees":    map[string]any{"nodes": []any{}},
		"reviewers":    map[string]any{"nodes": []any{}},
	}
	if pipelineStatus != "" {
		node["headPipeline"] = map[string]any{"status": pipelineStatus}
	}
	return node
}
