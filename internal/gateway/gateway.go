package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/model"
)

// Response carries a GraphQL result. Upstream failures (non-2xx, timeout,
// malformed JSON, GraphQL errors) are reported in Errors, never as a Go error.
type Response struct {
	Data              json.RawMessage
	Errors            []model.GatewayError
	RequestDurationMs float64
}

func (r *Response) OK() bool {
	return r != nil && len(r.Errors) == 0
}

// Decode unmarshals the data member into dst.
func (r *Response) Decode(dst any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, dst)
}

// Gateway executes named GraphQL documents. A returned error means the
// network itself failed (connection refused, DNS) and the caller should abort.
type Gateway interface {
	Query(ctx context.Context, name, document string, variables map[string]any) (*Response, error)
}

type Config struct {
	BaseURL      string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type gitlabGateway struct {
	client *gitlab.Client
}

// New builds a Gateway on the gitlab client-go GraphQL service. Retries are
// disabled: a failed call waits for the next scheduled refresh.
func New(cfg Config) (Gateway, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ReadTimeout

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.ReadTimeout + cfg.WriteTimeout,
	}

	client, err := gitlab.NewClient(
		cfg.Token,
		gitlab.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/api/v4"),
		gitlab.WithHTTPClient(httpClient),
		gitlab.WithCustomRetryMax(0),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &gitlabGateway{client: client}, nil
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (g *gitlabGateway) Query(ctx context.Context, name, document string, variables map[string]any) (*Response, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mrpulse.gateway.graphql"})

	var envelope graphQLEnvelope
	start := time.Now()
	resp, err := g.client.GraphQL.Do(gitlab.GraphQLQuery{
		Query:     document,
		Variables: variables,
	}, &envelope, gitlab.WithContext(ctx))
	duration := float64(time.Since(start).Microseconds()) / 1000

	result := &Response{RequestDurationMs: duration}

	if err != nil {
		if isConnectionFailure(err) {
			return nil, fmt.Errorf("graphql %s: %w", name, err)
		}
		gwErr := classify(err, resp)
		gwErr.Query = name
		result.Errors = append(result.Errors, gwErr)

		slog.WarnContext(ctx, "graphql query failed",
			"query", name,
			"kind", gwErr.Kind,
			"status_code", gwErr.StatusCode,
			"error", logger.Truncate(gwErr.Message, 300),
			"duration_ms", duration)
		return result, nil
	}

	result.Data = envelope.Data
	for _, e := range envelope.Errors {
		result.Errors = append(result.Errors, model.GatewayError{
			Kind:    model.GatewayErrorGraphQL,
			Message: e.Message,
			Query:   name,
		})
	}

	slog.DebugContext(ctx, "graphql query completed",
		"query", name,
		"errors", len(result.Errors),
		"duration_ms", duration)
	return result, nil
}

func classify(err error, resp *gitlab.Response) model.GatewayError {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		netErr    net.Error
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return model.GatewayError{Kind: model.GatewayErrorTimeout, Message: err.Error()}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return model.GatewayError{Kind: model.GatewayErrorMalformed, Message: err.Error()}
	case resp != nil && resp.StatusCode >= http.StatusMultipleChoices:
		return model.GatewayError{Kind: model.GatewayErrorHTTP, Message: err.Error(), StatusCode: resp.StatusCode}
	default:
		return model.GatewayError{Kind: model.GatewayErrorHTTP, Message: err.Error()}
	}
}

// isConnectionFailure reports network-layer failures that never reached GitLab.
func isConnectionFailure(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout()
}
