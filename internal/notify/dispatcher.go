package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/model"
)

type SubscriptionStore interface {
	ListByUsername(ctx context.Context, username string) ([]model.PushSubscription, error)
}

// PushTransport delivers one encoded payload to one subscription.
type PushTransport interface {
	Send(ctx context.Context, sub model.PushSubscription, payload []byte) error
}

type DispatcherConfig struct {
	Icon  string
	Badge string
	// Concurrency bounds parallel deliveries per dispatch. Zero means 8.
	Concurrency int
}

type Dispatcher struct {
	subscriptions SubscriptionStore
	transport     PushTransport
	cfg           DispatcherConfig
}

func NewDispatcher(subscriptions SubscriptionStore, transport PushTransport, cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Dispatcher{
		subscriptions: subscriptions,
		transport:     transport,
		cfg:           cfg,
	}
}

// Payload builds the push message for event. Event extras are merged last and
// win over the standard fields.
func (d *Dispatcher) Payload(event model.NotificationEvent) map[string]any {
	payload := map[string]any{
		"title":     event.Title,
		"body":      event.Body,
		"icon":      d.cfg.Icon,
		"badge":     d.cfg.Badge,
		"data":      map[string]any{"url": event.URL},
		"tag":       event.Tag,
		"timestamp": event.Timestamp.UnixMilli(),
	}
	for k, v := range event.Extra {
		payload[k] = v
	}
	return payload
}

// Dispatch delivers every event to every subscription of username. Delivery
// failures are logged per subscription and never returned; only a failure to
// list the subscriptions is.
func (d *Dispatcher) Dispatch(ctx context.Context, username string, events []model.NotificationEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "mrpulse.notify.dispatcher",
		Author:    logger.Ptr(username),
	})

	subs, err := d.subscriptions.ListByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("listing push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		slog.DebugContext(ctx, "no push subscriptions, dropping events", "events", len(events))
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)

	for _, event := range events {
		payload, err := json.Marshal(d.Payload(event))
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode push payload", "error", err, "event_type", event.Type)
			continue
		}

		for _, sub := range subs {
			g.Go(func() error {
				if err := d.transport.Send(ctx, sub, payload); err != nil {
					slog.WarnContext(ctx, "push delivery failed",
						"error", err,
						"subscription_id", sub.ID,
						"event_type", event.Type,
						"event_id", event.ID)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "notifications dispatched", "events", len(events), "subscriptions", len(subs))
	return nil
}

// DiscardTransport drops every message. Used when no VAPID keys are
// configured.
type DiscardTransport struct{}

func (DiscardTransport) Send(ctx context.Context, sub model.PushSubscription, _ []byte) error {
	slog.DebugContext(ctx, "push disabled, dropping message", "subscription_id", sub.ID)
	return nil
}
