package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/model"
)

// WebPushTransport sends VAPID-signed, encrypted Web Push messages.
type WebPushTransport struct {
	cfg    config.PushConfig
	client *http.Client
}

func NewWebPushTransport(cfg config.PushConfig, client *http.Client) *WebPushTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushTransport{cfg: cfg, client: client}
}

func (t *WebPushTransport) Send(ctx context.Context, sub model.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.AuthKey,
			P256dh: sub.P256dhKey,
		},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.cfg.Subject,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             t.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("sending web push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service responded %d: %s", resp.StatusCode, body)
	}
	return nil
}
