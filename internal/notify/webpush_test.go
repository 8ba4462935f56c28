package notify_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"

	webpush "github.com/SherClockHolmes/webpush-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/notify"
)

func browserSubscription(endpoint string) model.PushSubscription {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	Expect(err).NotTo(HaveOccurred())

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	Expect(err).NotTo(HaveOccurred())

	return model.PushSubscription{
		ID:        7,
		Username:  "pedropombeiro",
		Endpoint:  endpoint,
		AuthKey:   base64.RawURLEncoding.EncodeToString(auth),
		P256dhKey: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
	}
}

var _ = Describe("WebPushTransport", func() {
	var (
		status   int
		received *http.Request
		server   *httptest.Server
		cfg      config.PushConfig
	)

	BeforeEach(func() {
		status = http.StatusCreated
		received = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r
			w.WriteHeader(status)
		}))
		DeferCleanup(server.Close)

		private, public, err := webpush.GenerateVAPIDKeys()
		Expect(err).NotTo(HaveOccurred())
		cfg = config.PushConfig{
			VAPIDPublicKey:  public,
			VAPIDPrivateKey: private,
			Subject:         "mailto:dashboard@example.com",
			TTL:             60,
		}
	})

	It("posts an encrypted, signed message", func() {
		transport := notify.NewWebPushTransport(cfg, server.Client())
		err := transport.Send(context.Background(), browserSubscription(server.URL), []byte(`{"title":"hi"}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(received).NotTo(BeNil())
		Expect(received.Method).To(Equal(http.MethodPost))
		Expect(received.Header.Get("TTL")).To(Equal("60"))
		Expect(received.Header.Get("Content-Encoding")).To(Equal("aes128gcm"))
		Expect(received.Header.Get("Authorization")).To(HavePrefix("vapid "))
	})

	It("reports rejected subscriptions", func() {
		status = http.StatusGone
		transport := notify.NewWebPushTransport(cfg, server.Client())
		err := transport.Send(context.Background(), browserSubscription(server.URL), []byte(`{}`))
		Expect(err).To(MatchError(ContainSubstring("410")))
	})
})
