// Package push fans notifications out to stored Web Push subscriptions.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/squadx-live/notify-server/internal/store"
)

// Request is the JSON body for POST /notify.
type Request struct {
	Topic string `json:"topic"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	Tag   string `json:"tag,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Result is the JSON response for POST /notify.
type Result struct {
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	StaleRemoved int `json:"stale_removed"`
}

// Payload builds the JSON payload sent to the browser.
// It uses the Declarative Web Push format so that Safari 18.4+ can display
// the notification natively without waking the service worker. Other
// browsers ignore the "web_push" key; the service worker unwraps
// payload.notification to extract the fields.
func Payload(req Request) ([]byte, error) {
	notification := map[string]any{
		"title": req.Title,
	}
	if req.Body != "" {
		notification["body"] = req.Body
	}
	if req.Icon != "" {
		notification["icon"] = req.Icon
	}
	if req.Badge != "" {
		notification["badge"] = req.Badge
	}
	if req.Tag != "" {
		notification["tag"] = req.Tag
	}
	if req.URL != "" {
		notification["data"] = map[string]any{"url": req.URL}
	}
	payload := map[string]any{
		"web_push":     8030,
		"notification": notification,
	}
	return json.Marshal(payload)
}

// Keys identify the application server to push services.
type Keys struct {
	PublicKey  string
	PrivateKey string
	// Contact is the VAPID subject, a mailto: or https: URI.
	Contact string
}

const (
	defaultConcurrency = 10
	defaultTTL         = 86400
)

// Sender delivers notifications and keeps the subscription table clean.
type Sender struct {
	Store       *store.Store
	Keys        Keys
	Logger      *zap.Logger
	Metrics     *Metrics
	HTTPClient  webpush.HTTPClient
	Concurrency int
	TTL         int

	// WG tracks in-flight deliveries for graceful shutdown.
	WG sync.WaitGroup
}

// Notify fetches subscriptions by topic and delivers to all of them.
// Delivery is detached from ctx cancellation so it survives the HTTP request
// that triggered it.
func (s *Sender) Notify(ctx context.Context, req Request) Result {
	s.WG.Add(1)
	defer s.WG.Done()

	ctx = context.WithoutCancel(ctx)
	subs, err := s.Store.SubscriptionsByTopic(ctx, req.Topic)
	if err != nil {
		s.logger().Error("fetch subscriptions", zap.String("topic", req.Topic), zap.Error(err))
		return Result{}
	}

	return s.Deliver(ctx, subs, req)
}

// Deliver fans out push delivery to the given subscriptions.
func (s *Sender) Deliver(ctx context.Context, subs []store.Subscription, req Request) Result {
	log := s.logger()
	payload, err := Payload(req)
	if err != nil {
		log.Error("build push payload", zap.Error(err))
		return Result{}
	}

	type result struct {
		sent         bool
		staleRemoved bool
	}

	results := make(chan result, len(subs))
	sem := make(chan struct{}, s.concurrency())

	for _, sub := range subs {
		sem <- struct{}{} // acquire slot
		go func(sub store.Subscription) {
			defer func() { <-sem }() // release slot
			sent, stale := s.deliverOne(ctx, sub, payload)
			results <- result{sent: sent, staleRemoved: stale}
		}(sub)
	}

	var nr Result
	for range len(subs) {
		r := <-results
		switch {
		case r.sent:
			nr.Sent++
			s.Metrics.observe(outcomeSent)
		case r.staleRemoved:
			// Stale also counts as a failed delivery.
			nr.StaleRemoved++
			nr.Failed++
			s.Metrics.observe(outcomeStale)
		default:
			nr.Failed++
			s.Metrics.observe(outcomeFailed)
		}
	}

	log.Info("notify",
		zap.String("topic", req.Topic),
		zap.Int("sent", nr.Sent),
		zap.Int("failed", nr.Failed),
		zap.Int("stale_removed", nr.StaleRemoved),
	)
	return nr
}

func (s *Sender) deliverOne(ctx context.Context, sub store.Subscription, payload []byte) (sent, stale bool) {
	log := s.logger().With(zap.String("subscription", sub.ID))

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, &webpush.Options{
		HTTPClient:      s.HTTPClient,
		VAPIDPublicKey:  s.Keys.PublicKey,
		VAPIDPrivateKey: s.Keys.PrivateKey,
		Subscriber:      s.Keys.Contact,
		TTL:             s.ttl(),
	})

	var statusCode int
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	} else {
		statusCode = resp.StatusCode
		resp.Body.Close()
	}

	if logErr := s.Store.LogDelivery(ctx, sub.ID, statusCode, errMsg); logErr != nil {
		log.Warn("log delivery", zap.Error(logErr))
	}

	// Push services answer 404 or 410 for expired subscriptions.
	stale = statusCode == http.StatusNotFound || statusCode == http.StatusGone
	if stale {
		if delErr := s.Store.DeleteByID(ctx, sub.ID); delErr != nil {
			log.Warn("delete stale subscription", zap.Error(delErr))
		}
	}

	sent = err == nil && statusCode >= 200 && statusCode < 300
	if !sent && !stale {
		log.Debug("push rejected", zap.Int("status", statusCode), zap.String("error", errMsg))
	}
	return sent, stale
}

func (s *Sender) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Sender) concurrency() int {
	if s.Concurrency <= 0 {
		return defaultConcurrency
	}
	return s.Concurrency
}

func (s *Sender) ttl() int {
	if s.TTL <= 0 {
		return defaultTTL
	}
	return s.TTL
}
