package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/squadx-live/notify-server/internal/push"
	"github.com/squadx-live/notify-server/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth reports whether the database answers.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetVAPIDPublicKey returns the server's VAPID public key, which the
// browser passes as applicationServerKey when subscribing.
func (s *Server) HandleGetVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"vapidPublicKey": s.Sender.Keys.PublicKey})
}

// HandlePostSubscription registers or updates a push subscription.
func (s *Server) HandlePostSubscription(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Topic        string `json:"topic"`
		Subscription struct {
			Endpoint string `json:"endpoint"`
			Keys     struct {
				P256dh string `json:"p256dh"`
				Auth   string `json:"auth"`
			} `json:"keys"`
		} `json:"subscription"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sub := body.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint, subscription.keys.p256dh, and subscription.keys.auth are required")
		return
	}

	id, created, err := s.Store.UpsertSubscription(r.Context(), body.Topic, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		s.logger().Error("save subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if s.WelcomeMessage != "" {
			s.sendWelcome(store.Subscription{
				ID:        id,
				Topic:     body.Topic,
				Endpoint:  sub.Endpoint,
				KeyP256dh: sub.Keys.P256dh,
				KeyAuth:   sub.Keys.Auth,
			})
		}
	}
	writeJSON(w, status, map[string]string{"id": id})
}

// sendWelcome registers with the shutdown WaitGroup before returning, so a
// caller that waits after the response was written always sees it.
func (s *Server) sendWelcome(sub store.Subscription) {
	delay := s.WelcomeDelay
	if delay <= 0 {
		delay = time.Second
	}
	s.Sender.WG.Add(1)
	go func() {
		defer s.Sender.WG.Done()
		time.Sleep(delay)
		s.Sender.Deliver(context.Background(), []store.Subscription{sub}, push.Request{Topic: sub.Topic, Title: s.WelcomeMessage})
	}()
}

// HandleDeleteSubscriptionByEndpoint removes a subscription by endpoint (public).
func (s *Server) HandleDeleteSubscriptionByEndpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := s.Store.DeleteByEndpoint(r.Context(), body.Endpoint); err != nil {
		s.logger().Error("delete subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListSubscriptions returns all subscriptions (admin, no keys).
func (s *Server) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		s.logger().Error("list subscriptions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []store.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// HandleDeleteSubscriptionByID removes a subscription by ID (admin).
func (s *Server) HandleDeleteSubscriptionByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}

	if err := s.Store.DeleteByID(r.Context(), id); err != nil {
		s.logger().Error("delete subscription", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeliveryCount reports how many delivery attempts were logged for a
// subscription (admin).
func (s *Server) HandleDeliveryCount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.Store.DeliveryCount(r.Context(), id)
	if err != nil {
		s.logger().Error("count deliveries", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count deliveries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deliveries": n})
}

func decodeNotify(w http.ResponseWriter, r *http.Request) (push.Request, bool) {
	var req push.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return req, false
	}
	return req, true
}

// HandleNotify sends push notifications to matching subscriptions (admin).
func (s *Server) HandleNotify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Sender.Notify(r.Context(), req))
}

// HandleTopicNotify sends push notifications to a topic's subscribers (public).
// The topic name acts as a capability token: knowing the topic grants
// permission to notify it.
func (s *Server) HandleTopicNotify(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	req, ok := decodeNotify(w, r)
	if !ok {
		return
	}

	req.Topic = topic
	writeJSON(w, http.StatusOK, s.Sender.Notify(r.Context(), req))
}

var durationRe = regexp.MustCompile(`^(\d+)([dhm])$`)

func parseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q (use e.g. 30d, 24h, 60m)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	unit := time.Minute
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	}
	if n > int(math.MaxInt64/unit) {
		return 0, fmt.Errorf("invalid duration %q: too large", s)
	}
	return time.Duration(n) * unit, nil
}

// HandlePurgeDeliveryLog deletes old delivery log entries (admin).
func (s *Server) HandlePurgeDeliveryLog(w http.ResponseWriter, r *http.Request) {
	olderThan := r.URL.Query().Get("older_than")
	if olderThan == "" {
		olderThan = "30d"
	}

	dur, err := parseDuration(olderThan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := s.Store.PurgeDeliveryLog(r.Context(), dur)
	if err != nil {
		s.logger().Error("purge delivery log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to purge delivery log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
