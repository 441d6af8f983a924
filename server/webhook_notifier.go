package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier implements SessionNotifier by sending a POST request to a webhook URL.
// The payload is a JSON object defined by WebhookNotifierPayload.
type WebhookNotifier struct {
	url string

	client *http.Client
}

const (
	WebhookEventSessionOpened = "session-opened"
	WebhookEventSessionClosed = "session-closed"
)

type WebhookNotifierPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Session   SessionInfo `json:"session"`
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *WebhookNotifier) NotifySessionOpened(ctx context.Context, session SessionInfo) error {
	return w.send(ctx, &WebhookNotifierPayload{
		Event:     WebhookEventSessionOpened,
		Timestamp: time.Now(),
		Session:   session,
	})
}

func (w *WebhookNotifier) NotifySessionClosed(ctx context.Context, session SessionInfo) error {
	return w.send(ctx, &WebhookNotifierPayload{
		Event:     WebhookEventSessionClosed,
		Timestamp: time.Now(),
		Session:   session,
	})
}

// send posts in the background
func (w *WebhookNotifier) send(ctx context.Context, payload *WebhookNotifierPayload) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		w.url,
		bytes.NewBuffer(jsonPayload),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := w.client.Do(req)
		if err != nil {
			logrus.WithError(err).WithField("event", payload.Event).Warn("Failed to send webhook notification")
			return
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 400 {
			logrus.
				WithField("status", resp.StatusCode).
				WithField("event", payload.Event).
				Warn("webhook receiver responded with an error")
		}
	}()

	return nil
}
