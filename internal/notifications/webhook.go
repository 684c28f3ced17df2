// Package notifications posts selected honeypot events to HTTP webhooks.
package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/config"
	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// maxInFlight bounds concurrent deliveries; events beyond it are dropped.
const maxInFlight = 32

// WebhookPayload is the JSON body posted for each event.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Service   string    `json:"service"`
	Peer      string    `json:"peer,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Text      string    `json:"text"`
}

type WebhookProvider struct {
	endpoints  []string
	authType   string
	authValue  string
	kinds      map[logging.Kind]bool
	retryCount int
	retryDelay time.Duration
	client     *http.Client

	slots   chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewWebhookProvider(cfg *config.WebhooksConfig) (*WebhookProvider, error) {
	kinds := make(map[logging.Kind]bool, len(cfg.Events))
	for _, name := range cfg.Events {
		k, err := logging.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("webhooks: %w", err)
		}
		kinds[k] = true
	}
	retries := cfg.RetryCount
	if retries < 1 {
		retries = 1
	}
	return &WebhookProvider{
		endpoints:  append([]string(nil), cfg.Endpoints...),
		authType:   cfg.AuthType,
		authValue:  cfg.AuthValue,
		kinds:      kinds,
		retryCount: retries,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		slots: make(chan struct{}, maxInFlight),
	}, nil
}

func (wp *WebhookProvider) Name() string {
	return "webhook"
}

// Observe fires the webhooks for service events of a configured kind.
// Delivery happens in the background; Observe never waits on the network.
func (wp *WebhookProvider) Observe(ev logging.Event) {
	// Ambient lines (including this provider's own reports) carry no
	// service and are never forwarded.
	if ev.Service == "" || !wp.kinds[ev.Kind] {
		return
	}

	payload, err := json.Marshal(buildWebhookPayload(ev))
	if err != nil {
		return
	}

	for _, endpoint := range wp.endpoints {
		select {
		case wp.slots <- struct{}{}:
		default:
			wp.dropped.Add(1)
			continue
		}
		wp.wg.Add(1)
		go func(endpoint string) {
			defer wp.wg.Done()
			defer func() { <-wp.slots }()
			wp.fireWebhook(endpoint, payload, ev)
		}(endpoint)
	}
}

// Wait blocks until every delivery started so far has finished.
func (wp *WebhookProvider) Wait() {
	wp.wg.Wait()
}

// Dropped counts deliveries skipped because too many were in flight.
func (wp *WebhookProvider) Dropped() int64 {
	return wp.dropped.Load()
}

// fireWebhook sends one payload with retry logic
func (wp *WebhookProvider) fireWebhook(endpoint string, payload []byte, ev logging.Event) {
	var lastErr error
	for attempt := 1; attempt <= wp.retryCount; attempt++ {
		err := wp.sendWebhookRequest(endpoint, payload)
		if err == nil {
			logging.Info("[WEBHOOK] Delivered %s for %s to %s", ev.Kind, ev.Service, endpoint)
			return
		}

		lastErr = err
		logging.Error("[WEBHOOK] Attempt %d/%d failed for %s: %v", attempt, wp.retryCount, endpoint, err)

		if attempt < wp.retryCount {
			time.Sleep(wp.retryDelay)
		}
	}

	logging.Error("[WEBHOOK] Giving up on %s after %d attempts: %v", endpoint, wp.retryCount, lastErr)
}

// sendWebhookRequest makes HTTP request to webhook endpoint
func (wp *WebhookProvider) sendWebhookRequest(endpoint string, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "LogWeaver-Webhook/1.0")

	if wp.authValue != "" {
		switch wp.authType {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+wp.authValue)
		case "apikey":
			req.Header.Set("X-API-Key", wp.authValue)
		case "basic":
			req.Header.Set("Authorization", "Basic "+wp.authValue)
		}
	}

	resp, err := wp.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func buildWebhookPayload(ev logging.Event) *WebhookPayload {
	return &WebhookPayload{
		Event:     "honeypot_event",
		Timestamp: ev.Time,
		Kind:      string(ev.Kind),
		Service:   ev.Service,
		Peer:      ev.Peer,
		Bytes:     ev.Bytes,
		Text:      ev.Text,
	}
}
