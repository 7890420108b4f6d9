package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/metrics"
)

// ProfileResolver looks up the published snapshot of a profile. The matching
// engine implements this; the indirection keeps notify from depending on the
// engine package.
type ProfileResolver interface {
	Profile(profileID string) (*core.Profile, bool)
}

// Dispatcher delivers match output to each profile's configured webhook.
// Delivery is best effort: failures are logged and counted, never retried
// into the match path.
type Dispatcher struct {
	queue    chan []core.Match
	resolver ProfileResolver
	client   *http.Client
	workers  int

	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher with the given queue size and worker count.
func NewDispatcher(resolver ProfileResolver, queueSize, workers int, timeout time.Duration, logger *zap.SugaredLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:    make(chan []core.Match, queueSize),
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
		workers:  workers,
		logger:   logger,
	}
}

// Queue returns the channel the detector pushes match batches into.
func (d *Dispatcher) Queue() chan<- []core.Match {
	return d.queue
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for batch := range d.queue {
		for _, m := range batch {
			d.deliver(m)
		}
	}
}

// webhookPayload is the wire form of one match notification.
type webhookPayload struct {
	ProfileID   string         `json:"profile_id"`
	ProfileName string         `json:"profile_name"`
	Killmail    *core.Killmail `json:"killmail"`
	MatchedAt   time.Time      `json:"matched_at"`
	Settings    map[string]any `json:"settings,omitempty"`
}

func (d *Dispatcher) deliver(m core.Match) {
	profile, ok := d.resolver.Profile(m.ProfileID)
	if !ok {
		// Deleted between match and delivery; nothing to notify.
		return
	}

	url, _ := profile.Notification["webhook_url"].(string)
	if url == "" {
		// Profile relies on a delivery channel outside this service.
		metrics.NotificationsSent.WithLabelValues("skipped").Inc()
		return
	}

	if err := d.postWebhook(url, profile, m); err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		d.logger.Warnf("Webhook delivery for profile %s failed: %v", m.ProfileID, err)
		return
	}
	metrics.NotificationsSent.WithLabelValues("ok").Inc()
}

func (d *Dispatcher) postWebhook(url string, profile *core.Profile, m core.Match) error {
	payload := webhookPayload{
		ProfileID:   profile.ID,
		ProfileName: profile.Name,
		Killmail:    m.Killmail,
		MatchedAt:   m.MatchedAt,
		Settings:    profile.Notification,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
