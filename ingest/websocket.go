package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/metrics"
)

// WebsocketClient subscribes to the killmail firehose over a websocket and
// reconnects with backoff when the stream drops.
type WebsocketClient struct {
	url     string
	channel string
	output  chan<- *core.Killmail

	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewWebsocketClient creates a websocket feed client for the given channel.
func NewWebsocketClient(url, channel string, output chan<- *core.Killmail, logger *zap.SugaredLogger) *WebsocketClient {
	return &WebsocketClient{
		url:     url,
		channel: channel,
		output:  output,
		logger:  logger,
	}
}

// Start begins consuming until the context is cancelled.
func (c *WebsocketClient) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the consume loop has exited.
func (c *WebsocketClient) Wait() {
	c.wg.Wait()
}

func (c *WebsocketClient) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warnf("Websocket feed disconnected, reconnecting in %v: %v", backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *WebsocketClient) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]string{"action": "sub", "channel": c.channel}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	c.logger.Infof("Websocket feed subscribed to %s on %s", c.channel, c.url)

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var pkg feedPackage
		if err := json.Unmarshal(data, &pkg); err != nil {
			c.logger.Warnf("Websocket feed sent undecodable frame, skipping: %v", err)
			continue
		}
		km, err := normalize(&pkg)
		if err != nil {
			c.logger.Warnf("Websocket feed sent incomplete killmail, skipping: %v", err)
			continue
		}

		metrics.KillmailsIngested.WithLabelValues("websocket").Inc()
		select {
		case c.output <- km:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
