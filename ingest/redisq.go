package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"killwatch/core"
	"killwatch/metrics"
)

// RedisQClient consumes the killmail long-poll feed. Each request blocks
// server-side until a killmail is available or the poll times out with an
// empty package; the limiter keeps us inside the feed's request budget.
type RedisQClient struct {
	endpoint string
	queueID  string
	client   *http.Client
	limiter  *rate.Limiter
	output   chan<- *core.Killmail

	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewRedisQClient creates a long-poll feed client. queueID identifies this
// consumer to the feed so it resumes after restarts.
func NewRedisQClient(endpoint, queueID string, rps float64, burst int, output chan<- *core.Killmail, logger *zap.SugaredLogger) *RedisQClient {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RedisQClient{
		endpoint: endpoint,
		queueID:  queueID,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		output:   output,
		logger:   logger,
	}
}

// Start begins polling until the context is cancelled.
func (c *RedisQClient) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the poll loop has exited.
func (c *RedisQClient) Wait() {
	c.wg.Wait()
}

func (c *RedisQClient) run(ctx context.Context) {
	defer c.wg.Done()
	c.logger.Infof("RedisQ client polling %s", c.endpoint)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return // context cancelled
		}

		km, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnf("RedisQ poll failed, backing off: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if km == nil {
			continue // empty poll, nothing published in the window
		}

		metrics.KillmailsIngested.WithLabelValues("redisq").Inc()
		select {
		case c.output <- km:
		case <-ctx.Done():
			return
		}
	}
}

func (c *RedisQClient) poll(ctx context.Context) (*core.Killmail, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid redisq endpoint: %w", err)
	}
	q := u.Query()
	if c.queueID != "" {
		q.Set("queueID", c.queueID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build redisq request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redisq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("redisq returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Package *feedPackage `json:"package"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode redisq payload: %w", err)
	}
	if envelope.Package == nil {
		return nil, nil
	}

	km, err := normalize(envelope.Package)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize redisq killmail: %w", err)
	}
	return km, nil
}
