package ingest

import (
	"context"

	"go.uber.org/zap"

	"killwatch/config"
	"killwatch/core"
)

// Manager owns the configured feed clients and the shared killmail channel
// they fan into.
type Manager struct {
	killmails chan *core.Killmail
	cancel    context.CancelFunc
	redisq    *RedisQClient
	websocket *WebsocketClient
	logger    *zap.SugaredLogger
}

// NewManager builds feed clients for every enabled source.
func NewManager(cfg *config.Config, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		killmails: make(chan *core.Killmail, cfg.Ingest.Buffer),
		logger:    logger,
	}
	if cfg.Ingest.RedisQ.Enabled {
		m.redisq = NewRedisQClient(
			cfg.Ingest.RedisQ.URL,
			cfg.Ingest.RedisQ.QueueID,
			cfg.Ingest.RedisQ.RequestsPerSec,
			cfg.Ingest.RedisQ.Burst,
			m.killmails,
			logger,
		)
	}
	if cfg.Ingest.Websocket.Enabled {
		m.websocket = NewWebsocketClient(
			cfg.Ingest.Websocket.URL,
			cfg.Ingest.Websocket.Channel,
			m.killmails,
			logger,
		)
	}
	return m
}

// Killmails returns the channel every feed client writes into.
func (m *Manager) Killmails() <-chan *core.Killmail {
	return m.killmails
}

// Start launches every enabled feed client.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	if m.redisq != nil {
		m.redisq.Start(ctx)
	}
	if m.websocket != nil {
		m.websocket.Start(ctx)
	}
	if m.redisq == nil && m.websocket == nil {
		m.logger.Warn("No killmail feed sources enabled; engine will only see test traffic")
	}
}

// Stop cancels the clients and waits for them to exit, then closes the
// killmail channel so downstream workers drain and stop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.redisq != nil {
		m.redisq.Wait()
	}
	if m.websocket != nil {
		m.websocket.Wait()
	}
	close(m.killmails)
}
