package surveil

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"killwatch/core"
)

// ProfileSource is the slice of the profile store the loader needs.
type ProfileSource interface {
	GetAllProfiles() ([]core.Profile, error)
}

// Loader replays the profile store into the engine at startup and keeps the
// two in sync on an interval, covering changes that bypass the API push path
// (another instance writing the shared store, manual edits).
type Loader struct {
	source     ProfileSource
	controller *Controller
	engine     *Engine
	logger     *zap.SugaredLogger
}

// NewLoader creates a loader.
func NewLoader(source ProfileSource, controller *Controller, engine *Engine, logger *zap.SugaredLogger) *Loader {
	return &Loader{
		source:     source,
		controller: controller,
		engine:     engine,
		logger:     logger,
	}
}

// Sync loads every stored profile into the engine and withdraws published
// profiles that no longer exist in the store. Profiles that fail to compile
// are logged and skipped; one broken definition must not block the rest.
func (l *Loader) Sync() error {
	profiles, err := l.source.GetAllProfiles()
	if err != nil {
		return fmt.Errorf("failed to load profiles from store: %w", err)
	}

	current := make(map[string]struct{}, len(profiles))
	loaded, failed := 0, 0
	for i := range profiles {
		p := profiles[i]
		current[p.ID] = struct{}{}
		if err := l.controller.Upsert(&p); err != nil {
			failed++
			l.logger.Warnf("Skipping stored profile %s (%s): %v", p.ID, p.Name, err)
			continue
		}
		if p.Enabled {
			loaded++
		}
	}

	// Withdraw anything published that vanished from the store.
	for _, id := range l.publishedIDs() {
		if _, ok := current[id]; !ok {
			l.controller.Delete(id)
		}
	}

	l.logger.Infof("Profile sync complete: %d published, %d rejected, %d stored", loaded, failed, len(profiles))
	return nil
}

// Run re-syncs on the given interval until the context is cancelled.
// A zero interval disables polling.
func (l *Loader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Sync(); err != nil {
					l.logger.Warnf("Periodic profile sync failed: %v", err)
				}
			}
		}
	}()
}

func (l *Loader) publishedIDs() []string {
	var ids []string
	l.engine.predicates.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
