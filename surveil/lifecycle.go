package surveil

import (
	"sync"

	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/metrics"
)

// Controller applies profile create/update/delete operations to the compiler,
// index manager, and matching engine. Operations on the same profile are
// serialized; operations on different profiles proceed concurrently and never
// block Match calls.
type Controller struct {
	engine *Engine
	index  *IndexManager
	cache  *ResultCache // nil when caching is disabled
	locks  sync.Map     // profile ID -> *sync.Mutex
	logger *zap.SugaredLogger
}

// NewController creates a lifecycle controller. cache may be nil.
func NewController(engine *Engine, index *IndexManager, cache *ResultCache, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		engine: engine,
		index:  index,
		cache:  cache,
		logger: logger,
	}
}

// Upsert compiles the profile's filter tree and, only on success, replaces
// the profile's index entries and published predicate. A compile failure
// returns the *core.CompileError with no side effects on the previous state.
// Disabled profiles are withdrawn from matching but not an error.
func (c *Controller) Upsert(profile *core.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	pred, err := Compile(&profile.FilterTree)
	if err != nil {
		metrics.CompileFailures.Inc()
		c.logger.Warnf("Rejected profile %s (%s): %v", profile.ID, profile.Name, err)
		return err
	}

	mu := c.lockFor(profile.ID)
	mu.Lock()
	defer mu.Unlock()

	if !profile.Enabled {
		c.withdraw(profile.ID)
		c.logger.Infof("Profile %s (%s) disabled, withdrawn from matching", profile.ID, profile.Name)
		return nil
	}

	// Reindex first, then publish: between the two steps the old predicate
	// answers for the new index entries, which can only cost a wasted
	// evaluation, never a false match.
	c.index.IndexProfile(profile.ID, &profile.FilterTree)
	c.engine.publish(profile, pred)
	if c.cache != nil {
		c.cache.Purge()
	}

	c.logger.Infof("Published profile %s (%s) version %d", profile.ID, profile.Name, profile.Version)
	return nil
}

// Delete removes the profile's index entries and compiled predicate.
// Subsequent Match calls will not return it. Unknown IDs are a no-op.
func (c *Controller) Delete(profileID string) {
	mu := c.lockFor(profileID)
	mu.Lock()
	defer mu.Unlock()

	c.withdraw(profileID)
	c.logger.Infof("Deleted profile %s", profileID)
}

func (c *Controller) withdraw(profileID string) {
	c.index.DeindexProfile(profileID)
	c.engine.unpublish(profileID)
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *Controller) lockFor(profileID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(profileID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
