package surveil

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"killwatch/core"
)

// Detector pulls killmails off the ingest channel, runs them through the
// matching engine, and forwards match batches to the notification dispatcher.
// Multiple workers call Match concurrently; the engine is built for that.
type Detector struct {
	engine  *Engine
	input   <-chan *core.Killmail
	output  chan<- []core.Match
	workers int

	wg     sync.WaitGroup
	stopCh chan struct{}
	logger *zap.SugaredLogger
}

// NewDetector creates a detector with the given worker count.
func NewDetector(engine *Engine, input <-chan *core.Killmail, output chan<- []core.Match, workers int, logger *zap.SugaredLogger) *Detector {
	if workers <= 0 {
		workers = 4
	}
	return &Detector{
		engine:  engine,
		input:   input,
		output:  output,
		workers: workers,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (d *Detector) Start() {
	d.logger.Infof("Detector starting with %d workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Stop signals the workers and waits for them to drain.
func (d *Detector) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Detector) run() {
	defer d.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-d.stopCh:
			return
		case km, ok := <-d.input:
			if !ok {
				return
			}
			matches := d.engine.Match(ctx, km)
			if len(matches) == 0 {
				continue
			}
			select {
			case d.output <- matches:
			default:
				d.logger.Warnf("Notification queue full, dropping %d matches for killmail %d",
					len(matches), km.KillmailID)
			}
		}
	}
}
