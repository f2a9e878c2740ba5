package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker represents a background job worker
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	runOnStart   bool
	log          zerolog.Logger
	triggerChan  chan struct{}
	stopChan     chan struct{}
	doneChan     chan struct{}
}

type WorkerOption func(*Worker)

func WithWorkerLogger(log zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.log = log }
}

// WithRunOnStart processes once before the first tick.
func WithRunOnStart() WorkerOption {
	return func(w *Worker) { w.runOnStart = true }
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration, opts ...WorkerOption) *Worker {
	w := &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		log:          zerolog.Nop(),
		triggerChan:  make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the worker's polling loop
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("worker started")

	if w.runOnStart {
		w.process(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			w.log.Info().Msg("worker stopped: stop signal received")
			return
		case <-ticker.C:
			w.process(ctx)
		case <-w.triggerChan:
			w.process(ctx)
		}
	}
}

// Trigger requests a run ahead of the next tick. Requests made while one is
// already pending are coalesced.
func (w *Worker) Trigger() {
	select {
	case w.triggerChan <- struct{}{}:
	default:
	}
}

func (w *Worker) process(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		w.log.Error().Err(err).Msg("error processing jobs")
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	w.log.Info().Msg("worker shutdown complete")
}
