package pipeline

import (
	"context"
	"sync"
	"time"

	"fraudwatch/internal/logger"
	pkgerrors "fraudwatch/pkg/errors"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
)

var (
	ErrPoolClosed = pkgerrors.ErrServiceUnavailable.WithMessage("pipeline is shutting down")
	ErrTimeout    = pkgerrors.ErrTimeout.WithMessage("event was not processed in time")
)

type Processor interface {
	Process(ctx context.Context, ev models.InboundEvent) models.Outcome
}

// Submitter is what transports hand events to.
type Submitter interface {
	Submit(ctx context.Context, ev models.InboundEvent) (models.Outcome, error)
}

type job struct {
	ctx    context.Context
	ev     models.InboundEvent
	result chan models.Outcome
}

// Pool runs a fixed number of workers over a bounded queue. Each worker
// handles one event at a time through the full pipeline.
type Pool struct {
	processor Processor
	queue     chan job
	workers   int
	timeout   time.Duration
	logger    logger.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(processor Processor, workers, queueSize int, timeout time.Duration, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{
		processor: processor,
		queue:     make(chan job, queueSize),
		workers:   workers,
		timeout:   timeout,
		logger:    log,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Infow("Pipeline workers started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		metrics.PipelineQueueSize.Set(float64(len(p.queue)))
		j.result <- p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) (out models.Outcome) {
	if j.ctx.Err() != nil {
		return models.Failed(models.ReasonCanceled)
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorwCtx(j.ctx, "Panic recovered in pipeline worker",
				"worker", id,
				"error", pkgerrors.RecoverPanic(r),
			)
			out = models.Failed(models.ReasonPanic)
		}
	}()
	return p.processor.Process(j.ctx, j.ev)
}

// Submit queues ev and waits for its outcome for at most the event timeout.
// On timeout the event's context is canceled so the pipeline releases any
// reservation it holds.
func (p *Pool) Submit(ctx context.Context, ev models.InboundEvent) (models.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	j := job{ctx: ctx, ev: ev, result: make(chan models.Outcome, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return models.Failed(models.ReasonCanceled), ErrPoolClosed
	}
	select {
	case p.queue <- j:
		metrics.PipelineQueueSize.Set(float64(len(p.queue)))
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return models.Failed(models.ReasonCanceled), ErrTimeout.WithCause(ctx.Err())
	}

	select {
	case out := <-j.result:
		return out, nil
	case <-ctx.Done():
		return models.Failed(models.ReasonCanceled), ErrTimeout.WithCause(ctx.Err())
	}
}

// Stop refuses new events, drains the queue and waits for the workers.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pipeline workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
