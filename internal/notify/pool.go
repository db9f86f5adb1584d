package notify

import (
	"context"
	"log/slog"
	"sync"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// Job is one outbound delivery task for the worker pool.
// Params: alert payload and the target channel settings.
// Returns: queue unit consumed by delivery workers.
type Job struct {
	Payload Payload
	Channel config.ChannelConfig
}

// Recorder appends delivery attempt outcomes to the alert history.
// Params: context, alert id, and attempt record.
// Returns: store error.
type Recorder interface {
	AppendNotification(ctx context.Context, alertID string, record domain.NotificationRecord) error
}

// OutcomeFunc observes one finished delivery for metrics.
// Params: channel kind and final success flag.
// Returns: side effect only.
type OutcomeFunc func(channel string, success bool)

// Pool runs async notification delivery on a bounded queue.
// Channels on one alert are independent: one channel failing never blocks
// or aborts the others, and alert state does not change on failure.
// Params: dispatcher, attempt recorder, and pool sizing.
// Returns: delivery pool lifecycle.
type Pool struct {
	dispatcher *Dispatcher
	recorder   Recorder
	logger     *slog.Logger
	onOutcome  OutcomeFunc

	jobs chan Job
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewPool creates the delivery pool.
// Params: delivery config, dispatcher, recorder, outcome hook (may be nil),
// and logger.
// Returns: pool; call Start before enqueueing.
func NewPool(cfg config.DeliveryConfig, dispatcher *Dispatcher, recorder Recorder, onOutcome OutcomeFunc, logger *slog.Logger) *Pool {
	if onOutcome == nil {
		onOutcome = func(string, bool) {}
	}
	return &Pool{
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
		onOutcome:  onOutcome,
		jobs:       make(chan Job, cfg.QueueDepth),
	}
}

// Start launches the delivery workers.
// Params: worker context and worker count.
// Returns: none; workers exit when the queue closes or ctx is canceled.
func (p *Pool) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Enqueue submits one delivery job without blocking.
// Params: job.
// Returns: false when the queue is full or the pool is shut down; a full
// queue records the drop on the alert's notification log so the audit
// trail shows the channel was never attempted.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.inFlight.Add(1)
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	default:
		p.inFlight.Done()
		p.logger.Error("delivery queue full, dropping job",
			"channel", job.Channel.Channel, "alert_id", job.Payload.AlertID)
		record := domain.NotificationRecord{
			Channel: job.Channel.Channel,
			SentAt:  p.dispatcher.clock.Now(),
			Success: false,
			Error:   "delivery queue full",
		}
		if err := p.recorder.AppendNotification(context.Background(), job.Payload.AlertID, record); err != nil {
			p.logger.Error("record dropped delivery",
				"alert_id", job.Payload.AlertID, "channel", job.Channel.Channel, "error", err.Error())
		}
		p.onOutcome(job.Channel.Channel, false)
		return false
	}
}

// WaitIdle blocks until every enqueued job has finished.
// Params: none.
// Returns: after in-flight deliveries drain.
func (p *Pool) WaitIdle() {
	p.inFlight.Wait()
}

// Shutdown stops intake, drains the queue, and waits for workers.
// Params: none.
// Returns: after all workers exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}

// worker consumes jobs until the queue closes or ctx is canceled.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drainRemaining()
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

// drainRemaining releases jobs left queued after cancellation.
func (p *Pool) drainRemaining() {
	for {
		select {
		case _, ok := <-p.jobs:
			if !ok {
				return
			}
			p.inFlight.Done()
		default:
			return
		}
	}
}

// process runs one delivery and records every attempt outcome.
func (p *Pool) process(ctx context.Context, job Job) {
	defer p.inFlight.Done()

	records, err := p.dispatcher.Deliver(ctx, job.Payload, job.Channel)
	for _, record := range records {
		if appendErr := p.recorder.AppendNotification(ctx, job.Payload.AlertID, record); appendErr != nil {
			p.logger.Error("record delivery attempt",
				"alert_id", job.Payload.AlertID, "channel", record.Channel, "error", appendErr.Error())
		}
	}
	p.onOutcome(job.Channel.Channel, err == nil)
	if err != nil {
		p.logger.Error("delivery failed",
			"channel", job.Channel.Channel, "alert_id", job.Payload.AlertID, "error", err.Error())
	}
}
