package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// Publisher delivers verdict envelopes downstream.
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// Pool drains the verdict queue filled by the scheduler, batching envelopes
// by size or timeout. A batch that fails is retried check by check.
type Pool struct {
	publisher    Publisher
	envelopeChan chan *models.Envelope
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	EnvelopeChan chan *models.Envelope
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics.WorkerQueueCapacity.Set(float64(cap(cfg.EnvelopeChan)))

	return &Pool{
		publisher:    cfg.Publisher,
		envelopeChan: cfg.EnvelopeChan,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing envelopes
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gives the workers up to grace to drain a closed queue, then cancels
// in-flight publishes and waits for them to exit.
func (p *Pool) Stop(grace time.Duration) {
	log := logger.WithComponent("worker_pool")
	log.Info().Dur("grace", grace).Msg("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Int("queued", len(p.envelopeChan)).Msg("worker drain timeout, cancelling")
		p.cancel()
		<-done
	}
	p.cancel()
	log.Info().Msg("worker pool stopped")
}

// verdictBatch groups queued envelopes by check. Arrival order is kept both
// across the batch and within each check.
type verdictBatch struct {
	envelopes []*models.Envelope
	checks    []string
	byCheck   map[string][]*models.Envelope
}

func newVerdictBatch(size int) *verdictBatch {
	return &verdictBatch{
		envelopes: make([]*models.Envelope, 0, size),
		byCheck:   make(map[string][]*models.Envelope),
	}
}

func (b *verdictBatch) add(env *models.Envelope) {
	name := env.Quality.CheckName
	if _, ok := b.byCheck[name]; !ok {
		b.checks = append(b.checks, name)
	}
	b.byCheck[name] = append(b.byCheck[name], env)
	b.envelopes = append(b.envelopes, env)
}

func (b *verdictBatch) len() int { return len(b.envelopes) }

// worker collects envelopes until the batch is full, the timer fires or the
// queue is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	pending := newVerdictBatch(p.batchSize)
	flush := func(reason string) {
		if pending.len() == 0 {
			return
		}
		p.publish(pending, reason)
		pending = newVerdictBatch(p.batchSize)
	}

	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			flush("cancel")
			return

		case env, ok := <-p.envelopeChan:
			if !ok {
				flush("drain")
				return
			}
			pending.add(env)
			metrics.WorkerQueueSize.Set(float64(len(p.envelopeChan)))

			if pending.len() >= p.batchSize {
				flush("full")
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			flush("timeout")
			timer.Reset(p.batchTimeout)
		}
	}
}

// publish sends the batch in one request. If the publisher refuses it, every
// check's verdicts are retried on their own.
func (p *Pool) publish(b *verdictBatch, reason string) {
	log := logger.WithComponent("worker").With().
		Str("reason", reason).
		Int("verdicts", b.len()).
		Int("checks", len(b.checks)).
		Logger()
	start := time.Now()

	// runs after cancellation on the final flush
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 10*time.Second)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, b.envelopes)
	metrics.WorkerBatchPublishDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		p.delivered(b.len())
		log.Debug().Dur("duration", time.Since(start)).Msg("verdicts published")
		return
	}

	log.Warn().Err(err).Msg("batch refused, retrying per check")
	for _, name := range b.checks {
		p.publishCheck(name, b.byCheck[name])
	}
}

// publishCheck sends one check's verdicts in order. After the first failure
// the remaining verdicts of that check are counted as failed without another
// attempt: they share the partition that was just refused.
func (p *Pool) publishCheck(name string, envelopes []*models.Envelope) {
	for i, env := range envelopes {
		env.RetryCount++

		ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 5*time.Second)
		err := p.publisher.Publish(ctx, env)
		cancel()

		if err != nil {
			p.lost(len(envelopes) - i)
			log := logger.WithCheck(name)
			log.Error().
				Err(err).
				Str("quality_id", env.Quality.ID).
				Uint32("revision", env.Quality.Revision).
				Int("given_up", len(envelopes)-i).
				Msg("failed to publish verdicts")
			return
		}
		p.delivered(1)
	}
}

func (p *Pool) delivered(n int) {
	p.processed.Add(uint64(n))
	metrics.WorkerProcessedTotal.Add(float64(n))
}

func (p *Pool) lost(n int) {
	p.failed.Add(uint64(n))
	metrics.WorkerFailedTotal.Add(float64(n))
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.envelopeChan),
		Capacity:  cap(p.envelopeChan),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}
