// Package processor wires ingestion, the check runner, alarms, persistence
// and publishing into one long-running service.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"qcflow/internal/alarm"
	"qcflow/internal/check"
	"qcflow/internal/check/modules"
	"qcflow/internal/config"
	"qcflow/internal/kafka"
	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
	"qcflow/internal/runner"
	"qcflow/internal/state"
	"qcflow/internal/storage"
	"qcflow/internal/worker"
)

// Processor owns one CheckRunner and everything around it. Batches from
// HTTP and Kafka are funnelled through a single queue so cycles never overlap.
type Processor struct {
	cfg          *config.Config
	runner       *runner.CheckRunner
	alarms       AlarmEvaluator
	repo         storage.Repository
	state        state.Store
	producer     *kafka.Producer
	consumer     *kafka.Consumer
	workerPool   *worker.Pool
	httpServer   *http.Server
	batchChan    chan *models.Batch
	envelopeChan chan *models.Envelope

	ready  atomic.Bool
	loopWG sync.WaitGroup

	// Stats
	batches     atomic.Uint64
	alarmEvents atomic.Uint64
	storeErrors atomic.Uint64
}

// AlarmEvaluator runs the alarm conditions over the verdicts of one cycle.
// An error wrapping alarm.ErrEvaluation stops the processor.
type AlarmEvaluator interface {
	Evaluate(ctx context.Context, verdicts []*models.QualityObject) ([]*models.AlarmEvent, error)
	Statuses() []alarm.Status
	Len() int
}

// Option customises a Processor, mostly for tests.
type Option func(*Processor)

// WithRepository replaces the storage opened from configuration.
func WithRepository(repo storage.Repository) Option {
	return func(p *Processor) { p.repo = repo }
}

// WithState replaces the state store opened from configuration.
func WithState(s state.Store) Option {
	return func(p *Processor) { p.state = s }
}

// WithAlarms replaces the alarms built from configuration.
func WithAlarms(e AlarmEvaluator) Option {
	return func(p *Processor) { p.alarms = e }
}

// BuildChecks instantiates every active check with the builtin modules.
func BuildChecks(cfg *config.Config) ([]*check.Check, error) {
	reg := modules.NewRegistry()
	active := cfg.ActiveChecks()
	checks := make([]*check.Check, 0, len(active))
	for _, cc := range active {
		c, err := check.New(cc, reg)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, nil
}

// BuildAlarms parses every configured alarm condition.
func BuildAlarms(cfg *config.Config) (*alarm.Engine, error) {
	alarms := make([]*alarm.Alarm, 0, len(cfg.Alarms))
	for _, ac := range cfg.Alarms {
		a, err := alarm.New(ac.Name, ac.Condition, ac.Lifetime)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, a)
	}
	return alarm.NewEngine(alarms...), nil
}

// New builds the checks and alarms described by cfg. Storage, state and
// transport are opened by Run; ProcessBatch and Router need them injected
// when used without Run.
func New(cfg *config.Config, opts ...Option) (*Processor, error) {
	checks, err := BuildChecks(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build checks: %w", err)
	}

	alarms, err := BuildAlarms(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build alarms: %w", err)
	}

	r, err := runner.New(runner.Config{Checks: checks, Parallelism: cfg.Runner.Parallelism})
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:          cfg,
		runner:       r,
		alarms:       alarms,
		batchChan:    make(chan *models.Batch, cfg.Runner.QueueSize),
		envelopeChan: make(chan *models.Envelope, cfg.Runner.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run starts background goroutines and blocks until ctx is cancelled, the
// HTTP server fails or an alarm condition turns out to be broken. The last
// two are returned.
func (p *Processor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.WithComponent("processor")
	log.Info().
		Int("checks", len(p.runner.Checks())).
		Int("alarms", p.alarms.Len()).
		Msg("processor starting")

	if err := p.openStores(); err != nil {
		log.Error().Err(err).Msg("failed to open stores")
		return err
	}

	if p.cfg.KafkaEnabled() {
		if err := p.initKafka(); err != nil {
			log.Error().Err(err).Msg("failed to initialize kafka")
			p.closeStores()
			return fmt.Errorf("failed to initialize kafka: %w", err)
		}
	}

	p.initHTTPServer()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", p.cfg.HTTP.Address).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if p.consumer != nil {
		p.loopWG.Add(1)
		go func() {
			defer p.loopWG.Done()
			if err := p.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}

	cycleErr := make(chan error, 1)
	p.loopWG.Add(1)
	go func() {
		defer p.loopWG.Done()
		if err := p.cycleLoop(ctx); err != nil {
			cycleErr <- err
		}
	}()

	go p.reportStats(ctx)

	p.ready.Store(true)

	var err error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err = <-serveErr:
		log.Error().Err(err).Msg("HTTP server error")
	case err = <-cycleErr:
		log.Error().Err(err).Msg("stopping on broken alarm")
	}

	cancel()
	// queued batches would hit the same broken condition
	p.shutdown(!errors.Is(err, alarm.ErrEvaluation))
	return err
}

func (p *Processor) openStores() error {
	if p.repo == nil {
		if p.cfg.Storage.Enabled {
			repo, err := storage.NewSQLite(p.cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			p.repo = repo
		} else {
			p.repo = storage.NewNoop()
		}
	}

	if p.state == nil {
		s, err := state.OpenBadger(p.cfg.State)
		if err != nil {
			p.repo.Close()
			return fmt.Errorf("failed to open state: %w", err)
		}
		p.state = s
	}
	return nil
}

func (p *Processor) closeStores() {
	log := logger.WithComponent("processor")
	if err := p.repo.Close(); err != nil {
		log.Error().Err(err).Msg("storage close error")
	}
	if err := p.state.Close(); err != nil {
		log.Error().Err(err).Msg("state close error")
	}
}

// initKafka sets up the producer, its worker pool and the input consumer.
func (p *Processor) initKafka() error {
	log := logger.WithComponent("processor")
	kc := p.cfg.Kafka

	producer, err := kafka.NewProducer(kc.Brokers, kc.VerdictTopic, kc.Producer, kafka.WithAlarmTopic(kc.AlarmTopic))
	if err != nil {
		return err
	}

	consumer, err := kafka.NewConsumer(kc.Brokers, kc.InputTopic, kc.GroupID, p.batchChan)
	if err != nil {
		producer.Close()
		return err
	}

	p.producer = producer
	p.consumer = consumer
	p.workerPool = worker.NewPool(worker.Config{
		Publisher:    producer,
		EnvelopeChan: p.envelopeChan,
		Workers:      kc.Producer.PoolSize,
		BatchSize:    kc.Producer.BatchSize,
		BatchTimeout: kc.Producer.BatchTimeout,
	})
	p.workerPool.Start()

	log.Info().
		Strs("brokers", kc.Brokers).
		Str("input_topic", kc.InputTopic).
		Str("verdict_topic", kc.VerdictTopic).
		Str("alarm_topic", kc.AlarmTopic).
		Msg("kafka initialized")
	return nil
}

// cycleLoop runs one cycle per queued batch until ctx is cancelled. A broken
// alarm ends the loop with its error, anything else is logged.
func (p *Processor) cycleLoop(ctx context.Context) error {
	log := logger.WithComponent("processor")
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-p.batchChan:
			_, err := p.ProcessBatch(ctx, batch)
			if err == nil || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, alarm.ErrEvaluation) {
				return fmt.Errorf("batch %s: %w", batch.ID, err)
			}
			log.Error().Err(err).Str("batch_id", batch.ID).Msg("cycle failed")
		}
	}
}

// drain processes whatever is still queued once producers have stopped.
func (p *Processor) drain() {
	log := logger.WithComponent("processor")
	for {
		select {
		case batch := <-p.batchChan:
			if _, err := p.ProcessBatch(context.Background(), batch); err != nil {
				log.Error().Err(err).Str("batch_id", batch.ID).Msg("cycle failed during drain")
			}
		default:
			return
		}
	}
}

// BatchResult is the outcome of processing one batch.
type BatchResult struct {
	Cycle  *runner.CycleResult
	Alarms []*models.AlarmEvent
}

// ProcessBatch runs one scheduler cycle over batch, persists its verdicts,
// queues them for publishing and evaluates the alarms. Persistence failures
// are logged and do not fail the cycle. When an alarm is broken the events of
// the other alarms are still recorded and returned with the error.
func (p *Processor) ProcessBatch(ctx context.Context, batch *models.Batch) (*BatchResult, error) {
	log := logger.WithComponent("processor")

	res, err := p.runner.Cycle(ctx, batch.Objects)
	if err != nil {
		return nil, err
	}
	p.batches.Add(1)

	verdicts := make([]*models.QualityObject, 0, len(res.Verdicts))
	for _, v := range res.Verdicts {
		verdicts = append(verdicts, v.Quality)
	}

	storeStart := time.Now()
	if err := p.repo.StoreMonitorObjects(ctx, batch.Objects); err != nil {
		p.storeErrors.Add(1)
		log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to store monitor objects")
	}
	if err := p.repo.StoreQualityObjects(ctx, verdicts); err != nil {
		p.storeErrors.Add(1)
		log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to store verdicts")
	}
	for _, qo := range verdicts {
		if err := state.SaveVerdict(ctx, p.state, qo); err != nil {
			p.storeErrors.Add(1)
			log.Error().Err(err).Str("check", qo.CheckName).Msg("failed to save verdict state")
		}
	}
	p.runner.RecordStore(time.Since(storeStart))

	if p.workerPool != nil {
		p.enqueue(ctx, res.Verdicts)
	}

	events, err := p.alarms.Evaluate(ctx, verdicts)
	p.recordAlarms(ctx, events)

	return &BatchResult{Cycle: res, Alarms: events}, err
}

// enqueue hands verdicts to the worker pool, blocking while the queue is full.
func (p *Processor) enqueue(ctx context.Context, verdicts []check.Verdict) {
	for _, v := range verdicts {
		env := models.NewEnvelope(v.Quality, p.cfg.Node)
		if v.Beautified != nil {
			env.WithMonitorObject(v.Beautified)
		}
		select {
		case p.envelopeChan <- env:
		case <-ctx.Done():
			return
		}
	}
	metrics.WorkerQueueSize.Set(float64(len(p.envelopeChan)))
}

func (p *Processor) recordAlarms(ctx context.Context, events []*models.AlarmEvent) {
	if len(events) == 0 {
		return
	}
	log := logger.WithComponent("processor")
	p.alarmEvents.Add(uint64(len(events)))

	if err := p.repo.StoreAlarmEvents(ctx, events); err != nil {
		p.storeErrors.Add(1)
		log.Error().Err(err).Msg("failed to store alarm events")
	}
	for _, ev := range events {
		if err := state.SaveAlarmEvent(ctx, p.state, ev); err != nil {
			p.storeErrors.Add(1)
			log.Error().Err(err).Str("alarm", ev.AlarmName).Msg("failed to save alarm state")
		}
	}

	if p.producer != nil {
		if err := p.producer.PublishAlarms(ctx, events); err != nil {
			log.Error().Err(err).Int("count", len(events)).Msg("failed to publish alarm events")
		}
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown(drainQueue bool) {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")
	p.ready.Store(false)

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Wait for the consumer and the cycle loop, then run what is queued
	p.loopWG.Wait()
	if drainQueue {
		p.drain()
	} else if n := len(p.batchChan); n > 0 {
		log.Warn().Int("batches", n).Msg("dropping queued batches")
	}

	// 3. No more verdicts: let the workers flush
	close(p.envelopeChan)
	if p.workerPool != nil {
		p.workerPool.Stop(15 * time.Second)
	}

	// 4. Close transport and stores
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	p.closeStores()

	log.Info().Msg("processor stopped gracefully")
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Stats()
			log.Info().
				Uint64("cycles", st.Runner.Cycles).
				Uint64("checks_executed", st.Runner.ChecksExecuted).
				Uint64("verdicts", st.Runner.Verdicts).
				Uint32("revision", st.Revision).
				Uint64("alarm_events", st.AlarmEvents).
				Int("batch_queue", st.BatchQueue).
				Msg("stats")
		}
	}
}

// Stats is the payload of the /stats endpoint.
type Stats struct {
	Revision      uint32               `json:"revision"`
	Batches       uint64               `json:"batches"`
	AlarmEvents   uint64               `json:"alarm_events"`
	StoreErrors   uint64               `json:"store_errors"`
	BatchQueue    int                  `json:"batch_queue"`
	BatchCapacity int                  `json:"batch_capacity"`
	Runner        runner.Stats         `json:"runner"`
	Worker        *worker.Stats        `json:"worker,omitempty"`
	Producer      *kafka.ProducerStats `json:"producer,omitempty"`
}

func (p *Processor) Stats() Stats {
	st := Stats{
		Revision:      p.runner.Revision(),
		Batches:       p.batches.Load(),
		AlarmEvents:   p.alarmEvents.Load(),
		StoreErrors:   p.storeErrors.Load(),
		BatchQueue:    len(p.batchChan),
		BatchCapacity: cap(p.batchChan),
		Runner:        p.runner.Stats(),
	}
	if p.workerPool != nil {
		ws := p.workerPool.Stats()
		st.Worker = &ws
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		st.Producer = &ps
	}
	return st
}
