// Package worker consumes protocol events and keeps read models in step with the registry.
//
// Workers never apply event payloads directly. A score event only names the
// subject that changed; the worker re-reads that subject's record and writes
// the result to the projection, so delivery order between workers is irrelevant.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/adapters/mq/eventbus"
	"github.com/nikhlu07/Credo/internal/domain/dedupe"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/pkg/logger"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

const (
	defaultBuffer       = 1024
	defaultRetryDelay   = 100 * time.Millisecond
	poolShutdownTimeout = 30 * time.Second
)

// ErrAlreadyStarted is returned by Start on a running pool.
var ErrAlreadyStarted = errors.New("worker pool already started")

// ScoreSource is read to learn a subject's current record.
type ScoreSource interface {
	GetScoreData(ctx context.Context, subject common.Address) (model.ScoreRecord, error)
}

// Projection is the read model kept in step with active scores.
type Projection interface {
	Set(ctx context.Context, subject common.Address, score uint64)
	Remove(ctx context.Context, subject common.Address)
}

// Source hands out a subscription to the event stream.
type Source interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Delivery is one decoded message. When it came from the bus, the worker
// acks it after processing or nacks it so the bus delivers it again.
type Delivery struct {
	ID    string
	Event model.Event

	msg *message.Message
}

func (d Delivery) ack() {
	if d.msg != nil {
		d.msg.Ack()
	}
}

func (d Delivery) nack() {
	if d.msg != nil {
		d.msg.Nack()
	}
}

// Worker processes deliveries.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current delivery.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker applies deliveries to a projection.
type InMemoryWorker struct {
	jobs       <-chan Delivery
	scores     ScoreSource
	projection Projection
	seen       dedupe.Deduper
	name       string
	retryDelay time.Duration

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading jobs.
func NewInMemoryWorker(jobs <-chan Delivery, scores ScoreSource, projection Projection, seen dedupe.Deduper, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		jobs:       jobs,
		scores:     scores,
		projection: projection,
		seen:       seen,
		name:       "worker",
		retryDelay: defaultRetryDelay,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.seen == nil {
		w.seen = dedupe.NewInMemoryDeduper()
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case d, ok := <-w.jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, d); err != nil {
				w.logger.Error(ctx, "error processing event", logger.String("id", d.ID), logger.Error(err))
				w.backoff(ctx)
				d.nack()
				continue
			}
			d.ack()
		}
	}
}

// backoff pauses before a failed delivery is handed back to the bus.
func (w *InMemoryWorker) backoff(ctx context.Context) {
	if w.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-w.shutdown:
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, d Delivery) error {
	start := time.Now()
	defer func() { metrics.RecordWorkerProcessingLatency(metrics.Since(start)) }()

	if w.seen.SeenAndRecord(ctx, d.ID) {
		w.logger.Debug(ctx, "duplicate delivery skipped", logger.String("id", d.ID))
		return nil
	}
	metrics.RecordEventConsumed(d.Event.EventName())

	subject, ok := affectedSubject(d.Event)
	if !ok {
		return nil
	}
	if err := w.reconcile(ctx, subject); err != nil {
		w.seen.Unrecord(ctx, d.ID)
		metrics.RecordWorkerError()
		return fmt.Errorf("reconcile %s: %w", subject.Hex(), err)
	}
	return nil
}

// reconcile copies subject's current standing into the projection.
func (w *InMemoryWorker) reconcile(ctx context.Context, subject common.Address) error {
	rec, err := w.scores.GetScoreData(ctx, subject)
	if err != nil {
		return err
	}
	if rec.Active {
		w.projection.Set(ctx, subject, rec.Score)
	} else {
		w.projection.Remove(ctx, subject)
	}
	metrics.RecordRankingUpdate()
	return nil
}

// affectedSubject returns the subject whose score an event may have changed.
func affectedSubject(e model.Event) (common.Address, bool) {
	switch ev := e.(type) {
	case model.ScoreUpdated:
		return ev.Subject, true
	case model.ScoreDeactivated:
		return ev.Subject, true
	case model.UserRegistered:
		return ev.Subject, true
	default:
		return common.Address{}, false
	}
}

// Pool runs a dispatcher that decodes bus messages and a set of workers that
// process them.
type Pool struct {
	workers    []*InMemoryWorker
	source     Source
	jobs       chan Delivery
	scores     ScoreSource
	projection Projection
	seen       dedupe.Deduper
	buffer     int
	retryDelay time.Duration

	started  atomic.Bool
	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. workerCount < 1 means one per CPU.
func NewPool(workerCount int, source Source, scores ScoreSource, projection Projection, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers:    make([]*InMemoryWorker, workerCount),
		source:     source,
		scores:     scores,
		projection: projection,
		buffer:     defaultBuffer,
		retryDelay: defaultRetryDelay,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.seen == nil {
		p.seen = dedupe.NewInMemoryDeduper()
	}
	p.jobs = make(chan Delivery, p.buffer)

	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(p.jobs, scores, projection, p.seen,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
			WithRetryDelay(p.retryDelay),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start subscribes to the source and starts all workers. Events published
// before Start returns are not observed.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	msgs, err := p.source.Subscribe(ctx)
	if err != nil {
		p.started.Store(false)
		return fmt.Errorf("start worker pool: %w", err)
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.dispatch(ctx, msgs)
	return nil
}

// dispatch decodes messages onto the job channel. The worker that picks a
// message up acks or nacks it; undecodable messages are acked and dropped.
func (p *Pool) dispatch(ctx context.Context, msgs <-chan *message.Message) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			e, err := eventbus.Decode(msg)
			if err != nil {
				metrics.RecordWorkerError()
				p.logger.Warn(ctx, "dropping undecodable message", logger.String("id", msg.UUID), logger.Error(err))
				msg.Ack()
				continue
			}
			select {
			case p.jobs <- Delivery{ID: msg.UUID, Event: e, msg: msg}:
			case <-ctx.Done():
				msg.Nack()
				return
			case <-p.shutdown:
				msg.Nack()
				return
			}
		}
	}
}

// Pending returns the number of decoded deliveries waiting for a worker.
func (p *Pool) Pending() int { return len(p.jobs) }

// Shutdown stops the dispatcher and waits for the workers. A pool that was
// never started returns at once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.shutdown) })
	if !p.started.Load() {
		metrics.UpdateWorkerCount(0)
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-p.done:
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "dispatcher shutdown timed out")
	}
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
