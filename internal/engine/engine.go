// Package engine drains the crawl queue with a bounded pool of workers, each
// driving records through the checker and feeding discovered links back into
// the queue until no work remains.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
	"github.com/JakeFAU/linkcheck/internal/connpool"
	"github.com/JakeFAU/linkcheck/internal/id/uuid"
	"github.com/JakeFAU/linkcheck/internal/metrics"
	"github.com/JakeFAU/linkcheck/internal/queue"
)

const (
	defaultWorkers         = 10
	defaultMaxConnsPerHost = 4
)

// ErrNoSeeds is returned when Run is called without seed URLs.
var ErrNoSeeds = errors.New("engine: no seed urls")

// Config controls one run.
type Config struct {
	Workers int
	// MaxURLs caps the number of records created, seeds included. Zero
	// means unlimited.
	MaxURLs          int
	MaxConnsPerHost  int
	InternPatterns   []string
	ExternPatterns   []string
	FilterPrecedence string
	Checker          checker.Options
}

// Emitter receives a snapshot of every record that reached a terminal
// state, tagged with the run that produced it.
type Emitter interface {
	Emit(runID string, rec checker.Record)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(runID string, rec checker.Record)

// Emit implements Emitter.
func (f EmitterFunc) Emit(runID string, rec checker.Record) { f(runID, rec) }

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Summary totals a finished run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Checked  int           `json:"checked"`
	Cached   int           `json:"cached"`
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`
	Dropped  int           `json:"dropped"`
	Elapsed  time.Duration `json:"elapsed"`
}

// OK reports whether the run found no broken links.
func (s Summary) OK() bool { return s.Errors == 0 }

// Status is a live view of the current or last run.
type Status struct {
	Summary
	Running  bool      `json:"running"`
	Started  time.Time `json:"started"`
	Queued   int       `json:"queued"`
	InFlight int       `json:"in_flight"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithCheckerOptions passes options through to the checker of every run.
func WithCheckerOptions(opts ...checker.Option) Option {
	return func(e *Engine) { e.checkerOpts = append(e.checkerOpts, opts...) }
}

// Engine runs link checks. Runs may follow one another; Status reports on
// the most recent one.
type Engine struct {
	cfg         Config
	logger      *zap.Logger
	clock       Clock
	ids         IDGenerator
	checkerOpts []checker.Option

	mu      sync.Mutex
	current *run
}

// New builds an Engine.
func New(cfg Config, options ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	e := &Engine{cfg: cfg}
	for _, o := range options {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.ids == nil {
		e.ids = uuid.New()
	}
	return e
}

// Run checks seeds and everything reachable from them, streaming every
// terminal record to emit. It returns once the queue is drained and all
// workers are idle, or when ctx ends.
func Run(ctx context.Context, cfg Config, seeds []string, emit Emitter, options ...Option) (Summary, error) {
	return New(cfg, options...).Run(ctx, seeds, emit)
}

// Run checks seeds with the engine's configuration.
func (e *Engine) Run(ctx context.Context, seeds []string, emit Emitter) (Summary, error) {
	if len(seeds) == 0 {
		return Summary{}, ErrNoSeeds
	}
	if emit == nil {
		emit = EmitterFunc(func(string, checker.Record) {})
	}
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("start run: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID))

	filter, err := checker.NewFilter(e.cfg.InternPatterns, e.cfg.ExternPatterns, e.cfg.FilterPrecedence)
	if err != nil {
		return Summary{}, fmt.Errorf("build domain filter: %w", err)
	}
	if !filter.HasIntern() {
		filter.AddSeedDefaults(seeds)
	}
	opts := e.cfg.Checker
	opts.Filter = filter

	pool := connpool.New(e.cfg.MaxConnsPerHost, logger.Named("pool"))
	defer pool.Close()
	chk, err := checker.New(opts, pool, append([]checker.Option{checker.WithLogger(logger.Named("checker"))}, e.checkerOpts...)...)
	if err != nil {
		return Summary{}, fmt.Errorf("build checker: %w", err)
	}

	r := &run{
		id:      runID,
		started: e.clock.Now(),
		maxURLs: int64(e.cfg.MaxURLs),
		queue:   queue.New[*checker.Record](),
		checker: chk,
		emit:    emit,
		logger:  logger,
	}
	e.mu.Lock()
	e.current = r
	e.mu.Unlock()

	initial := make([]*checker.Record, 0, len(seeds))
	for _, seed := range seeds {
		if !r.admit() {
			r.dropped.Add(1)
			continue
		}
		initial = append(initial, checker.NewSeed(seed))
	}
	if err := r.queue.Put(initial...); err != nil {
		return Summary{}, fmt.Errorf("enqueue seeds: %w", err)
	}

	logger.Info("Run started", zap.Int("seeds", len(seeds)), zap.Int("workers", e.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		worker := i
		g.Go(func() error { return r.work(gctx, worker) })
	}
	werr := g.Wait()
	r.queue.Close()
	r.finished.Store(true)

	summary := r.summary(e.clock.Now().Sub(r.started))
	logger.Info("Run finished",
		zap.Int("checked", summary.Checked),
		zap.Int("cached", summary.Cached),
		zap.Int("errors", summary.Errors),
		zap.Int("warnings", summary.Warnings),
		zap.Duration("elapsed", summary.Elapsed),
	)
	if ctx.Err() != nil {
		return summary, fmt.Errorf("run %s canceled: %w", runID, ctx.Err())
	}
	if werr != nil {
		return summary, fmt.Errorf("run %s: %w", runID, werr)
	}
	return summary, nil
}

// Status reports on the current or most recent run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	r := e.current
	e.mu.Unlock()
	if r == nil {
		return Status{}
	}
	st := Status{
		Summary: r.summary(e.clock.Now().Sub(r.started)),
		Running: !r.finished.Load(),
		Started: r.started,
	}
	if st.Running {
		st.Queued = r.queue.Len()
		st.InFlight = r.queue.InFlight()
	}
	return st
}

type run struct {
	id      string
	started time.Time
	maxURLs int64
	queue   *queue.Queue[*checker.Record]
	checker *checker.Checker
	emit    Emitter
	logger  *zap.Logger

	created  atomic.Int64
	checked  atomic.Int64
	cached   atomic.Int64
	errors   atomic.Int64
	warnings atomic.Int64
	dropped  atomic.Int64
	finished atomic.Bool

	// emitMu serializes emission so sinks see one record at a time.
	emitMu sync.Mutex
}

func (r *run) work(ctx context.Context, worker int) error {
	log := r.logger.With(zap.Int("worker", worker))
	for {
		task, err := r.queue.Get(ctx)
		if errors.Is(err, queue.ErrDrained) || errors.Is(err, queue.ErrClosed) {
			log.Debug("Worker idle, queue drained")
			return nil
		}
		if err != nil {
			return err
		}
		metrics.IncActiveWorkers()
		r.process(ctx, task.Item)
		metrics.DecActiveWorkers()
		r.queue.Done()
	}
}

// process checks rec and routes its children. Children whose result is
// already published complete inline; the rest are enqueued in document
// order.
func (r *run) process(ctx context.Context, rec *checker.Record) {
	children := r.checker.Check(ctx, rec)
	r.record(rec)

	pending := make([]*checker.Record, 0, len(children))
	for _, child := range children {
		if !r.admit() {
			r.dropped.Add(1)
			continue
		}
		if r.checker.Published(child) {
			r.checker.Check(ctx, child)
			r.record(child)
			continue
		}
		pending = append(pending, child)
	}
	if err := r.queue.Put(pending...); err != nil {
		r.logger.Warn("Failed to enqueue children", zap.String("parent", rec.Resolved), zap.Error(err))
	}
}

// admit counts a new record against the URL cap.
func (r *run) admit() bool {
	n := r.created.Add(1)
	return r.maxURLs <= 0 || n <= r.maxURLs
}

func (r *run) record(rec *checker.Record) {
	r.checked.Add(1)
	if rec.Cached {
		r.cached.Add(1)
	}
	if !rec.Valid {
		r.errors.Add(1)
	}
	r.warnings.Add(int64(len(rec.Warnings)))

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.emit.Emit(r.id, rec.Snapshot())
}

func (r *run) summary(elapsed time.Duration) Summary {
	return Summary{
		RunID:    r.id,
		Checked:  int(r.checked.Load()),
		Cached:   int(r.cached.Load()),
		Errors:   int(r.errors.Load()),
		Warnings: int(r.warnings.Load()),
		Dropped:  int(r.dropped.Load()),
		Elapsed:  elapsed,
	}
}
