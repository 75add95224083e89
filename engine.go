package scatter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Engine scatters units into pieces, transforms the pieces in parallel and
// gathers them back per key.
//
// An Engine may serve several concurrent Run calls; each run has its own
// collector. Close releases the pools.
type Engine struct {
	transform     Transform
	splitter      Splitter
	pieces        int
	policy        FailurePolicy
	poolSizes     []int
	poolOpts      []ants.Option
	cancelOnAbort bool
	failFast      bool
	maxInFlight   int
	logger        Logger
	clock         clockz.Clock

	pools   *Pools
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[Event]
}

// New builds an Engine applying transform to every piece.
func New(transform Transform, opts ...Option) (*Engine, error) {
	e := defaults()
	for _, opt := range opts {
		opt(e)
	}
	e.transform = transform
	if err := e.validate(); err != nil {
		return nil, err
	}

	pools, err := NewPoolsWithOptions(e.poolSizes, append([]ants.Option{ants.WithLogger(e.logger)}, e.poolOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create pools: %w", err)
	}
	e.pools = pools
	e.metrics = newMetrics()
	e.tracer = tracez.New()
	e.hooks = hookz.New[Event]()
	return e, nil
}

func (e *Engine) validate() error {
	switch {
	case e.transform == nil:
		return ErrNilTransform
	case e.pieces < 1:
		return fmt.Errorf("%w: %d", ErrInvalidPieceCount, e.pieces)
	case e.splitter == nil:
		return errors.New("nil splitter")
	case e.logger == nil:
		return errors.New("nil logger")
	case e.clock == nil:
		return errors.New("nil clock")
	case e.maxInFlight < 0:
		return fmt.Errorf("invalid max in flight: %d", e.maxInFlight)
	}
	return e.policy.validate()
}

// Close releases the pools and shuts down observability components.
func (e *Engine) Close() error {
	e.pools.Release()
	e.tracer.Close()
	e.hooks.Close()
	return nil
}

// Run consumes units from in and emits one Result per unit, in completion
// order: a key is emitted as soon as its own pieces are done, whatever the
// state of the other keys.
//
// The returned channel is closed once in is closed (or ctx is done) and every
// unit read so far has been emitted. It must be drained.
func (e *Engine) Run(ctx context.Context, in <-chan Unit) <-chan Result {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{
		engine:    e,
		collector: NewCollector(e.policy),
		out:       make(chan Result),
		flights:   make(map[string]*flight),
		cancel:    cancel,
	}
	if e.maxInFlight > 0 {
		r.sem = make(chan struct{}, e.maxInFlight)
	}

	go func() {
		defer close(r.out)
		defer cancel()
		for {
			unit, ok := r.next(ctx, in)
			if !ok {
				break
			}
			r.wg.Add(1)
			err := e.pools.submit(func(children *Pools) {
				defer r.wg.Done()
				r.scatter(ctx, children, unit)
			})
			if err != nil {
				r.wg.Done()
				e.logger.Printf("scatter: submit unit %q: %v", unit.Key, err)
				r.direct(Result{Key: unit.Key, Err: fmt.Errorf("submit unit: %w", err), Started: e.clock.Now()})
			}
		}
		// Wait for all submitted task were done, to close out channel
		r.wg.Wait()
	}()

	return r.out
}

// run is the state of one Run call.
type run struct {
	engine    *Engine
	collector *Collector
	out       chan Result
	sem       chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the pieces of one unit that are not reported yet.
type flight struct {
	key       string
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time
	remaining int
	result    *Result // first result produced for the unit, emitted when the flight ends
}

// next reads the next unit, once an in flight slot is available.
func (r *run) next(ctx context.Context, in <-chan Unit) (Unit, bool) {
	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return Unit{}, false
		}
	}
	select {
	case unit, ok := <-in:
		if ok && ctx.Err() == nil {
			return unit, true
		}
	case <-ctx.Done():
	}
	r.release()
	return Unit{}, false
}

func (r *run) release() {
	if r.sem != nil {
		<-r.sem
	}
}

// scatter splits unit and dispatches its pieces on the children pools.
func (r *run) scatter(ctx context.Context, children *Pools, unit Unit) {
	e := r.engine
	started := e.clock.Now()
	e.metrics.Counter(UnitsTotal).Inc()
	ctx, span := e.tracer.StartSpan(ctx, UnitSpan)
	span.SetTag(TagKey, unit.Key)
	defer span.Finish()

	pieces, err := e.splitter.Split(unit, e.pieces)
	if err != nil {
		span.SetTag(TagError, err.Error())
		r.direct(Result{Key: unit.Key, Err: err, Started: started})
		return
	}
	span.SetTag(TagPieces, strconv.Itoa(len(pieces)))
	if len(pieces) == 0 {
		r.direct(Result{Key: unit.Key, Payload: []byte{}, Started: started})
		return
	}

	f, err := r.register(ctx, unit.Key, len(pieces), started)
	if err != nil {
		span.SetTag(TagError, err.Error())
		r.direct(Result{Key: unit.Key, Pieces: len(pieces), Err: err, Started: started})
		return
	}
	for _, piece := range pieces {
		piece := piece
		r.wg.Add(1)
		err := children.submit(func(*Pools) {
			defer r.wg.Done()
			r.work(f, piece)
		})
		if err != nil {
			r.wg.Done()
			e.logger.Printf("scatter: submit piece %d of %q: %v", piece.Index, piece.Key, err)
			r.fail(f, piece, err)
		}
	}
}

// register opens the flight of a unit split into count pieces.
func (r *run) register(ctx context.Context, key string, count int, started time.Time) (*flight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flights[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrUnitInFlight, key)
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &flight{key: key, ctx: ctx, cancel: cancel, started: started, remaining: count}
	r.flights[key] = f
	r.engine.metrics.Gauge(UnitsInFlight).Set(float64(len(r.flights)))
	return f, nil
}

// work transforms one piece and hands the outcome to the collector.
func (r *run) work(f *flight, piece Piece) {
	e := r.engine
	e.metrics.Counter(PiecesTotal).Inc()
	ctx, span := e.tracer.StartSpan(f.ctx, PieceSpan)
	span.SetTag(TagKey, piece.Key)
	span.SetTag(TagIndex, strconv.Itoa(piece.Index))
	defer span.Finish()

	if err := ctx.Err(); err != nil {
		span.SetTag(TagError, err.Error())
		r.fail(f, piece, err)
		return
	}
	pp, err := e.transform.apply(ctx, piece)
	if err != nil {
		span.SetTag(TagError, err.Error())
		r.fail(f, piece, err)
		return
	}

	result, err := r.collector.Accept(pp)
	if err != nil {
		result = r.reject(pp.Key, pp.Index, err)
	}
	r.settle(f, result)
}

// fail reports a piece whose transform did not succeed.
func (r *run) fail(f *flight, piece Piece, cause error) {
	e := r.engine
	var pe *PieceProcessingError
	if !errors.As(cause, &pe) {
		pe = &PieceProcessingError{Key: piece.Key, Index: piece.Index, Err: cause}
	}
	e.metrics.Counter(PiecesFailed).Inc()
	_ = e.hooks.Emit(f.ctx, EventPieceFailed, Event{ //nolint:errcheck
		Key:       piece.Key,
		Index:     piece.Index,
		Pieces:    piece.SiblingCount,
		Err:       pe,
		Timestamp: e.clock.Now(),
	})

	result, err := r.collector.Fail(piece.Key, piece.Index, piece.SiblingCount, pe)
	if err != nil {
		result = r.reject(piece.Key, piece.Index, err)
	}
	r.settle(f, result)
}

// reject handles a piece the collector refused.
func (r *run) reject(key string, index int, err error) *Result {
	switch {
	case errors.Is(err, ErrGroupAborted):
		return nil
	case errors.Is(err, ErrInconsistentGroup):
		r.engine.logger.Printf("scatter: aborting %q: %v", key, err)
		return r.collector.Abort(key, err)
	default:
		r.engine.logger.Printf("scatter: rejected piece %d of %q: %v", index, key, err)
		return nil
	}
}

// settle accounts for one reported piece of f. The result of the unit is
// emitted once its last piece is reported, after the key has been released,
// so that a caller receiving it may submit the same key again.
func (r *run) settle(f *flight, result *Result) {
	if result != nil && result.Err != nil && r.engine.cancelOnAbort {
		f.cancel()
	}

	r.mu.Lock()
	if f.result == nil {
		f.result = result
	}
	f.remaining--
	last := f.remaining == 0
	if last {
		// both under r.mu: no unit of the same key registers in between
		delete(r.flights, f.key)
		r.collector.Forget(f.key)
		r.engine.metrics.Gauge(UnitsInFlight).Set(float64(len(r.flights)))
	}
	result = f.result
	r.mu.Unlock()
	if !last {
		return
	}

	f.cancel()
	if result == nil {
		result = &Result{Key: f.key, Err: fmt.Errorf("%w: unit %q ended incomplete", ErrGroupAborted, f.key)}
	}
	result.Started = f.started
	r.direct(*result)
}

// direct sends a result and frees the in flight slot of its unit.
func (r *run) direct(result Result) {
	e := r.engine
	result.Completed = e.clock.Now()
	event := Event{
		Key:       result.Key,
		Pieces:    result.Pieces,
		Missing:   result.Missing,
		Err:       result.Err,
		Elapsed:   result.Elapsed(),
		Timestamp: result.Completed,
	}
	switch {
	case result.Failed():
		e.metrics.Counter(GroupsFailed).Inc()
		_ = e.hooks.Emit(context.Background(), EventGroupFailed, event) //nolint:errcheck
		if e.failFast {
			r.cancel()
		}
	case result.Partial():
		e.metrics.Counter(GroupsPartial).Inc()
		_ = e.hooks.Emit(context.Background(), EventGroupSealed, event) //nolint:errcheck
	default:
		e.metrics.Counter(GroupsSealed).Inc()
		_ = e.hooks.Emit(context.Background(), EventGroupSealed, event) //nolint:errcheck
	}
	e.metrics.Gauge(GroupsOpen).Set(float64(r.collector.Open()))

	r.out <- result
	r.release()
}
