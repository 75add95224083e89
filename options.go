package scatter

import (
	"log"
	"runtime"

	"github.com/panjf2000/ants/v2"
	"github.com/zoobzio/clockz"
)

// Logger is the logging interface of the engine. It is the same as
// ants.Logger so that the engine and its pools share one logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPieces sets the target number of pieces per unit. Defaults to GOMAXPROCS.
func WithPieces(n int) Option {
	return func(e *Engine) { e.pieces = n }
}

// WithFailurePolicy sets what happens to a group when one of its pieces fails.
// Defaults to AbortGroup.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithSplitter sets the splitter. Defaults to a RecordSplitter on Lines.
func WithSplitter(s Splitter) Option {
	return func(e *Engine) { e.splitter = s }
}

// WithFormat is a shortcut for WithSplitter(NewRecordSplitter(format)).
func WithFormat(format RecordFormat) Option {
	return WithSplitter(NewRecordSplitter(format))
}

// WithPoolSizes sets the size of the unit pool and of the piece pool. A size of
// 0 runs the level inline in its parent goroutine, see NewPoolsWithOptions.
func WithPoolSizes(units, pieces int) Option {
	return func(e *Engine) { e.poolSizes = []int{units, pieces} }
}

// WithPoolOptions adds options to both underlying ants pools.
func WithPoolOptions(opts ...ants.Option) Option {
	return func(e *Engine) { e.poolOpts = append(e.poolOpts, opts...) }
}

// WithLogger sets the logger of the engine and its pools. Defaults to log.Default().
func WithLogger(logger Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the clock used to timestamp results, for testing.
func WithClock(clock clockz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithCancelOnAbort cancels the context of the remaining pieces of an aborted
// key. Pieces not started yet are then skipped instead of transformed.
func WithCancelOnAbort(cancel bool) Option {
	return func(e *Engine) { e.cancelOnAbort = cancel }
}

// WithFailFast stops the whole run at the first failed key.
func WithFailFast(failFast bool) Option {
	return func(e *Engine) { e.failFast = failFast }
}

// WithMaxInFlight bounds the number of units between split and emission, and so
// the memory held by the collector. 0 means unbounded.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) { e.maxInFlight = n }
}

func defaults() *Engine {
	procs := runtime.GOMAXPROCS(0)
	return &Engine{
		pieces:    procs,
		policy:    AbortGroup,
		splitter:  NewRecordSplitter(Lines),
		poolSizes: []int{procs, procs},
		logger:    log.Default(),
		clock:     clockz.RealClock,
	}
}
