package scatter

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability keys of the Engine.
const (
	// Metrics.
	UnitsTotal    = metricz.Key("scatter.units.total")
	PiecesTotal   = metricz.Key("scatter.pieces.total")
	PiecesFailed  = metricz.Key("scatter.pieces.failed")
	GroupsSealed  = metricz.Key("scatter.groups.sealed")
	GroupsPartial = metricz.Key("scatter.groups.partial")
	GroupsFailed  = metricz.Key("scatter.groups.failed")
	GroupsOpen    = metricz.Key("scatter.groups.open")
	UnitsInFlight = metricz.Key("scatter.units.inflight")

	// Spans.
	UnitSpan  = tracez.Key("scatter.unit")
	PieceSpan = tracez.Key("scatter.piece")

	// Tags.
	TagKey    = tracez.Tag("scatter.key")
	TagIndex  = tracez.Tag("scatter.index")
	TagPieces = tracez.Tag("scatter.pieces")
	TagError  = tracez.Tag("scatter.error")

	// Hook event keys.
	EventGroupSealed = hookz.Key("scatter.group_sealed")
	EventGroupFailed = hookz.Key("scatter.group_failed")
	EventPieceFailed = hookz.Key("scatter.piece_failed")
)

// Event is emitted via hookz when a group is sealed or fails, and when a
// piece fails. Handlers run asynchronously.
type Event struct {
	Key       string
	Index     int           // failed piece index, for piece_failed
	Pieces    int           // sibling count of the group
	Missing   []int         // failed indices of a partial group
	Err       error         // piece or group error
	Elapsed   time.Duration // split to emission, for group events
	Timestamp time.Time
}

func newMetrics() *metricz.Registry {
	metrics := metricz.New()
	metrics.Counter(UnitsTotal)
	metrics.Counter(PiecesTotal)
	metrics.Counter(PiecesFailed)
	metrics.Counter(GroupsSealed)
	metrics.Counter(GroupsPartial)
	metrics.Counter(GroupsFailed)
	metrics.Gauge(GroupsOpen)
	metrics.Gauge(UnitsInFlight)
	return metrics
}

// Metrics returns the metrics registry of the engine.
func (e *Engine) Metrics() *metricz.Registry {
	return e.metrics
}

// Tracer returns the tracer of the engine.
func (e *Engine) Tracer() *tracez.Tracer {
	return e.tracer
}

// OnGroupSealed registers a handler called each time a key is emitted
// without error, partial groups included.
func (e *Engine) OnGroupSealed(handler func(context.Context, Event) error) error {
	_, err := e.hooks.Hook(EventGroupSealed, handler)
	return err
}

// OnGroupFailed registers a handler called each time a key is emitted as failed.
func (e *Engine) OnGroupFailed(handler func(context.Context, Event) error) error {
	_, err := e.hooks.Hook(EventGroupFailed, handler)
	return err
}

// OnPieceFailed registers a handler called each time a transform fails.
func (e *Engine) OnPieceFailed(handler func(context.Context, Event) error) error {
	_, err := e.hooks.Hook(EventPieceFailed, handler)
	return err
}
