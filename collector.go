package scatter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Collector gathers processed pieces by key and merges a group back into one
// payload the moment its last sibling arrives.
//
// The group table lock is only held to find, create or drop a group: arrivals
// for different keys never wait on each other.
//
// A sealed group stays known until Forget so that late copies of its pieces
// are rejected as duplicates.
type Collector struct {
	policy FailurePolicy

	mu     sync.Mutex
	groups map[string]*group
	sealed map[string]*group
}

type group struct {
	mu       sync.Mutex
	key      string
	expected int
	arrived  int
	received map[int][]byte
	failed   map[int]error
	aborted  bool
	done     bool // sealed or forgotten, any further arrival is a duplicate
}

// NewCollector returns an empty Collector applying policy to failed pieces.
func NewCollector(policy FailurePolicy) *Collector {
	return &Collector{policy: policy, groups: make(map[string]*group), sealed: make(map[string]*group)}
}

// Open returns the number of groups currently accumulating (aborted groups
// waiting for their remaining siblings included).
func (c *Collector) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// Accept records a processed piece. The returned Result is non nil when the
// piece completed its group.
//
// A piece disagreeing with its group on the sibling count gets an
// *InconsistentGroupError, a piece already seen a *DuplicatePieceError; in
// both cases the group is left untouched. A piece of an aborted group is
// dropped with an error wrapping ErrGroupAborted.
func (c *Collector) Accept(p ProcessedPiece) (*Result, error) {
	g, err := c.lock(p.Key, p.Index, p.SiblingCount)
	if err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	g.arrived++
	if g.aborted {
		g.failed[p.Index] = ErrGroupAborted
		c.release(g)
		return nil, fmt.Errorf("%w: unit %q piece %d dropped", ErrGroupAborted, p.Key, p.Index)
	}
	g.received[p.Index] = p.Data
	return c.release(g), nil
}

// Fail records the failure of a piece.
//
// Under AbortGroup the first failure of a group aborts it and returns the
// failed Result right away; later siblings are absorbed silently. Under
// SkipPartial the piece is marked missing and the group completes as usual.
func (c *Collector) Fail(key string, index, siblingCount int, cause error) (*Result, error) {
	g, err := c.lock(key, index, siblingCount)
	if err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	var pe *PieceProcessingError
	if !errors.As(cause, &pe) {
		pe = &PieceProcessingError{Key: key, Index: index, Err: cause}
	}

	g.arrived++
	g.failed[index] = pe
	if g.aborted {
		c.release(g)
		return nil, nil
	}
	if c.policy == AbortGroup {
		result := g.abort(pe)
		c.release(g)
		return result, nil
	}
	return c.release(g), nil
}

// Abort discards the data gathered for key and returns its failed Result.
// Siblings arriving afterwards are dropped. It returns nil when key has no
// accumulating group.
func (c *Collector) Abort(key string, cause error) *Result {
	c.mu.Lock()
	g, ok := c.groups[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done || g.aborted {
		return nil
	}
	return g.abort(cause)
}

// Forget drops whatever is left of the group of key, sealed or not, so that
// key can be gathered again. The dispatcher calls it once every piece of a
// unit has been reported. It returns false when key is unknown.
func (c *Collector) Forget(key string) bool {
	c.mu.Lock()
	g, ok := c.groups[key]
	if ok {
		delete(c.groups, key)
	} else if g, ok = c.sealed[key]; ok {
		delete(c.sealed, key)
	}
	c.mu.Unlock()
	if ok {
		g.mu.Lock()
		g.done = true
		g.mu.Unlock()
	}
	return ok
}

// lock finds or creates the group of key and returns it locked, once the
// piece has been checked against it.
func (c *Collector) lock(key string, index, siblingCount int) (*group, error) {
	if siblingCount < 1 {
		return nil, &InconsistentGroupError{Key: key, Index: index, Expected: 1, Got: siblingCount}
	}

	c.mu.Lock()
	g, ok := c.groups[key]
	if !ok {
		g, ok = c.sealed[key]
	}
	if !ok {
		g = &group{
			key:      key,
			expected: siblingCount,
			received: make(map[int][]byte, siblingCount),
			failed:   make(map[int]error),
		}
		c.groups[key] = g
	}
	c.mu.Unlock()

	g.mu.Lock()
	switch {
	case g.done:
		g.mu.Unlock()
		return nil, &DuplicatePieceError{Key: key, Index: index}
	case siblingCount != g.expected:
		g.mu.Unlock()
		return nil, &InconsistentGroupError{Key: key, Index: index, Expected: g.expected, Got: siblingCount}
	case index < 0 || index >= g.expected:
		g.mu.Unlock()
		return nil, &InconsistentGroupError{Key: key, Index: index, Expected: g.expected, Got: g.expected}
	case g.seen(index):
		g.mu.Unlock()
		return nil, &DuplicatePieceError{Key: key, Index: index}
	}
	return g, nil
}

// release seals g when every sibling has been accounted for. g must be locked.
func (c *Collector) release(g *group) *Result {
	if g.arrived < g.expected {
		return nil
	}
	c.mu.Lock()
	if c.groups[g.key] == g {
		delete(c.groups, g.key)
		c.sealed[g.key] = g
	}
	c.mu.Unlock()
	g.done = true

	if g.aborted {
		return nil
	}
	result := &Result{
		Key:     g.key,
		Payload: merge(g.received, g.expected),
		Pieces:  g.expected,
	}
	if len(g.failed) > 0 {
		result.Missing = lo.Keys(g.failed)
		sort.Ints(result.Missing)
	}
	if len(g.failed) == g.expected {
		result.Payload = nil
		result.Err = errors.Join(lo.Map(result.Missing, func(i, _ int) error { return g.failed[i] })...)
	}
	g.received = nil
	return result
}

func (g *group) seen(index int) bool {
	if _, ok := g.received[index]; ok {
		return true
	}
	_, ok := g.failed[index]
	return ok
}

// abort turns g into a tombstone. g must be locked.
func (g *group) abort(cause error) *Result {
	g.aborted = true
	// keep the indices already received so that duplicates are still detected
	for i := range g.received {
		g.received[i] = nil
	}
	return &Result{
		Key:    g.key,
		Pieces: g.expected,
		Err:    fmt.Errorf("%w: %w", ErrGroupAborted, cause),
	}
}
