// Package store loads units from, and saves results to, a directory or an
// S3 compatible object store.
package store

import (
	"context"
	"fmt"

	"github.com/fogfactory/scatter"
)

// Source lists and reads unit payloads. Keys are relative to the source root.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Sink writes merged payloads.
type Sink interface {
	Put(ctx context.Context, key string, payload []byte) error
}

// GetFunc reads the payload of key.
type GetFunc func(ctx context.Context, key string) ([]byte, error)

// Units reads the payload of each key into a Unit. Reads run concurrently on
// pools; a key that cannot be read is handed to failed and skipped.
//
// The returned channel is closed once keys is closed and every read is done.
func Units(ctx context.Context, pools *scatter.Pools, keys <-chan string, get GetFunc, failed func(key string, err error)) <-chan scatter.Unit {
	type loaded struct {
		unit scatter.Unit
		err  error
	}
	reads := scatter.Pipe(pools, keys, func(_ *scatter.Pools, key string) loaded {
		payload, err := get(ctx, key)
		return loaded{unit: scatter.Unit{Key: key, Payload: payload}, err: err}
	})

	out := make(chan scatter.Unit)
	go func() {
		defer close(out)
		for l := range reads {
			if l.err != nil {
				failed(l.unit.Key, l.err)
				continue
			}
			select {
			case out <- l.unit:
			case <-ctx.Done():
				failed(l.unit.Key, ctx.Err())
			}
		}
	}()
	return out
}

// Report counts the results saved by Save.
type Report struct {
	Sealed  int
	Partial int
	Failed  int
}

// Ok reports whether every unit was saved whole.
func (r Report) Ok() bool { return r.Partial == 0 && r.Failed == 0 }

func (r Report) String() string {
	return fmt.Sprintf("%d sealed, %d partial, %d failed", r.Sealed, r.Partial, r.Failed)
}

// Save writes the payload of every non failed result to sink, partial ones
// included. done, when not nil, is called once per result with the error of
// the unit (result or write error).
func Save(ctx context.Context, sink Sink, results <-chan scatter.Result, done func(scatter.Result, error)) Report {
	var report Report
	for result := range results {
		err := result.Err
		if err == nil {
			if err = sink.Put(ctx, result.Key, result.Payload); err != nil {
				err = fmt.Errorf("save %q: %w", result.Key, err)
			}
		}
		switch {
		case err != nil:
			report.Failed++
		case result.Partial():
			report.Partial++
		default:
			report.Sealed++
		}
		if done != nil {
			done(result, err)
		}
	}
	return report
}
