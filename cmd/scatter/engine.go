package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/fogfactory/scatter"
	"github.com/fogfactory/scatter/internal/env"
	"github.com/fogfactory/scatter/internal/store"
	"github.com/fogfactory/scatter/internal/transform"
)

var settings struct {
	envFile       string
	pieces        int
	unitWorkers   int
	workers       int
	readers       int
	maxInFlight   int
	policy        string
	format        string
	transform     string
	quality       int
	failFast      bool
	cancelOnAbort bool
	verbose       bool

	cfg env.Config
}

// newEngine builds the engine described by the settings.
func newEngine() (*scatter.Engine, error) {
	format, err := scatter.FormatByName(settings.format)
	if err != nil {
		return nil, err
	}
	policy, err := scatter.ParseFailurePolicy(settings.policy)
	if err != nil {
		return nil, err
	}
	f, err := transform.ByName(settings.transform, transform.Options{Format: format, Quality: settings.quality})
	if err != nil {
		return nil, err
	}

	engine, err := scatter.New(f,
		scatter.WithFormat(format),
		scatter.WithPieces(settings.pieces),
		scatter.WithFailurePolicy(policy),
		scatter.WithPoolSizes(settings.unitWorkers, settings.workers),
		scatter.WithMaxInFlight(settings.maxInFlight),
		scatter.WithFailFast(settings.failFast),
		scatter.WithCancelOnAbort(settings.cancelOnAbort),
		scatter.WithLogger(log.Default()),
	)
	if err != nil {
		return nil, err
	}
	if settings.verbose {
		err = engine.OnPieceFailed(func(_ context.Context, e scatter.Event) error {
			log.Printf("piece %d/%d of %s failed: %v", e.Index, e.Pieces, e.Key, e.Err)
			return nil
		})
		if err != nil {
			_ = engine.Close()
			return nil, err
		}
	}
	return engine, nil
}

// process reads the units of keys with get, runs them through the engine and
// saves the results to sink. done, when not nil, is called once per key, read
// failures included.
func process(ctx context.Context, keys <-chan string, get store.GetFunc, sink store.Sink, done func(key string, result *scatter.Result, err error)) (store.Report, error) {
	engine, err := newEngine()
	if err != nil {
		return store.Report{}, err
	}
	defer engine.Close()

	readers, err := scatter.NewPools(settings.readers)
	if err != nil {
		return store.Report{}, fmt.Errorf("create read pool: %w", err)
	}
	defer readers.Release()

	var unread atomic.Int32
	units := store.Units(ctx, readers, keys, get, func(key string, err error) {
		log.Printf("%s: read failed: %v", key, err)
		unread.Add(1)
		if done != nil {
			done(key, nil, err)
		}
	})
	report := store.Save(ctx, sink, engine.Run(ctx, units), func(result scatter.Result, err error) {
		switch {
		case err != nil:
			log.Printf("%s: %v", result.Key, err)
		case result.Partial():
			log.Printf("%s: %d of %d pieces missing %v", result.Key, len(result.Missing), result.Pieces, result.Missing)
		}
		if done != nil {
			done(result.Key, &result, err)
		}
	})
	report.Failed += int(unread.Load())

	metrics := engine.Metrics()
	log.Printf("%s (%.0f pieces transformed, %.0f failed)", report,
		metrics.Counter(scatter.PiecesTotal).Value(), metrics.Counter(scatter.PiecesFailed).Value())
	if report.Failed > 0 {
		return report, fmt.Errorf("%d units failed", report.Failed)
	}
	return report, ctx.Err()
}
