package benchmark

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/fogfactory/scatter"
	"github.com/samber/lo"
)

// Profile generates a profile file. It will be outputted as scatter_{date}_u{units}_p{pieces}_{poolsizes}.prof.
//
// - units Number of units pushed in the engine.
// - pieces Number of pieces each unit is split into. Each piece holds one line.
// - unitPool, piecePool Pool sizes of the engine.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(units, pieces, unitPool, piecePool int) {
	// Profile file
	f, err := os.Create(fmt.Sprintf("scatter_%s_u%d_p%d_%d-%d.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		units, pieces, unitPool, piecePool))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer f.Close()

	// Init engine
	dumbProc := func(_ context.Context, p scatter.Piece) ([]byte, error) { time.Sleep(time.Millisecond); return p.Data, nil }
	engine, err := scatter.New(dumbProc,
		scatter.WithPieces(pieces),
		scatter.WithPoolSizes(unitPool, piecePool),
	)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer engine.Close()

	payload := []byte(strings.Repeat("ACGT\n", pieces))
	input := lo.Times(units, func(i int) scatter.Unit { return scatter.Unit{Key: fmt.Sprint("unit-", i), Payload: payload} })

	// linear processing equivalent
	totalCall := units * pieces
	fmt.Println("totalCalls: ", totalCall, ", minimal seq duration:", time.Duration(totalCall)*time.Millisecond)

	// Start profiling
	func() {
		_ = pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()

		// Run engine
		start := time.Now()
		failed := lo.CountBy(lo.ChannelToSlice(engine.Run(context.Background(), lo.SliceToChannel(0, input))), scatter.Result.Failed)
		fmt.Printf("(par: %s, failed: %d)\n", time.Since(start), failed)
	}()

	start := time.Now()
	for i := 0; i < totalCall; i++ {
		_, _ = dumbProc(context.Background(), scatter.Piece{Data: payload})
	}
	fmt.Printf("(seq: %s)\n", time.Since(start))
	fmt.Printf("profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
	// On all files
	// source <(ls | grep .prof | nl | awk '{print "pprof -http=:"$1 + 8080, $2,$3,"&"}')
}
