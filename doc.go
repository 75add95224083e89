/*
scatter runs embarrassingly parallel batch processing as a keyed scatter/gather over bounded goroutine pools.

A Unit (for instance the FASTQ file of one sample) is split into Pieces on record boundaries, each piece is transformed
independently in a pool, and the processed pieces are gathered back per unit key into one merged payload.

For instance:

- N Units are read from a channel, each Unit is split in Pool 0 into at most M Pieces (the actual count is known at split time)
- Each Piece is transformed in Pool 1. Pool 0 routines are released as soon as their pieces are queued
- Each processed Piece goes to the Collector, which holds one group per key with the count fixed by the first arrival
- A group is merged and emitted the instant its count is reached. A key with 3 pieces never waits for a key with 1000 pieces
- A failed piece either aborts its own group (AbortGroup) or is left out of the merged payload (SkipPartial). Other keys are untouched

The memory imprint is bounded by the pieces held by incomplete groups. Use WithMaxInFlight to bound the number of units
between split and emission, and size the pools as for any pipe: CPU bound transforms want the piece pool close to the
cpu count, transforms waiting on I/O can afford a larger pool.

As for any performance tuning, you should try and tune. The benchmark package generates pprof profiles to help.
*/

package scatter
