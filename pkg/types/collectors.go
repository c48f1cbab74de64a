package types

import "time"

// Collector consumes events emitted by the benchmark.
type Collector interface {
	Update(ev any)
}

// MemcpyEvent is emitted for every chunk copy enqueued by the fan-out.
type MemcpyEvent struct {
	Device int
	Bytes  uint64
	Kind   uint8
}

// SyncEvent is emitted after a device reached a synchronized state.
type SyncEvent struct {
	Device int
	Delta  time.Duration
}

// BenchEvent is emitted once per benchmark loop invocation.
type BenchEvent struct {
	Mode    Mode
	Size    uint64
	Quota   uint64
	Runs    uint64
	Elapsed time.Duration
}
