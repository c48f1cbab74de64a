package timeserie

import (
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
)

// Token is one timed benchmark loop invocation.
type Token struct {
	Timestamp int64
	Mode      types.Mode
	Size      uint64
	Quota     uint64
	Runs      uint64
	Elapsed   time.Duration

	ThroughputGbps float64
	LatencyUs      float64
}

// EventToToken converts a BenchEvent into a Token, deriving throughput over
// every transferred byte and latency per operation. Other events yield nil.
func EventToToken(ev any) *Token {
	e, ok := ev.(types.BenchEvent)
	if !ok {
		return nil
	}

	tk := &Token{
		Timestamp: time.Now().UnixNano(),
		Mode:      e.Mode,
		Size:      e.Size,
		Quota:     e.Quota,
		Runs:      e.Runs,
		Elapsed:   e.Elapsed,
	}

	ops := e.Quota * e.Runs
	if ops == 0 || e.Elapsed <= 0 {
		return tk
	}
	bits := float64(e.Size*ops) * 8
	tk.ThroughputGbps = bits / float64(e.Elapsed.Nanoseconds())
	tk.LatencyUs = float64(e.Elapsed.Nanoseconds()) / 1e3 / float64(ops)
	return tk
}
