package timeserie

import (
	"math"
	"testing"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
)

func TestEventToToken(t *testing.T) {
	tk := EventToToken(types.BenchEvent{
		Mode:    types.WRITE,
		Size:    1000,
		Quota:   4,
		Runs:    25,
		Elapsed: 100 * time.Microsecond,
	})
	if tk == nil {
		t.Fatal("no token for bench event")
	}
	// 100 ops of 1000 bytes in 100us.
	if math.Abs(tk.ThroughputGbps-8) > 1e-9 {
		t.Errorf("expected 8 Gbit/s but got %f", tk.ThroughputGbps)
	}
	if math.Abs(tk.LatencyUs-1) > 1e-9 {
		t.Errorf("expected 1us per op but got %f", tk.LatencyUs)
	}

	if tk := EventToToken(types.SyncEvent{}); tk != nil {
		t.Errorf("unexpected token %+v", tk)
	}

	tk = EventToToken(types.BenchEvent{Size: 64})
	if tk == nil || tk.ThroughputGbps != 0 || tk.LatencyUs != 0 {
		t.Errorf("empty invocation should carry no rates: %+v", tk)
	}
}

func TestTimeSeriesCollector(t *testing.T) {
	tc := NewTimeSeriesCollector()
	for _, size := range []uint64{64, 128, 256} {
		tc.Update(types.BenchEvent{Size: size, Quota: 1, Runs: 1, Elapsed: time.Microsecond})
		tc.Update(types.MemcpyEvent{})
	}

	tokens := tc.Flush()
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens but got %d", len(tokens))
	}
	for i, size := range []uint64{64, 128, 256} {
		if tokens[i].Size != size {
			t.Errorf("token %d: expected size %d but got %d", i, size, tokens[i].Size)
		}
	}
	if len(tc.Flush()) != 0 {
		t.Error("flush did not clear the tokens")
	}
}
