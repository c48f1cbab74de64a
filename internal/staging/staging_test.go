package staging

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"golang.org/x/sys/unix"
)

func TestFillIndex(t *testing.T) {
	b := make([]byte, 64)
	FillIndex(b)
	for i := 0; i < len(b)/4; i++ {
		if v := binary.LittleEndian.Uint32(b[i*4:]); v != uint32(i) {
			t.Fatalf("word %d: expected %d but got %d", i, i, v)
		}
	}
	if n, first := CountMismatches(b); n != 0 || first != -1 {
		t.Errorf("expected no mismatches, got %d (first %d)", n, first)
	}
}

func TestFillIndexFrom(t *testing.T) {
	b := make([]byte, 64)
	FillIndex(b[:32])
	b[0] = 0xaa
	FillIndexFrom(b, 32)
	if n, first := CountMismatches(b); n != 1 || first != 0 {
		t.Errorf("expected only word 0 to differ, got %d from %d", n, first)
	}

	Zero(b)
	FillIndexFrom(b, 18)
	if n, first := CountMismatches(b); n != 3 || first != 1 {
		t.Errorf("expected words 1-3 zero and 4.. filled, got %d from %d", n, first)
	}
}

func TestCountMismatches(t *testing.T) {
	b := make([]byte, 32)
	FillIndex(b)
	b[13] ^= 0xff
	b[29] ^= 0xff
	n, first := CountMismatches(b)
	if n != 2 || first != 3 {
		t.Errorf("expected 2 mismatches from word 3, got %d from %d", n, first)
	}

	Zero(b)
	n, first = CountMismatches(b)
	if n != 7 || first != 1 {
		t.Errorf("zeroed buffer: got %d mismatches from %d", n, first)
	}
}

func TestAllocAndClose(t *testing.T) {
	buf, err := Alloc(1 << 16)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 1<<16 || buf.Addr() == 0 {
		t.Errorf("unexpected buffer: len %d addr %#x", buf.Len(), buf.Addr())
	}
	FillIndex(buf.Bytes())
	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.Bytes() != nil {
		t.Error("buffer still mapped after close")
	}
	if err := buf.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestAllocZero(t *testing.T) {
	_, err := Alloc(0)
	var ae *types.AllocationError
	if !errors.As(err, &ae) || ae.Device != -1 {
		t.Errorf("expected host AllocationError but got %v", err)
	}
}

func TestRaiseMemlock(t *testing.T) {
	var saved unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &saved); err != nil {
		t.Skipf("getrlimit: %v", err)
	}
	if saved.Max <= 64<<10 {
		t.Skipf("hard memlock limit %d leaves nothing to raise", saved.Max)
	}
	defer unix.Setrlimit(unix.RLIMIT_MEMLOCK, &saved)

	low := unix.Rlimit{Cur: 64 << 10, Max: saved.Max}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &low); err != nil {
		t.Fatal(err)
	}

	if err := RaiseMemlock(); err != nil {
		t.Fatal(err)
	}
	var got unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &got); err != nil {
		t.Fatal(err)
	}
	if got.Cur != saved.Max {
		t.Errorf("expected soft limit %d but got %d", saved.Max, got.Cur)
	}

	// Alloc raises the limit on its own.
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &low); err != nil {
		t.Fatal(err)
	}
	buf, err := Alloc(1 << 12)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &got); err != nil {
		t.Fatal(err)
	}
	if got.Cur != saved.Max {
		t.Errorf("Alloc left soft limit at %d", got.Cur)
	}
}
