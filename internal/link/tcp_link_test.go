package link

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/staging"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap/zaptest"
)

const testSize = 1 << 12

func connectPair(t *testing.T, respSize, initSize uint64) (*TCPLink, *TCPLink, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	resp := NewTCPLink(Options{Role: types.RoleResponder, Listener: ln})
	ini := NewTCPLink(Options{Role: types.RoleInitiator, PeerAddr: "127.0.0.1", DialTimeout: 5 * time.Second})
	t.Cleanup(func() {
		resp.Close()
		ini.Close()
	})

	respErr := make(chan error, 1)
	go func() {
		_, err := resp.Init(context.Background(), respSize, 0)
		respErr <- err
	}()
	_, initErr := ini.Init(context.Background(), initSize, port)
	if err := <-respErr; err != nil {
		return resp, ini, err
	}
	return resp, ini, initErr
}

func barrier(t *testing.T, resp, ini *TCPLink) {
	errs := make(chan error, 1)
	go func() {
		errs <- resp.Barrier(context.Background(), false)
	}()
	if err := ini.Barrier(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
}

func TestTCPLinkHandshake(t *testing.T) {
	logutil.SetLogger(zaptest.NewLogger(t))
	defer logutil.SetLogger(nil)

	resp, ini, err := connectPair(t, testSize, testSize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(ini.RunID()); err != nil {
		t.Errorf("initiator run id %q: %v", ini.RunID(), err)
	}
	if resp.RunID() != ini.RunID() {
		t.Errorf("run ids differ: %s vs %s", resp.RunID(), ini.RunID())
	}
	if resp.Staging().Len() != testSize {
		t.Errorf("unexpected staging size %d", resp.Staging().Len())
	}
}

func TestTCPLinkSizeMismatch(t *testing.T) {
	_, _, err := connectPair(t, testSize, 2*testSize)
	var le *types.LinkInitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkInitError but got %v", err)
	}
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch in %v", err)
	}
}

func TestTCPLinkRemoteWrite(t *testing.T) {
	resp, ini, err := connectPair(t, testSize, testSize)
	if err != nil {
		t.Fatal(err)
	}
	staging.FillIndex(ini.Staging().Bytes())

	for round := 0; round < 2; round++ {
		resp.Completions().Reset()
		ini.Completions().Reset()
		barrier(t, resp, ini)

		for i := 0; i < 8; i++ {
			if err := ini.Submit(types.REMOTE_WRITE, types.ScatterSg{Len: 1024}); err != nil {
				t.Fatal(err)
			}
		}
		err := resp.Completions().WaitFor(context.Background(), types.LOCAL_WRITE, 8, 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if n := resp.Completions().Count(types.LOCAL_WRITE); n != 8 {
			t.Errorf("round %d: expected 8 completions but got %d", round, n)
		}
		if n := ini.Completions().Count(types.REMOTE_WRITE); n != 8 {
			t.Errorf("round %d: expected 8 submissions but got %d", round, n)
		}
	}

	if !bytes.Equal(resp.Staging().Bytes()[:1024], ini.Staging().Bytes()[:1024]) {
		t.Error("payload did not land in the responder's staging buffer")
	}
	if n, _ := staging.CountMismatches(resp.Staging().Bytes()[1024:]); n == 0 {
		t.Error("bytes beyond the transfer were written")
	}
}

func TestTCPLinkRemoteRead(t *testing.T) {
	resp, ini, err := connectPair(t, testSize, testSize)
	if err != nil {
		t.Fatal(err)
	}
	staging.FillIndex(resp.Staging().Bytes())
	barrier(t, resp, ini)

	for i := 0; i < 4; i++ {
		if err := ini.Submit(types.REMOTE_READ, types.ScatterSg{Len: testSize}); err != nil {
			t.Fatal(err)
		}
	}
	if err := ini.Completions().WaitFor(context.Background(), types.LOCAL_READ, 4, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if n, first := staging.CountMismatches(ini.Staging().Bytes()); n != 0 {
		t.Errorf("read payload has %d bad words from %d", n, first)
	}
	if n := resp.Completions().Count(types.LOCAL_WRITE); n != 0 {
		t.Errorf("passive side counted %d writes", n)
	}
}

func TestTCPLinkRegisters(t *testing.T) {
	resp, ini, err := connectPair(t, testSize, testSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.SetRegister(0x7e0000000000, 0); err != nil {
		t.Fatal(err)
	}
	if err := resp.SetRegister(1, 4); err != nil {
		t.Fatal(err)
	}
	// The barrier orders the register frames before it.
	barrier(t, resp, ini)

	if v, ok := resp.Register(4); !ok || v != 1 {
		t.Errorf("local register 4 = %d, %v", v, ok)
	}
	if v, ok := ini.PeerRegister(0); !ok || v != 0x7e0000000000 {
		t.Errorf("peer register 0 = %#x, %v", v, ok)
	}
	if v, ok := ini.PeerRegister(4); !ok || v != 1 {
		t.Errorf("peer register 4 = %d, %v", v, ok)
	}
}

func TestTCPLinkErrors(t *testing.T) {
	t.Run("NotConnected", func(t *testing.T) {
		l := NewTCPLink(Options{})
		if err := l.Submit(types.REMOTE_WRITE, types.ScatterSg{Len: 1}); !errors.Is(err, types.ErrNotConnected) {
			t.Errorf("unexpected error: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Errorf("close of unused link: %v", err)
		}
	})

	resp, ini, err := connectPair(t, testSize, testSize)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Unsupported", func(t *testing.T) {
		if err := ini.Submit(types.LOCAL_WRITE, types.ScatterSg{Len: 1}); !errors.Is(err, ErrUnsupported) {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("TooLarge", func(t *testing.T) {
		err := ini.Submit(types.REMOTE_WRITE, types.ScatterSg{Len: testSize + 1})
		if !errors.Is(err, types.ErrTargetTooSmall) {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("BarrierCancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := resp.Barrier(ctx, false); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("PeerClosed", func(t *testing.T) {
		if err := ini.Close(); err != nil {
			t.Fatal(err)
		}
		if err := ini.Close(); err != nil {
			t.Errorf("second close: %v", err)
		}
		err := resp.Barrier(context.Background(), false)
		if err == nil {
			t.Error("barrier succeeded without a peer")
		}
	})
}

func TestTCPLinkDialTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := NewTCPLink(Options{Role: types.RoleInitiator, PeerAddr: "127.0.0.1", DialTimeout: 300 * time.Millisecond})
	defer l.Close()
	_, err = l.Init(context.Background(), testSize, port)
	var le *types.LinkInitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkInitError but got %v", err)
	}
}

func TestFrameHeader(t *testing.T) {
	var buf [headerSize]byte
	h := frameHeader{op: opRegister, seq: 7, offset: 3, length: 0xdeadbeef}
	h.encode(&buf)
	decoded, err := readHeader(bytes.NewReader(buf[:]), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != h {
		t.Errorf("expected %+v but got %+v", h, decoded)
	}
}

func TestHelloRejectsStranger(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n" + string(make([]byte, 64)))
	if _, err := readHello(&b); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic but got %v", err)
	}
}
