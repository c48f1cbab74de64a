// Package link emulates the one-sided RDMA link of the benchmark over a
// single TCP connection, so both roles can run on hosts without an RDMA
// capable NIC.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/completion"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/staging"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"github.com/unixpickle/essentials"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 30 * time.Second
	dialBackoff        = 100 * time.Millisecond
)

type Options struct {
	Role types.Role

	// PeerAddr is the responder host the initiator dials.
	PeerAddr string

	// Listener, if set, is used by the responder instead of listening on
	// the port passed to Init.
	Listener net.Listener

	// DialTimeout bounds how long the initiator keeps retrying to reach a
	// responder that is not listening yet.
	DialTimeout time.Duration

	// RunID identifies the run in both peers' logs. The initiator
	// generates one if empty; the responder adopts the initiator's.
	RunID string
}

// TCPLink implements types.Link. Inbound writes and read responses are
// landed in the staging buffer by a reader goroutine which then counts the
// completion; read requests are served by that goroutine too, so the
// control goroutine of the serving side stays passive.
type TCPLink struct {
	opts    Options
	tracker *completion.Tracker

	buf *staging.Buffer
	mem []byte

	conn     net.Conn
	listener net.Listener
	wmu      sync.Mutex

	barrierIn  chan frameHeader
	barrierSeq uint32
	closing    chan struct{}

	regMu         sync.Mutex
	registers     map[uint32]uint64
	peerRegisters map[uint32]uint64

	readerDone chan struct{}
	readErr    error

	closeOnce sync.Once
	closeErr  error
}

func NewTCPLink(opts Options) *TCPLink {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Role == "" {
		opts.Role = types.RoleResponder
	}
	return &TCPLink{
		opts:          opts,
		tracker:       completion.NewTracker(),
		barrierIn:     make(chan frameHeader, 4),
		closing:       make(chan struct{}),
		registers:     make(map[uint32]uint64),
		peerRegisters: make(map[uint32]uint64),
	}
}

// Init registers a staging buffer of maxSize bytes, connects to the peer
// and returns the buffer.
func (l *TCPLink) Init(ctx context.Context, maxSize uint64, port int) ([]byte, error) {
	logger := logutil.GetLogger()

	buf, err := staging.Alloc(maxSize)
	if err != nil {
		return nil, err
	}
	l.buf = buf
	l.mem = buf.Bytes()

	var conn net.Conn
	addr := fmt.Sprintf(":%d", port)
	if l.opts.Role.IsInitiator() {
		addr = net.JoinHostPort(l.opts.PeerAddr, fmt.Sprint(port))
		conn, err = l.dial(ctx, addr)
	} else {
		conn, err = l.accept(ctx, addr)
	}
	if err != nil {
		return nil, multierr.Append(&types.LinkInitError{Addr: addr, Err: err}, l.release())
	}
	l.conn = conn

	if err := l.handshake(maxSize); err != nil {
		initErr := &types.LinkInitError{Addr: addr, Err: fmt.Errorf("handshake: %w", err)}
		return nil, multierr.Append(initErr, l.release())
	}

	l.readerDone = make(chan struct{})
	go l.readLoop()

	logger.Info("link established",
		zap.String("role", string(l.opts.Role)),
		zap.String("peer", conn.RemoteAddr().String()),
		zap.String("run_id", l.opts.RunID),
		zap.Uint64("max_size", maxSize),
		zap.Bool("pinned", buf.Pinned()))
	return l.mem, nil
}

func (l *TCPLink) dial(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.DialTimeout)
	defer cancel()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, essentials.AddCtx("dial "+addr, err)
		case <-time.After(dialBackoff):
		}
	}
}

func (l *TCPLink) accept(ctx context.Context, addr string) (net.Conn, error) {
	ln := l.opts.Listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
	}
	l.listener = ln
	logutil.GetLogger().Info("waiting for initiator", zap.String("addr", ln.Addr().String()))

	accepted := make(chan struct{})
	defer close(accepted)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-accepted:
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, essentials.AddCtx("accept", err)
	}
	return conn, nil
}

func (l *TCPLink) handshake(maxSize uint64) error {
	if l.opts.Role.IsInitiator() {
		if l.opts.RunID == "" {
			l.opts.RunID = uuid.NewString()
		}
		if err := writeHello(l.conn, maxSize, l.opts.RunID); err != nil {
			return err
		}
		h, err := readHello(l.conn)
		if err != nil {
			return err
		}
		if h.MaxSize != maxSize {
			return fmt.Errorf("%w: local %d, peer %d", ErrSizeMismatch, maxSize, h.MaxSize)
		}
		return nil
	}

	h, err := readHello(l.conn)
	if err != nil {
		return err
	}
	runID, err := uuid.ParseBytes(h.RunID[:])
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	l.opts.RunID = runID.String()
	if err := writeHello(l.conn, maxSize, l.opts.RunID); err != nil {
		return err
	}
	if h.MaxSize != maxSize {
		return fmt.Errorf("%w: local %d, peer %d", ErrSizeMismatch, maxSize, h.MaxSize)
	}
	return nil
}

func (l *TCPLink) RunID() string {
	return l.opts.RunID
}

// Staging returns the registered host buffer, nil before Init.
func (l *TCPLink) Staging() *staging.Buffer {
	return l.buf
}

func (l *TCPLink) Completions() types.CompletionCounter {
	return l.tracker
}

func (l *TCPLink) readLoop() {
	defer close(l.readerDone)
	logger := logutil.GetLogger()

	var hdr [headerSize]byte
	for {
		h, err := readHeader(l.conn, &hdr)
		if err != nil {
			l.readErr = err
			return
		}

		if h.carriesPayload() || h.op == opReadReq {
			if h.offset > uint64(len(l.mem)) || h.length > uint64(len(l.mem))-h.offset {
				l.readErr = fmt.Errorf("%w: %s [%d, +%d) outside %d byte buffer",
					ErrProtocol, h.op, h.offset, h.length, len(l.mem))
				l.conn.Close()
				return
			}
		}

		switch h.op {
		case opWrite:
			if _, err := io.ReadFull(l.conn, l.mem[h.offset:h.offset+h.length]); err != nil {
				l.readErr = err
				return
			}
			l.tracker.Add(types.LOCAL_WRITE, 1)

		case opReadResp:
			if _, err := io.ReadFull(l.conn, l.mem[h.offset:h.offset+h.length]); err != nil {
				l.readErr = err
				return
			}
			l.tracker.Add(types.LOCAL_READ, 1)

		case opReadReq:
			resp := frameHeader{op: opReadResp, seq: h.seq, offset: h.offset, length: h.length}
			if err := l.writeFrame(resp, l.mem[h.offset:h.offset+h.length]); err != nil {
				l.readErr = err
				return
			}

		case opBarrier, opBarrierAck:
			select {
			case l.barrierIn <- h:
			case <-l.closing:
				return
			}

		case opRegister:
			l.regMu.Lock()
			l.peerRegisters[uint32(h.offset)] = h.length
			l.regMu.Unlock()
			logger.Debug("peer register set", zap.Uint64("id", h.offset), zap.String("value", fmt.Sprintf("%#x", h.length)))

		default:
			l.readErr = fmt.Errorf("%w: unknown op %d", ErrProtocol, uint8(h.op))
			l.conn.Close()
			return
		}
	}
}

func (l *TCPLink) writeFrame(h frameHeader, payload []byte) error {
	var hdr [headerSize]byte
	h.encode(&hdr)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	bufs := net.Buffers{hdr[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	_, err := bufs.WriteTo(l.conn)
	return err
}

func (l *TCPLink) peerGone() error {
	if l.readErr != nil {
		return essentials.AddCtx("peer", l.readErr)
	}
	return types.ErrLinkClosed
}

func (l *TCPLink) checkConnected() error {
	if l.conn == nil {
		return types.ErrNotConnected
	}
	select {
	case <-l.readerDone:
		return l.peerGone()
	default:
		return nil
	}
}

// Submit posts one operation on the staging buffer [0, sg.Len).
// REMOTE_WRITE completes locally once the payload is handed to the
// connection; REMOTE_READ completes locally once the request is sent and
// its data is counted as LOCAL_READ when it lands.
func (l *TCPLink) Submit(kind types.OperKind, sg types.ScatterSg) error {
	if err := l.checkConnected(); err != nil {
		return err
	}
	if sg.Len > uint64(len(l.mem)) {
		return fmt.Errorf("%w: %d > %d", types.ErrTargetTooSmall, sg.Len, len(l.mem))
	}

	switch kind {
	case types.REMOTE_WRITE:
		if err := l.writeFrame(frameHeader{op: opWrite, length: sg.Len}, l.mem[:sg.Len]); err != nil {
			return essentials.AddCtx("remote write", err)
		}
	case types.REMOTE_READ:
		if err := l.writeFrame(frameHeader{op: opReadReq, length: sg.Len}, nil); err != nil {
			return essentials.AddCtx("remote read", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	l.tracker.Add(kind, 1)
	return nil
}

// Barrier is a two-party rendezvous: the initiator announces the barrier
// and waits for the acknowledgement, the responder waits for the
// announcement and acknowledges it.
func (l *TCPLink) Barrier(ctx context.Context, isInitiator bool) error {
	if err := l.checkConnected(); err != nil {
		return err
	}
	l.barrierSeq++
	seq := l.barrierSeq

	want := opBarrier
	if isInitiator {
		want = opBarrierAck
		if err := l.writeFrame(frameHeader{op: opBarrier, seq: seq}, nil); err != nil {
			return essentials.AddCtx("barrier", err)
		}
	}

	select {
	case h := <-l.barrierIn:
		if h.op != want || h.seq != seq {
			return fmt.Errorf("%w: expected %s #%d, got %s #%d", ErrProtocol, want, seq, h.op, h.seq)
		}
	case <-l.readerDone:
		return l.peerGone()
	case <-ctx.Done():
		return ctx.Err()
	}

	if !isInitiator {
		if err := l.writeFrame(frameHeader{op: opBarrierAck, seq: seq}, nil); err != nil {
			return essentials.AddCtx("barrier ack", err)
		}
	}
	return nil
}

// SetRegister stores a control register and mirrors it to the peer.
func (l *TCPLink) SetRegister(value uint64, id uint32) error {
	l.regMu.Lock()
	l.registers[id] = value
	l.regMu.Unlock()

	logutil.GetLogger().Debug("register set", zap.Uint32("id", id), zap.String("value", fmt.Sprintf("%#x", value)))
	if err := l.checkConnected(); err != nil {
		return err
	}
	return l.writeFrame(frameHeader{op: opRegister, offset: uint64(id), length: value}, nil)
}

func (l *TCPLink) Register(id uint32) (uint64, bool) {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	v, ok := l.registers[id]
	return v, ok
}

func (l *TCPLink) PeerRegister(id uint32) (uint64, bool) {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	v, ok := l.peerRegisters[id]
	return v, ok
}

// Close tears down the connection and unregisters the staging buffer.
func (l *TCPLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.release()
	})
	return l.closeErr
}

func (l *TCPLink) release() error {
	select {
	case <-l.closing:
	default:
		close(l.closing)
	}

	var err error
	if l.conn != nil {
		if cerr := l.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	if l.listener != nil {
		if cerr := l.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	if l.readerDone != nil {
		<-l.readerDone
	}
	if l.buf != nil {
		err = multierr.Append(err, l.buf.Close())
		l.buf = nil
		l.mem = nil
	}
	return err
}
