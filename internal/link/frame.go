package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	protoMagic   uint32 = 0x53434154
	protoVersion uint16 = 1
	runIDLen            = 36
	headerSize          = 1 + 4 + 8 + 8
)

var (
	ErrBadMagic     = errors.New("peer is not a scatter benchmark link")
	ErrBadVersion   = errors.New("peer speaks another protocol version")
	ErrSizeMismatch = errors.New("peers registered staging buffers of different sizes")
	ErrProtocol     = errors.New("link protocol violation")
	ErrUnsupported  = errors.New("operation not supported by link")
)

type frameOp uint8

const (
	opWrite frameOp = iota + 1
	opReadReq
	opReadResp
	opBarrier
	opBarrierAck
	opRegister
)

func (op frameOp) String() string {
	switch op {
	case opWrite:
		return "write"
	case opReadReq:
		return "read-req"
	case opReadResp:
		return "read-resp"
	case opBarrier:
		return "barrier"
	case opBarrierAck:
		return "barrier-ack"
	case opRegister:
		return "register"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// frameHeader precedes every message on the wire. For data frames offset
// and length address the staging buffer and length payload bytes follow;
// for register frames offset is the register id and length its value.
type frameHeader struct {
	op     frameOp
	seq    uint32
	offset uint64
	length uint64
}

func (h frameHeader) encode(b *[headerSize]byte) {
	b[0] = byte(h.op)
	binary.BigEndian.PutUint32(b[1:], h.seq)
	binary.BigEndian.PutUint64(b[5:], h.offset)
	binary.BigEndian.PutUint64(b[13:], h.length)
}

func readHeader(r io.Reader, b *[headerSize]byte) (frameHeader, error) {
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return frameHeader{}, err
	}
	return frameHeader{
		op:     frameOp(b[0]),
		seq:    binary.BigEndian.Uint32(b[1:]),
		offset: binary.BigEndian.Uint64(b[5:]),
		length: binary.BigEndian.Uint64(b[13:]),
	}, nil
}

func (h frameHeader) carriesPayload() bool {
	return h.op == opWrite || h.op == opReadResp
}

// hello is exchanged once after the connection is established.
type hello struct {
	Magic   uint32
	Version uint16
	MaxSize uint64
	RunID   [runIDLen]byte
}

func writeHello(w io.Writer, maxSize uint64, runID string) error {
	h := hello{Magic: protoMagic, Version: protoVersion, MaxSize: maxSize}
	copy(h.RunID[:], runID)
	return binary.Write(w, binary.BigEndian, &h)
}

func readHello(r io.Reader) (hello, error) {
	var h hello
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, err
	}
	if h.Magic != protoMagic {
		return h, ErrBadMagic
	}
	if h.Version != protoVersion {
		return h, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}
