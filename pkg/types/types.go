package types

import "fmt"

const (
	DIR_HTOD = 0
	DIR_DTOH = 1
)

// Defaults for the benchmark sweep.
const (
	N_LATENCY_REPS            = 1
	N_THROUGHPUT_REPS         = 16
	N_RUNS_DEFAULT            = 50
	MIN_TRANSFER_SIZE_DEFAULT = 64
	MAX_TRANSFER_SIZE_DEFAULT = 1 << 20
	CHUNK_SIZE_DEFAULT        = 4096
	NUM_DEVICES_DEFAULT       = 4
	DEF_PORT                  = 18488
)

// OperKind labels an operation submitted to, or completed by, the link.
type OperKind uint8

const (
	LOCAL_READ OperKind = iota
	LOCAL_WRITE
	REMOTE_READ
	REMOTE_WRITE

	NumOperKinds = 4
)

func (k OperKind) String() string {
	switch k {
	case LOCAL_READ:
		return "LOCAL_READ"
	case LOCAL_WRITE:
		return "LOCAL_WRITE"
	case REMOTE_READ:
		return "REMOTE_READ"
	case REMOTE_WRITE:
		return "REMOTE_WRITE"
	default:
		return fmt.Sprintf("OperKind(%d)", uint8(k))
	}
}

// Mode selects which operation the sweep benchmarks.
type Mode bool

const (
	READ  Mode = false
	WRITE Mode = true
)

func (m Mode) String() string {
	if m == WRITE {
		return "WRITE"
	}
	return "READ"
}

type Role string

const (
	RoleResponder Role = "responder"
	RoleInitiator Role = "initiator"
)

func (r Role) IsInitiator() bool {
	return r == RoleInitiator
}

// ScatterSg describes the payload of one remote operation.
type ScatterSg struct {
	Len uint64
}
