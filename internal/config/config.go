package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrZeroMinSize   = errors.New("min_size must be positive when max_size is set")
	ErrZeroChunkSize = errors.New("chunk_size must be positive")
	ErrNoDevices     = errors.New("at least one device target is required")
	ErrBadRole       = errors.New("role must be responder or initiator")
	ErrNoPeer        = errors.New("initiator needs the responder address")
)

type Config struct {
	Operation bool
	Runs      uint64
	MinSize   uint64
	MaxSize   uint64

	Role         types.Role
	Addr         string
	Port         int
	Devices      int
	ChunkSize    int
	QuotaTimeout time.Duration
	Verify       bool
}

func (c *Config) Mode() types.Mode {
	return types.Mode(c.Operation)
}

func defaults() *Config {
	return &Config{
		Runs:      types.N_RUNS_DEFAULT,
		MinSize:   types.MIN_TRANSFER_SIZE_DEFAULT,
		MaxSize:   types.MAX_TRANSFER_SIZE_DEFAULT,
		Role:      types.RoleResponder,
		Port:      types.DEF_PORT,
		Devices:   types.NUM_DEVICES_DEFAULT,
		ChunkSize: types.CHUNK_SIZE_DEFAULT,
	}
}

// LoadConfig reads the environment and the command line. Invalid input is
// fatal.
func LoadConfig() *Config {
	logger := logutil.GetLogger()
	cfg, err := Parse(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	return cfg
}

// Parse builds a Config from SCATTER_* variables looked up with getenv,
// then from args. Flags win over the environment.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	cfg := defaults()
	if err := cfg.fromEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("rdma-scatter", flag.ContinueOnError)
	for _, name := range []string{"operation", "o"} {
		fs.Var((*operationFlag)(&cfg.Operation), name, "benchmark operation: 0 = READ, 1 = WRITE")
	}
	uint64Flag(fs, &cfg.Runs, cfg.Runs, "number of rounds per transfer size", "runs", "r")
	uint64Flag(fs, &cfg.MinSize, cfg.MinSize, "first transfer size in bytes", "min_size", "x")
	uint64Flag(fs, &cfg.MaxSize, cfg.MaxSize, "last transfer size in bytes", "max_size", "X")

	role := string(cfg.Role)
	fs.StringVar(&role, "role", role, "responder or initiator")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "responder address the initiator connects to")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "link port")
	fs.IntVar(&cfg.Devices, "devices", cfg.Devices, "number of device targets of the fan-out")
	fs.IntVar(&cfg.ChunkSize, "chunk_size", cfg.ChunkSize, "fan-out chunk size in bytes")
	fs.DurationVar(&cfg.QuotaTimeout, "quota_timeout", cfg.QuotaTimeout, "max wait for a round's completions, 0 waits forever")
	fs.BoolVar(&cfg.Verify, "verify", cfg.Verify, "check received payloads against the index pattern")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Role = types.Role(role)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// operationFlag takes an explicit value, so "-o 1" parses like the
// other numeric flags.
type operationFlag bool

func (o *operationFlag) String() string {
	if o != nil && bool(*o) {
		return "1"
	}
	return "0"
}

func (o *operationFlag) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*o = operationFlag(b)
	return nil
}

func uint64Flag(fs *flag.FlagSet, p *uint64, value uint64, usage string, names ...string) {
	for _, name := range names {
		fs.Uint64Var(p, name, value, usage)
	}
}

func (c *Config) fromEnv(getenv func(string) string) error {
	if v := getenv("SCATTER_ROLE"); v != "" {
		c.Role = types.Role(v)
	}
	if v := getenv("SCATTER_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("SCATTER_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCATTER_PORT: %w", err)
		}
		c.Port = n
	}
	if v := getenv("SCATTER_DEVICES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCATTER_DEVICES: %w", err)
		}
		c.Devices = n
	}
	if v := getenv("SCATTER_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCATTER_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = n
	}
	if v := getenv("SCATTER_QUOTA_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCATTER_QUOTA_TIMEOUT: %w", err)
		}
		c.QuotaTimeout = d
	}
	if v := getenv("SCATTER_VERIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCATTER_VERIFY: %w", err)
		}
		c.Verify = b
	}
	return nil
}

// Validate rejects configurations the sweep cannot run. An inverted size
// range is valid and yields an empty sweep.
func (c *Config) Validate() error {
	switch {
	case c.MinSize == 0 && c.MaxSize > 0:
		return ErrZeroMinSize
	case c.ChunkSize <= 0:
		return ErrZeroChunkSize
	case c.Devices < 1:
		return ErrNoDevices
	case c.Role != types.RoleResponder && c.Role != types.RoleInitiator:
		return fmt.Errorf("%w: %q", ErrBadRole, c.Role)
	case c.Role.IsInitiator() && c.Addr == "":
		return ErrNoPeer
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}
