package s7

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is a connection profile, usually loaded from YAML:
//
//	endpoint: 192.168.0.1
//	port: 102
//	rack: 0
//	slot: 1
//	connect_timeout: 5s
//	request_timeout: 2s
//	pdu_size: 480
//	read_only: false
//
// Zero values mean "use the client default".
type Config struct {
	Endpoint       string        `yaml:"endpoint"`
	Port           int           `yaml:"port"`
	Rack           int           `yaml:"rack"`
	Slot           int           `yaml:"slot"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PDUSize        int           `yaml:"pdu_size"`
	QueueSize      int           `yaml:"queue_size"`
	ReadOnly       bool          `yaml:"read_only"`
	LogRequests    bool          `yaml:"log_requests"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig describes the memory layout and initial values of the
// simulator run by examples/server.
type SimulatorConfig struct {
	Listen        string          `yaml:"listen"`
	MaxPDU        int             `yaml:"max_pdu"`
	ResponseDelay time.Duration   `yaml:"response_delay"`
	DataBlocks    []DataBlockSpec `yaml:"data_blocks"`
	Seed          []SeedValue     `yaml:"seed"`
}

type DataBlockSpec struct {
	Number int `yaml:"number"`
	Size   int `yaml:"size"`
}

// SeedValue preloads one value. Type overrides the width implied by the
// address, e.g. "real" for a DBD.
type SeedValue struct {
	Address string `yaml:"address"`
	Type    string `yaml:"type"`
	Value   string `yaml:"value"`
}

// DefaultConfig returns a profile for the usual S7-300/400 CPU position.
func DefaultConfig() Config {
	return Config{
		Port:           DEFAULT_PORT,
		Rack:           DEFAULT_RACK,
		Slot:           DEFAULT_SLOT,
		ConnectTimeout: DEFAULT_DIAL_TIMEOUT,
		RequestTimeout: DEFAULT_REQUEST_TIMEOUT,
		PDUSize:        DEFAULT_PDU_SIZE,
	}
}

// LoadConfig reads a YAML profile. Keys missing from the file keep the
// values of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem in the profile at once.
func (c Config) Validate() error {
	var err error
	if c.Port < 0 || c.Port > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Rack < 0 || c.Rack > MAX_RACK {
		err = multierr.Append(err, fmt.Errorf("rack %d out of range 0-%d", c.Rack, MAX_RACK))
	}
	if c.Slot < 0 || c.Slot > MAX_SLOT {
		err = multierr.Append(err, fmt.Errorf("slot %d out of range 0-%d", c.Slot, MAX_SLOT))
	}
	if c.ConnectTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("negative connect_timeout %v", c.ConnectTimeout))
	}
	if c.RequestTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("negative request_timeout %v", c.RequestTimeout))
	}
	if c.PDUSize != 0 && (c.PDUSize < MIN_PDU_SIZE || c.PDUSize > MAX_PDU_SIZE) {
		err = multierr.Append(err, fmt.Errorf("pdu_size %d out of range %d-%d", c.PDUSize, MIN_PDU_SIZE, MAX_PDU_SIZE))
	}
	if c.QueueSize < 0 {
		err = multierr.Append(err, fmt.Errorf("negative queue_size %d", c.QueueSize))
	}
	return multierr.Append(err, c.Simulator.Validate())
}

// Options converts the profile into client options.
func (c Config) Options(logger *zap.Logger) []ClientOption {
	opts := []ClientOption{WithLogger(logger)}
	if c.Port != 0 {
		opts = append(opts, WithPort(c.Port))
	}
	if c.ConnectTimeout != 0 {
		opts = append(opts, WithConnectTimeout(c.ConnectTimeout))
	}
	if c.RequestTimeout != 0 {
		opts = append(opts, WithRequestTimeout(c.RequestTimeout))
	}
	if c.PDUSize != 0 {
		opts = append(opts, WithPDUSize(c.PDUSize))
	}
	if c.QueueSize != 0 {
		opts = append(opts, WithQueueSize(c.QueueSize))
	}

	var interceptors []Interceptor
	if c.LogRequests {
		interceptors = append(interceptors, LoggingInterceptor(logger))
	}
	if c.ReadOnly {
		interceptors = append(interceptors, ReadOnlyInterceptor())
	}
	if len(interceptors) > 0 {
		opts = append(opts, WithInterceptor(ChainInterceptors(interceptors...)))
	}
	return opts
}

// Validate checks data block numbers and that every seed parses.
func (sc SimulatorConfig) Validate() error {
	var err error
	if sc.MaxPDU != 0 && (sc.MaxPDU < MIN_PDU_SIZE || sc.MaxPDU > MAX_PDU_SIZE) {
		err = multierr.Append(err, fmt.Errorf("simulator max_pdu %d out of range %d-%d", sc.MaxPDU, MIN_PDU_SIZE, MAX_PDU_SIZE))
	}
	for _, db := range sc.DataBlocks {
		if db.Number < 1 || db.Number > MaxDB || db.Size <= 0 {
			err = multierr.Append(err, fmt.Errorf("invalid data block %d with size %d", db.Number, db.Size))
		}
	}
	for _, sv := range sc.Seed {
		if _, _, e := sv.parse(); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}

// Options converts the simulator section into server options.
func (sc SimulatorConfig) Options(logger *zap.Logger) []ServerOption {
	opts := []ServerOption{WithServerLogger(logger)}
	if sc.MaxPDU != 0 {
		opts = append(opts, WithMaxPDU(sc.MaxPDU))
	}
	if sc.ResponseDelay > 0 {
		opts = append(opts, WithResponseDelay(sc.ResponseDelay))
	}
	for _, db := range sc.DataBlocks {
		opts = append(opts, WithDB(db.Number, db.Size))
	}
	return opts
}

// Apply writes the seed values into srv.
func (sc SimulatorConfig) Apply(srv *Server) error {
	var err error
	for _, sv := range sc.Seed {
		addr, data, e := sv.parse()
		if e == nil {
			if addr.Kind == ValueBit {
				e = srv.SeedBit(addr.Area, addr.DBNumber, addr.Offset, addr.Bit, data[0] == 1)
			} else {
				e = srv.Seed(addr.Area, addr.DBNumber, addr.Offset, data)
			}
		}
		err = multierr.Append(err, e)
	}
	return err
}

func (sv SeedValue) parse() (Address, []byte, error) {
	addr, err := ParseAddress(sv.Address)
	if err != nil {
		return Address{}, nil, fmt.Errorf("seed %q: %w", sv.Address, err)
	}
	if sv.Type != "" {
		kind, err := ParseValueKind(sv.Type)
		if err != nil {
			return Address{}, nil, fmt.Errorf("seed %q: %w", sv.Address, err)
		}
		if kind == ValueBit && addr.Kind != ValueBit {
			return Address{}, nil, fmt.Errorf("seed %q: type bit needs a bit address", sv.Address)
		}
		if kind.Size() != 0 && kind.Size() != addr.Length {
			return Address{}, nil, fmt.Errorf("seed %q: type %s does not fit a %d byte address", sv.Address, kind, addr.Length)
		}
		addr = addr.WithKind(kind)
	}
	data, err := ParseValue(addr.Kind, sv.Value)
	if err != nil {
		return Address{}, nil, fmt.Errorf("seed %q: %w", sv.Address, err)
	}
	if addr.Kind == ValueBytes && len(data) != addr.Length {
		return Address{}, nil, fmt.Errorf("seed %q: %d bytes given for %d", sv.Address, len(data), addr.Length)
	}
	return addr, data, nil
}
