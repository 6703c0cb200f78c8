package s7

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
endpoint: 192.168.0.10
rack: 0
slot: 2
request_timeout: 750ms
pdu_size: 240
read_only: true
simulator:
  listen: 127.0.0.1:10102
  max_pdu: 480
  data_blocks:
    - number: 1
      size: 128
    - number: 5
      size: 16
  seed:
    - address: DB1.DBW0
      value: "300"
    - address: DB1.DBD4
      type: real
      value: "21.5"
    - address: DB5.DBX0.3
      value: "true"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.10", cfg.Endpoint)
	assert.Equal(t, DEFAULT_PORT, cfg.Port, "missing keys keep defaults")
	assert.Equal(t, 2, cfg.Slot)
	assert.Equal(t, DEFAULT_DIAL_TIMEOUT, cfg.ConnectTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 240, cfg.PDUSize)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, "127.0.0.1:10102", cfg.Simulator.Listen)
	assert.Len(t, cfg.Simulator.DataBlocks, 2)
	assert.Len(t, cfg.Simulator.Seed, 3)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "rack: [1, 2"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `
rack: 9
slot: 40
pdu_size: 100
simulator:
  data_blocks:
    - number: 0
      size: 10
  seed:
    - address: DB1.DBW0
      value: "big"
`))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(unwrapAll(err)), 5)
}

// unwrapAll strips the fmt wrapping LoadConfig adds around the combined error.
func unwrapAll(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Port = 70000
	cfg.ConnectTimeout = -time.Second
	cfg.QueueSize = -1
	assert.Len(t, multierr.Errors(cfg.Validate()), 3)
}

func TestSeedValueParse(t *testing.T) {
	for _, sv := range []SeedValue{
		{Address: "DB1.DBX0.0", Type: "int16", Value: "1"},
		{Address: "DB1.DBW0", Type: "bit", Value: "true"},
		{Address: "DB1.DBW0", Type: "dint", Value: "1"},
		{Address: "DB1.DBB0[4]", Value: "0102"},
		{Address: "DB1.DBQ0", Value: "1"},
	} {
		_, _, err := sv.parse()
		assert.Error(t, err, "%+v", sv)
	}

	addr, data, err := SeedValue{Address: "MD4", Type: "real", Value: "1.5"}.parse()
	require.NoError(t, err)
	assert.Equal(t, ValueFloat32, addr.Kind)
	assert.Equal(t, EncodeFloat32(1.5), data)
}

func TestSimulatorConfigApply(t *testing.T) {
	sc := SimulatorConfig{
		DataBlocks: []DataBlockSpec{{Number: 2, Size: 32}},
		Seed: []SeedValue{
			{Address: "DB2.DBW0", Value: "-2"},
			{Address: "DB2.DBX4.1", Value: "1"},
			{Address: "MB3", Value: "0xAA"},
			{Address: "DB2.DBB8[3]", Value: "010203"},
		},
	}
	require.NoError(t, sc.Validate())

	srv := NewServer(sc.Options(zap.NewNop())...)
	defer srv.Close()
	require.NoError(t, sc.Apply(srv))

	raw, err := srv.Bytes(AreaDB, 2, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE, 0x00, 0x00, 0x02}, raw)
	m, _ := srv.Bytes(AreaM, 0, 3, 1)
	assert.Equal(t, []byte{0xAA}, m)
	r, _ := srv.Bytes(AreaDB, 2, 8, 3)
	assert.Equal(t, []byte{1, 2, 3}, r)

	// DB1 only exists when no data blocks are configured.
	_, err = srv.Bytes(AreaDB, 1, 0, 1)
	assert.Error(t, err)

	bad := SimulatorConfig{Seed: []SeedValue{{Address: "DB9.DBW0", Value: "1"}}}
	assert.Error(t, bad.Apply(srv))
}

func TestConfigOptionsDriveClient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := DefaultConfig()
	cfg.ReadOnly = true
	cfg.LogRequests = true
	cfg.RequestTimeout = time.Second

	c, _ := newTestClient(t, nil, cfg.Options(zap.New(core))...)
	ctx := context.Background()

	_, err := c.ReadInt16(ctx, 1, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, c.WriteInt16(ctx, 1, 0, 1), ErrInvalidArgument)

	assert.Equal(t, 2, logs.FilterMessage("starting").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed").Len())
}
