package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capceri/Tube-measurement/pkg/convert"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "192.168.100.1", cfg.HubAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/dev/serial0", cfg.HMI.SerialPort)
	assert.Equal(t, 115200, cfg.HMI.Baud)
	assert.Equal(t, 1165.0, cfg.Targets.LenTarget)
	assert.Equal(t, 0.050, cfg.Targets.D1Tol)
	assert.Len(t, cfg.OffsetsMM, NumChannels)
	assert.Len(t, cfg.Channels, NumChannels)
	for i, ch := range cfg.Channels {
		assert.Equal(t, convert.FormatUintBE, ch.RawFormat, "channel %d", i)
		assert.Equal(t, 0.001, ch.Scale, "channel %d", i)
	}
	require.NoError(t, Validate(cfg))
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
hub_address: "10.0.0.5"
poll_interval: 250ms

hmi:
  serial_port: "/dev/ttyUSB0"
  baud: 9600

targets:
  d1_target: 31.3436
  d1_tol: 0.1

offsets_mm: [0.1, 0.2]

channels:
  - raw_format: int_be
    scale: 0.01
    start_bit: 4
    bit_length: 12
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.HubAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "/dev/ttyUSB0", cfg.HMI.SerialPort)
	assert.Equal(t, 9600, cfg.HMI.Baud)
	assert.Equal(t, 31.3436, cfg.Targets.D1Target)
	assert.Equal(t, 0.1, cfg.Targets.D1Tol)
	// Defaults survive for fields the file omits.
	assert.Equal(t, 0.050, cfg.Targets.D2Tol)

	// Short lists are padded out to the full channel count.
	require.Len(t, cfg.OffsetsMM, NumChannels)
	assert.Equal(t, 0.1, cfg.OffsetsMM[0])
	assert.Equal(t, 0.0, cfg.OffsetsMM[2])

	require.Len(t, cfg.Channels, NumChannels)
	assert.Equal(t, convert.FormatIntBE, cfg.Channels[0].RawFormat)
	require.NotNil(t, cfg.Channels[0].StartBit)
	assert.Equal(t, 4, *cfg.Channels[0].StartBit)
	assert.Equal(t, convert.FormatUintBE, cfg.Channels[1].RawFormat)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  - raw_format: bcd\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.HubAddress = "192.168.1.20"
	cfg.Targets.D1Target = 31.3436
	cfg.OffsetsMM[3] = -0.25
	start, length := 0, 16
	cfg.Channels[2] = convert.ChannelConfig{
		RawFormat: convert.FormatIntLE,
		Scale:     0.002,
		OffsetMM:  1.0,
		StartBit:  &start,
		BitLength: &length,
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Default().Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.yaml", entries[0].Name())
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	start, length := 2, 10
	cfg.Channels[0].StartBit = &start
	cfg.Channels[0].BitLength = &length

	clone := cfg.Clone()
	clone.OffsetsMM[0] = 99.0
	*clone.Channels[0].StartBit = 7
	clone.Targets.D1Target = 1.0

	assert.Equal(t, 0.0, cfg.OffsetsMM[0])
	assert.Equal(t, 2, *cfg.Channels[0].StartBit)
	assert.Equal(t, 0.0, cfg.Targets.D1Target)
}
