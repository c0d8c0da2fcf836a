package hmi

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/measure"
)

type fakeResultSource struct {
	result measure.Result
	ok     bool
}

func (f *fakeResultSource) LatestResult() (measure.Result, bool) {
	return f.result, f.ok
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	return store
}

func newTestHandler(t *testing.T, latest ResultSource) (*Handler, *config.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewHandler(store, latest, zerolog.Nop()), store
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Command
		wantErr error
	}{
		{name: "set", frame: "SET d1t 1.234", want: Command{Kind: CmdSet, Key: "d1t", ValueInches: 1.234}},
		{name: "set negative", frame: "SET off3 -0.005", want: Command{Kind: CmdSet, Key: "off3", ValueInches: -0.005}},
		{name: "set uppercase key folds", frame: "SET D1T 1.0", want: Command{Kind: CmdSet, Key: "d1t", ValueInches: 1.0}},
		{name: "save", frame: "SAVE", want: Command{Kind: CmdSave}},
		{name: "req targets", frame: "REQ TARGETS", want: Command{Kind: CmdReqTargets}},
		{name: "req offsets", frame: "REQ OFFSETS", want: Command{Kind: CmdReqOffsets}},
		{name: "dump", frame: "DUMP", want: Command{Kind: CmdDump}},
		{name: "extra whitespace", frame: "  SET   d1t   1.5 ", want: Command{Kind: CmdSet, Key: "d1t", ValueInches: 1.5}},

		{name: "lowercase command rejected", frame: "set d1t 1.0", wantErr: ErrUnknownCommand},
		{name: "mixed case rejected", frame: "Save", wantErr: ErrUnknownCommand},
		{name: "unknown command", frame: "PING", wantErr: ErrUnknownCommand},
		{name: "req unknown subject", frame: "REQ EVERYTHING", wantErr: ErrUnknownCommand},
		{name: "req missing subject", frame: "REQ", wantErr: ErrBadArgument},
		{name: "set missing value", frame: "SET d1t", wantErr: ErrBadArgument},
		{name: "set extra tokens", frame: "SET d1t 1.0 2.0", wantErr: ErrBadArgument},
		{name: "set non-numeric value", frame: "SET d1t abc", wantErr: ErrBadArgument},
		{name: "blank", frame: "   ", wantErr: ErrEmptyFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandle_SetWritesMillimeters(t *testing.T) {
	h, store := newTestHandler(t, nil)

	out := h.Handle([]byte("SET d1t 1.234"))
	assert.Empty(t, out, "SET produces no reply")

	// 1.234 in * 25.4 = 31.3436 mm
	assert.InDelta(t, 31.3436, store.Snapshot().Targets.D1Target, 1e-9)
}

func TestHandle_SetOffsets(t *testing.T) {
	h, store := newTestHandler(t, nil)

	h.Handle([]byte("SET off0 0.1"))
	h.Handle([]byte("SET off7 -0.1"))

	cfg := store.Snapshot()
	assert.InDelta(t, 2.54, cfg.OffsetsMM[0], 1e-9)
	assert.InDelta(t, -2.54, cfg.OffsetsMM[7], 1e-9)
}

func TestHandle_SetUnknownKeyLeavesStateUntouched(t *testing.T) {
	h, store := newTestHandler(t, nil)
	before := store.Snapshot()
	version := store.Version()

	assert.Empty(t, h.Handle([]byte("SET bogus 1.0")))
	assert.Empty(t, h.Handle([]byte("SET off9 1.0")))

	assert.Equal(t, before.Targets, store.Snapshot().Targets)
	assert.Equal(t, before.OffsetsMM, store.Snapshot().OffsetsMM)
	assert.Equal(t, version, store.Version())
}

func TestHandle_SetDoesNotPersist(t *testing.T) {
	h, store := newTestHandler(t, nil)
	prior := store.Snapshot().Targets.D1Target

	h.Handle([]byte("SET d1t 1.234"))

	// In-memory state moved, but the config file still holds the prior
	// value until SAVE.
	assert.InDelta(t, 31.3436, store.Snapshot().Targets.D1Target, 1e-9)
	require.NoError(t, store.Reload())
	assert.Equal(t, prior, store.Snapshot().Targets.D1Target)
}

func TestHandle_SavePersists(t *testing.T) {
	h, store := newTestHandler(t, nil)

	h.Handle([]byte("SET d1t 1.234"))
	assert.Empty(t, h.Handle([]byte("SAVE")))

	require.NoError(t, store.Reload())
	assert.InDelta(t, 31.3436, store.Snapshot().Targets.D1Target, 1e-9)
}

func TestHandle_ReqTargets(t *testing.T) {
	h, store := newTestHandler(t, nil)
	require.NoError(t, store.ApplySet("d1t", 1.234))

	out := h.Handle([]byte("REQ TARGETS"))
	require.Len(t, out, 9)
	assert.Equal(t, `tD1Target.txt="1.234"`, out[0])
	assert.Equal(t, `tD1Tol.txt="0.002"`, out[1]) // 0.050 mm default
	assert.Equal(t, `tD2Target.txt="0.000"`, out[2])
	assert.Equal(t, `tD2Tol.txt="0.002"`, out[3])
	assert.Equal(t, `tLenTarget.txt="45.866"`, out[4]) // 1165.0 mm default
	assert.Equal(t, `tLenTol.txt="0.008"`, out[5])
	assert.Equal(t, `tDeltaMax.txt="0.002"`, out[6])
	assert.Equal(t, `tEnd1Max.txt="0.002"`, out[7])
	assert.Equal(t, `tEnd2Max.txt="0.002"`, out[8])
}

func TestHandle_ReqOffsets(t *testing.T) {
	h, store := newTestHandler(t, nil)
	require.NoError(t, store.ApplySet("off2", 0.5))

	out := h.Handle([]byte("REQ OFFSETS"))
	require.Len(t, out, 8)
	assert.Equal(t, `tOff0.txt="0.000"`, out[0])
	assert.Equal(t, `tOff2.txt="0.500"`, out[2])
	assert.Equal(t, `tOff7.txt="0.000"`, out[7])
}

func TestHandle_DumpOrderAndStatus(t *testing.T) {
	src := &fakeResultSource{
		result: measure.Result{
			D1: 31.34, D2: 31.30, DDelta: 0.04,
			End1Rng: 0.02, End2Rng: 0.01, Length: 1165.0,
			Overall: true,
		},
		ok: true,
	}
	h, _ := newTestHandler(t, src)

	out := h.Handle([]byte("DUMP"))
	// 9 targets + 8 offsets + 6 values + 1 status
	require.Len(t, out, 24)
	assert.Equal(t, `tD1Target.txt="0.000"`, out[0])
	assert.Equal(t, `tOff0.txt="0.000"`, out[9])
	assert.Equal(t, `tD1.txt="1.234"`, out[17]) // 31.34 mm -> 1.234 in
	assert.Equal(t, `tStatus.txt="PASS"`, out[23])
}

func TestHandle_DumpWithoutResultFails(t *testing.T) {
	h, _ := newTestHandler(t, &fakeResultSource{})

	out := h.Handle([]byte("DUMP"))
	require.Len(t, out, 24)
	assert.Equal(t, `tD1.txt="-"`, out[17])
	assert.Equal(t, `tStatus.txt="FAIL"`, out[23])
}

func TestHandle_UnknownCommandIgnored(t *testing.T) {
	h, store := newTestHandler(t, nil)
	version := store.Version()

	assert.Empty(t, h.Handle([]byte("REBOOT NOW")))
	assert.Equal(t, version, store.Version())
}

func TestHandle_DisplayRepliesIgnored(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	// Nextion text reply.
	assert.Empty(t, h.Handle(append([]byte{0x70}, []byte("op\x00")...)))
	// Nextion binary ack.
	assert.Empty(t, h.Handle([]byte{0x01}))
	// Empty frame.
	assert.Empty(t, h.Handle(nil))
}

func TestFormatInches(t *testing.T) {
	assert.Equal(t, "1.234", FormatInches(31.3436))
	assert.Equal(t, "0.000", FormatInches(0))
	assert.Equal(t, "-0.500", FormatInches(-12.7))
	assert.Equal(t, "-", FormatInches(math.NaN()))
	assert.Equal(t, "-", FormatInches(math.Inf(1)))
}

func TestStatusFrame(t *testing.T) {
	assert.Equal(t, `tStatus.txt="PASS"`, StatusFrame(true))
	assert.Equal(t, `tStatus.txt="FAIL"`, StatusFrame(false))
}
