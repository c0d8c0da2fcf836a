package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/capceri/Tube-measurement/pkg/convert"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks configuration correctness. It does not mutate the
// configuration; rejected values are simply never applied.
func Validate(cfg *Config) error {
	if cfg.PollInterval <= 0 {
		return invalidf("poll_interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return invalidf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.HMI.Baud <= 0 {
		return invalidf("hmi.baud must be positive, got %d", cfg.HMI.Baud)
	}

	if err := validateTargets(&cfg.Targets); err != nil {
		return err
	}

	if len(cfg.OffsetsMM) != NumChannels {
		return invalidf("offsets_mm must have %d entries, got %d", NumChannels, len(cfg.OffsetsMM))
	}
	for i, off := range cfg.OffsetsMM {
		if !isFinite(off) {
			return invalidf("offsets_mm[%d] must be finite", i)
		}
	}

	if len(cfg.Channels) != NumChannels {
		return invalidf("channels must have %d entries, got %d", NumChannels, len(cfg.Channels))
	}
	for i, ch := range cfg.Channels {
		if err := validateChannel(i, ch); err != nil {
			return err
		}
	}

	return nil
}

func validateTargets(t *Targets) error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"d1_target", t.D1Target},
		{"d2_target", t.D2Target},
		{"len_target", t.LenTarget},
	} {
		if !isFinite(f.value) {
			return invalidf("targets.%s must be finite", f.name)
		}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"d1_tol", t.D1Tol},
		{"d2_tol", t.D2Tol},
		{"len_tol", t.LenTol},
		{"ddelta_max", t.DDeltaMax},
		{"end1_max", t.End1Max},
		{"end2_max", t.End2Max},
	} {
		if !isFinite(f.value) || f.value < 0 {
			return invalidf("targets.%s must be finite and non-negative, got %v", f.name, f.value)
		}
	}
	return nil
}

func validateChannel(idx int, ch convert.ChannelConfig) error {
	if !convert.SupportedFormat(ch.RawFormat) {
		return invalidf("channels[%d]: unsupported raw_format %q", idx, ch.RawFormat)
	}
	if !isFinite(ch.Scale) || ch.Scale == 0 {
		return invalidf("channels[%d]: scale must be finite and nonzero, got %v", idx, ch.Scale)
	}
	if !isFinite(ch.OffsetMM) {
		return invalidf("channels[%d]: offset_mm must be finite", idx)
	}

	if ch.StartBit == nil && ch.BitLength == nil {
		return nil
	}
	if ch.StartBit == nil || ch.BitLength == nil {
		return invalidf("channels[%d]: start_bit and bit_length must be set together", idx)
	}
	if !ch.IsInteger() {
		return invalidf("channels[%d]: bit slicing is only valid for integer formats, not %q", idx, ch.RawFormat)
	}
	if *ch.StartBit < 0 || *ch.BitLength < 1 {
		return invalidf("channels[%d]: bit slice [%d,+%d) is not a valid range", idx, *ch.StartBit, *ch.BitLength)
	}
	if *ch.StartBit+*ch.BitLength > 64 {
		return invalidf("channels[%d]: bit slice [%d,+%d) exceeds the 64-bit register limit", idx, *ch.StartBit, *ch.BitLength)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
