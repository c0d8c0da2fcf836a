// Package convert turns raw IO-Link process data registers into signed
// engineering values in millimeters.
package convert

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Raw register formats. The set is closed: every supported format has an
// explicit decode path below.
const (
	FormatUintBE  = "uint_be"
	FormatUintLE  = "uint_le"
	FormatIntBE   = "int_be"
	FormatIntLE   = "int_le"
	FormatFloatBE = "float_be"
	FormatFloatLE = "float_le"
)

// SentinelRawMin marks "no part present" in the sensor's raw value space.
// Raw readings at or above it convert to NaN millimeters.
const SentinelRawMin = 2147483640.0

// Decode error categories. Callers branch on these with errors.Is.
var (
	ErrMalformed              = errors.New("malformed payload")
	ErrBitRangeOutOfBounds    = errors.New("bit range out of bounds")
	ErrUnsupportedCombination = errors.New("unsupported format/slice combination")
)

// DecodeError describes why a register payload could not be decoded.
type DecodeError struct {
	Kind   error // one of ErrMalformed, ErrBitRangeOutOfBounds, ErrUnsupportedCombination
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func decodeErrf(kind error, format string, args ...any) error {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ChannelConfig holds the decode parameters for one sensor channel.
// Scale and OffsetMM are decode-time calibration constants; the per-channel
// station offset lives in the offsets table and is applied by the
// measurement engine, not here.
type ChannelConfig struct {
	RawFormat string  `yaml:"raw_format" json:"raw_format"`
	Scale     float64 `yaml:"scale" json:"scale"`
	OffsetMM  float64 `yaml:"offset_mm" json:"offset_mm"`
	StartBit  *int    `yaml:"start_bit,omitempty" json:"start_bit"`
	BitLength *int    `yaml:"bit_length,omitempty" json:"bit_length"`
}

// IsInteger reports whether the channel uses one of the integer formats.
func (c ChannelConfig) IsInteger() bool {
	switch c.RawFormat {
	case FormatUintBE, FormatUintLE, FormatIntBE, FormatIntLE:
		return true
	}
	return false
}

// IsFloat reports whether the channel uses one of the IEEE-754 formats.
func (c ChannelConfig) IsFloat() bool {
	return c.RawFormat == FormatFloatBE || c.RawFormat == FormatFloatLE
}

// SupportedFormat reports whether name is one of the closed format set.
func SupportedFormat(name string) bool {
	switch name {
	case FormatUintBE, FormatUintLE, FormatIntBE, FormatIntLE, FormatFloatBE, FormatFloatLE:
		return true
	}
	return false
}

// Value is the outcome of converting one register payload.
type Value struct {
	Raw     float64 // decoded numeric before scale/offset
	MM      float64 // engineering value in millimeters; NaN when Present is false
	Present bool    // false when the raw reading is the no-part sentinel
}

// HexToBytes parses a hex payload as delivered by the sensor hub. A 0x
// prefix is allowed and odd-length strings are left-padded with a zero
// nibble.
func HexToBytes(s string) ([]byte, error) {
	clean := strings.TrimSpace(s)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}
	if len(clean) == 0 {
		return nil, decodeErrf(ErrMalformed, "empty hex payload")
	}
	if len(clean)%2 == 1 {
		clean = "0" + clean
	}
	out := make([]byte, len(clean)/2)
	for i := 0; i < len(clean); i += 2 {
		hi, ok1 := nibble(clean[i])
		lo, ok2 := nibble(clean[i+1])
		if !ok1 || !ok2 {
			return nil, decodeErrf(ErrMalformed, "invalid hex payload %q", s)
		}
		out[i/2] = hi<<4 | lo
	}
	return out, nil
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeRaw interprets raw per cfg.RawFormat and returns the numeric
// register value before scale and offset are applied.
func DecodeRaw(raw []byte, cfg ChannelConfig) (float64, error) {
	switch {
	case cfg.IsInteger():
		return decodeInteger(raw, cfg)
	case cfg.IsFloat():
		return decodeFloat(raw, cfg)
	}
	return 0, decodeErrf(ErrMalformed, "unsupported raw_format %q", cfg.RawFormat)
}

// Decode converts raw to millimeters: (decoded * scale) + offset_mm.
// No rounding happens here; rounding is a display concern.
func Decode(raw []byte, cfg ChannelConfig) (float64, error) {
	v, err := DecodeRaw(raw, cfg)
	if err != nil {
		return 0, err
	}
	return v*cfg.Scale + cfg.OffsetMM, nil
}

// Convert decodes a hex payload into a Value, mapping the no-part
// sentinel (and non-finite raws) to an absent reading instead of an error.
func Convert(hexStr string, cfg ChannelConfig) (Value, error) {
	raw, err := HexToBytes(hexStr)
	if err != nil {
		return Value{}, err
	}
	num, err := DecodeRaw(raw, cfg)
	if err != nil {
		return Value{}, err
	}
	if !isFinite(num) || num >= SentinelRawMin {
		return Value{Raw: num, MM: math.NaN(), Present: false}, nil
	}
	return Value{Raw: num, MM: num*cfg.Scale + cfg.OffsetMM, Present: true}, nil
}

func decodeInteger(raw []byte, cfg ChannelConfig) (float64, error) {
	if len(raw) == 0 {
		return 0, decodeErrf(ErrMalformed, "empty register for format %q", cfg.RawFormat)
	}
	if len(raw) > 8 {
		return 0, decodeErrf(ErrMalformed, "register wider than 64 bits (%d bytes)", len(raw))
	}

	width := len(raw) * 8
	var value uint64
	if cfg.RawFormat == FormatUintLE || cfg.RawFormat == FormatIntLE {
		for i := len(raw) - 1; i >= 0; i-- {
			value = value<<8 | uint64(raw[i])
		}
	} else {
		for _, b := range raw {
			value = value<<8 | uint64(b)
		}
	}

	signed := cfg.RawFormat == FormatIntBE || cfg.RawFormat == FormatIntLE

	if cfg.StartBit != nil && cfg.BitLength != nil {
		start, length := *cfg.StartBit, *cfg.BitLength
		if start < 0 || length <= 0 || start+length > width {
			return 0, decodeErrf(ErrBitRangeOutOfBounds,
				"bits [%d,%d) exceed %d-bit register", start, start+length, width)
		}
		// The sign bit of a sliced field is the top bit of the slice,
		// not of the full register.
		return float64(sliceBits(value, start, length, signed)), nil
	}

	if signed {
		return float64(signExtend(value, width)), nil
	}
	return float64(value), nil
}

func decodeFloat(raw []byte, cfg ChannelConfig) (float64, error) {
	if cfg.StartBit != nil || cfg.BitLength != nil {
		return 0, decodeErrf(ErrUnsupportedCombination,
			"bit slicing is not defined for format %q", cfg.RawFormat)
	}
	var order binary.ByteOrder = binary.BigEndian
	if cfg.RawFormat == FormatFloatLE {
		order = binary.LittleEndian
	}
	switch len(raw) {
	case 4:
		return float64(math.Float32frombits(order.Uint32(raw))), nil
	case 8:
		return math.Float64frombits(order.Uint64(raw)), nil
	}
	return 0, decodeErrf(ErrMalformed, "float register must be 4 or 8 bytes, got %d", len(raw))
}

// sliceBits extracts bits [start, start+length) from value. When signed,
// the result is two's-complement over the sliced width.
func sliceBits(value uint64, start, length int, signed bool) int64 {
	var mask uint64
	if length >= 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << uint(length)) - 1
	}
	sliced := (value >> uint(start)) & mask
	if signed {
		return signExtend(sliced, length)
	}
	return int64(sliced)
}

func signExtend(value uint64, width int) int64 {
	if width >= 64 {
		return int64(value)
	}
	signBit := uint64(1) << uint(width-1)
	if value&signBit != 0 {
		return int64(value) - (int64(1) << uint(width))
	}
	return int64(value)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
