// Package hmi implements the framed ASCII protocol spoken by the
// touchscreen over the serial link.
package hmi

import (
	"bytes"

	"github.com/rs/zerolog"
)

// Terminator is the 3-byte frame delimiter used in both directions.
var Terminator = []byte{0xFF, 0xFF, 0xFF}

// DefaultMaxFrameSize bounds the accumulator buffer against a sender
// that never emits a terminator.
const DefaultMaxFrameSize = 512

// Accumulator reassembles the serial byte stream into complete frames.
// Bytes arrive in arbitrary chunks; frames are yielded in arrival order
// the moment their terminator is seen.
type Accumulator struct {
	buf  []byte
	max  int
	log  zerolog.Logger
	drop uint64
}

// NewAccumulator creates an Accumulator with the given buffer bound.
// A non-positive max uses DefaultMaxFrameSize.
func NewAccumulator(max int, log zerolog.Logger) *Accumulator {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &Accumulator{max: max, log: log}
}

// Push appends incoming bytes and returns every frame completed by them,
// in arrival order, without their terminators. When the buffer outgrows
// the bound without a terminator, it is discarded and accumulation
// restarts from empty; the stream stays alive.
func (a *Accumulator) Push(p []byte) [][]byte {
	a.buf = append(a.buf, p...)

	var frames [][]byte
	for {
		idx := bytes.Index(a.buf, Terminator)
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, a.buf[:idx])
		frames = append(frames, frame)
		a.buf = a.buf[idx+len(Terminator):]
	}

	if len(a.buf) > a.max {
		a.drop++
		a.log.Warn().
			Int("buffered", len(a.buf)).
			Int("max", a.max).
			Msg("frame buffer overflow, discarding")
		a.buf = a.buf[:0]
	}

	return frames
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (a *Accumulator) Pending() int { return len(a.buf) }

// Dropped returns how many times the buffer was discarded on overflow.
func (a *Accumulator) Dropped() uint64 { return a.drop }

// Encode frames an outgoing command: ASCII text plus the terminator.
func Encode(cmd string) []byte {
	out := make([]byte, 0, len(cmd)+len(Terminator))
	out = append(out, cmd...)
	return append(out, Terminator...)
}
