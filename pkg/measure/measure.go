// Package measure derives the station's part metrics from decoded
// channel values and evaluates them against the configured criteria.
package measure

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/convert"
)

// ConstantLengthMM is the fixed reference length of the measurement rig.
const ConstantLengthMM = 1165.0

// Check names, also the keys of Result.Checks.
const (
	CheckD1      = "d1"
	CheckD2      = "d2"
	CheckDDelta  = "dDelta"
	CheckEnd1Rng = "end1_rng"
	CheckEnd2Rng = "end2_rng"
	CheckLength  = "length"
)

// LengthFunc derives the part length from the two end probe readings.
// The station carries exactly one such formula, but it is kept swappable
// because its coefficients come from legacy firmware that could not be
// fully verified.
type LengthFunc func(end1, end2 float64) float64

// LegacyLength is the formula the station has always shipped with:
// reference length minus the sum of the two end probe readings.
func LegacyLength(end1, end2 float64) float64 {
	if !isFinite(end1) || !isFinite(end2) {
		return math.NaN()
	}
	return ConstantLengthMM - (end1 + end2)
}

// Sample holds the decoded channel values for one sampling cycle.
// Values are millimeters with the per-channel station offset applied.
// Absent readings (no part in front of the sensor) are NaN.
type Sample struct {
	RawHex  [config.NumChannels]string
	Raw     [config.NumChannels]float64
	MM      [config.NumChannels]float64
	Present [config.NumChannels]bool
}

// Result is the immutable outcome of one sampling cycle.
type Result struct {
	D1      float64
	D2      float64
	DDelta  float64
	End1Rng float64
	End2Rng float64
	Length  float64

	ValuesMM [config.NumChannels]float64

	Checks  map[string]bool
	Overall bool
}

// MarshalJSON renders non-finite values as null; absent readings and the
// derived metrics they poison show up as missing on the dashboard instead
// of breaking the encoder.
func (r Result) MarshalJSON() ([]byte, error) {
	values := make([]*float64, len(r.ValuesMM))
	for i, v := range r.ValuesMM {
		values[i] = nullable(v)
	}
	return json.Marshal(struct {
		D1       *float64        `json:"d1"`
		D2       *float64        `json:"d2"`
		DDelta   *float64        `json:"dDelta"`
		End1Rng  *float64        `json:"end1_rng"`
		End2Rng  *float64        `json:"end2_rng"`
		Length   *float64        `json:"length"`
		ValuesMM []*float64      `json:"values_mm"`
		Checks   map[string]bool `json:"checks"`
		Overall  bool            `json:"overall_pass"`
	}{
		D1:       nullable(r.D1),
		D2:       nullable(r.D2),
		DDelta:   nullable(r.DDelta),
		End1Rng:  nullable(r.End1Rng),
		End2Rng:  nullable(r.End2Rng),
		Length:   nullable(r.Length),
		ValuesMM: values,
		Checks:   r.Checks,
		Overall:  r.Overall,
	})
}

func nullable(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}

// ChannelError identifies which channel made a cycle fail and why.
type ChannelError struct {
	Channel int // zero-based channel index
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Evaluator turns raw registers into a Result. The zero value is not
// usable; construct with NewEvaluator.
type Evaluator struct {
	length LengthFunc
}

// NewEvaluator returns an Evaluator using the legacy length formula.
func NewEvaluator() *Evaluator {
	return &Evaluator{length: LegacyLength}
}

// NewEvaluatorWithLength returns an Evaluator with a replacement length
// formula.
func NewEvaluatorWithLength(fn LengthFunc) *Evaluator {
	return &Evaluator{length: fn}
}

// DecodeSample decodes all channels of one cycle and applies the station
// offsets. The first channel that fails to decode aborts the cycle with a
// ChannelError; no value is ever fabricated for a broken channel.
func DecodeSample(rawHex [config.NumChannels]string, channels []convert.ChannelConfig, offsetsMM []float64) (Sample, error) {
	var s Sample
	s.RawHex = rawHex
	for i := 0; i < config.NumChannels; i++ {
		v, err := convert.Convert(rawHex[i], channels[i])
		if err != nil {
			return Sample{}, &ChannelError{Channel: i, Err: err}
		}
		s.Raw[i] = v.Raw
		s.Present[i] = v.Present
		if v.Present {
			s.MM[i] = v.MM + offsetsMM[i]
		} else {
			s.MM[i] = math.NaN()
		}
	}
	return s, nil
}

// Evaluate runs one full cycle: decode, derive metrics, check against the
// targets. Identical inputs always yield an identical Result.
func (e *Evaluator) Evaluate(rawHex [config.NumChannels]string, channels []convert.ChannelConfig, targets config.Targets, offsetsMM []float64) (Result, error) {
	sample, err := DecodeSample(rawHex, channels, offsetsMM)
	if err != nil {
		return Result{}, err
	}
	return e.EvaluateSample(sample, targets), nil
}

// EvaluateSample derives the metrics and checks for an already decoded
// sample.
func (e *Evaluator) EvaluateSample(sample Sample, targets config.Targets) Result {
	v := sample.MM

	d1 := v[0]
	d2 := v[1]
	dDelta := math.NaN()
	if isFinite(d1) && isFinite(d2) {
		dDelta = d1 - d2
	}
	end1 := rangeOfThree(v[2], v[3], v[4])
	end2 := rangeOfThree(v[5], v[6], v[7])
	length := e.length(v[2], v[5])

	checks := map[string]bool{
		CheckD1:      withinTol(d1, targets.D1Target, targets.D1Tol),
		CheckD2:      withinTol(d2, targets.D2Target, targets.D2Tol),
		CheckDDelta:  withinMaxAbs(dDelta, targets.DDeltaMax),
		CheckEnd1Rng: withinMax(end1, targets.End1Max),
		CheckEnd2Rng: withinMax(end2, targets.End2Max),
		CheckLength:  withinTol(length, targets.LenTarget, targets.LenTol),
	}
	overall := true
	for _, ok := range checks {
		overall = overall && ok
	}

	return Result{
		D1:       d1,
		D2:       d2,
		DDelta:   dDelta,
		End1Rng:  end1,
		End2Rng:  end2,
		Length:   length,
		ValuesMM: v,
		Checks:   checks,
		Overall:  overall,
	}
}

// withinTol reports value within target±tol, bounds inclusive. Anything
// non-finite fails.
func withinTol(value, target, tol float64) bool {
	return isFinite(value) && isFinite(target) && isFinite(tol) && math.Abs(value-target) <= tol
}

func withinMaxAbs(value, max float64) bool {
	return isFinite(value) && isFinite(max) && math.Abs(value) <= max
}

func withinMax(value, max float64) bool {
	return isFinite(value) && isFinite(max) && value <= max
}

// rangeOfThree is the spread of the three probes on one tube end.
func rangeOfThree(a, b, c float64) float64 {
	if !isFinite(a) || !isFinite(b) || !isFinite(c) {
		return math.NaN()
	}
	return math.Max(a, math.Max(b, c)) - math.Min(a, math.Min(b, c))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
