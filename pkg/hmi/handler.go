package hmi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/measure"
)

// CommandKind enumerates the closed incoming command grammar.
type CommandKind int

const (
	CmdSet CommandKind = iota
	CmdSave
	CmdReqTargets
	CmdReqOffsets
	CmdDump
)

// Command is one parsed incoming frame.
type Command struct {
	Kind        CommandKind
	Key         string  // CmdSet only
	ValueInches float64 // CmdSet only
}

// Parse errors. All of them are recoverable protocol conditions.
var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad command argument")
)

// ParseCommand parses a complete frame into a Command. Command tokens are
// uppercase and case-sensitive; anything outside the grammar is rejected.
func ParseCommand(frame []byte) (Command, error) {
	line := strings.TrimSpace(string(frame))
	if line == "" {
		return Command{}, ErrEmptyFrame
	}
	tokens := strings.Fields(line)

	switch tokens[0] {
	case "SET":
		if len(tokens) != 3 {
			return Command{}, fmt.Errorf("%w: SET wants a key and a value, got %q", ErrBadArgument, line)
		}
		value, err := strconv.ParseFloat(tokens[2], 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: non-numeric SET value %q", ErrBadArgument, tokens[2])
		}
		return Command{Kind: CmdSet, Key: strings.ToLower(tokens[1]), ValueInches: value}, nil
	case "SAVE":
		return Command{Kind: CmdSave}, nil
	case "REQ":
		if len(tokens) != 2 {
			return Command{}, fmt.Errorf("%w: REQ wants a subject, got %q", ErrBadArgument, line)
		}
		switch tokens[1] {
		case "TARGETS":
			return Command{Kind: CmdReqTargets}, nil
		case "OFFSETS":
			return Command{Kind: CmdReqOffsets}, nil
		}
		return Command{}, fmt.Errorf("%w: REQ %q", ErrUnknownCommand, tokens[1])
	case "DUMP":
		return Command{Kind: CmdDump}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, tokens[0])
}

// ResultSource yields the latest completed measurement, if any.
type ResultSource interface {
	LatestResult() (measure.Result, bool)
}

// Handler executes parsed commands against the shared configuration and
// formats outgoing frames. It is pure computation: all I/O belongs to the
// Link that feeds it.
type Handler struct {
	store  *config.Store
	latest ResultSource
	log    zerolog.Logger
}

// NewHandler creates a Handler. latest may be nil when no measurement
// source exists (DUMP then reports FAIL).
func NewHandler(store *config.Store, latest ResultSource, log zerolog.Logger) *Handler {
	return &Handler{store: store, latest: latest, log: log}
}

// Handle processes one complete frame and returns the outgoing command
// strings it produced, in emission order, without terminators. Malformed
// or unknown input is logged and ignored; Handle never fails.
func (h *Handler) Handle(frame []byte) []string {
	if len(frame) == 0 {
		return nil
	}
	lead := frame[0]
	if lead == 0x70 {
		// Nextion text reply to an earlier query.
		text := string(frame[1:])
		if i := strings.IndexByte(text, 0); i >= 0 {
			text = text[:i]
		}
		h.log.Info().Str("text", text).Msg("display text reply")
		return nil
	}
	if lead < 0x20 || lead > 0x7E {
		h.log.Debug().Uint8("lead", lead).Msg("ignoring binary display frame")
		return nil
	}

	cmd, err := ParseCommand(frame)
	if err != nil {
		h.log.Warn().Err(err).Str("frame", string(frame)).Msg("rejected command frame")
		return nil
	}

	switch cmd.Kind {
	case CmdSet:
		if err := h.store.ApplySet(cmd.Key, cmd.ValueInches); err != nil {
			h.log.Warn().Err(err).Str("key", cmd.Key).Msg("SET rejected")
		}
		return nil
	case CmdSave:
		if err := h.store.Save(); err != nil {
			h.log.Error().Err(err).Msg("SAVE failed")
		} else {
			h.log.Info().Msg("configuration saved via display")
		}
		return nil
	case CmdReqTargets:
		return TargetFrames(h.store.Snapshot().Targets)
	case CmdReqOffsets:
		return OffsetFrames(h.store.Snapshot().OffsetsMM)
	case CmdDump:
		return h.dump()
	}
	return nil
}

// dump emits the full station state: targets, offsets, live values, then
// the overall status. The order is fixed; the display indexes into it.
func (h *Handler) dump() []string {
	cfg := h.store.Snapshot()
	out := TargetFrames(cfg.Targets)
	out = append(out, OffsetFrames(cfg.OffsetsMM)...)

	var res measure.Result
	ok := false
	if h.latest != nil {
		res, ok = h.latest.LatestResult()
	}
	if !ok {
		res = measure.Result{
			D1: math.NaN(), D2: math.NaN(), DDelta: math.NaN(),
			End1Rng: math.NaN(), End2Rng: math.NaN(), Length: math.NaN(),
		}
	}
	out = append(out, ValueFrames(res)...)
	out = append(out, StatusFrame(res.Overall && ok))
	return out
}

// FormatInches renders a millimeter value as inches with 3 decimals, the
// precision the display fields are sized for. Non-finite values render
// as "-".
func FormatInches(valueMM float64) string {
	if math.IsNaN(valueMM) || math.IsInf(valueMM, 0) {
		return "-"
	}
	return strconv.FormatFloat(config.MMToInches(valueMM), 'f', 3, 64)
}

func textFrame(field string, valueMM float64) string {
	return fmt.Sprintf("%s.txt=\"%s\"", field, FormatInches(valueMM))
}

// TargetFrames renders the nine target fields in their fixed order.
func TargetFrames(t config.Targets) []string {
	return []string{
		textFrame("tD1Target", t.D1Target),
		textFrame("tD1Tol", t.D1Tol),
		textFrame("tD2Target", t.D2Target),
		textFrame("tD2Tol", t.D2Tol),
		textFrame("tLenTarget", t.LenTarget),
		textFrame("tLenTol", t.LenTol),
		textFrame("tDeltaMax", t.DDeltaMax),
		textFrame("tEnd1Max", t.End1Max),
		textFrame("tEnd2Max", t.End2Max),
	}
}

// OffsetFrames renders the eight channel offsets in channel order.
func OffsetFrames(offsetsMM []float64) []string {
	out := make([]string, 0, len(offsetsMM))
	for i, v := range offsetsMM {
		out = append(out, textFrame(fmt.Sprintf("tOff%d", i), v))
	}
	return out
}

// ValueFrames renders the six live measurement fields.
func ValueFrames(r measure.Result) []string {
	return []string{
		textFrame("tD1", r.D1),
		textFrame("tD2", r.D2),
		textFrame("tDelta", r.DDelta),
		textFrame("tEnd1", r.End1Rng),
		textFrame("tEnd2", r.End2Rng),
		textFrame("tLen", r.Length),
	}
}

// StatusFrame renders the overall verdict field.
func StatusFrame(pass bool) string {
	if pass {
		return `tStatus.txt="PASS"`
	}
	return `tStatus.txt="FAIL"`
}
