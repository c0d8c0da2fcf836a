package hmi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/measure"
)

// Display 16-bit colors for the pass/fail indicators.
const (
	NXRed   = 63488
	NXGreen = 2016
)

const readChunkSize = 64

// Link owns the serial connection to the touchscreen. It feeds incoming
// bytes through the Accumulator into the Handler and serializes all
// outgoing writes, so replies to one command always hit the wire before
// the next frame is processed.
type Link struct {
	store   *config.Store
	handler *Handler
	log     zerolog.Logger

	mu   sync.Mutex // guards port writes and the port handle itself
	port serial.Port
}

// NewLink creates a Link. Call Run to start it.
func NewLink(store *config.Store, handler *Handler, log zerolog.Logger) *Link {
	return &Link{store: store, handler: handler, log: log}
}

// Run keeps the serial connection alive until ctx is canceled, reopening
// it after errors. Setting the configured port to "DISABLED" parks the
// link without stopping it.
func (l *Link) Run(ctx context.Context) {
	for ctx.Err() == nil {
		cfg := l.store.Snapshot()
		if strings.EqualFold(cfg.HMI.SerialPort, "DISABLED") {
			sleep(ctx, time.Second)
			continue
		}

		port, err := serial.Open(cfg.HMI.SerialPort, &serial.Mode{BaudRate: cfg.HMI.Baud})
		if err != nil {
			l.log.Error().Err(err).Str("port", cfg.HMI.SerialPort).Msg("display serial open failed")
			sleep(ctx, 2*time.Second)
			continue
		}
		if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
			l.log.Error().Err(err).Msg("display serial read timeout setup failed")
			port.Close()
			sleep(ctx, 2*time.Second)
			continue
		}

		l.setPort(port)
		l.log.Info().Str("port", cfg.HMI.SerialPort).Int("baud", cfg.HMI.Baud).Msg("display connected")
		l.sendInit()

		l.readLoop(ctx)

		l.setPort(nil)
		port.Close()
	}
}

func (l *Link) setPort(port serial.Port) {
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
}

// readLoop pumps bytes into the accumulator until the context ends or the
// port fails. Each completed frame is handled before the next one, and
// its replies are written out immediately.
func (l *Link) readLoop(ctx context.Context) {
	acc := NewAccumulator(DefaultMaxFrameSize, l.log)
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := l.read(buf)
		if err != nil {
			l.log.Error().Err(err).Msg("display serial read failed")
			return
		}
		if n == 0 {
			continue
		}

		for _, frame := range acc.Push(buf[:n]) {
			for _, out := range l.handler.Handle(frame) {
				l.Send(out)
			}
		}
	}
}

func (l *Link) read(buf []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return 0, fmt.Errorf("display port closed")
	}
	return port.Read(buf)
}

// Send writes one command frame to the display. Writes are serialized;
// a closed link drops the frame silently.
func (l *Link) Send(cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return
	}
	if _, err := l.port.Write(Encode(cmd)); err != nil {
		l.log.Error().Err(err).Str("cmd", cmd).Msg("display write failed")
	}
}

// sendInit puts the display into quiet-ack mode, switches it to the
// operator page and pushes the current configuration.
func (l *Link) sendInit() {
	l.Send("bkcmd=3")
	l.Send("page op")
	l.Send("sendme")

	cfg := l.store.Snapshot()
	l.SendTargets(cfg.Targets)
	l.SendOffsets(cfg.OffsetsMM)
}

// UpdateLive pushes one cycle's values and pass/fail colors to the
// operator page.
func (l *Link) UpdateLive(r measure.Result) {
	for _, frame := range ValueFrames(r) {
		l.Send(frame)
	}

	l.Send(colorFrame("tD1", r.Checks[measure.CheckD1]))
	l.Send(colorFrame("tD2", r.Checks[measure.CheckD2]))
	l.Send(colorFrame("tDelta", r.Checks[measure.CheckDDelta]))
	l.Send(colorFrame("tEnd1", r.Checks[measure.CheckEnd1Rng]))
	l.Send(colorFrame("tEnd2", r.Checks[measure.CheckEnd2Rng]))
	l.Send(colorFrame("tLen", r.Checks[measure.CheckLength]))

	l.Send(StatusFrame(r.Overall))
	l.Send(colorFrame("tStatus", r.Overall))
	if r.Overall {
		l.Send(fmt.Sprintf("op.bco=%d", NXGreen))
	} else {
		l.Send(fmt.Sprintf("op.bco=%d", NXRed))
	}
	l.Send("ref op")
}

// SendTargets pushes the target fields to the display.
func (l *Link) SendTargets(t config.Targets) {
	for _, frame := range TargetFrames(t) {
		l.Send(frame)
	}
}

// SendOffsets pushes the offset fields to the display.
func (l *Link) SendOffsets(offsetsMM []float64) {
	for _, frame := range OffsetFrames(offsetsMM) {
		l.Send(frame)
	}
}

func colorFrame(field string, pass bool) string {
	color := NXRed
	if pass {
		color = NXGreen
	}
	return fmt.Sprintf("%s.pco=%d", field, color)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
