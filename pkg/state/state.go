// Package state holds the live station state shared between the sampling
// loop, the display link and the status API.
package state

import (
	"sync"
	"time"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/measure"
)

// PortStatus tracks the health of one hub port.
type PortStatus struct {
	Port       int       `json:"port"`
	LastCall   time.Time `json:"last_call"`
	LastOK     time.Time `json:"last_ok"`
	LastError  string    `json:"last_error,omitempty"`
	LastRawHex string    `json:"last_raw_hex,omitempty"`
	ErrorCount int       `json:"error_count"`
}

// Snapshot is a consistent copy of the station state.
type Snapshot struct {
	Result    measure.Result                 `json:"result"`
	HasResult bool                           `json:"has_result"`
	LastCycle time.Time                      `json:"last_cycle"`
	LastGood  time.Time                      `json:"last_good"`
	Ports     [config.NumChannels]PortStatus `json:"ports"`
}

// Store keeps the last known-good measurement and per-port health. A
// failed cycle never clears the previous result; the boundary always
// presents the last good state.
type Store struct {
	mu        sync.RWMutex
	result    measure.Result
	hasResult bool
	lastCycle time.Time
	lastGood  time.Time
	ports     [config.NumChannels]PortStatus
}

// NewStore creates an empty state store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.ports {
		s.ports[i].Port = i + 1
	}
	return s
}

// RecordResult stores a completed cycle's result as the new known-good
// state.
func (s *Store) RecordResult(r measure.Result, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
	s.hasResult = true
	s.lastCycle = now
	s.lastGood = now
}

// RecordFailedCycle marks a cycle that produced no result. The previous
// result stays in place.
func (s *Store) RecordFailedCycle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycle = now
}

// RecordPortRead updates one port's health after a hub read attempt.
func (s *Store) RecordPortRead(port int, rawHex string, err error, now time.Time) {
	if port < 1 || port > config.NumChannels {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.ports[port-1]
	p.LastCall = now
	if err != nil {
		p.ErrorCount++
		p.LastError = err.Error()
		p.LastRawHex = ""
		return
	}
	p.LastOK = now
	p.LastError = ""
	p.LastRawHex = rawHex
}

// LatestResult returns the last known-good result.
func (s *Store) LatestResult() (measure.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.hasResult
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Result:    s.result,
		HasResult: s.hasResult,
		LastCycle: s.lastCycle,
		LastGood:  s.lastGood,
		Ports:     s.ports,
	}
}
