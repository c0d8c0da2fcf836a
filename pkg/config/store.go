package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownKey is returned by ApplySet for keys outside the HMI key table.
var ErrUnknownKey = errors.New("unknown setting key")

// Store owns the live configuration. Every mutation goes through the
// store's lock, so readers taking a Snapshot never observe a partially
// written configuration. Each mutation bumps the version counter; the
// sampling loop uses it to notice edits made by other activities.
type Store struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	version uint64
}

// NewStore loads the configuration at path, creating the file with
// defaults when it does not exist yet.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	}
	return &Store{path: path, cfg: cfg, version: 1}, nil
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a deep copy of the current configuration. The copy is
// safe to read for a whole sampling cycle while other activities mutate
// the store.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Replace swaps in a whole new configuration after validating it.
func (s *Store) Replace(cfg *Config) error {
	clone := cfg.Clone()
	clone.ensureDefaults()
	if err := Validate(clone); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = clone
	s.version++
	return nil
}

// Save persists the current configuration to disk. In-memory state is the
// source of truth; Save never mutates it.
func (s *Store) Save() error {
	s.mu.RLock()
	cfg := s.cfg.Clone()
	path := s.path
	s.mu.RUnlock()
	return cfg.Save(path)
}

// Reload re-reads the configuration file, replacing in-memory state.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.version++
	return nil
}

// UpdateTargetsMM applies a batch of target edits, values in millimeters.
// Unknown field names are rejected before anything is applied.
func (s *Store) UpdateTargetsMM(updates map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.cfg
	t := &next.Targets
	for name, value := range updates {
		switch name {
		case "d1_target":
			t.D1Target = value
		case "d1_tol":
			t.D1Tol = value
		case "d2_target":
			t.D2Target = value
		case "d2_tol":
			t.D2Tol = value
		case "len_target":
			t.LenTarget = value
		case "len_tol":
			t.LenTol = value
		case "ddelta_max":
			t.DDeltaMax = value
		case "end1_max":
			t.End1Max = value
		case "end2_max":
			t.End2Max = value
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKey, name)
		}
	}
	if err := validateTargets(t); err != nil {
		return err
	}
	s.cfg.Targets = next.Targets
	s.version++
	return nil
}

// UpdateOffsetsMM replaces the per-channel offsets, values in millimeters.
func (s *Store) UpdateOffsetsMM(offsets []float64) error {
	if len(offsets) != NumChannels {
		return invalidf("offsets must have %d entries, got %d", NumChannels, len(offsets))
	}
	for i, off := range offsets {
		if !isFinite(off) {
			return invalidf("offsets[%d] must be finite", i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.cfg.OffsetsMM, offsets)
	s.version++
	return nil
}

// ApplySet applies one HMI SET command. The key names come from the
// touchscreen firmware and are fixed; the value arrives in inches and is
// stored in millimeters. The previous value is retained on any rejection.
func (s *Store) ApplySet(key string, valueInches float64) error {
	valueMM := InchesToMM(valueInches)

	if strings.HasPrefix(key, "off") {
		idx, err := strconv.Atoi(key[len("off"):])
		if err != nil || idx < 0 || idx >= NumChannels {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if !isFinite(valueMM) {
			return invalidf("offset %q must be finite", key)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cfg.OffsetsMM[idx] = valueMM
		s.version++
		return nil
	}

	var field string
	switch key {
	case "d1t":
		field = "d1_target"
	case "d1tol":
		field = "d1_tol"
	case "d2t":
		field = "d2_target"
	case "d2tol":
		field = "d2_tol"
	case "lent":
		field = "len_target"
	case "lentol":
		field = "len_tol"
	case "ddelmax":
		field = "ddelta_max"
	case "e1max":
		field = "end1_max"
	case "e2max":
		field = "end2_max"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s.UpdateTargetsMM(map[string]float64{field: valueMM})
}
