package al1322

import (
	"context"
	"fmt"
	"sync"
)

// mockPatternUM is the micrometer reading each mock port reports. The
// pattern exercises the distinct channel roles: two diameter probes and
// two end triples.
var mockPatternUM = [8]int{0, 0, 0, 5, 10, 0, 5, 10}

// Mock simulates the hub for development without hardware. Readings
// follow a fixed pattern; ports can be forced to fail to exercise the
// engine's error paths.
type Mock struct {
	mu     sync.Mutex
	failed map[int]error
}

var _ Client = (*Mock)(nil)

// NewMock creates a mock hub with all ports healthy.
func NewMock() *Mock {
	return &Mock{failed: make(map[int]error)}
}

// FailPort makes subsequent reads of port return err; a nil err heals it.
func (m *Mock) FailPort(port int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failed, port)
		return
	}
	m.failed[port] = err
}

// ReadPort returns the canned hex payload for port.
func (m *Mock) ReadPort(_ context.Context, port int) (string, error) {
	if port < 1 || port > len(mockPatternUM) {
		return "", fmt.Errorf("port %d: out of range", port)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failed[port]; ok {
		return "", fmt.Errorf("port %d: %w", port, err)
	}
	return fmt.Sprintf("0x%08X", mockPatternUM[port-1]), nil
}
