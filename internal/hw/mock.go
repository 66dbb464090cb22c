package hw

import "sync"

// MockPWM is an in-memory PWMDriver. It backs the "mock" hardware driver for
// bench runs without a vehicle, and the drive loop tests.
type MockPWM struct {
	mu      sync.Mutex
	pulses  map[int][]uint16
	err     error
	closed  bool
	gate    chan struct{}
	blocked int
}

// NewMockPWM returns an empty mock controller.
func NewMockPWM() *MockPWM {
	return &MockPWM{pulses: make(map[int][]uint16)}
}

// FailWith makes every subsequent SetPulse return err.
func (m *MockPWM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// BlockWrites makes every subsequent SetPulse block until ReleaseWrites is
// called. Lets tests pin the drive loop mid-write.
func (m *MockPWM) BlockWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// ReleaseWrites unblocks all writers blocked by BlockWrites.
func (m *MockPWM) ReleaseWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// BlockedWriters returns how many SetPulse calls are currently waiting on
// the gate.
func (m *MockPWM) BlockedWriters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

// SetPulse records the pulse for the channel.
func (m *MockPWM) SetPulse(channel int, ticks uint16) error {
	m.mu.Lock()
	gate := m.gate
	if gate != nil {
		m.blocked++
	}
	m.mu.Unlock()

	if gate != nil {
		<-gate
		m.mu.Lock()
		m.blocked--
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pulses[channel] = append(m.pulses[channel], ticks)
	return nil
}

// Close marks the controller closed.
func (m *MockPWM) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Pulses returns every pulse written to the channel, in order.
func (m *MockPWM) Pulses(channel int) []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, len(m.pulses[channel]))
	copy(out, m.pulses[channel])
	return out
}

// LastPulse returns the most recent pulse on the channel and whether any
// pulse was written at all.
func (m *MockPWM) LastPulse(channel int) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pulses[channel]
	if len(p) == 0 {
		return 0, false
	}
	return p[len(p)-1], true
}

// Closed reports whether Close was called.
func (m *MockPWM) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockSwitch is an in-memory Switch.
type MockSwitch struct {
	mu     sync.Mutex
	states []bool
	err    error
	closed bool
}

// NewMockSwitch returns a switch in the off state.
func NewMockSwitch() *MockSwitch {
	return &MockSwitch{}
}

// FailWith makes every subsequent Set return err.
func (m *MockSwitch) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Set records the new state.
func (m *MockSwitch) Set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.states = append(m.states, on)
	return nil
}

// Close marks the switch closed.
func (m *MockSwitch) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// On returns the current state.
func (m *MockSwitch) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return false
	}
	return m.states[len(m.states)-1]
}

// Transitions returns every state change written, in order.
func (m *MockSwitch) Transitions() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.states))
	copy(out, m.states)
	return out
}

// Closed reports whether Close was called.
func (m *MockSwitch) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
