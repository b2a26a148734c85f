package mcudevice

import (
	"fmt"
	"sync"
)

// Pin modes accepted by SET_PIN_MODE (spec.md §4.5's payload table).
const (
	PinModeInput       uint8 = 0
	PinModeOutput      uint8 = 1
	PinModeInputPullup uint8 = 2
)

type pinState struct {
	mode  uint8
	value uint8
}

// GPIO implements dispatcher.GPIO as an in-memory simulated pin bank.
// The retrieval pack carries no GPIO driver library (the teacher's
// domain is a BLE peripheral bridge with no direct pin control); a real
// deployment swaps this for a periph.io/x/conn-backed implementation
// behind the same interface without touching pkg/dispatcher.
type GPIO struct {
	mu   sync.Mutex
	pins map[uint8]*pinState
}

// NewGPIO returns a GPIO bank with every pin starting in high-impedance
// input mode, matching the fail-safe default spec.md §4.4 requires after
// enter_safe_state.
func NewGPIO() *GPIO {
	return &GPIO{pins: make(map[uint8]*pinState)}
}

func (g *GPIO) pin(n uint8) *pinState {
	p, ok := g.pins[n]
	if !ok {
		p = &pinState{mode: PinModeInput}
		g.pins[n] = p
	}
	return p
}

// SetPinMode implements dispatcher.GPIO.
func (g *GPIO) SetPinMode(pin, mode uint8) error {
	if mode != PinModeInput && mode != PinModeOutput && mode != PinModeInputPullup {
		return fmt.Errorf("mcudevice: unknown pin mode %d", mode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pin(pin).mode = mode
	return nil
}

// DigitalWrite implements dispatcher.GPIO. Writing a pin not configured
// as output is accepted silently: the reference implementation doesn't
// check the pin mode on writes and logs nothing.
func (g *GPIO) DigitalWrite(pin, value uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pin(pin)
	if value != 0 {
		p.value = 1
	} else {
		p.value = 0
	}
	return nil
}

// AnalogWrite implements dispatcher.GPIO, storing the raw duty value.
func (g *GPIO) AnalogWrite(pin, value uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pin(pin).value = value
	return nil
}

// DigitalRead implements dispatcher.GPIO.
func (g *GPIO) DigitalRead(pin uint8) (uint8, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pin(pin).value, nil
}

// AnalogRead implements dispatcher.GPIO, scaling the stored 8-bit value
// into the high byte of the 16-bit response field spec.md §4.5 declares
// for ANALOG_READ_RESP (value << 8).
func (g *GPIO) AnalogRead(pin uint8) (uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint16(g.pin(pin).value) << 8, nil
}

// ResetAllToInput implements dispatcher.GPIO's enter_safe_state hook
// (spec.md §4.4 "Safe state"): every configured pin reverts to
// high-impedance input and its last-driven value is cleared.
func (g *GPIO) ResetAllToInput() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pins {
		p.mode = PinModeInput
		p.value = 0
	}
}
