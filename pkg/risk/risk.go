package risk

import (
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// Mode is the risk manager's circuit-breaker state
type Mode int

// Risk modes
const (
	// ModeNormal permits order submission
	ModeNormal Mode = iota
	// ModeSafe is the circuit-breaker state: no new orders, strategies
	// degrade to cancel-and-stop.
	ModeSafe
)

// String returns mode as string
func (m Mode) String() string {
	if m == ModeSafe {
		return "SAFE"
	}
	return "NORMAL"
}

// Errors
var (
	ErrNotRegistered  = errors.New("instrument not registered")
	ErrAlreadyStarted = errors.New("risk manager already started")
)

// Valuator converts one instrument's position into account-currency
// exposure.
type Valuator func(pos float64, lastPx float64) float64

// position is the authoritative per-instrument record
type position struct {
	qty      float64
	lastPx   float64
	valuator Valuator
	limit    float64 // absolute exposure limit, 0 = unlimited
}

// Manager is the process-wide position/limit engine. Strategies query
// Mode before every submission and report fills through OnTrade; it is
// mutated only during the single-threaded startup sequence and from the
// strategy thread afterwards, the mutex exists for external read-side
// observers (status tooling).
type Manager struct {
	mu        sync.RWMutex
	mode      Mode
	started   bool
	positions map[int]*position
	onSafe    func() // strategy stop hook, fired once on the Safe transition
}

// NewManager creates a risk manager in Normal mode
func NewManager() *Manager {
	return &Manager{positions: make(map[int]*position)}
}

// Register adds one instrument before Start
func (m *Manager) Register(secID int, exposureLimit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[secID]; !ok {
		m.positions[secID] = &position{limit: exposureLimit, lastPx: math.NaN()}
	}
}

// InstallValuator attaches the exposure valuator for one instrument
func (m *Manager) InstallValuator(secID int, v Valuator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[secID]
	if !ok {
		return ErrNotRegistered
	}
	pos.valuator = v
	return nil
}

// SetSafeHook installs the callback fired once when Safe mode engages
func (m *Manager) SetSafeHook(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSafe = hook
}

// Start arms limit enforcement. Invoked once all connectors are active.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	log.Info().Int("instruments", len(m.positions)).Msg("Risk manager started")
	return nil
}

// Mode returns the current circuit-breaker state
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// EnterSafeMode trips the circuit breaker. Idempotent.
func (m *Manager) EnterSafeMode(reason string) {
	m.mu.Lock()
	if m.mode == ModeSafe {
		m.mu.Unlock()
		return
	}
	m.mode = ModeSafe
	hook := m.onSafe
	m.mu.Unlock()

	log.Error().Str("reason", reason).Msg("Risk manager entered SAFE mode")
	if hook != nil {
		hook()
	}
}

// OnTrade records one fill. Limit breaches trip Safe mode.
func (m *Manager) OnTrade(secID int, isBuy bool, px, qty float64) {
	m.mu.Lock()
	pos, ok := m.positions[secID]
	if !ok {
		m.mu.Unlock()
		log.Warn().Int("sec_id", secID).Msg("Trade on unregistered instrument")
		return
	}
	if isBuy {
		pos.qty += qty
	} else {
		pos.qty -= qty
	}
	pos.lastPx = px

	breach := false
	var exposure float64
	if m.started && pos.limit > 0 {
		exposure = pos.qty * px
		if pos.valuator != nil {
			exposure = pos.valuator(pos.qty, px)
		}
		breach = math.Abs(exposure) > pos.limit
	}
	m.mu.Unlock()

	if breach {
		log.Error().
			Int("sec_id", secID).
			Float64("exposure", exposure).
			Float64("limit", pos.limit).
			Msg("Exposure limit breached")
		m.EnterSafeMode("exposure limit breached")
	}
}

// Position returns the authoritative position for one instrument
func (m *Manager) Position(secID int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[secID]
	if !ok {
		return 0, ErrNotRegistered
	}
	return pos.qty, nil
}

// Positions returns a copy of all positions, for status reporting
func (m *Manager) Positions() map[int]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]float64, len(m.positions))
	for secID, pos := range m.positions {
		out[secID] = pos.qty
	}
	return out
}
