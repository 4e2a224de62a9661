package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionTracking(t *testing.T) {
	m := NewManager()
	m.Register(1001, 1000)
	require.NoError(t, m.Start())

	m.OnTrade(1001, true, 100.0, 3)
	m.OnTrade(1001, false, 100.5, 1)

	pos, err := m.Position(1001)
	require.NoError(t, err)
	assert.Equal(t, 2.0, pos)

	_, err = m.Position(9999)
	assert.Error(t, err, "Unregistered instrument")
}

func TestExposureBreachEntersSafeMode(t *testing.T) {
	m := NewManager()
	m.Register(1001, 500)
	require.NoError(t, m.Start())

	hooked := 0
	m.SetSafeHook(func() { hooked++ })

	m.OnTrade(1001, true, 100.0, 4)
	assert.Equal(t, ModeNormal, m.Mode(), "Exposure 400 within limit")
	assert.Zero(t, hooked)

	m.OnTrade(1001, true, 100.0, 2)
	assert.Equal(t, ModeSafe, m.Mode(), "Exposure 600 breaches 500")
	assert.Equal(t, 1, hooked)

	// further breaches do not re-fire the hook
	m.OnTrade(1001, true, 100.0, 2)
	assert.Equal(t, 1, hooked)
}

func TestShortExposureBreach(t *testing.T) {
	m := NewManager()
	m.Register(1001, 500)
	require.NoError(t, m.Start())

	m.OnTrade(1001, false, 100.0, 6)
	assert.Equal(t, ModeSafe, m.Mode(), "Exposure limit is two-sided")
}

func TestCustomValuator(t *testing.T) {
	m := NewManager()
	m.Register(1001, 500)
	require.NoError(t, m.InstallValuator(1001, func(pos, _ float64) float64 {
		// notional fixed at contract value 1000 regardless of price
		return pos * 1000
	}))
	require.NoError(t, m.Start())

	m.OnTrade(1001, true, 1.0, 1)
	assert.Equal(t, ModeSafe, m.Mode())
}

func TestEnterSafeModeIdempotent(t *testing.T) {
	m := NewManager()
	hooked := 0
	m.SetSafeHook(func() { hooked++ })

	m.EnterSafeMode("manual")
	m.EnterSafeMode("manual again")
	assert.Equal(t, ModeSafe, m.Mode())
	assert.Equal(t, 1, hooked)
}

func TestPositionsSnapshot(t *testing.T) {
	m := NewManager()
	m.Register(1, 0)
	m.Register(2, 0)
	require.NoError(t, m.Start())

	m.OnTrade(1, true, 10, 5)
	m.OnTrade(2, false, 10, 3)

	snap := m.Positions()
	assert.Equal(t, map[int]float64{1: 5, 2: -3}, snap)
}
