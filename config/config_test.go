package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPairConfig() PairConfig {
	p := PairConfig{
		Pass: LegConfig{MDC: "md1", OMC: "om1", SecID: 1001, Symbol: "PASS", PxStep: 0.0001},
		Aggr: LegConfig{MDC: "md2", OMC: "om2", SecID: 2001, Symbol: "AGGR", PxStep: 0.01},
		QuotedQty: 10,
	}
	applyPairDefaults(&p)
	return p
}

func TestPairDefaults(t *testing.T) {
	p := validPairConfig()
	assert.Equal(t, 10, p.Pass.Depth)
	assert.Equal(t, 1.0, p.Pass.LotSize)
	assert.Equal(t, 1.0, p.AggrQtyFact)
	assert.Equal(t, 0.05, p.EMACoeff)
	assert.Equal(t, 500, p.ReQuoteDelayMSec)
	assert.Equal(t, "DeepAggr", p.AggrMode)
	require.NoError(t, validatePair(&p))
}

func TestPairValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PairConfig)
	}{
		{"missing passive mdc", func(p *PairConfig) { p.Pass.MDC = "" }},
		{"missing aggressive omc", func(p *PairConfig) { p.Aggr.OMC = "" }},
		{"zero sec id", func(p *PairConfig) { p.Pass.SecID = 0 }},
		{"negative px step", func(p *PairConfig) { p.Aggr.PxStep = -0.01 }},
		{"zero quoted qty", func(p *PairConfig) { p.QuotedQty = 0 }},
		{"ema out of range", func(p *PairConfig) { p.EMACoeff = 1.5 }},
		{"unknown aggr mode", func(p *PairConfig) { p.AggrMode = "Limit" }},
		{"inverted dead zone", func(p *PairConfig) { p.DeadZoneLotsFrom = 5; p.DeadZoneLotsTo = 2 }},
		{"positive stop loss", func(p *PairConfig) { p.AggrStopLoss = 0.5 }},
		{"bad cutoff", func(p *PairConfig) { p.EnabledUntilMSK = "25:99" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPairConfig()
			tc.mutate(&p)
			assert.Error(t, validatePair(&p))
		})
	}
}

func TestParseEnabledUntil(t *testing.T) {
	// noon UTC is 15:00 in Moscow
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cutoff, err := ParseEnabledUntil("18:45", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 45, 0, 0, time.UTC), cutoff)
	assert.True(t, now.Before(cutoff))

	cutoff, err = ParseEnabledUntil("14:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC), cutoff)
	assert.True(t, cutoff.Before(now), "Cutoff earlier in the day already passed")
}

func TestParseEnabledUntilRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "7pm", "23:61", "24:00"} {
		_, err := ParseEnabledUntil(bad, time.Now())
		assert.Error(t, err, bad)
	}
}
