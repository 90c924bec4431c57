package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func quotes(qs ...float64) []schema.Tick {
	out := make([]schema.Tick, len(qs))
	for i, q := range qs {
		out[i] = schema.Tick{Symbol: "R_100", Quote: q, Epoch: int64(i)}
	}
	return out
}

func TestMomentumSourceUpStreak(t *testing.T) {
	src := MomentumSource{}
	h := quotes(100, 100.1, 100.2, 100.3)

	sig, ok := src.Evaluate(h[len(h)-1], h)
	require.True(t, ok)
	assert.Equal(t, "CALL", sig.ContractType)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
}

func TestMomentumSourceDownStreak(t *testing.T) {
	src := MomentumSource{}
	h := quotes(100.3, 100.2, 100.1, 100)

	sig, ok := src.Evaluate(h[len(h)-1], h)
	require.True(t, ok)
	assert.Equal(t, "PUT", sig.ContractType)
}

func TestMomentumSourceNoSignalOnChop(t *testing.T) {
	src := MomentumSource{}
	h := quotes(100, 100.1, 100, 100.1)

	_, ok := src.Evaluate(h[len(h)-1], h)
	assert.False(t, ok)
}

func TestMomentumSourceNeedsHistory(t *testing.T) {
	src := MomentumSource{}
	h := quotes(100, 100.1)

	_, ok := src.Evaluate(h[len(h)-1], h)
	assert.False(t, ok)
}

func TestMomentumSourceConfidenceCapped(t *testing.T) {
	src := MomentumSource{}
	h := quotes(100, 101, 102, 103, 104, 105, 106, 107)

	sig, ok := src.Evaluate(h[len(h)-1], h)
	require.True(t, ok)
	assert.Equal(t, 0.9, sig.Confidence)
}

func TestConfidenceFilterRejectsWeakSignals(t *testing.T) {
	f := DefaultConfidenceFilter()

	dec := f.Check(Signal{Confidence: 0.4}, MarketContext{})
	assert.False(t, dec.Accept)
	assert.NotEmpty(t, dec.Reasons)
}

func TestConfidenceFilterScalesStake(t *testing.T) {
	f := DefaultConfidenceFilter()

	strong := f.Check(Signal{Confidence: 0.9}, MarketContext{})
	require.True(t, strong.Accept)
	assert.Equal(t, 1.0, strong.StakeMultiplier)

	marginal := f.Check(Signal{Confidence: 0.6}, MarketContext{})
	require.True(t, marginal.Accept)
	assert.Equal(t, 0.5, marginal.StakeMultiplier)

	streak := f.Check(Signal{Confidence: 0.9}, MarketContext{ConsecutiveLosses: 2})
	require.True(t, streak.Accept)
	assert.Equal(t, 0.5, streak.StakeMultiplier)
}
