package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/state"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.BaseStake == 0 {
		cfg.BaseStake = 1
	}
	if cfg.PauseAfter == 0 {
		cfg.PauseAfter = 100 // keep the pause guard out of ladder tests
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestConfigRequiresBaseStake(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestFibonacciLadderAbandonsAtRiskBound(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(1000)

	// Medium risk bounds the ladder at level 5: multipliers 1,1,2,3,5,8.
	for _, want := range []float64{1, 1, 2, 3, 5, 8} {
		stake := e.NextStake()
		assert.Equal(t, want, stake)
		e.RecordOutcome(stake, -stake, false)
	}

	// The sixth loss pushes past the bound: recovery is abandoned.
	assert.Equal(t, 1.0, e.NextStake())
	sum := e.Summary()
	assert.Zero(t, sum.Level)
	assert.Zero(t, sum.Deficit)
}

func TestPartialWinStepsDownFullRecoveryResets(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(1000)

	for i := 0; i < 3; i++ {
		stake := e.NextStake()
		e.RecordOutcome(stake, -stake, false)
	}
	require.Equal(t, 3, e.Summary().Level)
	require.Equal(t, 4.0, e.Summary().Deficit)

	// Small win leaves a deficit: one level down, not a reset.
	e.RecordOutcome(3, 1, true)
	assert.Equal(t, 3.0, e.Summary().Deficit)
	assert.Equal(t, 2, e.Summary().Level)
	assert.Equal(t, 2.0, e.NextStake())

	// Win that clears the deficit resets the ladder to base.
	e.RecordOutcome(2, 10, true)
	assert.Zero(t, e.Summary().Deficit)
	assert.Zero(t, e.Summary().Level)
	assert.Equal(t, 1.0, e.NextStake())
}

func TestEarlySellLossGrowsDeficitByRealizedLoss(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(1000)

	// Sold early at partial value: only the realized loss enters the deficit.
	e.RecordOutcome(1, -0.4, false)
	sum := e.Summary()
	assert.Equal(t, 0.4, sum.Deficit)
	assert.Equal(t, 1, sum.Level)

	// A full binary loss still books the whole stake.
	e.RecordOutcome(1, -1, false)
	assert.InDelta(t, 1.4, e.Summary().Deficit, 1e-9)
}

func TestSessionLossBreachPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store := state.NewStore(dir)

	e := newEngine(t, Config{Risk: RiskMedium, SessionLossPct: 0.20, Store: store})
	e.StartSession(100)

	e.RecordOutcome(20, -20, false)

	halted, reason := e.Halted()
	require.True(t, halted)
	assert.Contains(t, reason, "session loss")
	assert.Zero(t, e.NextStake())

	// Simulated restart: a fresh engine over the same store stays halted.
	e2 := newEngine(t, Config{Risk: RiskMedium, Store: store})
	halted, _ = e2.Halted()
	require.True(t, halted)
	e2.StartSession(80)
	assert.Zero(t, e2.NextStake())

	// Only an explicit clear lifts it.
	require.NoError(t, e2.ClearBreach())
	halted, _ = e2.Halted()
	assert.False(t, halted)

	e3 := newEngine(t, Config{Risk: RiskMedium, Store: store})
	halted, _ = e3.Halted()
	assert.False(t, halted)
}

func TestAbsoluteBalanceGuard(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(100)

	e.UpdateBalance(9)

	halted, reason := e.Halted()
	require.True(t, halted)
	assert.Contains(t, reason, "10%")
	assert.Zero(t, e.NextStake())
}

func TestLossWarningsFireOncePerThreshold(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium, SessionLossPct: 0.20})
	var warned []float64
	e.SetWarningFunc(func(pct, loss, limit float64) {
		warned = append(warned, pct)
		assert.Equal(t, 20.0, limit)
	})
	e.StartSession(100)

	e.UpdateBalance(89)   // loss 11, past 50% of the 20 limit
	e.UpdateBalance(84)   // loss 16, past 75%
	e.UpdateBalance(86)   // recovery, no re-warn
	e.UpdateBalance(81.5) // loss 18.5, past 90%

	assert.Equal(t, []float64{0.50, 0.75, 0.90}, warned)
	halted, _ := e.Halted()
	assert.False(t, halted)
}

func TestPauseAfterConsecutiveLossesThenDowngrade(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium, PauseAfter: 3, PauseCooldown: time.Minute})
	now := time.Now()
	e.now = func() time.Time { return now }
	e.StartSession(1000)

	for i := 0; i < 3; i++ {
		stake := e.NextStake()
		require.Positive(t, stake)
		e.RecordOutcome(stake, -stake, false)
	}

	paused, until := e.Paused()
	require.True(t, paused)
	assert.Equal(t, now.Add(time.Minute), until)
	assert.Zero(t, e.NextStake())

	// Cooldown expiry resumes trading in the downgraded mode.
	now = now.Add(time.Minute + time.Second)
	paused, _ = e.Paused()
	assert.False(t, paused)
	assert.Equal(t, ModeAntiMartingale, e.Summary().Mode)
	assert.Equal(t, 1.0, e.NextStake())
}

func TestAntiMartingaleProgression(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskVeryHigh, Mode: ModeAntiMartingale})
	e.StartSession(1000)

	assert.Equal(t, 1.0, e.NextStake())
	e.RecordOutcome(1, 0.9, true)
	assert.Equal(t, 1.5, e.NextStake())
	e.RecordOutcome(1.5, 1.3, true)
	assert.Equal(t, 2.0, e.NextStake())
	e.RecordOutcome(2, 1.8, true)
	assert.Equal(t, 2.5, e.NextStake())
	e.RecordOutcome(2.5, 2.2, true)
	assert.Equal(t, 2.5, e.NextStake()) // capped streak bonus

	e.RecordOutcome(2.5, -2.5, false)
	assert.Equal(t, 1.0, e.NextStake())
}

func TestWinRateFloorCapsStakeAtBase(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskVeryHigh})
	e.StartSession(1000)

	for i := 0; i < 3; i++ {
		e.RecordOutcome(1, 0.9, true)
	}
	for i := 0; i < 7; i++ {
		e.RecordOutcome(1, -1, false)
	}

	// Ten trades at 30% win rate: the ladder stake is not trusted.
	require.Equal(t, 7, e.Summary().Level)
	assert.Equal(t, 1.0, e.NextStake())
}

func TestZeroStakeWhenBalanceBelowMinimum(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(0.30)
	assert.Zero(t, e.NextStake())
}

func TestMinimumStakeFloor(t *testing.T) {
	e := newEngine(t, Config{BaseStake: 0.10, Risk: RiskMedium})
	e.StartSession(1000)
	assert.Equal(t, 0.35, e.NextStake())
}

func TestStakePreview(t *testing.T) {
	e := newEngine(t, Config{Risk: RiskMedium})
	e.StartSession(1000)

	preview := e.StakePreview(3)
	require.Len(t, preview, 3)
	assert.Equal(t, PreviewLevel{Level: 0, Stake: 1, Cumulative: 1}, preview[0])
	assert.Equal(t, PreviewLevel{Level: 1, Stake: 1, Cumulative: 2}, preview[1])
	assert.Equal(t, PreviewLevel{Level: 2, Stake: 2, Cumulative: 4}, preview[2])

	// Preview never runs past the risk bound.
	assert.Len(t, e.StakePreview(20), 6)
}
