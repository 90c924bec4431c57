// Package recovery sizes stakes and enforces the hard loss limits of a
// trading session. Stake progression follows a bounded Fibonacci recovery
// ladder (or a flat / anti-martingale mode), and two independent guards can
// trip a persistent breach: the absolute balance guard and the session loss
// limit. A tripped breach survives restarts and only clears explicitly.
package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/state"
)

// Mode selects the stake progression strategy.
type Mode string

const (
	ModeFibonacci      Mode = "fibonacci"
	ModeAntiMartingale Mode = "anti_martingale"
	ModeFixed          Mode = "fixed"
)

// RiskLevel bounds how deep the recovery ladder may go and how much of the
// balance a single stake may consume.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

type riskProfile struct {
	maxLevel    int
	maxStakePct float64
}

var riskProfiles = map[RiskLevel]riskProfile{
	RiskLow:      {maxLevel: 3, maxStakePct: 0.05},
	RiskMedium:   {maxLevel: 5, maxStakePct: 0.10},
	RiskHigh:     {maxLevel: 6, maxStakePct: 0.15},
	RiskVeryHigh: {maxLevel: 7, maxStakePct: 0.20},
}

// fibLadder holds the stake multipliers per recovery level.
var fibLadder = []float64{1, 1, 2, 3, 5, 8, 13, 21}

const (
	defaultMinStake       = 0.35
	defaultSessionLossPct = 0.20
	defaultPauseAfter     = 3
	defaultPauseCooldown  = time.Minute
	defaultWinRateFloor   = 0.40
	winRateSampleMin      = 10
	balanceGuardPct       = 0.10
	antiMartingaleStep    = 0.5
	antiMartingaleMaxWins = 3
)

var warnThresholds = []float64{0.50, 0.75, 0.90}

// Config parameterizes an Engine. BaseStake is required; everything else has
// a working default.
type Config struct {
	BaseStake      float64
	Risk           RiskLevel
	Mode           Mode
	Strategy       string
	MaxStake       float64 // strategy ceiling, 0 disables
	MinStake       float64
	SessionLossPct float64
	PauseAfter     int
	PauseCooldown  time.Duration
	WinRateFloor   float64

	// Store persists breach records across restarts; nil keeps them in memory
	// only.
	Store *state.Store
}

func (c *Config) fill() error {
	if c.BaseStake <= 0 {
		return errors.Errorf("base stake must be positive, got %v", c.BaseStake)
	}
	if _, ok := riskProfiles[c.Risk]; !ok {
		c.Risk = RiskMedium
	}
	switch c.Mode {
	case ModeFibonacci, ModeAntiMartingale, ModeFixed:
	default:
		c.Mode = ModeFibonacci
	}
	if c.MinStake <= 0 {
		c.MinStake = defaultMinStake
	}
	if c.SessionLossPct <= 0 || c.SessionLossPct >= 1 {
		c.SessionLossPct = defaultSessionLossPct
	}
	if c.PauseAfter <= 0 {
		c.PauseAfter = defaultPauseAfter
	}
	if c.PauseCooldown <= 0 {
		c.PauseCooldown = defaultPauseCooldown
	}
	if c.WinRateFloor <= 0 || c.WinRateFloor >= 1 {
		c.WinRateFloor = defaultWinRateFloor
	}
	return nil
}

// Engine tracks one session's recovery ladder, balances and guard state. All
// methods are safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	mode Mode

	starting float64
	balance  float64
	peak     float64
	lowest   float64

	deficit float64
	level   int

	trades      int
	wins        int
	losses      int
	totalProfit float64

	consecutiveWins   int
	consecutiveLosses int

	breached     bool
	breachReason string

	paused      bool
	pausedUntil time.Time

	warnedPct float64

	onWarning func(pct, loss, limit float64)
	now       func() time.Time
}

// New builds an Engine and restores a persisted breach, if any.
func New(cfg Config) (*Engine, error) {
	if err := cfg.fill(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:  cfg,
		mode: cfg.Mode,
		now:  time.Now,
	}
	if cfg.Store != nil {
		rec, err := cfg.Store.LoadBreach()
		if err != nil {
			return nil, errors.Wrap(err, "load breach record")
		}
		if rec.Triggered {
			e.breached = true
			e.breachReason = rec.Reason
			logs.Warnf("restored persisted breach: %s", rec.Reason)
		}
	}
	return e, nil
}

// SetWarningFunc installs a callback fired when session loss crosses a
// warning threshold. Must be called before trading starts.
func (e *Engine) SetWarningFunc(f func(pct, loss, limit float64)) {
	e.mu.Lock()
	e.onWarning = f
	e.mu.Unlock()
}

// StartSession resets the ladder and counters against a fresh starting
// balance. A persisted breach is deliberately not reset here.
func (e *Engine) StartSession(balance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.starting = balance
	e.balance = balance
	e.peak = balance
	e.lowest = balance
	e.deficit = 0
	e.level = 0
	e.trades = 0
	e.wins = 0
	e.losses = 0
	e.totalProfit = 0
	e.consecutiveWins = 0
	e.consecutiveLosses = 0
	e.paused = false
	e.warnedPct = 0
	e.mode = e.cfg.Mode
}

// UpdateBalance feeds the authoritative account balance and re-evaluates the
// guards against it.
func (e *Engine) UpdateBalance(balance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance = balance
	if balance > e.peak {
		e.peak = balance
	}
	if balance < e.lowest {
		e.lowest = balance
	}
	e.checkGuardsLocked()
}

// NextStake returns the stake for the next order, or 0 when trading must not
// proceed (breach, pause, or balance too small to fund the minimum stake).
func (e *Engine) NextStake() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.breached || e.pausedLocked() {
		return 0
	}
	if e.balance < e.cfg.MinStake {
		return 0
	}

	var stake float64
	switch e.mode {
	case ModeFixed:
		stake = e.cfg.BaseStake
	case ModeAntiMartingale:
		wins := e.consecutiveWins
		if wins > antiMartingaleMaxWins {
			wins = antiMartingaleMaxWins
		}
		stake = e.cfg.BaseStake * (1 + antiMartingaleStep*float64(wins))
	default:
		stake = e.cfg.BaseStake * fibLadder[e.ladderIndexLocked()]
	}

	// Below the win-rate floor the ladder is not trusted; fall back to base.
	if e.trades >= winRateSampleMin {
		if winRate := float64(e.wins) / float64(e.trades); winRate < e.cfg.WinRateFloor && stake > e.cfg.BaseStake {
			stake = e.cfg.BaseStake
		}
	}

	profile := riskProfiles[e.cfg.Risk]
	if ceiling := e.balance * profile.maxStakePct; stake > ceiling {
		stake = ceiling
	}
	if e.cfg.MaxStake > 0 && stake > e.cfg.MaxStake {
		stake = e.cfg.MaxStake
	}
	if stake < e.cfg.MinStake {
		stake = e.cfg.MinStake
	}
	return stake
}

func (e *Engine) ladderIndexLocked() int {
	idx := e.level
	if last := len(fibLadder) - 1; idx > last {
		idx = last
	}
	return idx
}

// RecordOutcome settles one trade against the ladder: wins shrink the deficit
// and step the ladder down (full reset only at zero deficit), losses grow it
// and step the ladder up, abandoning recovery when the risk bound is passed.
func (e *Engine) RecordOutcome(stake, profit float64, win bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trades++
	e.totalProfit += profit
	e.balance += profit
	if e.balance > e.peak {
		e.peak = e.balance
	}
	if e.balance < e.lowest {
		e.lowest = e.balance
	}

	if win {
		e.wins++
		e.consecutiveWins++
		e.consecutiveLosses = 0

		e.deficit -= profit
		if e.deficit <= 0 {
			e.deficit = 0
			e.level = 0
		} else if e.level > 0 {
			e.level--
		}
	} else {
		e.losses++
		e.consecutiveLosses++
		e.consecutiveWins = 0

		// A contract sold early loses less than the stake; track the realized
		// loss so the ladder does not over-escalate.
		if loss := -profit; loss > 0 {
			e.deficit += loss
		}

		if e.mode == ModeFibonacci {
			e.level++
			if e.level > riskProfiles[e.cfg.Risk].maxLevel {
				logs.Warnf("recovery level %d exceeds %s bound, abandoning deficit %.2f",
					e.level, e.cfg.Risk, e.deficit)
				e.level = 0
				e.deficit = 0
			}
		}

		if e.consecutiveLosses >= e.cfg.PauseAfter && !e.paused {
			e.paused = true
			e.pausedUntil = e.now().Add(e.cfg.PauseCooldown)
			logs.Warnf("pausing after %d consecutive losses until %s",
				e.consecutiveLosses, e.pausedUntil.Format(time.RFC3339))
		}
	}

	e.checkGuardsLocked()
}

// checkGuardsLocked trips the breach when the balance falls to the absolute
// guard or session loss reaches the limit, and emits loss warnings on the way
// down.
func (e *Engine) checkGuardsLocked() {
	if e.breached || e.starting <= 0 {
		return
	}

	if e.balance <= e.starting*balanceGuardPct {
		e.tripLocked(fmt.Sprintf("balance %.2f at or below %.0f%% of starting %.2f",
			e.balance, balanceGuardPct*100, e.starting))
		return
	}

	loss := e.starting - e.balance
	if loss <= 0 {
		return
	}
	limit := e.starting * e.cfg.SessionLossPct
	if loss >= limit {
		e.tripLocked(fmt.Sprintf("session loss %.2f reached limit %.2f (%.0f%% of starting %.2f)",
			loss, limit, e.cfg.SessionLossPct*100, e.starting))
		return
	}

	for _, pct := range warnThresholds {
		if loss >= limit*pct && e.warnedPct < pct {
			e.warnedPct = pct
			logs.Warnf("session loss %.2f crossed %.0f%% of limit %.2f", loss, pct*100, limit)
			if e.onWarning != nil {
				e.onWarning(pct, loss, limit)
			}
		}
	}
}

func (e *Engine) tripLocked(reason string) {
	e.breached = true
	e.breachReason = reason
	logs.Errorf("risk breach: %s", reason)

	if e.cfg.Store == nil {
		return
	}
	rec := state.BreachRecord{
		Triggered: true,
		Reason:    reason,
		Timestamp: e.now().Unix(),
		Balance:   e.balance,
		Strategy:  e.cfg.Strategy,
	}
	if err := e.cfg.Store.SaveBreach(rec); err != nil {
		logs.Errorf("persist breach record: %v", err)
	}
}

// MinStake returns the broker minimum stake the engine enforces.
func (e *Engine) MinStake() float64 { return e.cfg.MinStake }

// Halted reports whether the breach guard is tripped and why.
func (e *Engine) Halted() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breached, e.breachReason
}

// ClearBreach resets the breach guard in memory and on disk. This is an
// operator action, never automatic.
func (e *Engine) ClearBreach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.breached = false
	e.breachReason = ""
	if e.cfg.Store != nil {
		if err := e.cfg.Store.ClearBreach(); err != nil {
			return errors.Wrap(err, "clear breach record")
		}
	}
	return nil
}

// Paused reports whether trading is paused by the consecutive-loss guard and
// when it resumes. Expiry of the cooldown resumes automatically and downgrades
// Fibonacci recovery to anti-martingale.
func (e *Engine) Paused() (bool, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pausedLocked(), e.pausedUntil
}

func (e *Engine) pausedLocked() bool {
	if !e.paused {
		return false
	}
	if e.now().Before(e.pausedUntil) {
		return true
	}
	e.paused = false
	e.consecutiveLosses = 0
	if e.mode == ModeFibonacci {
		e.mode = ModeAntiMartingale
		e.level = 0
		e.deficit = 0
		logs.Warnf("cooldown elapsed, downgrading %s to %s", ModeFibonacci, ModeAntiMartingale)
	}
	return false
}

// PreviewLevel is one row of a stake preview.
type PreviewLevel struct {
	Level      int
	Stake      float64
	Cumulative float64
}

// StakePreview lists the stakes of the next n recovery levels from the
// current position, with cumulative exposure.
func (e *Engine) StakePreview(n int) []PreviewLevel {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PreviewLevel, 0, n)
	cum := 0.0
	maxLevel := riskProfiles[e.cfg.Risk].maxLevel
	for i := 0; i < n; i++ {
		level := e.level + i
		if level > maxLevel {
			break
		}
		idx := level
		if last := len(fibLadder) - 1; idx > last {
			idx = last
		}
		stake := e.cfg.BaseStake * fibLadder[idx]
		cum += stake
		out = append(out, PreviewLevel{Level: level, Stake: stake, Cumulative: cum})
	}
	return out
}

// Summary is a point-in-time view of the engine's ledger.
type Summary struct {
	Mode              Mode
	Starting          float64
	Balance           float64
	Peak              float64
	Lowest            float64
	Deficit           float64
	Level             int
	Trades            int
	Wins              int
	Losses            int
	WinRate           float64
	TotalProfit       float64
	ConsecutiveLosses int
}

// Summary snapshots the ledger.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		Mode:              e.mode,
		Starting:          e.starting,
		Balance:           e.balance,
		Peak:              e.peak,
		Lowest:            e.lowest,
		Deficit:           e.deficit,
		Level:             e.level,
		Trades:            e.trades,
		Wins:              e.wins,
		Losses:            e.losses,
		TotalProfit:       e.totalProfit,
		ConsecutiveLosses: e.consecutiveLosses,
	}
	if e.trades > 0 {
		s.WinRate = float64(e.wins) / float64(e.trades)
	}
	return s
}
