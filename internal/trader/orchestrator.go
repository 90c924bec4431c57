// Package trader drives trading sessions: it consumes ticks, asks the signal
// source for intents, sizes stakes through the recovery engine, places
// orders, and reconciles settlements against the session guards.
package trader

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/client"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/recovery"
	"main/internal/schema"
	"main/internal/state"
)

var (
	ErrNotIdle  = errors.New("a session is already active")
	ErrBreached = errors.New("risk breach active, trading halted")
)

// Stop reasons surfaced in the session summary.
const (
	StopUser          = "stopped by user"
	StopTargetReached = "target trade count reached"
	StopTakeProfit    = "take profit reached"
	StopStopLoss      = "stop loss reached"
)

// Broker is the slice of the protocol client the orchestrator uses.
type Broker interface {
	Balance() (float64, string)
	SubscribeTicks(ctx context.Context, symbol string, cb client.TickCallback) error
	UnsubscribeTicks(ctx context.Context, symbol string) error
	Ticks(symbol string) []schema.Tick
	PlaceOrder(ctx context.Context, spec client.OrderSpec, cb client.ContractCallback) (*client.Contract, error)
}

// Config parameterizes one session.
type Config struct {
	Symbol       string
	Strategy     string
	TargetTrades int // 0 = unlimited
	Duration     int
	DurationUnit string
	TakeProfit   float64 // 0 disables
	StopLoss     float64 // 0 disables
	MinHistory   int
	DrainTimeout time.Duration
	OrderTimeout time.Duration
}

func (c *Config) fill() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.Duration <= 0 {
		c.Duration = 5
	}
	if c.DurationUnit == "" {
		c.DurationUnit = "t"
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 10
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = time.Minute
	}
	return nil
}

// Orchestrator runs at most one session at a time.
type Orchestrator struct {
	broker  Broker
	engine  *recovery.Engine
	source  SignalSource
	filter  EntryFilter
	store   *state.Store
	journal *journal.Journal

	mu        sync.Mutex
	st        State
	cfg       Config
	starting  float64
	trades    int
	wins      int
	losses    int
	profit    float64
	inFlight     *client.Contract
	lastStake    float64
	placing      bool
	earlySettled *client.Contract
	recovered    *state.Checkpoint
	drained      chan struct{}

	onTradeClosed func(TradeResult)
	onSessionDone func(Summary)
}

// New wires an orchestrator. filter may be nil to accept every signal;
// store may be nil to disable checkpointing.
func New(broker Broker, engine *recovery.Engine, source SignalSource, filter EntryFilter, store *state.Store) *Orchestrator {
	return &Orchestrator{
		broker: broker,
		engine: engine,
		source: source,
		filter: filter,
		store:  store,
	}
}

// SetJournal attaches the trade journal. Must be called before Start.
func (o *Orchestrator) SetJournal(j *journal.Journal) { o.journal = j }

// SetTradeClosedFunc installs the per-trade callback. Must be called before
// Start.
func (o *Orchestrator) SetTradeClosedFunc(f func(TradeResult)) { o.onTradeClosed = f }

// SetSessionDoneFunc installs the session summary callback. Must be called
// before Start.
func (o *Orchestrator) SetSessionDoneFunc(f func(Summary)) { o.onSessionDone = f }

// State reports the lifecycle state; a session whose stake engine is in the
// loss-pause cooldown shows as paused.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	st := o.st
	o.mu.Unlock()

	if st == StateRunning {
		if paused, _ := o.engine.Paused(); paused {
			return StatePaused
		}
	}
	return st
}

// Start begins a session. Only valid from Idle, and refused outright while a
// risk breach is active.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) error {
	if err := cfg.fill(); err != nil {
		return err
	}
	if halted, reason := o.engine.Halted(); halted {
		return errors.Wrap(ErrBreached, reason)
	}

	o.mu.Lock()
	if o.st != StateIdle {
		o.mu.Unlock()
		return ErrNotIdle
	}
	o.st = StateRunning
	o.cfg = cfg
	o.trades = 0
	o.wins = 0
	o.losses = 0
	o.profit = 0
	o.inFlight = nil
	o.lastStake = 0
	o.drained = make(chan struct{}, 1)

	balance, _ := o.broker.Balance()
	o.starting = balance
	o.engine.StartSession(balance)

	// A recovered checkpoint restores counters, never the in-flight order.
	if cp := o.recovered; cp != nil && cp.Symbol == cfg.Symbol {
		o.trades = cp.Trades
		o.wins = cp.Wins
		o.losses = cp.Losses
		o.profit = cp.Profit
		o.starting = cp.StartingBalance
		logs.Infof("resumed session at %d trades (%d won, %.2f profit)", cp.Trades, cp.Wins, cp.Profit)
	}
	o.recovered = nil
	o.mu.Unlock()

	if err := o.broker.SubscribeTicks(ctx, cfg.Symbol, o.onTick); err != nil {
		o.mu.Lock()
		o.st = StateIdle
		o.mu.Unlock()
		return errors.Wrap(err, "subscribe session symbol")
	}

	logs.Infof("session started: %s on %s, starting balance %.2f", cfg.Strategy, cfg.Symbol, balance)
	return nil
}

// onTick runs on the client's tick dispatch goroutine. Order placement is
// synchronous here; ticks arriving meanwhile are dropped by the bounded
// delivery queue, which is the intended shedding behavior.
func (o *Orchestrator) onTick(t schema.Tick) {
	o.mu.Lock()
	if o.st != StateRunning || o.inFlight != nil {
		o.mu.Unlock()
		return
	}
	cfg := o.cfg
	wins := o.wins
	trades := o.trades
	o.mu.Unlock()

	history := o.broker.Ticks(cfg.Symbol)
	if len(history) < cfg.MinHistory {
		return
	}

	sig, ok := o.source.Evaluate(t, history)
	if !ok {
		return
	}

	mult := 1.0
	if o.filter != nil {
		mc := MarketContext{
			LastQuote:         t.Quote,
			TickCount:         len(history),
			ConsecutiveLosses: o.engine.Summary().ConsecutiveLosses,
		}
		if trades > 0 {
			mc.WinRate = float64(wins) / float64(trades)
		}
		dec := o.filter.Check(sig, mc)
		if !dec.Accept {
			logs.Debugf("signal vetoed: %v", dec.Reasons)
			return
		}
		if dec.StakeMultiplier > 0 {
			mult = dec.StakeMultiplier
		}
	}

	stake := o.engine.NextStake()
	if stake <= 0 {
		if halted, reason := o.engine.Halted(); halted {
			o.stop(reason)
		}
		return
	}
	stake = math.Floor(stake*mult*100) / 100
	if floor := o.engine.MinStake(); stake < floor {
		stake = floor
	}

	o.placeOrder(cfg, sig, stake)
}

func (o *Orchestrator) placeOrder(cfg Config, sig Signal, stake float64) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OrderTimeout)
	defer cancel()

	o.mu.Lock()
	o.placing = true
	o.earlySettled = nil
	o.mu.Unlock()

	contract, err := o.broker.PlaceOrder(ctx, client.OrderSpec{
		Symbol:       cfg.Symbol,
		ContractType: sig.ContractType,
		Stake:        stake,
		Duration:     cfg.Duration,
		DurationUnit: cfg.DurationUnit,
		Barrier:      sig.Barrier,
	}, o.onContractSettled)

	o.mu.Lock()
	o.placing = false
	if err != nil {
		o.earlySettled = nil
		o.mu.Unlock()
		// Placement failure aborts this cycle only; the session keeps running.
		logs.Errorf("order placement failed: %v", err)
		return
	}
	o.inFlight = contract
	o.lastStake = stake
	early := o.earlySettled
	o.earlySettled = nil
	o.mu.Unlock()
	logs.Infof("order placed: %s %s stake %.2f contract %d (%s)",
		sig.ContractType, cfg.Symbol, stake, contract.ID, sig.Reason)

	// A fast settlement can overtake the buy response; reconcile it now that
	// the contract is recorded.
	if early != nil && early.ID == contract.ID {
		o.onContractSettled(*early)
	}
}

// onContractSettled reconciles one settlement exactly once: counters, the
// recovery engine, the checkpoint, the journal, then the session guards.
func (o *Orchestrator) onContractSettled(final client.Contract) {
	o.mu.Lock()
	if o.inFlight == nil || o.inFlight.ID != final.ID {
		if o.placing {
			// Settlement raced ahead of the buy response; hold it until the
			// order is recorded.
			held := final
			o.earlySettled = &held
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		logs.Warnf("settlement for untracked contract %d ignored", final.ID)
		return
	}
	o.inFlight = nil
	stake := o.lastStake

	win := final.Profit > 0
	o.trades++
	if win {
		o.wins++
	} else {
		o.losses++
	}
	o.profit += final.Profit
	cfg := o.cfg
	trades, wins, losses, profit, starting := o.trades, o.wins, o.losses, o.profit, o.starting
	drained := o.drained
	o.mu.Unlock()

	select {
	case drained <- struct{}{}:
	default:
	}

	o.engine.RecordOutcome(stake, final.Profit, win)
	balance, _ := o.broker.Balance()
	o.engine.UpdateBalance(balance)

	result := "loss"
	if win {
		result = "win"
	}
	obs.IncTrade(result)
	obs.SetRecoveryLevel(o.engine.Summary().Level)
	logs.Infof("trade %d settled: %s, profit %.2f, session profit %.2f",
		final.ID, result, final.Profit, profit)

	if o.store != nil {
		err := o.store.SaveCheckpoint(state.Checkpoint{
			Symbol:          cfg.Symbol,
			Strategy:        cfg.Strategy,
			Trades:          trades,
			Wins:            wins,
			Losses:          losses,
			Profit:          profit,
			StartingBalance: starting,
			Timestamp:       time.Now().Unix(),
		})
		if err != nil {
			logs.Errorf("checkpoint save failed: %v", err)
		}
	}
	if err := o.journal.Append(journal.Trade{
		ContractID:    final.ID,
		Symbol:        final.Symbol,
		ContractType:  final.ContractType,
		Strategy:      cfg.Strategy,
		Stake:         stake,
		Profit:        final.Profit,
		Result:        result,
		EntrySpot:     final.EntrySpot,
		ExitSpot:      final.ExitTick,
		BalanceAfter:  balance,
		RecoveryLevel: o.engine.Summary().Level,
	}); err != nil {
		logs.Errorf("journal append failed: %v", err)
	}

	if o.onTradeClosed != nil {
		o.onTradeClosed(TradeResult{
			ContractID: final.ID,
			Symbol:     final.Symbol,
			Stake:      stake,
			Profit:     final.Profit,
			Win:        win,
			Balance:    balance,
			Trades:     trades,
			Wins:       wins,
			Losses:     losses,
		})
	}

	if reason := o.stopReasonFor(cfg, trades, profit); reason != "" {
		o.stop(reason)
	}
}

// stopReasonFor evaluates the session guards after a settlement.
func (o *Orchestrator) stopReasonFor(cfg Config, trades int, profit float64) string {
	if halted, reason := o.engine.Halted(); halted {
		return reason
	}
	if cfg.TargetTrades > 0 && trades >= cfg.TargetTrades {
		return StopTargetReached
	}
	if cfg.TakeProfit > 0 && profit >= cfg.TakeProfit {
		return StopTakeProfit
	}
	if cfg.StopLoss > 0 && -profit >= cfg.StopLoss {
		return StopStopLoss
	}
	return ""
}

// Stop ends the session: unsubscribe, drain the in-flight order within the
// configured bound, then return to Idle.
func (o *Orchestrator) Stop() {
	o.stop(StopUser)
}

func (o *Orchestrator) stop(reason string) {
	o.mu.Lock()
	if o.st != StateRunning {
		o.mu.Unlock()
		return
	}
	o.st = StateStopping
	cfg := o.cfg
	drained := o.drained
	o.mu.Unlock()

	unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := o.broker.UnsubscribeTicks(unsubCtx, cfg.Symbol); err != nil {
		logs.Warnf("unsubscribe on stop failed: %v", err)
	}
	unsubCancel()

	deadline := time.After(cfg.DrainTimeout)
drain:
	for {
		o.mu.Lock()
		inFlight := o.inFlight
		o.mu.Unlock()
		if inFlight == nil {
			break
		}
		select {
		case <-drained:
		case <-deadline:
			logs.Errorf("stop drain timed out, abandoning contract %d unreconciled", inFlight.ID)
			o.mu.Lock()
			o.inFlight = nil
			o.mu.Unlock()
			break drain
		}
	}

	o.mu.Lock()
	o.st = StateIdle
	summary := Summary{
		Symbol:          cfg.Symbol,
		Strategy:        cfg.Strategy,
		StopReason:      reason,
		Trades:          o.trades,
		Wins:            o.wins,
		Losses:          o.losses,
		Profit:          o.profit,
		StartingBalance: o.starting,
	}
	o.mu.Unlock()
	if summary.Trades > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.Trades)
	}
	summary.FinalBalance, _ = o.broker.Balance()

	if o.store != nil {
		if err := o.store.ClearCheckpoint(); err != nil {
			logs.Errorf("checkpoint clear failed: %v", err)
		}
	}
	logs.Infof("session ended: %s (%d trades, %.2f profit)", reason, summary.Trades, summary.Profit)
	if o.onSessionDone != nil {
		o.onSessionDone(summary)
	}
}

// RecoverSession loads the persisted checkpoint so the next Start resumes
// its counters. Returns false when there is nothing to recover.
func (o *Orchestrator) RecoverSession() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.st != StateIdle || o.store == nil {
		return false
	}
	cp, err := o.store.LoadCheckpoint()
	if err != nil || cp.Timestamp == 0 {
		return false
	}
	o.recovered = &cp
	logs.Infof("found session checkpoint: %s, %d trades", cp.Symbol, cp.Trades)
	return true
}

// Status is an operator view of the live session.
type Status struct {
	State    State
	Symbol   string
	Strategy string
	Trades   int
	Wins     int
	Losses   int
	Profit   float64
	InFlight bool
	Engine   recovery.Summary
}

// Status snapshots the session.
func (o *Orchestrator) Status() Status {
	st := o.State()
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:    st,
		Symbol:   o.cfg.Symbol,
		Strategy: o.cfg.Strategy,
		Trades:   o.trades,
		Wins:     o.wins,
		Losses:   o.losses,
		Profit:   o.profit,
		InFlight: o.inFlight != nil,
		Engine:   o.engine.Summary(),
	}
}
