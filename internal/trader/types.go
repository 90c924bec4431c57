package trader

import (
	"main/internal/schema"
)

// State is the orchestrator lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Signal is a trade intent produced by a signal source.
type Signal struct {
	ContractType string
	Barrier      string
	Confidence   float64
	Reason       string
}

// MarketContext carries the session facts an entry filter may weigh.
type MarketContext struct {
	LastQuote         float64
	TickCount         int
	WinRate           float64
	ConsecutiveLosses int
}

// SignalSource evaluates market data into trade intents. Implementations run
// on the tick dispatch goroutine and must not block.
type SignalSource interface {
	Evaluate(latest schema.Tick, history []schema.Tick) (Signal, bool)
}

// FilterDecision is an entry filter's verdict on a signal.
type FilterDecision struct {
	Accept          bool
	Reasons         []string
	StakeMultiplier float64
}

// EntryFilter vets signals before money is committed.
type EntryFilter interface {
	Check(sig Signal, mc MarketContext) FilterDecision
}

// TradeResult describes one settled trade.
type TradeResult struct {
	ContractID int64
	Symbol     string
	Stake      float64
	Profit     float64
	Win        bool
	Balance    float64
	Trades     int
	Wins       int
	Losses     int
}

// Summary closes out a session.
type Summary struct {
	Symbol          string
	Strategy        string
	StopReason      string
	Trades          int
	Wins            int
	Losses          int
	WinRate         float64
	Profit          float64
	StartingBalance float64
	FinalBalance    float64
}
