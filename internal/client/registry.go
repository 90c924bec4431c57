package client

import (
	"sync"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/schema"
)

// tickRingCap bounds the per-symbol tick history kept in memory.
const tickRingCap = 200

// TickCallback receives live ticks off the read path. It runs on the
// registry's dispatch goroutine.
type TickCallback func(schema.Tick)

// Contract is the client-side view of one purchased contract.
type Contract struct {
	ID           int64
	Symbol       string
	ContractType string
	Stake        float64
	BuyPrice     float64
	Payout       float64
	EntrySpot    float64
	CurrentSpot  float64
	Profit       float64
	Status       string
	Sold         bool
	SellPrice    float64
	ExitTick     float64
	PurchasedAt  int64
}

// Win reports whether the settled contract returned more than it cost.
func (c Contract) Win() bool { return c.Sold && c.SellPrice > c.BuyPrice }

// ContractCallback fires exactly once, when the contract settles.
type ContractCallback func(Contract)

type tickStream struct {
	subID string
	ring  []schema.Tick
	cb    TickCallback
}

type contractEntry struct {
	c    Contract
	cb   ContractCallback
	done bool
}

// registry tracks live tick streams and open contracts. Tick delivery to
// callbacks goes through a bounded queue so a slow consumer drops ticks
// instead of stalling the reader.
type registry struct {
	mu        sync.Mutex
	streams   map[string]*tickStream
	contracts map[int64]*contractEntry
	queue     *bus.Queue
}

func newRegistry(queueCap int) *registry {
	return &registry{
		streams:   make(map[string]*tickStream),
		contracts: make(map[int64]*contractEntry),
		queue:     bus.NewQueue(queueCap),
	}
}

// addStream registers a symbol's stream and callback. Re-adding an existing
// symbol just swaps the callback.
func (r *registry) addStream(symbol string, cb TickCallback) (existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[symbol]; ok {
		s.cb = cb
		return true
	}
	r.streams[symbol] = &tickStream{ring: make([]schema.Tick, 0, tickRingCap), cb: cb}
	return false
}

func (r *registry) setStreamID(symbol, subID string) {
	r.mu.Lock()
	if s, ok := r.streams[symbol]; ok {
		s.subID = subID
	}
	r.mu.Unlock()
}

// removeStream drops a symbol's stream and returns its subscription id.
func (r *registry) removeStream(symbol string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[symbol]
	if !ok {
		return "", false
	}
	delete(r.streams, symbol)
	return s.subID, true
}

// symbols lists the currently subscribed symbols.
func (r *registry) symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.streams))
	for sym := range r.streams {
		out = append(out, sym)
	}
	return out
}

// backfill seeds a symbol's ring with history, oldest first.
func (r *registry) backfill(symbol string, ticks []schema.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[symbol]
	if !ok {
		return
	}
	for _, t := range ticks {
		s.ring = appendTick(s.ring, t)
	}
}

// pushTick records a live tick and queues it for callback delivery. Never
// blocks; queue overflow drops the tick.
func (r *registry) pushTick(t schema.Tick) {
	r.mu.Lock()
	s, ok := r.streams[t.Symbol]
	if ok {
		s.ring = appendTick(s.ring, t)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.queue.TryPublish(t); err != nil {
		obs.IncTickDrop()
	}
}

func appendTick(ring []schema.Tick, t schema.Tick) []schema.Tick {
	if len(ring) == tickRingCap {
		copy(ring, ring[1:])
		ring = ring[:tickRingCap-1]
	}
	return append(ring, t)
}

// dispatch delivers one queued tick to the symbol's current callback, if any.
func (r *registry) dispatch(t schema.Tick) {
	r.mu.Lock()
	var cb TickCallback
	if s, ok := r.streams[t.Symbol]; ok {
		cb = s.cb
	}
	r.mu.Unlock()

	if cb != nil {
		cb(t)
	}
}

// ticks returns a copy of the symbol's tick history, oldest first.
func (r *registry) ticks(symbol string) []schema.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[symbol]
	if !ok {
		return nil
	}
	out := make([]schema.Tick, len(s.ring))
	copy(out, s.ring)
	return out
}

// trackContract starts following a purchased contract.
func (r *registry) trackContract(c Contract, cb ContractCallback) {
	r.mu.Lock()
	r.contracts[c.ID] = &contractEntry{c: c, cb: cb}
	r.mu.Unlock()
}

// updateContract applies a settlement update. When the contract settles it
// returns the final view and its callback, exactly once.
func (r *registry) updateContract(oc schema.OpenContract) (Contract, ContractCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.contracts[oc.ContractID]
	if !ok {
		return Contract{}, nil, false
	}

	e.c.Status = oc.Status
	e.c.Profit = oc.Profit
	e.c.CurrentSpot = oc.CurrentSpot
	if oc.EntrySpot != 0 {
		e.c.EntrySpot = oc.EntrySpot
	}
	if oc.IsSold != 1 || e.done {
		return e.c, nil, false
	}

	e.done = true
	e.c.Sold = true
	e.c.SellPrice = oc.SellPrice
	e.c.ExitTick = oc.ExitTick
	delete(r.contracts, oc.ContractID)
	return e.c, e.cb, true
}

// openContracts snapshots the contracts not yet settled.
func (r *registry) openContracts() []Contract {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Contract, 0, len(r.contracts))
	for _, e := range r.contracts {
		out = append(out, e.c)
	}
	return out
}
