package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

// fakeTransport captures outbound requests and lets a test script inbound
// frames through the client's frame handler.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []map[string]any
	reply     func(req map[string]any)
	connected bool
	kicked    int
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		go reply(req)
	}
	return nil
}

func (f *fakeTransport) Kick() {
	f.mu.Lock()
	f.kicked++
	f.mu.Unlock()
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) sentWith(field string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.sent {
		if _, ok := req[field]; ok {
			n++
		}
	}
	return n
}

func reqID(req map[string]any) int64 {
	id, _ := req["req_id"].(float64)
	return int64(id)
}

func newTestClient(timeout time.Duration) (*Client, *fakeTransport) {
	c := New(Config{Endpoint: "wss://example.test/websockets/v3", AppID: "1089", RequestTimeout: timeout})
	f := &fakeTransport{connected: true}
	c.session = f
	return c, f
}

// scriptedReply answers the standard request kinds with canned success
// frames.
func scriptedReply(c *Client) func(req map[string]any) {
	return func(req map[string]any) {
		id := reqID(req)
		switch {
		case req["authorize"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"authorize","req_id":%d,"authorize":{"loginid":"CR123","balance":100,"currency":"USD"}}`, id))
		case req["balance"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"balance","req_id":%d,"balance":{"balance":100,"currency":"USD"}}`, id))
		case req["ticks_history"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"history","req_id":%d,"history":{"prices":[100.1,100.2],"times":[1,2]}}`, id))
		case req["ticks"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"tick","req_id":%d,"tick":{"symbol":"R_100","quote":100.3,"epoch":3,"pip_size":2},"subscription":{"id":"sub-1"}}`, id))
		case req["forget"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"forget","req_id":%d,"forget":1}`, id))
		case req["proposal"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"proposal","req_id":%d,"proposal":{"id":"prop-1","ask_price":1.0,"payout":1.95,"spot":100.3}}`, id))
		case req["buy"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"buy","req_id":%d,"buy":{"contract_id":55,"buy_price":1.0,"payout":1.95,"start_time":10}}`, id))
		case req["proposal_open_contract"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"proposal_open_contract","req_id":%d,"proposal_open_contract":{"contract_id":55,"status":"open","is_sold":0}}`, id))
		case req["ping"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"ping","req_id":%d}`, id))
		}
	}
}

func TestAuthorizeSuccess(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = scriptedReply(c)

	require.NoError(t, c.Authorize(context.Background(), "token"))

	balance, currency := c.Balance()
	assert.Equal(t, 100.0, balance)
	assert.Equal(t, "USD", currency)
	assert.Equal(t, 1, f.sentWith("balance"), "authorize must subscribe to balance updates")
}

func TestAuthorizeInvalidTokenIsTerminal(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = func(req map[string]any) {
		c.handleFrame(fmt.Appendf(nil,
			`{"msg_type":"authorize","req_id":%d,"error":{"code":"InvalidToken","message":"The token is invalid."}}`, reqID(req)))
	}

	err := c.Authorize(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequestTimeoutCleansUpPending(t *testing.T) {
	c, _ := newTestClient(50 * time.Millisecond)

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, c.corr.pendingCount(), "timed out id must be removed")

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Requests)
	assert.Equal(t, uint64(1), m.Timeouts)
}

func TestConsecutiveTimeoutsKickTransport(t *testing.T) {
	c, f := newTestClient(10 * time.Millisecond)

	for i := 0; i < consecutiveTimeoutKick; i++ {
		_ = c.Ping(context.Background())
	}

	f.mu.Lock()
	kicked := f.kicked
	f.mu.Unlock()
	assert.Equal(t, 1, kicked)
	assert.Zero(t, c.Metrics().ConsecutiveTimeouts)
}

func TestSubscribeTicksBackfillsAndIsIdempotent(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = scriptedReply(c)
	ctx := context.Background()

	require.NoError(t, c.SubscribeTicks(ctx, "R_100", nil))

	ring := c.Ticks("R_100")
	require.Len(t, ring, 3, "history backfill plus the subscribe ack tick")
	assert.Equal(t, 100.1, ring[0].Quote)
	assert.Equal(t, 100.3, ring[2].Quote)

	// Second subscribe swaps the callback without another wire exchange.
	require.NoError(t, c.SubscribeTicks(ctx, "R_100", func(schema.Tick) {}))
	assert.Equal(t, 1, f.sentWith("ticks"))
	assert.Equal(t, 1, f.sentWith("ticks_history"))
}

func TestUnsubscribeTicksForgetsSubscription(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = scriptedReply(c)
	ctx := context.Background()

	require.NoError(t, c.SubscribeTicks(ctx, "R_100", nil))
	require.NoError(t, c.UnsubscribeTicks(ctx, "R_100"))
	assert.Equal(t, 1, f.sentWith("forget"))
	assert.Nil(t, c.Ticks("R_100"))

	// Unknown symbol is a no-op.
	require.NoError(t, c.UnsubscribeTicks(ctx, "R_50"))
	assert.Equal(t, 1, f.sentWith("forget"))
}

func TestPlaceOrderTwoPhaseAndSettlement(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = scriptedReply(c)
	ctx := context.Background()
	require.NoError(t, c.Authorize(ctx, "token"))

	settled := make(chan Contract, 1)
	contract, err := c.PlaceOrder(ctx, OrderSpec{
		Symbol:       "R_100",
		ContractType: "CALL",
		Stake:        1.0,
		Duration:     5,
		DurationUnit: "t",
	}, func(final Contract) { settled <- final })
	require.NoError(t, err)
	assert.Equal(t, int64(55), contract.ID)
	assert.Equal(t, 1.95, contract.Payout)
	require.Len(t, c.OpenContracts(), 1)

	// Settlement push without req_id completes the contract exactly once.
	frame := []byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":55,"status":"won","profit":0.95,"is_sold":1,"sell_price":1.95,"exit_tick":100.9}}`)
	c.handleFrame(frame)
	c.handleFrame(frame)

	select {
	case final := <-settled:
		assert.True(t, final.Win())
		assert.Equal(t, 0.95, final.Profit)
	case <-time.After(time.Second):
		t.Fatal("settlement callback never fired")
	}
	select {
	case <-settled:
		t.Fatal("settlement callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, c.OpenContracts())
}

func TestPlaceOrderProposalFailureLeavesNoState(t *testing.T) {
	c, f := newTestClient(2 * time.Second)
	f.reply = func(req map[string]any) {
		id := reqID(req)
		switch {
		case req["authorize"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"authorize","req_id":%d,"authorize":{"loginid":"CR123","balance":100,"currency":"USD"}}`, id))
		case req["balance"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"balance","req_id":%d,"balance":{"balance":100,"currency":"USD"}}`, id))
		case req["proposal"] != nil:
			c.handleFrame(fmt.Appendf(nil,
				`{"msg_type":"proposal","req_id":%d,"error":{"code":"ContractBuyValidationError","message":"stake too low"}}`, id))
		}
	}
	ctx := context.Background()
	require.NoError(t, c.Authorize(ctx, "token"))

	_, err := c.PlaceOrder(ctx, OrderSpec{Symbol: "R_100", ContractType: "CALL", Stake: 0.1, Duration: 5, DurationUnit: "t"}, nil)
	require.Error(t, err)
	assert.Empty(t, c.OpenContracts())
	assert.Zero(t, c.corr.pendingCount())
}

func TestPlaceOrderRequiresAuthorization(t *testing.T) {
	c, _ := newTestClient(2 * time.Second)
	_, err := c.PlaceOrder(context.Background(), OrderSpec{Symbol: "R_100"}, nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestBalancePushUpdatesClientState(t *testing.T) {
	c, _ := newTestClient(2 * time.Second)
	got := make(chan float64, 1)
	c.SetBalanceFunc(func(b float64) { got <- b })

	c.handleFrame([]byte(`{"msg_type":"balance","balance":{"balance":73.5,"currency":"USD"}}`))

	balance, _ := c.Balance()
	assert.Equal(t, 73.5, balance)
	assert.Equal(t, 73.5, <-got)
}
