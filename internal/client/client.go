// Package client implements the broker protocol on top of the transport
// session: request/response correlation by req_id, tick and contract
// subscriptions, and the order placement flow. One Client is one
// authenticated connection.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/internal/ws"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrDisconnected   = errors.New("connection lost")
	ErrNotAuthorized  = errors.New("session not authorized")
	ErrInvalidToken   = errors.New("invalid api token")
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultPingInterval    = 30 * time.Second
	defaultQueueCap        = 1024
	consecutiveTimeoutKick = 5
)

// transport is the slice of ws.Session the client depends on.
type transport interface {
	Connect(ctx context.Context) error
	Send(payload []byte) error
	Kick()
	Close()
	Connected() bool
}

// Config locates the broker endpoint and tunes the client.
type Config struct {
	Endpoint       string
	AppID          string
	Currency       string
	RequestTimeout time.Duration
	PingInterval   time.Duration
	Backoff        ws.Backoff
	MaxReconnects  int
}

func (c *Config) fill() {
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

func (c Config) url() string {
	return c.Endpoint + "?app_id=" + c.AppID
}

// OrderSpec describes one contract purchase.
type OrderSpec struct {
	Symbol       string
	ContractType string
	Stake        float64
	Duration     int
	DurationUnit string
	Barrier      string
}

// ConnMetrics is a point-in-time view of connection health.
type ConnMetrics struct {
	Connected           bool
	Requests            uint64
	Timeouts            uint64
	ConsecutiveTimeouts int
}

// Client is the protocol client. All exported methods are safe for
// concurrent use.
type Client struct {
	cfg     Config
	session transport
	corr    *correlator
	reg     *registry

	mu         sync.Mutex
	token      string
	authorized bool
	balance    float64
	currency   string
	loginID    string
	onBalance  func(balance float64)

	reqTotal      uint64
	timeoutTotal  uint64
	consecTimeout int32

	runCtx  context.Context
	runStop context.CancelFunc
}

// New builds a Client over a fresh transport session.
func New(cfg Config) *Client {
	cfg.fill()
	c := &Client{
		cfg:      cfg,
		corr:     newCorrelator(),
		reg:      newRegistry(defaultQueueCap),
		currency: cfg.Currency,
	}
	c.session = ws.New(ws.Config{
		URL:           cfg.url(),
		Backoff:       cfg.Backoff,
		MaxReconnects: cfg.MaxReconnects,
		OnFrame:       c.handleFrame,
		OnConnect:     c.handleConnect,
		OnDisconnect:  c.handleDisconnect,
		OnTerminal:    c.handleTerminal,
	})
	return c
}

// SetBalanceFunc installs a callback for inbound balance updates. Must be
// called before Connect.
func (c *Client) SetBalanceFunc(f func(balance float64)) {
	c.mu.Lock()
	c.onBalance = f
	c.mu.Unlock()
}

// Connect establishes the connection and starts the tick dispatcher and ping
// loop. It blocks until the transport is up or fails.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.runCtx = runCtx
	c.runStop = stop
	c.mu.Unlock()

	if err := c.session.Connect(ctx); err != nil {
		stop()
		return errors.Wrap(err, "connect")
	}

	go c.reg.queue.Run(runCtx, c.reg.dispatch)
	go c.pingLoop(runCtx)
	return nil
}

// Disconnect tears the session down and fails every pending request.
func (c *Client) Disconnect() {
	c.mu.Lock()
	stop := c.runStop
	c.authorized = false
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.session.Close()
	c.reg.queue.Close()
	c.corr.failAll(ErrDisconnected)
}

// Connected reports transport-level connectivity.
func (c *Client) Connected() bool { return c.session.Connected() }

// Authorize authenticates the session and subscribes to balance updates. An
// invalid credential is terminal (ErrInvalidToken); a missing response is
// retryable.
func (c *Client) Authorize(ctx context.Context, token string) error {
	resp, err := c.call(ctx, schema.MsgAuthorize, &schema.AuthorizeRequest{Authorize: token})
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Terminal() {
			return errors.Wrap(ErrInvalidToken, apiErr.Message)
		}
		return errors.Wrap(err, "authorize")
	}
	if resp.Authorize == nil {
		return errors.New("authorize response missing payload")
	}

	c.mu.Lock()
	c.token = token
	c.authorized = true
	c.balance = resp.Authorize.Balance
	c.currency = resp.Authorize.Currency
	c.loginID = resp.Authorize.LoginID
	c.mu.Unlock()
	obs.SetBalance(resp.Authorize.Balance)
	logs.Infof("authorized as %s, balance %.2f %s",
		resp.Authorize.LoginID, resp.Authorize.Balance, resp.Authorize.Currency)

	if _, err := c.call(ctx, schema.MsgBalance, &schema.BalanceRequest{Balance: 1, Subscribe: 1}); err != nil {
		logs.Warnf("balance subscription failed: %v", err)
	}
	return nil
}

// Balance returns the last balance pushed by the broker.
func (c *Client) Balance() (float64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.currency
}

// SubscribeTicks starts a live tick stream for symbol, backfilling recent
// history first. Subscribing an already-subscribed symbol only replaces the
// callback.
func (c *Client) SubscribeTicks(ctx context.Context, symbol string, cb TickCallback) error {
	if c.reg.addStream(symbol, cb) {
		return nil
	}

	history, err := c.TicksHistory(ctx, symbol, tickRingCap)
	if err != nil {
		logs.Warnf("history backfill for %s failed: %v", symbol, err)
	} else {
		c.reg.backfill(symbol, history)
	}

	resp, err := c.call(ctx, schema.MsgTick, &schema.TicksRequest{Ticks: symbol, Subscribe: 1})
	if err != nil {
		c.reg.removeStream(symbol)
		return errors.Wrap(err, "subscribe ticks").With("symbol", symbol)
	}
	if resp.Subscription != nil {
		c.reg.setStreamID(symbol, resp.Subscription.ID)
	}
	return nil
}

// UnsubscribeTicks stops a symbol's stream. Unknown symbols are a no-op.
func (c *Client) UnsubscribeTicks(ctx context.Context, symbol string) error {
	subID, ok := c.reg.removeStream(symbol)
	if !ok || subID == "" {
		return nil
	}
	if _, err := c.call(ctx, schema.MsgForget, &schema.ForgetRequest{Forget: subID}); err != nil {
		return errors.Wrap(err, "forget tick stream").With("symbol", symbol)
	}
	return nil
}

// Ticks returns a copy of the buffered tick history for symbol.
func (c *Client) Ticks(symbol string) []schema.Tick {
	return c.reg.ticks(symbol)
}

// TicksHistory fetches the most recent count ticks of symbol.
func (c *Client) TicksHistory(ctx context.Context, symbol string, count int) ([]schema.Tick, error) {
	resp, err := c.call(ctx, schema.MsgHistory, &schema.TicksHistoryRequest{
		TicksHistory: symbol,
		Count:        count,
		End:          "latest",
		Style:        "ticks",
	})
	if err != nil {
		return nil, errors.Wrap(err, "ticks history").With("symbol", symbol)
	}
	if resp.History == nil {
		return nil, errors.New("history response missing payload")
	}

	out := make([]schema.Tick, 0, len(resp.History.Prices))
	for i, price := range resp.History.Prices {
		t := schema.Tick{Symbol: symbol, Quote: price}
		if i < len(resp.History.Times) {
			t.Epoch = resp.History.Times[i]
		}
		out = append(out, t)
	}
	return out, nil
}

// PlaceOrder runs the two-phase purchase: price the proposal, then buy it.
// Failure at either phase leaves no client state behind. cb fires once when
// the contract settles.
func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec, cb ContractCallback) (*Contract, error) {
	c.mu.Lock()
	authorized := c.authorized
	currency := c.currency
	c.mu.Unlock()
	if !authorized {
		return nil, ErrNotAuthorized
	}

	resp, err := c.call(ctx, schema.MsgProposal, &schema.ProposalRequest{
		Proposal:     1,
		Amount:       spec.Stake,
		Basis:        "stake",
		ContractType: spec.ContractType,
		Currency:     currency,
		Duration:     spec.Duration,
		DurationUnit: spec.DurationUnit,
		Symbol:       spec.Symbol,
		Barrier:      spec.Barrier,
	})
	if err != nil {
		return nil, errors.Wrap(err, "price proposal").With("symbol", spec.Symbol)
	}
	if resp.Proposal == nil {
		return nil, errors.New("proposal response missing payload")
	}
	proposal := resp.Proposal

	resp, err = c.call(ctx, schema.MsgBuy, &schema.BuyRequest{Buy: proposal.ID, Price: proposal.AskPrice})
	if err != nil {
		return nil, errors.Wrap(err, "buy").With("symbol", spec.Symbol)
	}
	if resp.Buy == nil {
		return nil, errors.New("buy response missing payload")
	}

	contract := Contract{
		ID:           resp.Buy.ContractID,
		Symbol:       spec.Symbol,
		ContractType: spec.ContractType,
		Stake:        spec.Stake,
		BuyPrice:     resp.Buy.BuyPrice,
		Payout:       resp.Buy.Payout,
		EntrySpot:    proposal.Spot,
		PurchasedAt:  resp.Buy.StartTime,
	}
	c.reg.trackContract(contract, cb)
	obs.SetStake(spec.Stake)

	if _, err := c.call(ctx, schema.MsgOpenContract, &schema.OpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           contract.ID,
		Subscribe:            1,
	}); err != nil {
		logs.Warnf("contract %d settlement subscription failed: %v", contract.ID, err)
	}
	return &contract, nil
}

// OpenContracts snapshots the contracts awaiting settlement.
func (c *Client) OpenContracts() []Contract {
	return c.reg.openContracts()
}

// Ping probes the connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, schema.MsgPing, &schema.PingRequest{Ping: 1})
	return err
}

// Metrics reports connection health counters.
func (c *Client) Metrics() ConnMetrics {
	return ConnMetrics{
		Connected:           c.session.Connected(),
		Requests:            atomic.LoadUint64(&c.reqTotal),
		Timeouts:            atomic.LoadUint64(&c.timeoutTotal),
		ConsecutiveTimeouts: int(atomic.LoadInt32(&c.consecTimeout)),
	}
}

// call sends one request and waits for the correlated response or the
// request timeout. Too many consecutive timeouts kick the transport into a
// reconnect.
func (c *Client) call(ctx context.Context, kind string, req schema.Request) (*schema.Response, error) {
	id, ch := c.corr.register()
	req.SetReqID(id)

	payload, err := json.Marshal(req)
	if err != nil {
		c.corr.drop(id)
		return nil, errors.Wrap(err, "marshal request")
	}

	atomic.AddUint64(&c.reqTotal, 1)
	obs.IncRequest(kind)
	if err := c.session.Send(payload); err != nil {
		c.corr.drop(id)
		return nil, errors.Wrap(err, "send request")
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		atomic.StoreInt32(&c.consecTimeout, 0)
		if r.resp.Error != nil {
			return nil, r.resp.Error
		}
		return r.resp, nil

	case <-timer.C:
		c.corr.drop(id)
		atomic.AddUint64(&c.timeoutTotal, 1)
		obs.IncTimeout(kind)
		n := atomic.AddInt32(&c.consecTimeout, 1)
		if n >= consecutiveTimeoutKick {
			logs.Warnf("%d consecutive timeouts, forcing reconnect", n)
			atomic.StoreInt32(&c.consecTimeout, 0)
			c.session.Kick()
		}
		return nil, errors.Wrap(ErrRequestTimeout, kind)

	case <-ctx.Done():
		c.corr.drop(id)
		return nil, ctx.Err()
	}
}

// handleFrame routes one inbound frame: stream pushes by msg_type, then the
// correlator for frames answering a request. Runs on the read pump.
func (c *Client) handleFrame(payload []byte) {
	var resp schema.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		logs.Errorf("drop malformed frame: %v", err)
		return
	}

	switch resp.MsgType {
	case schema.MsgTick:
		if resp.Tick != nil {
			if resp.Subscription != nil {
				c.reg.setStreamID(resp.Tick.Symbol, resp.Subscription.ID)
			}
			c.reg.pushTick(*resp.Tick)
			obs.IncTick(resp.Tick.Symbol)
		}

	case schema.MsgBalance:
		if resp.Error == nil && resp.Balance != nil {
			c.applyBalance(resp.Balance.Balance, resp.Balance.Currency)
		}

	case schema.MsgOpenContract:
		if resp.OpenContract != nil {
			if final, cb, settled := c.reg.updateContract(*resp.OpenContract); settled && cb != nil {
				// Off the read path: settlement handlers may do IO.
				go cb(final)
			}
		}
	}

	if resp.ReqID != 0 {
		c.corr.resolve(resp.ReqID, &resp)
	}
}

func (c *Client) applyBalance(balance float64, currency string) {
	c.mu.Lock()
	c.balance = balance
	if currency != "" {
		c.currency = currency
	}
	cb := c.onBalance
	c.mu.Unlock()

	obs.SetBalance(balance)
	if cb != nil {
		cb(balance)
	}
}

// handleConnect restores session state after a reconnect: re-authorize with
// the saved token, then re-subscribe every tracked symbol.
func (c *Client) handleConnect(reconnected bool) {
	if !reconnected {
		return
	}
	obs.IncReconnect()

	c.mu.Lock()
	token := c.token
	runCtx := c.runCtx
	c.mu.Unlock()
	if token == "" || runCtx == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(runCtx, c.cfg.RequestTimeout*2)
		defer cancel()

		if err := c.Authorize(ctx, token); err != nil {
			logs.Errorf("re-authorize after reconnect failed: %v", err)
			return
		}
		for _, symbol := range c.reg.symbols() {
			resp, err := c.call(ctx, schema.MsgTick, &schema.TicksRequest{Ticks: symbol, Subscribe: 1})
			if err != nil {
				logs.Errorf("re-subscribe %s failed: %v", symbol, err)
				continue
			}
			if resp.Subscription != nil {
				c.reg.setStreamID(symbol, resp.Subscription.ID)
			}
		}
		logs.Info("session restored after reconnect")
	}()
}

func (c *Client) handleDisconnect(err error) {
	logs.Warnf("connection lost: %v", err)
	c.mu.Lock()
	c.authorized = false
	c.mu.Unlock()
	c.corr.failAll(ErrDisconnected)
}

func (c *Client) handleTerminal(err error) {
	logs.Errorf("connection terminal: %v", err)
	c.corr.failAll(err)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.session.Connected() {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
			if err := c.Ping(pingCtx); err != nil {
				logs.Warnf("ping failed: %v", err)
			}
			cancel()
		}
	}
}

func asAPIError(err error) (*schema.APIError, bool) {
	apiErr, ok := err.(*schema.APIError)
	return apiErr, ok
}
