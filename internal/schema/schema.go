// Package schema defines the JSON wire messages of the broker protocol.
//
// Every inbound frame carries a msg_type discriminator. Frames that answer a
// request additionally echo the req_id the request was sent with; frames
// without a req_id are stream pushes (ticks, balance, contract updates).
package schema

import "fmt"

// Inbound msg_type values.
const (
	MsgAuthorize    = "authorize"
	MsgBalance      = "balance"
	MsgTick         = "tick"
	MsgHistory      = "history"
	MsgProposal     = "proposal"
	MsgBuy          = "buy"
	MsgForget       = "forget"
	MsgOpenContract = "proposal_open_contract"
	MsgPing         = "ping"
)

// APIError is the error envelope the broker attaches to a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// Error codes that mark a request as terminally rejected rather than retryable.
const (
	CodeInvalidToken          = "InvalidToken"
	CodeAuthorizationRequired = "AuthorizationRequired"
)

// Terminal reports whether the error can never succeed on retry.
func (e *APIError) Terminal() bool {
	return e.Code == CodeInvalidToken || e.Code == CodeAuthorizationRequired
}

// Tick is one spot quote for a symbol.
type Tick struct {
	Symbol  string  `json:"symbol"`
	Quote   float64 `json:"quote"`
	Epoch   int64   `json:"epoch"`
	PipSize int     `json:"pip_size"`
}

// Subscription identifies a server-side stream, used to forget it later.
type Subscription struct {
	ID string `json:"id"`
}

// AuthorizeResult is the payload of a successful authorize response.
type AuthorizeResult struct {
	LoginID  string  `json:"loginid"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	Email    string  `json:"email"`
}

// BalanceResult is the payload of balance responses and balance stream pushes.
type BalanceResult struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// HistoryResult is the payload of a ticks_history response in "ticks" style.
type HistoryResult struct {
	Prices []float64 `json:"prices"`
	Times  []int64   `json:"times"`
}

// ProposalResult is the priced quote returned for a contract proposal.
type ProposalResult struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

// BuyResult is the payload of a successful buy response.
type BuyResult struct {
	ContractID  int64   `json:"contract_id"`
	BuyPrice    float64 `json:"buy_price"`
	Payout      float64 `json:"payout"`
	StartTime   int64   `json:"start_time"`
	Description string  `json:"longcode"`
}

// OpenContract is the payload of proposal_open_contract pushes. IsSold flips
// to 1 exactly once, when the contract settles.
type OpenContract struct {
	ContractID   int64   `json:"contract_id"`
	ContractType string  `json:"contract_type"`
	Status       string  `json:"status"`
	Profit       float64 `json:"profit"`
	IsSold       int     `json:"is_sold"`
	SellPrice    float64 `json:"sell_price"`
	BuyPrice     float64 `json:"buy_price"`
	EntrySpot    float64 `json:"entry_spot"`
	CurrentSpot  float64 `json:"current_spot"`
	ExitTick     float64 `json:"exit_tick"`
}

// Response is the union of every inbound frame. Exactly one payload pointer is
// non-nil, selected by MsgType.
type Response struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id,omitempty"`
	Error        *APIError       `json:"error,omitempty"`
	Authorize    *AuthorizeResult `json:"authorize,omitempty"`
	Balance      *BalanceResult  `json:"balance,omitempty"`
	Tick         *Tick           `json:"tick,omitempty"`
	History      *HistoryResult  `json:"history,omitempty"`
	Proposal     *ProposalResult `json:"proposal,omitempty"`
	Buy          *BuyResult      `json:"buy,omitempty"`
	OpenContract *OpenContract   `json:"proposal_open_contract,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Forget       int             `json:"forget,omitempty"`
}
