package schema

// Request is an outbound message whose correlation id is assigned by the
// sender just before marshaling.
type Request interface {
	SetReqID(id int64)
}

// AuthorizeRequest authenticates the session with an API token.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id,omitempty"`
}

func (r *AuthorizeRequest) SetReqID(id int64) { r.ReqID = id }

// TicksRequest opens a live tick stream for one symbol.
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe,omitempty"`
	ReqID     int64  `json:"req_id,omitempty"`
}

func (r *TicksRequest) SetReqID(id int64) { r.ReqID = id }

// TicksHistoryRequest fetches the most recent ticks of a symbol.
type TicksHistoryRequest struct {
	TicksHistory string `json:"ticks_history"`
	Count        int    `json:"count"`
	End          string `json:"end"`
	Style        string `json:"style"`
	ReqID        int64  `json:"req_id,omitempty"`
}

func (r *TicksHistoryRequest) SetReqID(id int64) { r.ReqID = id }

// ForgetRequest cancels a server-side subscription by id.
type ForgetRequest struct {
	Forget string `json:"forget"`
	ReqID  int64  `json:"req_id,omitempty"`
}

func (r *ForgetRequest) SetReqID(id int64) { r.ReqID = id }

// ProposalRequest asks for a priced contract quote.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier,omitempty"`
	ReqID        int64   `json:"req_id,omitempty"`
}

func (r *ProposalRequest) SetReqID(id int64) { r.ReqID = id }

// BuyRequest executes a previously priced proposal.
type BuyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id,omitempty"`
}

func (r *BuyRequest) SetReqID(id int64) { r.ReqID = id }

// OpenContractRequest subscribes to settlement updates for one contract.
type OpenContractRequest struct {
	ProposalOpenContract int   `json:"proposal_open_contract"`
	ContractID           int64 `json:"contract_id"`
	Subscribe            int   `json:"subscribe,omitempty"`
	ReqID                int64 `json:"req_id,omitempty"`
}

func (r *OpenContractRequest) SetReqID(id int64) { r.ReqID = id }

// BalanceRequest reads the account balance, optionally subscribing to changes.
type BalanceRequest struct {
	Balance   int   `json:"balance"`
	Subscribe int   `json:"subscribe,omitempty"`
	ReqID     int64 `json:"req_id,omitempty"`
}

func (r *BalanceRequest) SetReqID(id int64) { r.ReqID = id }

// PingRequest keeps the connection alive and probes responsiveness.
type PingRequest struct {
	Ping  int   `json:"ping"`
	ReqID int64 `json:"req_id,omitempty"`
}

func (r *PingRequest) SetReqID(id int64) { r.ReqID = id }
