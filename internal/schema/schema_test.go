package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseTickFrame(t *testing.T) {
	raw := []byte(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":1234.56,"epoch":1700000000,"pip_size":2},"subscription":{"id":"abc-123"}}`)

	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, MsgTick, resp.MsgType)
	assert.Zero(t, resp.ReqID)
	require.NotNil(t, resp.Tick)
	assert.Equal(t, "R_100", resp.Tick.Symbol)
	assert.Equal(t, 1234.56, resp.Tick.Quote)
	require.NotNil(t, resp.Subscription)
	assert.Equal(t, "abc-123", resp.Subscription.ID)
}

func TestResponseBuyFrame(t *testing.T) {
	raw := []byte(`{"msg_type":"buy","req_id":42,"buy":{"contract_id":987654,"buy_price":1.5,"payout":2.85,"start_time":1700000001}}`)

	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, int64(42), resp.ReqID)
	require.NotNil(t, resp.Buy)
	assert.Equal(t, int64(987654), resp.Buy.ContractID)
	assert.Equal(t, 2.85, resp.Buy.Payout)
}

func TestResponseErrorFrame(t *testing.T) {
	raw := []byte(`{"msg_type":"authorize","req_id":1,"error":{"code":"InvalidToken","message":"The token is invalid."}}`)

	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Terminal())
	assert.Contains(t, resp.Error.Error(), "InvalidToken")

	retryable := &APIError{Code: "RateLimit", Message: "slow down"}
	assert.False(t, retryable.Terminal())
}

func TestRequestReqIDInjection(t *testing.T) {
	req := &ProposalRequest{
		Proposal:     1,
		Amount:       0.35,
		Basis:        "stake",
		ContractType: "CALL",
		Currency:     "USD",
		Duration:     5,
		DurationUnit: "t",
		Symbol:       "R_100",
	}
	req.SetReqID(7)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"req_id":7`)
	assert.NotContains(t, string(b), "barrier")
}
