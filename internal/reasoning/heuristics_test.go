package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultScorePlan_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, defaultScorePlan(""))
}

func TestDefaultScorePlan_AccumulatesSignals(t *testing.T) {
	plan := "1. First check the balance\n2. Then transfer funds\n" +
		"this plan needs to be reasonably long so it crosses the hundred character " +
		"threshold used by the length heuristic, padding it out a bit further."
	score := defaultScorePlan(plan)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestDefaultScorePlan_OrderingTokenOnly(t *testing.T) {
	score := defaultScorePlan("first do the thing")
	assert.InDelta(t, 1.0/3, score, 1e-9)
}

func TestDefaultExtractToolHints_MatchesByExactName(t *testing.T) {
	tools := []Tool{{Name: "get_balance"}, {Name: "send_tx"}}
	text := "Selected tools: [get_balance]"
	hints := defaultExtractToolHints(text, tools)
	assert.Equal(t, []ToolSelection{{Name: "get_balance"}}, hints)
}

func TestDefaultExtractToolHints_MatchesBySpaceForm(t *testing.T) {
	tools := []Tool{{Name: "get_balance"}}
	text := "Selected tools: [get balance]"
	hints := defaultExtractToolHints(text, tools)
	require := assert.New(t)
	require.Len(hints, 1)
	require.Equal("get_balance", hints[0].Name)
}

func TestDefaultExtractToolHints_ExtractsAddressParam(t *testing.T) {
	tools := []Tool{{Name: "get_balance"}}
	text := "Selected tools: [get_balance with address: 0xABCDEF1234567890]"
	hints := defaultExtractToolHints(text, tools)
	assert := assert.New(t)
	assert.Len(hints, 1)
	assert.Equal("0xABCDEF1234567890", hints[0].Params["address"])
}

func TestDefaultExtractToolHints_NoSelectedToolsLineReturnsNil(t *testing.T) {
	hints := defaultExtractToolHints("no relevant section here", []Tool{{Name: "x"}})
	assert.Nil(t, hints)
}

func TestExtractParams_RecognizesKnownTokenSymbol(t *testing.T) {
	params := extractParams("token: usdc")
	assert.Equal(t, "USDC", params["token"])
}

func TestExtractParams_InfersLimitForIntegers(t *testing.T) {
	params := extractParams("10")
	assert.Equal(t, "10", params["limit"])
}

func TestExtractParams_InfersAmountForDecimals(t *testing.T) {
	params := extractParams("1.5")
	assert.Equal(t, "1.5", params["amount"])
}

func TestExtractParams_EmptyHintsReturnsNil(t *testing.T) {
	assert.Nil(t, extractParams(""))
}

func TestInferNumericKey(t *testing.T) {
	assert.Equal(t, "limit", inferNumericKey("42"))
	assert.Equal(t, "amount", inferNumericKey("3.14"))
	assert.Equal(t, "", inferNumericKey("not-a-number"))
	assert.Equal(t, "", inferNumericKey(""))
}
