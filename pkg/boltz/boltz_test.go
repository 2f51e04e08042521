package boltz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	assert.Equal(t, SwapCreated, ParseEvent("swap.created"))
	assert.Equal(t, InvoiceSettled, ParseEvent("invoice.settled"))
	assert.Equal(t, TransactionLockupFailed, ParseEvent("transaction.lockupFailed"))
	assert.Equal(t, TransactionServerConfirmed, ParseEvent("transaction.server.confirmed"))
	// unknown statuses map to the zero value
	assert.Equal(t, SwapCreated, ParseEvent("something.unknown"))
}

func TestLimitsCheck(t *testing.T) {
	limits := Limits{Minimal: 1000, Maximal: 10_000_000}

	require.NoError(t, limits.check(1000))
	require.NoError(t, limits.check(10_000_000))
	require.Error(t, limits.check(999))
	require.Error(t, limits.check(10_000_001))
}

func TestGetSwapTree(t *testing.T) {
	btcTree := &SwapTree{
		ClaimLeaf:  SwapTreeLeaf{Version: 0xc0, Output: "claim"},
		RefundLeaf: SwapTreeLeaf{Version: 0xc0, Output: "refund"},
	}

	arkToBtc := CreateChainSwapResponse{
		ClaimDetails:  SwapLeg{SwapTree: btcTree},
		LockupDetails: SwapLeg{Timeouts: &ArkTimeouts{Refund: 144}},
	}
	assert.Equal(t, *btcTree, arkToBtc.GetSwapTree(true))

	btcToArk := CreateChainSwapResponse{
		ClaimDetails:  SwapLeg{Timeouts: &ArkTimeouts{Refund: 144}},
		LockupDetails: SwapLeg{SwapTree: btcTree},
	}
	assert.Equal(t, *btcTree, btcToArk.GetSwapTree(false))
}
