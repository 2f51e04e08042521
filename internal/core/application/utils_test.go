package application

import (
	"testing"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/swap"
	"github.com/stretchr/testify/require"
)

func TestMergeHistory(t *testing.T) {
	swaps := []domain.Swap{
		{Id: "s1", Timestamp: 100, Status: domain.SwapSuccess, RedeemTxId: "tx1"},
		{Id: "s2", Timestamp: 300, Status: domain.SwapPending},
	}
	chainSwaps := []domain.ChainSwap{
		{Id: "c1", CreatedAt: 200, Status: domain.ChainSwapClaimed, ClaimTxId: "claim-tx"},
		{Id: "c2", CreatedAt: 400, Status: domain.ChainSwapRefunded, RefundTxId: "refund-tx"},
	}

	entries := mergeHistory(swaps, chainSwaps)
	require.Len(t, entries, 4)

	// newest first
	require.Equal(t, []string{"c2", "s2", "c1", "s1"}, []string{
		entries[0].Id, entries[1].Id, entries[2].Id, entries[3].Id,
	})

	require.Equal(t, HistoryKindChainSwap, entries[0].Kind)
	require.True(t, entries[0].Failed)
	require.Equal(t, "refund-tx", entries[0].RedeemTx)

	require.False(t, entries[1].Settled)
	require.False(t, entries[1].Failed)

	require.True(t, entries[2].Settled)
	require.Equal(t, "claim-tx", entries[2].RedeemTx)

	require.True(t, entries[3].Settled)
}

func TestToSwapRecord(t *testing.T) {
	sw := swap.Swap{
		Id:         "swap-id",
		Invoice:    "lnbcrt1...",
		TxId:       "funding-tx",
		RedeemTxid: "redeem-tx",
		Timestamp:  42,
		Status:     swap.StatusSuccess,
		Amount:     1234,
	}

	record := toSwapRecord(sw, boltz.CurrencyArk, boltz.CurrencyBtc)
	require.Equal(t, "swap-id", record.Id)
	require.Equal(t, boltz.CurrencyArk, record.From)
	require.Equal(t, boltz.CurrencyBtc, record.To)
	require.Equal(t, domain.SwapSuccess, record.Status)
	require.Equal(t, "funding-tx", record.FundingTxId)
	require.Equal(t, "redeem-tx", record.RedeemTxId)
	require.True(t, record.IsRedeemed())
}

func TestChainSwapStatusMappings(t *testing.T) {
	statuses := []domain.ChainSwapStatus{
		domain.ChainSwapPending,
		domain.ChainSwapUserLocked,
		domain.ChainSwapServerLocked,
		domain.ChainSwapClaimed,
		domain.ChainSwapUserLockedFailed,
		domain.ChainSwapFailed,
		domain.ChainSwapRefundFailed,
		domain.ChainSwapRefunded,
		domain.ChainSwapRefundedUnilaterally,
	}

	for _, status := range statuses {
		require.Equal(t, status, toDomainChainSwapStatus(toHandlerChainSwapStatus(status)))
	}
}

func TestToChainSwapRecord(t *testing.T) {
	cs := &swap.ChainSwap{
		Id:                    "chain-id",
		Amount:                9000,
		Preimage:              []byte{0x01, 0x02},
		BtcDestinationAddress: "bcrt1p-destination",
		UserLockTxid:          "user-lock",
		Timestamp:             7,
		Status:                swap.ChainSwapUserLocked,
		SwapRespJson:          `{"id":"chain-id"}`,
	}

	record := toChainSwapRecord(cs, boltz.CurrencyBtc)
	require.Equal(t, boltz.CurrencyBtc, record.From)
	require.Equal(t, boltz.CurrencyArk, record.To)
	require.Equal(t, "0102", record.ClaimPreimage)
	require.Equal(t, "bcrt1p-destination", record.BtcDestinationAddress)
	require.Equal(t, domain.ChainSwapUserLocked, record.Status)
	require.Equal(t, `{"id":"chain-id"}`, record.BoltzCreateResponseJSON)
}
