package application

import (
	"encoding/hex"
	"sort"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/swap"
)

// HistoryEntry is a flattened view over regular and chain swaps, suitable
// for a merged, newest-first history listing.
type HistoryEntry struct {
	Id        string
	Kind      HistoryKind
	From      boltz.Currency
	To        boltz.Currency
	Amount    uint64
	Settled   bool
	Failed    bool
	Timestamp int64
	RedeemTx  string
}

type HistoryKind string

const (
	HistoryKindSwap      HistoryKind = "swap"
	HistoryKindChainSwap HistoryKind = "chain"
)

func mergeHistory(
	swaps []domain.Swap, chainSwaps []domain.ChainSwap,
) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(swaps)+len(chainSwaps))

	for _, sw := range swaps {
		entries = append(entries, HistoryEntry{
			Id:        sw.Id,
			Kind:      HistoryKindSwap,
			From:      sw.From,
			To:        sw.To,
			Amount:    sw.Amount,
			Settled:   sw.Status == domain.SwapSuccess,
			Failed:    sw.Status == domain.SwapFailed,
			Timestamp: sw.Timestamp,
			RedeemTx:  sw.RedeemTxId,
		})
	}

	for _, cs := range chainSwaps {
		redeemTx := cs.ClaimTxId
		if redeemTx == "" {
			redeemTx = cs.RefundTxId
		}
		entries = append(entries, HistoryEntry{
			Id:        cs.Id,
			Kind:      HistoryKindChainSwap,
			From:      cs.From,
			To:        cs.To,
			Amount:    cs.Amount,
			Settled:   cs.Status == domain.ChainSwapClaimed,
			Failed:    cs.IsComplete() && cs.Status != domain.ChainSwapClaimed,
			Timestamp: cs.CreatedAt,
			RedeemTx:  redeemTx,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})

	return entries
}

func toSwapRecord(sw swap.Swap, from, to boltz.Currency) domain.Swap {
	record := domain.Swap{
		Id:          sw.Id,
		Amount:      sw.Amount,
		Timestamp:   sw.Timestamp,
		From:        from,
		To:          to,
		Status:      toSwapStatus(sw.Status),
		Type:        domain.SwapRegular,
		Invoice:     sw.Invoice,
		FundingTxId: sw.TxId,
		RedeemTxId:  sw.RedeemTxid,
	}
	if sw.Opts != nil {
		record.Vhtlc = domain.NewVhtlc(*sw.Opts)
	}
	return record
}

func toSwapStatus(status swap.Status) domain.SwapStatus {
	switch status {
	case swap.StatusSuccess:
		return domain.SwapSuccess
	case swap.StatusFailed:
		return domain.SwapFailed
	default:
		return domain.SwapPending
	}
}

func toChainSwapRecord(cs *swap.ChainSwap, from boltz.Currency) domain.ChainSwap {
	to := boltz.CurrencyBtc
	if from == boltz.CurrencyBtc {
		to = boltz.CurrencyArk
	}

	return domain.ChainSwap{
		Id:                      cs.Id,
		From:                    from,
		To:                      to,
		ClaimPreimage:           hex.EncodeToString(cs.Preimage),
		Amount:                  cs.Amount,
		UserBtcLockupAddress:    cs.UserBtcLockupAddress,
		BtcDestinationAddress:   cs.BtcDestinationAddress,
		UserLockupTxId:          cs.UserLockTxid,
		ServerLockupTxId:        cs.ServerLockTxid,
		ClaimTxId:               cs.ClaimTxid,
		RefundTxId:              cs.RefundTxid,
		CreatedAt:               cs.Timestamp,
		Status:                  toDomainChainSwapStatus(cs.Status),
		ErrorMessage:            cs.Error,
		BoltzCreateResponseJSON: cs.SwapRespJson,
	}
}

func toDomainChainSwapStatus(status swap.ChainSwapStatus) domain.ChainSwapStatus {
	switch status {
	case swap.ChainSwapUserLocked:
		return domain.ChainSwapUserLocked
	case swap.ChainSwapServerLocked:
		return domain.ChainSwapServerLocked
	case swap.ChainSwapClaimed:
		return domain.ChainSwapClaimed
	case swap.ChainSwapUserLockedFailed:
		return domain.ChainSwapUserLockedFailed
	case swap.ChainSwapFailed:
		return domain.ChainSwapFailed
	case swap.ChainSwapRefundFailed:
		return domain.ChainSwapRefundFailed
	case swap.ChainSwapRefunded:
		return domain.ChainSwapRefunded
	case swap.ChainSwapRefundedUnilaterally:
		return domain.ChainSwapRefundedUnilaterally
	default:
		return domain.ChainSwapPending
	}
}

func toHandlerChainSwapStatus(status domain.ChainSwapStatus) swap.ChainSwapStatus {
	switch status {
	case domain.ChainSwapUserLocked:
		return swap.ChainSwapUserLocked
	case domain.ChainSwapServerLocked:
		return swap.ChainSwapServerLocked
	case domain.ChainSwapClaimed:
		return swap.ChainSwapClaimed
	case domain.ChainSwapUserLockedFailed:
		return swap.ChainSwapUserLockedFailed
	case domain.ChainSwapFailed:
		return swap.ChainSwapFailed
	case domain.ChainSwapRefundFailed:
		return swap.ChainSwapRefundFailed
	case domain.ChainSwapRefunded:
		return swap.ChainSwapRefunded
	case domain.ChainSwapRefundedUnilaterally:
		return swap.ChainSwapRefundedUnilaterally
	default:
		return swap.ChainSwapPending
	}
}
