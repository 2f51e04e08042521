package domain

import (
	"context"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
)

type ChainSwapStatus int

const (
	// Pending states
	ChainSwapPending ChainSwapStatus = iota
	ChainSwapUserLocked
	ChainSwapServerLocked

	// Success states
	ChainSwapClaimed

	// Failed states
	ChainSwapUserLockedFailed
	ChainSwapFailed
	ChainSwapRefundFailed
	ChainSwapRefunded
	ChainSwapRefundedUnilaterally
)

// ChainSwap is the persisted record of a swap between the ark and the BTC
// base chain. BoltzCreateResponseJSON keeps the counterparty's full creation
// payload so refunds keep working after a restart with the counterparty down.
type ChainSwap struct {
	Id string

	From          boltz.Currency
	To            boltz.Currency
	ClaimPreimage string

	Amount uint64

	// UserBtcLockupAddress is the counterparty's BTC lockup address funded by
	// the user (btc to ark). BtcDestinationAddress is where the claimed BTC
	// is paid out (ark to btc); resume needs it after a restart.
	UserBtcLockupAddress  string
	BtcDestinationAddress string

	UserLockupTxId   string
	ServerLockupTxId string
	ClaimTxId        string
	RefundTxId       string

	CreatedAt    int64
	Status       ChainSwapStatus
	ErrorMessage string

	BoltzCreateResponseJSON string
}

// IsComplete reports whether the swap reached a terminal state. Refunds,
// including unilateral ones, count as complete.
func (cs *ChainSwap) IsComplete() bool {
	switch cs.Status {
	case ChainSwapClaimed, ChainSwapRefunded, ChainSwapRefundedUnilaterally, ChainSwapFailed:
		return true
	}
	return false
}

// CanRefund reports whether funds may still be locked up somewhere.
func (cs *ChainSwap) CanRefund() bool {
	switch cs.Status {
	case ChainSwapPending, ChainSwapUserLocked, ChainSwapServerLocked:
		return true
	}
	return false
}

func (cs *ChainSwap) IsPending() bool {
	return !cs.IsComplete()
}

func (cs *ChainSwap) UserLocked(txid string) {
	cs.UserLockupTxId = txid
	cs.Status = ChainSwapUserLocked
}

func (cs *ChainSwap) ServerLocked(txid string) {
	cs.ServerLockupTxId = txid
	cs.Status = ChainSwapServerLocked
}

func (cs *ChainSwap) Claimed(txid string) {
	cs.ClaimTxId = txid
	cs.Status = ChainSwapClaimed
}

func (cs *ChainSwap) Refunded(txid string) {
	cs.RefundTxId = txid
	cs.Status = ChainSwapRefunded
}

func (cs *ChainSwap) RefundedUnilaterally(txid string) {
	cs.RefundTxId = txid
	cs.Status = ChainSwapRefundedUnilaterally
}

func (cs *ChainSwap) Failed(errorMsg string) {
	cs.Status = ChainSwapFailed
	cs.ErrorMessage = errorMsg
}

func (cs *ChainSwap) RefundFailed(errorMsg string) {
	cs.Status = ChainSwapRefundFailed
	cs.ErrorMessage = errorMsg
}

func (cs *ChainSwap) UserLockFailed(errorMsg string) {
	cs.Status = ChainSwapUserLockedFailed
	cs.ErrorMessage = errorMsg
}

// ChainSwapRepository stores chain swaps initiated by the wallet.
type ChainSwapRepository interface {
	Add(ctx context.Context, swap ChainSwap) error
	Get(ctx context.Context, id string) (*ChainSwap, error)
	GetAll(ctx context.Context) ([]ChainSwap, error)
	GetByStatus(ctx context.Context, status ChainSwapStatus) ([]ChainSwap, error)
	Update(ctx context.Context, swap ChainSwap) error
	Close()
}
