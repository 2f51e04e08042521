package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/internal/core/ports"
	"github.com/ArkLabsHQ/lampo/internal/infrastructure/db"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/swap"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, ports.RepoManager) {
	t.Helper()

	repoManager, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repoManager.Close)

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	svc := NewService(
		BuildInfo{}, repoManager, nil, nil, nil,
		key.PubKey(), serverKey.PubKey(), nil,
	)
	return svc, repoManager
}

func storedSwap(t *testing.T, repoManager ports.RepoManager, redeemed bool) domain.Swap {
	t.Helper()

	sw := domain.Swap{
		Id:        randomId(t),
		Amount:    5000,
		Timestamp: time.Now().Unix(),
		From:      boltz.CurrencyBtc,
		To:        boltz.CurrencyArk,
		Status:    domain.SwapPending,
		Vhtlc:     domain.NewVhtlc(testOpts(t)),
	}
	if redeemed {
		sw.Status = domain.SwapSuccess
		sw.RedeemTxId = "redeem-txid"
	}

	_, err := repoManager.Swap().Add(context.Background(), []domain.Swap{sw})
	require.NoError(t, err)
	return sw
}

func TestAcquireRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires pending swap once", func(t *testing.T) {
		svc, repoManager := newTestService(t)
		sw := storedSwap(t, repoManager, false)

		record, release, err := svc.acquireRedeem(ctx, sw.Id)
		require.NoError(t, err)
		require.Equal(t, sw.Id, record.Id)

		// second attempt while redeem is in flight
		_, _, err = svc.acquireRedeem(ctx, sw.Id)
		require.Error(t, err)
		require.Contains(t, err.Error(), "in progress")

		release()
		_, release2, err := svc.acquireRedeem(ctx, sw.Id)
		require.NoError(t, err)
		release2()
	})

	t.Run("rejects reacquire after redeem is persisted", func(t *testing.T) {
		svc, repoManager := newTestService(t)
		sw := storedSwap(t, repoManager, false)

		record, release, err := svc.acquireRedeem(ctx, sw.Id)
		require.NoError(t, err)

		// the winner persists the redeem result before releasing the slot
		record.Status = domain.SwapSuccess
		record.RedeemTxId = "redeem-txid"
		require.NoError(t, repoManager.Swap().Update(ctx, *record))
		release()

		_, _, err = svc.acquireRedeem(ctx, sw.Id)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already redeemed")
	})

	t.Run("rejects redeemed swap", func(t *testing.T) {
		svc, repoManager := newTestService(t)
		sw := storedSwap(t, repoManager, true)

		_, _, err := svc.acquireRedeem(ctx, sw.Id)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already redeemed")
	})

	t.Run("rejects unknown swap", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, _, err := svc.acquireRedeem(ctx, "missing")
		require.Error(t, err)
	})
}

func TestOnChainSwapEvent(t *testing.T) {
	ctx := context.Background()
	svc, repoManager := newTestService(t)

	cs := domain.ChainSwap{
		Id:        randomId(t),
		From:      boltz.CurrencyArk,
		To:        boltz.CurrencyBtc,
		Amount:    30000,
		CreatedAt: time.Now().Unix(),
		Status:    domain.ChainSwapPending,
	}
	require.NoError(t, repoManager.ChainSwap().Add(ctx, cs))

	svc.onChainSwapEvent(swap.UserLockEvent{SwapID: cs.Id, TxID: "user-lock"})
	got, err := repoManager.ChainSwap().Get(ctx, cs.Id)
	require.NoError(t, err)
	require.Equal(t, domain.ChainSwapUserLocked, got.Status)
	require.Equal(t, "user-lock", got.UserLockupTxId)

	svc.onChainSwapEvent(swap.ServerLockEvent{SwapID: cs.Id, TxID: "server-lock"})
	svc.onChainSwapEvent(swap.ClaimEvent{SwapID: cs.Id, TxID: "claim"})

	got, err = repoManager.ChainSwap().Get(ctx, cs.Id)
	require.NoError(t, err)
	require.Equal(t, domain.ChainSwapClaimed, got.Status)
	require.Equal(t, "server-lock", got.ServerLockupTxId)
	require.Equal(t, "claim", got.ClaimTxId)
	require.True(t, got.IsComplete())

	// events for unknown swaps are dropped
	svc.onChainSwapEvent(swap.FailEvent{SwapID: "missing", Error: "whatever"})
}

func TestToResumeParams(t *testing.T) {
	ctx := context.Background()
	svc, repoManager := newTestService(t)

	cs := domain.ChainSwap{
		Id:                      randomId(t),
		From:                    boltz.CurrencyArk,
		To:                      boltz.CurrencyBtc,
		Amount:                  30000,
		ClaimPreimage:           "aabbcc",
		BtcDestinationAddress:   "bcrt1p-destination",
		UserLockupTxId:          "user-lock",
		CreatedAt:               time.Now().Unix(),
		Status:                  domain.ChainSwapUserLocked,
		BoltzCreateResponseJSON: "{}",
	}
	require.NoError(t, repoManager.ChainSwap().Add(ctx, cs))

	// the destination address must survive the store round trip, resume of
	// an ark to btc swap is impossible without it
	got, err := repoManager.ChainSwap().Get(ctx, cs.Id)
	require.NoError(t, err)
	require.Equal(t, cs.BtcDestinationAddress, got.BtcDestinationAddress)

	params := svc.toResumeParams(*got)
	require.Equal(t, cs.Id, params.SwapID)
	require.Equal(t, boltz.CurrencyArk, params.From)
	require.Equal(t, boltz.CurrencyBtc, params.To)
	require.Equal(t, cs.BtcDestinationAddress, params.BtcDestinationAddress)
	require.Empty(t, params.UserBtcAddress)
	require.Equal(t, cs.ClaimPreimage, params.PreimageHex)
	require.Equal(t, cs.UserLockupTxId, params.UserLockTxid)
	require.Equal(t, swap.ChainSwapUserLocked, params.Status)
}

func TestGetPendingSwaps(t *testing.T) {
	ctx := context.Background()
	svc, repoManager := newTestService(t)

	storedSwap(t, repoManager, false)
	storedSwap(t, repoManager, true)

	require.NoError(t, repoManager.ChainSwap().Add(ctx, domain.ChainSwap{
		Id: randomId(t), From: boltz.CurrencyBtc, To: boltz.CurrencyArk,
		Amount: 1000, Status: domain.ChainSwapServerLocked,
	}))
	require.NoError(t, repoManager.ChainSwap().Add(ctx, domain.ChainSwap{
		Id: randomId(t), From: boltz.CurrencyArk, To: boltz.CurrencyBtc,
		Amount: 2000, Status: domain.ChainSwapRefunded,
	}))

	pendingSwaps, pendingChainSwaps, err := svc.GetPendingSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, pendingSwaps, 1)
	require.Len(t, pendingChainSwaps, 1)
	require.Equal(t, domain.ChainSwapServerLocked, pendingChainSwaps[0].Status)
}

func testOpts(t *testing.T) vhtlc.Opts {
	t.Helper()

	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiver, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	server, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	preimageHash := make([]byte, 20)
	_, err = rand.Read(preimageHash)
	require.NoError(t, err)

	return vhtlc.Opts{
		Sender:         sender.PubKey(),
		Receiver:       receiver.PubKey(),
		Server:         server.PubKey(),
		PreimageHash:   preimageHash,
		RefundLocktime: arklib.AbsoluteLocktime(800),
		UnilateralClaimDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 100,
		},
		UnilateralRefundDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 102,
		},
		UnilateralRefundWithoutReceiverDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 103,
		},
	}
}

func randomId(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf)
}
