package db_test

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
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestRepoManager(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "badger",
			config: db.ServiceConfig{
				DbType:   "badger",
				DbConfig: []any{"", nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testSwapRepository(t, svc)
			testChainSwapRepository(t, svc)
			testVHTLCRepository(t, svc)
		})
	}
}

func TestRepoManagerInvalidConfig(t *testing.T) {
	_, err := db.NewService(db.ServiceConfig{DbType: "postgres"})
	require.Error(t, err)

	_, err = db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{"only-one"}})
	require.Error(t, err)
}

func testSwapRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.Swap()

	swap := makeSwap(t)
	second := makeSwap(t)

	t.Run("add and get swaps", func(t *testing.T) {
		count, err := repo.Add(ctx, []domain.Swap{swap, second})
		require.NoError(t, err)
		require.Equal(t, 2, count)

		got, err := repo.Get(ctx, swap.Id)
		require.NoError(t, err)
		require.Equal(t, swap.Id, got.Id)
		require.Equal(t, swap.Amount, got.Amount)
		require.Equal(t, swap.Invoice, got.Invoice)
		require.True(t, swap.Vhtlc.Sender.IsEqual(got.Vhtlc.Sender))

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
	})

	t.Run("add skips existing swaps", func(t *testing.T) {
		count, err := repo.Add(ctx, []domain.Swap{swap, makeSwap(t)})
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})

	t.Run("update swap", func(t *testing.T) {
		swap.Status = domain.SwapSuccess
		swap.RedeemTxId = "redeem-txid"
		require.NoError(t, repo.Update(ctx, swap))

		got, err := repo.Get(ctx, swap.Id)
		require.NoError(t, err)
		require.Equal(t, domain.SwapSuccess, got.Status)
		require.Equal(t, "redeem-txid", got.RedeemTxId)
		require.True(t, got.IsRedeemed())
	})

	t.Run("get missing swap", func(t *testing.T) {
		_, err := repo.Get(ctx, "does-not-exist")
		require.Error(t, err)
	})

	t.Run("update missing swap", func(t *testing.T) {
		missing := makeSwap(t)
		require.Error(t, repo.Update(ctx, missing))
	})
}

func testChainSwapRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.ChainSwap()

	swap := domain.ChainSwap{
		Id:            randomId(t),
		From:          boltz.CurrencyArk,
		To:            boltz.CurrencyBtc,
		ClaimPreimage: randomId(t),
		Amount:        21000,
		CreatedAt:     time.Now().Unix(),
		Status:        domain.ChainSwapPending,
	}

	t.Run("add and get chain swap", func(t *testing.T) {
		require.NoError(t, repo.Add(ctx, swap))

		got, err := repo.Get(ctx, swap.Id)
		require.NoError(t, err)
		require.Equal(t, swap, *got)

		require.Error(t, repo.Add(ctx, swap))
	})

	t.Run("get by status", func(t *testing.T) {
		pending, err := repo.GetByStatus(ctx, domain.ChainSwapPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		claimed, err := repo.GetByStatus(ctx, domain.ChainSwapClaimed)
		require.NoError(t, err)
		require.Empty(t, claimed)
	})

	t.Run("update chain swap", func(t *testing.T) {
		swap.Claimed("claim-txid")
		require.NoError(t, repo.Update(ctx, swap))

		got, err := repo.Get(ctx, swap.Id)
		require.NoError(t, err)
		require.Equal(t, domain.ChainSwapClaimed, got.Status)
		require.Equal(t, "claim-txid", got.ClaimTxId)
		require.True(t, got.IsComplete())
	})

	t.Run("get missing chain swap", func(t *testing.T) {
		_, err := repo.Get(ctx, "does-not-exist")
		require.Error(t, err)
	})
}

func testVHTLCRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.VHTLC()

	vHTLC := domain.NewVhtlc(makeVhtlcOpts(t))

	t.Run("add and get vhtlc", func(t *testing.T) {
		require.NoError(t, repo.Add(ctx, vHTLC))

		got, err := repo.Get(ctx, vHTLC.Id)
		require.NoError(t, err)
		require.Equal(t, vHTLC.Id, got.Id)
		require.Equal(t, vHTLC.PreimageHash, got.PreimageHash)
		require.True(t, vHTLC.Sender.IsEqual(got.Sender))
		require.True(t, vHTLC.Receiver.IsEqual(got.Receiver))
		require.True(t, vHTLC.Server.IsEqual(got.Server))
	})

	t.Run("duplicate vhtlc", func(t *testing.T) {
		err := repo.Add(ctx, vHTLC)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already exists")
	})

	t.Run("get all vhtlcs", func(t *testing.T) {
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})
}

func makeSwap(t *testing.T) domain.Swap {
	t.Helper()
	return domain.Swap{
		Id:        randomId(t),
		Amount:    10000,
		Timestamp: time.Now().Unix(),
		From:      boltz.CurrencyBtc,
		To:        boltz.CurrencyArk,
		Status:    domain.SwapPending,
		Type:      domain.SwapRegular,
		Invoice:   "lnbcrt100u1...",
		Vhtlc:     domain.NewVhtlc(makeVhtlcOpts(t)),
	}
}

func makeVhtlcOpts(t *testing.T) vhtlc.Opts {
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
		RefundLocktime: arklib.AbsoluteLocktime(100),
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
