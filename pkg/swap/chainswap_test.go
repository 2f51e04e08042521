package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
	"github.com/stretchr/testify/require"
)

func testVhtlcOpts(t *testing.T) *vhtlc.Opts {
	t.Helper()

	senderKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	preimage := make([]byte, 32)
	_, err = rand.Read(preimage)
	require.NoError(t, err)
	buf := sha256.Sum256(preimage)

	return &vhtlc.Opts{
		Sender:         senderKey.PubKey(),
		Receiver:       receiverKey.PubKey(),
		Server:         serverKey.PubKey(),
		PreimageHash:   input.Ripemd160H(buf[:]),
		RefundLocktime: arklib.AbsoluteLocktime(1000),
		UnilateralClaimDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 100,
		},
		UnilateralRefundDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 200,
		},
		UnilateralRefundWithoutReceiverDelay: arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 300,
		},
	}
}

func TestNewChainSwap(t *testing.T) {
	opts := testVhtlcOpts(t)
	preimage := make([]byte, 32)

	t.Run("valid", func(t *testing.T) {
		swap, err := NewChainSwap("swap1", 5000, preimage, opts, "{}", nil)
		require.NoError(t, err)
		require.Equal(t, "swap1", swap.Id)
		require.Equal(t, uint64(5000), swap.Amount)
		require.Equal(t, ChainSwapPending, swap.Status)
		require.NotZero(t, swap.Timestamp)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := NewChainSwap("", 5000, preimage, opts, "", nil)
		require.Error(t, err)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := NewChainSwap("swap1", 0, preimage, opts, "", nil)
		require.Error(t, err)
	})

	t.Run("nil preimage", func(t *testing.T) {
		_, err := NewChainSwap("swap1", 5000, nil, opts, "", nil)
		require.Error(t, err)
	})

	t.Run("nil vhtlc opts", func(t *testing.T) {
		_, err := NewChainSwap("swap1", 5000, preimage, nil, "", nil)
		require.Error(t, err)
	})
}

func TestChainSwapTransitions(t *testing.T) {
	opts := testVhtlcOpts(t)
	preimage := make([]byte, 32)

	newSwap := func(t *testing.T, cb ChainSwapEventCallback) *ChainSwap {
		swap, err := NewChainSwap("swap1", 5000, preimage, opts, "{}", cb)
		require.NoError(t, err)
		return swap
	}

	t.Run("user lock", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.UserLock("txid1")

		require.Equal(t, ChainSwapUserLocked, swap.Status)
		require.Equal(t, "txid1", swap.UserLockTxid)
		require.Equal(t, UserLockEvent{SwapID: "swap1", TxID: "txid1"}, got)
	})

	t.Run("server lock", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.ServerLock("txid2")

		require.Equal(t, ChainSwapServerLocked, swap.Status)
		require.Equal(t, "txid2", swap.ServerLockTxid)
		require.Equal(t, ServerLockEvent{SwapID: "swap1", TxID: "txid2"}, got)
	})

	t.Run("claim", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.Claim("txid3")

		require.Equal(t, ChainSwapClaimed, swap.Status)
		require.Equal(t, "txid3", swap.ClaimTxid)
		require.Equal(t, ClaimEvent{SwapID: "swap1", TxID: "txid3"}, got)
	})

	t.Run("refund", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.Refund("txid4")

		require.Equal(t, ChainSwapRefunded, swap.Status)
		require.Equal(t, "txid4", swap.RefundTxid)
		require.Equal(t, RefundEvent{SwapID: "swap1", TxID: "txid4"}, got)
	})

	t.Run("unilateral refund", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.RefundUnilaterally("txid5")

		require.Equal(t, ChainSwapRefundedUnilaterally, swap.Status)
		require.Equal(t, "txid5", swap.RefundTxid)
		require.Equal(t, UnilateralRefundEvent{SwapID: "swap1", TxID: "txid5"}, got)
	})

	t.Run("fail", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.Fail("boom")

		require.Equal(t, ChainSwapFailed, swap.Status)
		require.Equal(t, "boom", swap.Error)
		require.Equal(t, FailEvent{SwapID: "swap1", Error: "boom"}, got)
	})

	t.Run("refund failed", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.RefundFailed("no luck")

		require.Equal(t, ChainSwapRefundFailed, swap.Status)
		require.Equal(t, RefundFailedEvent{SwapID: "swap1", Error: "no luck"}, got)
	})

	t.Run("user lock failed", func(t *testing.T) {
		var got ChainSwapEvent
		swap := newSwap(t, func(e ChainSwapEvent) { got = e })

		swap.UserLockedFailed("amount mismatch")

		require.Equal(t, ChainSwapUserLockedFailed, swap.Status)
		require.Equal(t, UserLockFailedEvent{SwapID: "swap1", Error: "amount mismatch"}, got)
	})

	t.Run("nil callback is safe", func(t *testing.T) {
		swap := newSwap(t, nil)
		swap.UserLock("txid")
		swap.Fail("err")
		require.Equal(t, ChainSwapFailed, swap.Status)
	})
}

func TestGenPreimageInfo(t *testing.T) {
	preimage, hashSHA256, hashHASH160, err := genPreimageInfo()
	require.NoError(t, err)
	require.Len(t, preimage, 32)
	require.Len(t, hashSHA256, 32)
	require.Len(t, hashHASH160, 20)

	sha := sha256.Sum256(preimage)
	require.Equal(t, sha[:], hashSHA256)
	require.Equal(t, input.Ripemd160H(sha[:]), hashHASH160)

	// a second call must not repeat the preimage
	preimage2, _, _, err := genPreimageInfo()
	require.NoError(t, err)
	require.NotEqual(t, preimage, preimage2)
}
