package swap

import (
	"encoding/hex"
	"testing"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testSwapTree(t *testing.T) boltz.SwapTree {
	t.Helper()
	return boltz.SwapTree{
		ClaimLeaf:  boltz.SwapTreeLeaf{Version: 0xc0, Output: testClaimLeafHex},
		RefundLeaf: boltz.SwapTreeLeaf{Version: 0xc0, Output: testRefundLeafHex},
	}
}

func TestComputeSwapTreeMerkleRoot(t *testing.T) {
	tree := testSwapTree(t)

	root, err := computeSwapTreeMerkleRoot(tree)
	require.NoError(t, err)
	require.Len(t, root, 32)

	// swapping the leaves must yield the same root, branch hashing sorts
	// the children
	swapped := boltz.SwapTree{ClaimLeaf: tree.RefundLeaf, RefundLeaf: tree.ClaimLeaf}
	root2, err := computeSwapTreeMerkleRoot(swapped)
	require.NoError(t, err)
	require.Equal(t, root, root2)
}

func TestTapLeafHash(t *testing.T) {
	script, err := hex.DecodeString(testClaimLeafHex)
	require.NoError(t, err)

	got := tapLeafHash(0xc0, script)
	want := txscript.NewBaseTapLeaf(script).TapHash()
	require.Equal(t, want[:], got[:])
}

func TestCreateControlBlockFromSwapTree(t *testing.T) {
	tree := testSwapTree(t)

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	internalKey := key.PubKey()

	claimScript, err := hex.DecodeString(tree.ClaimLeaf.Output)
	require.NoError(t, err)
	refundScript, err := hex.DecodeString(tree.RefundLeaf.Output)
	require.NoError(t, err)

	t.Run("claim path", func(t *testing.T) {
		cb, err := createControlBlockFromSwapTree(internalKey, tree, true)
		require.NoError(t, err)
		require.Len(t, cb, 65)

		require.Equal(t, byte(txscript.BaseLeafVersion), cb[0]&0xfe)
		require.Equal(t, schnorr.SerializePubKey(internalKey), cb[1:33])

		// sibling of the claim leaf is the refund leaf
		siblingHash := txscript.NewBaseTapLeaf(refundScript).TapHash()
		require.Equal(t, siblingHash[:], cb[33:])
	})

	t.Run("refund path", func(t *testing.T) {
		cb, err := createControlBlockFromSwapTree(internalKey, tree, false)
		require.NoError(t, err)
		require.Len(t, cb, 65)

		siblingHash := txscript.NewBaseTapLeaf(claimScript).TapHash()
		require.Equal(t, siblingHash[:], cb[33:])
	})
}

func TestFindOutputForAddress(t *testing.T) {
	network := &chaincfg.RegressionNetParams

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	taprootAddr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(key.PubKey()), network)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(taprootAddr)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51, 0x20}})
	tx.AddTxOut(&wire.TxOut{Value: 42000, PkScript: pkScript})

	t.Run("found", func(t *testing.T) {
		vout, amount, err := findOutputForAddress(tx, taprootAddr.EncodeAddress(), network)
		require.NoError(t, err)
		require.Equal(t, uint32(1), vout)
		require.Equal(t, uint64(42000), amount)
	})

	t.Run("not found", func(t *testing.T) {
		otherKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		otherAddr, err := btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(otherKey.PubKey()), network,
		)
		require.NoError(t, err)

		_, _, err = findOutputForAddress(tx, otherAddr.EncodeAddress(), network)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not found")
	})

	t.Run("nil tx", func(t *testing.T) {
		_, _, err := findOutputForAddress(nil, taprootAddr.EncodeAddress(), network)
		require.Error(t, err)
	})

	t.Run("empty address", func(t *testing.T) {
		_, _, err := findOutputForAddress(tx, "", network)
		require.Error(t, err)
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	tx.AddTxOut(&wire.TxOut{Value: 1234, PkScript: []byte{0x51}})

	txHex, err := serializeTransaction(tx)
	require.NoError(t, err)

	decoded, err := deserializeTransaction(txHex)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), decoded.TxHash())
}

type stubExplorer struct {
	feeRate float64
}

func (s stubExplorer) BroadcastTransaction(*wire.MsgTx) (string, error) { return "", nil }
func (s stubExplorer) GetFeeRate() (float64, error)                     { return s.feeRate, nil }
func (s stubExplorer) GetCurrentBlockHeight() (uint32, error)           { return 0, nil }
func (s stubExplorer) GetTransaction(string) (string, error)            { return "", nil }
func (s stubExplorer) GetTransactionStatus(string) (*TxStatus, error)   { return nil, nil }

func TestConstructClaimTransaction(t *testing.T) {
	network := &chaincfg.RegressionNetParams

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	destAddr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(key.PubKey()), network)
	require.NoError(t, err)

	lockupTxid := chainhash.DoubleHashH([]byte("lockup")).String()
	const dust = 546

	params := func(lockupAmount uint64) ClaimTransactionParams {
		return ClaimTransactionParams{
			LockupTxid:      lockupTxid,
			LockupVout:      0,
			LockupAmount:    lockupAmount,
			DestinationAddr: destAddr.EncodeAddress(),
			Network:         network,
		}
	}

	t.Run("deducts fee from the lockup amount", func(t *testing.T) {
		tx, err := constructClaimTransaction(stubExplorer{feeRate: 1}, dust, params(100_000))
		require.NoError(t, err)
		require.Len(t, tx.TxOut, 1)
		require.Greater(t, tx.TxOut[0].Value, int64(0))
		require.Less(t, tx.TxOut[0].Value, int64(100_000))
	})

	t.Run("fee above the lockup amount", func(t *testing.T) {
		// the fee exceeds the lockup here, the unsigned delta must not wrap
		// around past the dust check
		_, err := constructClaimTransaction(stubExplorer{feeRate: 100}, dust, params(200))
		require.Error(t, err)
		require.Contains(t, err.Error(), "not enough funds")
	})

	t.Run("remainder below dust", func(t *testing.T) {
		_, err := constructClaimTransaction(stubExplorer{feeRate: 1}, dust, params(700))
		require.Error(t, err)
		require.Contains(t, err.Error(), "not enough funds")
	})
}

func TestComputeAggregateInternalKey(t *testing.T) {
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	clientKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	agg1, err := computeAggregateInternalKey(serverKey.PubKey(), clientKey.PubKey())
	require.NoError(t, err)

	// key order matters, aggregation is not commutative
	agg2, err := computeAggregateInternalKey(clientKey.PubKey(), serverKey.PubKey())
	require.NoError(t, err)
	require.NotEqual(t, agg1.SerializeCompressed(), agg2.SerializeCompressed())
}
