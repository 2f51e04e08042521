package swap

import (
	"encoding/hex"
	"testing"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

const (
	// OP_SIZE 0x20 OP_EQUALVERIFY OP_HASH160 <hash160> OP_EQUALVERIFY <xonly> OP_CHECKSIG
	testClaimLeafHex = "82012088a914608bc8a727928e8aa18c7a2489c003deb47ff08388207599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83acac"
	// <xonly> OP_CHECKSIGVERIFY <0x02f8 LE> OP_CHECKLOCKTIMEVERIFY
	testRefundLeafHex = "207599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83acad02f802b1"
)

func TestValidateClaimLeafScript(t *testing.T) {
	t.Run("valid script", func(t *testing.T) {
		components, err := validateClaimLeafScript(testClaimLeafHex)
		require.NoError(t, err)
		require.Equal(t,
			"608bc8a727928e8aa18c7a2489c003deb47ff083",
			hex.EncodeToString(components.PreimageHash[:]),
		)
		require.Equal(t,
			"7599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83ac",
			hex.EncodeToString(components.ClaimPubKey[:]),
		)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := validateClaimLeafScript("not-hex")
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := validateClaimLeafScript("8201")
		require.Error(t, err)
		require.Contains(t, err.Error(), "script too short")
	})

	t.Run("wrong leading opcode", func(t *testing.T) {
		// OP_SIZE replaced with OP_DUP
		tampered := "76" + testClaimLeafHex[2:]
		_, err := validateClaimLeafScript(tampered)
		require.Error(t, err)
		require.Contains(t, err.Error(), "OP_SIZE")
	})

	t.Run("trailing bytes rejected", func(t *testing.T) {
		_, err := validateClaimLeafScript(testClaimLeafHex + "00")
		require.Error(t, err)
		require.Contains(t, err.Error(), "extra bytes")
	})
}

func TestValidateRefundLeafScript(t *testing.T) {
	t.Run("valid script", func(t *testing.T) {
		components, err := ValidateRefundLeafScript(testRefundLeafHex)
		require.NoError(t, err)
		require.Equal(t,
			"7599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83ac",
			hex.EncodeToString(components.RefundPubKey[:]),
		)
		require.Equal(t, uint32(760), components.Timeout)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := ValidateRefundLeafScript("zz")
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ValidateRefundLeafScript("20ab")
		require.Error(t, err)
		require.Contains(t, err.Error(), "refund script too short")
	})

	t.Run("missing CLTV opcode", func(t *testing.T) {
		// final OP_CHECKLOCKTIMEVERIFY replaced with OP_CHECKSEQUENCEVERIFY
		tampered := testRefundLeafHex[:len(testRefundLeafHex)-2] + "b2"
		_, err := ValidateRefundLeafScript(tampered)
		require.Error(t, err)
		require.Contains(t, err.Error(), "OP_CHECKLOCKTIMEVERIFY")
	})
}

func TestValidateSwapTree(t *testing.T) {
	validTree := boltz.SwapTree{
		ClaimLeaf:  boltz.SwapTreeLeaf{Version: 0xc0, Output: testClaimLeafHex},
		RefundLeaf: boltz.SwapTreeLeaf{Version: 0xc0, Output: testRefundLeafHex},
	}

	t.Run("valid tree", func(t *testing.T) {
		require.NoError(t, validateSwapTree(validTree))
	})

	t.Run("empty claim leaf", func(t *testing.T) {
		tree := validTree
		tree.ClaimLeaf.Output = ""
		require.Error(t, validateSwapTree(tree))
	})

	t.Run("wrong leaf version", func(t *testing.T) {
		tree := validTree
		tree.RefundLeaf.Version = 0xc1
		err := validateSwapTree(tree)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid refund leaf version")
	})

	t.Run("invalid hex", func(t *testing.T) {
		tree := validTree
		tree.ClaimLeaf.Output = "xyz"
		require.Error(t, validateSwapTree(tree))
	})
}

func TestValidateClaimPath(t *testing.T) {
	claimPubKeyBytes, err := hex.DecodeString(
		"7599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83ac",
	)
	require.NoError(t, err)
	claimPubKey, err := schnorr.ParsePubKey(claimPubKeyBytes)
	require.NoError(t, err)

	preimageHash, err := hex.DecodeString("608bc8a727928e8aa18c7a2489c003deb47ff083")
	require.NoError(t, err)

	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverPubKeyHex := hex.EncodeToString(serverKey.PubKey().SerializeCompressed())

	tree := boltz.SwapTree{
		ClaimLeaf:  boltz.SwapTreeLeaf{Version: 0xc0, Output: testClaimLeafHex},
		RefundLeaf: boltz.SwapTreeLeaf{Version: 0xc0, Output: testRefundLeafHex},
	}

	t.Run("valid", func(t *testing.T) {
		err := validateClaimPath(tree, serverPubKeyHex, claimPubKey, preimageHash)
		require.NoError(t, err)
	})

	t.Run("wrong claim pubkey", func(t *testing.T) {
		otherKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		err = validateClaimPath(tree, serverPubKeyHex, otherKey.PubKey(), preimageHash)
		require.Error(t, err)
		require.Contains(t, err.Error(), "claim pubkey mismatch")
	})

	t.Run("wrong preimage hash", func(t *testing.T) {
		wrongHash := make([]byte, 20)
		err := validateClaimPath(tree, serverPubKeyHex, claimPubKey, wrongHash)
		require.Error(t, err)
		require.Contains(t, err.Error(), "preimage hash mismatch")
	})

	t.Run("empty server pubkey", func(t *testing.T) {
		err := validateClaimPath(tree, "", claimPubKey, preimageHash)
		require.Error(t, err)
	})
}

func TestValidateRefundPath(t *testing.T) {
	refundPubKeyBytes, err := hex.DecodeString(
		"7599756afc49ebf5a6f3ac5848ef0afe934edd7b669bca02029acf10cc7f83ac",
	)
	require.NoError(t, err)
	refundPubKey, err := schnorr.ParsePubKey(refundPubKeyBytes)
	require.NoError(t, err)

	tree := boltz.SwapTree{
		ClaimLeaf:  boltz.SwapTreeLeaf{Version: 0xc0, Output: testClaimLeafHex},
		RefundLeaf: boltz.SwapTreeLeaf{Version: 0xc0, Output: testRefundLeafHex},
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validateRefundPath(tree, refundPubKey, 760))
	})

	t.Run("timeout mismatch", func(t *testing.T) {
		err := validateRefundPath(tree, refundPubKey, 761)
		require.Error(t, err)
		require.Contains(t, err.Error(), "timeout mismatch")
	})

	t.Run("wrong refund pubkey", func(t *testing.T) {
		otherKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		err = validateRefundPath(tree, otherKey.PubKey(), 760)
		require.Error(t, err)
		require.Contains(t, err.Error(), "refund pubkey mismatch")
	})

	t.Run("nil refund pubkey", func(t *testing.T) {
		err := validateRefundPath(tree, nil, 760)
		require.Error(t, err)
	})
}

func TestEncodeP2TRAddress(t *testing.T) {
	t.Run("wrong key length", func(t *testing.T) {
		_, err := encodeP2TRAddress(nil, make([]byte, 31))
		require.Error(t, err)
		require.Contains(t, err.Error(), "32 bytes")
	})
}
