package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/stretchr/testify/require"
)

func TestMuSigContextKeys(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	theirKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ctx, err := NewMuSigContext(ourKey, theirKey.PubKey())
	require.NoError(t, err)

	// the counterparty key comes first, the server aggregates in this order
	keys := ctx.Keys()
	require.Len(t, keys, 2)
	require.Equal(t, theirKey.PubKey(), keys[0])
	require.Equal(t, ourKey.PubKey(), keys[1])
}

func TestParsePubNonce(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ctx, err := NewMuSigContext(key, key.PubKey())
	require.NoError(t, err)

	nonce, err := ctx.GenerateNonce()
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		parsed, err := ParsePubNonce(SerializePubNonce(nonce))
		require.NoError(t, err)
		require.Equal(t, nonce, parsed)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParsePubNonce(hex.EncodeToString(nonce[:33]))
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid nonce length")
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := ParsePubNonce(strings.Repeat("zz", 66))
		require.Error(t, err)
	})
}

func TestParsePartialSignatureScalar32(t *testing.T) {
	t.Run("bare scalar", func(t *testing.T) {
		var want btcec.ModNScalar
		want.SetInt(7)
		buf := want.Bytes()

		sig, err := ParsePartialSignatureScalar32(hex.EncodeToString(buf[:]))
		require.NoError(t, err)
		require.Nil(t, sig.R)
		require.True(t, sig.S.Equals(&want))
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParsePartialSignatureScalar32("aabbcc")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid partial sig length")
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := ParsePartialSignatureScalar32(strings.Repeat("zz", 32))
		require.Error(t, err)
	})
}

// The full cooperative key-path signing flow between two local signers: nonce
// exchange, aggregation, tweaked partial signing and combining, with the
// counterparty's partial signature going through the bare scalar wire format.
func TestMuSigSigningRoundTrip(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	theirKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ourCtx, err := NewMuSigContext(ourKey, theirKey.PubKey())
	require.NoError(t, err)
	theirCtx, err := NewMuSigContext(theirKey, ourKey.PubKey())
	require.NoError(t, err)

	ourNonce, err := ourCtx.GenerateNonce()
	require.NoError(t, err)
	theirNonce, err := theirCtx.GenerateNonce()
	require.NoError(t, err)

	combined, err := ourCtx.AggregateNonces(theirNonce)
	require.NoError(t, err)
	combinedTheirs, err := theirCtx.AggregateNonces(ourNonce)
	require.NoError(t, err)
	require.Equal(t, combined, combinedTheirs)

	// both sides sign over the same key ordering
	keys := ourCtx.Keys()
	msg := sha256.Sum256([]byte("claim tx sighash"))
	rootHash := sha256.Sum256([]byte("swap tree"))
	merkleRoot := rootHash[:]

	ourSig, err := ourCtx.OurPartialSign(combined, keys, msg, merkleRoot)
	require.NoError(t, err)
	theirSig, err := theirCtx.OurPartialSign(combined, keys, msg, merkleRoot)
	require.NoError(t, err)

	// the counterparty sends its partial signature as a bare 32-byte scalar
	theirScalar := theirSig.S.Bytes()
	parsedTheirs, err := ParsePartialSignatureScalar32(hex.EncodeToString(theirScalar[:]))
	require.NoError(t, err)

	finalSig, err := CombineFinalSig(
		ourSig.R,
		[]*musig2.PartialSignature{ourSig, parsedTheirs},
		keys, msg, merkleRoot,
	)
	require.NoError(t, err)

	outputKey, err := ComputeTweakedOutputKey(keys, merkleRoot)
	require.NoError(t, err)
	require.NoError(t, VerifyFinalSig(msg, finalSig, outputKey))

	// a signature over the wrong message must not verify
	wrongMsg := sha256.Sum256([]byte("some other tx"))
	require.Error(t, VerifyFinalSig(wrongMsg, finalSig, outputKey))
}

func TestOurPartialSignValidation(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ctx, err := NewMuSigContext(key, other.PubKey())
	require.NoError(t, err)
	msg := sha256.Sum256([]byte("msg"))

	t.Run("nonce not generated", func(t *testing.T) {
		_, err := ctx.OurPartialSign([66]byte{}, ctx.Keys(), msg, make([]byte, 32))
		require.Error(t, err)
		require.Contains(t, err.Error(), "nonce not generated")
	})

	t.Run("bad merkle root length", func(t *testing.T) {
		_, err := ctx.GenerateNonce()
		require.NoError(t, err)

		_, err = ctx.OurPartialSign([66]byte{}, ctx.Keys(), msg, make([]byte, 20))
		require.Error(t, err)
		require.Contains(t, err.Error(), "merkle root")
	})
}
