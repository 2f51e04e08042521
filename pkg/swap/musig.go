package swap

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MuSigContext drives the cooperative 2-of-2 key-path spend of a chain swap
// lockup. It deliberately avoids the musig2.Session API: the counterparty
// exchanges bare pub nonces and 32-byte partial signature scalars, so we run
// GenNonces / AggregateNonces / Sign / CombineSigs by hand with the taproot
// tweak applied at sign and combine time.
type MuSigContext struct {
	privateKey     *btcec.PrivateKey
	publicKey      *btcec.PublicKey
	theirPublicKey *btcec.PublicKey

	ourNonces *musig2.Nonces
}

func NewMuSigContext(ourPriv *btcec.PrivateKey, theirPub *btcec.PublicKey) (*MuSigContext, error) {
	if ourPriv == nil {
		return nil, fmt.Errorf("nil private key")
	}
	if theirPub == nil {
		return nil, fmt.Errorf("nil counterparty public key")
	}

	return &MuSigContext{
		privateKey:     ourPriv,
		publicKey:      ourPriv.PubKey(),
		theirPublicKey: theirPub,
	}, nil
}

// Keys returns the signer keyset with the counterparty first. The server
// aggregates in this order, keys are not sorted.
func (c *MuSigContext) Keys() []*btcec.PublicKey {
	return []*btcec.PublicKey{c.theirPublicKey, c.publicKey}
}

// GenerateNonce creates a fresh nonce pair. The secret nonce must never be
// reused for a different message.
func (c *MuSigContext) GenerateNonce() ([66]byte, error) {
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(c.publicKey),
	)
	if err != nil {
		return [66]byte{}, fmt.Errorf("failed to generate nonces: %w", err)
	}

	c.ourNonces = nonces
	return nonces.PubNonce, nil
}

func (c *MuSigContext) AggregateNonces(theirNonce [66]byte) ([66]byte, error) {
	if c.ourNonces == nil {
		return [66]byte{}, fmt.Errorf("nonce not generated")
	}

	combined, err := musig2.AggregateNonces([][66]byte{
		c.ourNonces.PubNonce,
		theirNonce,
	})
	if err != nil {
		return [66]byte{}, fmt.Errorf("failed to aggregate nonces: %w", err)
	}

	return combined, nil
}

// TaprootMessage computes the BIP341 key-path sighash for the given input.
func TaprootMessage(
	tx *wire.MsgTx,
	inputIndex int,
	prevOutFetcher txscript.PrevOutputFetcher,
) ([32]byte, error) {
	if tx == nil {
		return [32]byte{}, fmt.Errorf("nil tx")
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return [32]byte{}, fmt.Errorf("input index %d out of range", inputIndex)
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)
	sigHash, err := txscript.CalcTaprootSignatureHash(
		sigHashes,
		txscript.SigHashDefault,
		tx,
		inputIndex,
		prevOutFetcher,
	)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to compute taproot sighash: %w", err)
	}

	var msg [32]byte
	copy(msg[:], sigHash)
	return msg, nil
}

// OurPartialSign signs msg with the taproot tweak for merkleRoot. The tweak
// must match the one used to derive the lockup output key.
func (c *MuSigContext) OurPartialSign(
	combinedNonce [66]byte,
	keys []*btcec.PublicKey,
	msg [32]byte,
	merkleRoot []byte,
) (*musig2.PartialSignature, error) {
	if c.ourNonces == nil {
		return nil, fmt.Errorf("nonce not generated")
	}
	if len(merkleRoot) != 32 {
		return nil, fmt.Errorf("invalid merkle root length: got %d want 32", len(merkleRoot))
	}

	partialSig, err := musig2.Sign(
		c.ourNonces.SecNonce,
		c.privateKey,
		combinedNonce,
		keys,
		msg,
		musig2.WithTaprootSignTweak(merkleRoot),
		musig2.WithFastSign(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return partialSig, nil
}

// CombineFinalSig combines the partial signatures into a schnorr signature
// valid for the tweaked output key.
func CombineFinalSig(
	combinedNoncePoint *btcec.PublicKey,
	allSigs []*musig2.PartialSignature,
	keys []*btcec.PublicKey,
	msg [32]byte,
	merkleRoot []byte,
) (*schnorr.Signature, error) {
	if combinedNoncePoint == nil {
		return nil, fmt.Errorf("nil combined nonce point")
	}
	if len(allSigs) == 0 {
		return nil, fmt.Errorf("no partial sigs")
	}
	if len(merkleRoot) != 32 {
		return nil, fmt.Errorf("invalid merkle root length: got %d want 32", len(merkleRoot))
	}

	sig := musig2.CombineSigs(
		combinedNoncePoint,
		allSigs,
		musig2.WithTaprootTweakedCombine(msg, keys, merkleRoot, false),
	)
	if sig == nil {
		return nil, fmt.Errorf("failed to combine partial signatures")
	}

	return sig, nil
}

// ComputeTweakedOutputKey derives the P2TR output key for {keys, merkleRoot}.
func ComputeTweakedOutputKey(keys []*btcec.PublicKey, merkleRoot []byte) (*btcec.PublicKey, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("empty key set")
	}
	if len(merkleRoot) != 32 {
		return nil, fmt.Errorf("invalid merkle root length: got %d want 32", len(merkleRoot))
	}

	agg, _, _, err := musig2.AggregateKeys(keys, false)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate keys: %w", err)
	}

	return txscript.ComputeTaprootOutputKey(agg.FinalKey, merkleRoot), nil
}

// VerifyFinalSig checks the combined signature against the tweaked output
// key before anything is broadcast.
func VerifyFinalSig(msg [32]byte, finalSig *schnorr.Signature, tweakedOutputKey *btcec.PublicKey) error {
	if finalSig == nil {
		return fmt.Errorf("nil signature")
	}
	if tweakedOutputKey == nil {
		return fmt.Errorf("nil output key")
	}
	if !finalSig.Verify(msg[:], tweakedOutputKey) {
		return fmt.Errorf("final signature verification failed")
	}
	return nil
}

// ParsePubNonce decodes a 66-byte musig2 public nonce from hex.
func ParsePubNonce(nonceHex string) ([66]byte, error) {
	if len(nonceHex) != 132 {
		return [66]byte{}, fmt.Errorf("invalid nonce length: got %d want 132 hex chars", len(nonceHex))
	}
	buf, err := hex.DecodeString(nonceHex)
	if err != nil {
		return [66]byte{}, fmt.Errorf("failed to decode nonce: %w", err)
	}
	var nonce [66]byte
	copy(nonce[:], buf)
	return nonce, nil
}

func SerializePubNonce(nonce [66]byte) string {
	return hex.EncodeToString(nonce[:])
}

// ParsePartialSignatureScalar32 parses the counterparty's partial signature:
// a bare 32-byte S scalar, not the musig2.PartialSignature wire encoding.
// R stays nil, the combined nonce point comes from our own partial sig.
func ParsePartialSignatureScalar32(sigHex string) (*musig2.PartialSignature, error) {
	buf, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode partial sig: %w", err)
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("invalid partial sig length: got %d want 32", len(buf))
	}

	partialSig := &musig2.PartialSignature{
		S: new(btcec.ModNScalar),
	}
	if overflow := partialSig.S.SetByteSlice(buf); overflow {
		return nil, fmt.Errorf("partial sig scalar overflow")
	}

	return partialSig, nil
}

func NewPrevOutputFetcher(prevOut *wire.TxOut, prevOutPoint wire.OutPoint) txscript.PrevOutputFetcher {
	return txscript.NewMultiPrevOutFetcher(map[wire.OutPoint]*wire.TxOut{
		prevOutPoint: prevOut,
	})
}
