package main

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
)

// swapRecord is the server side view of one chain swap. BTC fields describe
// the taproot lockup on the base chain, ARK fields the virtual HTLC on the
// batch tree side.
type swapRecord struct {
	ID                 string
	From               boltz.Currency
	To                 boltz.Currency
	CreatedAt          time.Time
	PreimageHashSHA256 string
	PreimageHash160    []byte

	ClaimPubKey  *btcec.PublicKey
	RefundPubKey *btcec.PublicKey

	ClaimPubKeyHex  string
	RefundPubKeyHex string
	ServerPubKeyHex string

	UserLockAmount   uint64
	ServerLockAmount uint64

	BTCSwapTree      boltz.SwapTree
	BTCLockupScript  []byte
	BTCLockupAddress string
	BTCTimeoutHeight uint32

	ARKLockupAddress string
	ARKTimeouts      boltz.ArkTimeouts

	UserLockTxID    string
	UserLockTxHex   string
	ServerLockTxID  string
	ServerLockTxHex string

	LastStatus string

	QuoteGets      int
	QuoteAccepts   int
	LastQuote      boltz.QuoteResponse
	ClaimRequests  int
	RefundRequests int
}

func (r *swapRecord) MarshalJSON() ([]byte, error) {
	type view struct {
		ID               string              `json:"id"`
		From             string              `json:"from"`
		To               string              `json:"to"`
		CreatedAt        string              `json:"createdAt"`
		LastStatus       string              `json:"lastStatus"`
		UserLockAmount   uint64              `json:"userLockAmount"`
		ServerLockAmount uint64              `json:"serverLockAmount"`
		BTCLockupAddress string              `json:"btcLockupAddress"`
		ARKLockupAddress string              `json:"arkLockupAddress"`
		QuoteGets        int                 `json:"quoteGets"`
		QuoteAccepts     int                 `json:"quoteAccepts"`
		ClaimRequests    int                 `json:"claimRequests"`
		RefundRequests   int                 `json:"refundRequests"`
		LastQuote        boltz.QuoteResponse `json:"lastQuote"`
		UserLockTxID     string              `json:"userLockTxid"`
		ServerLockTxID   string              `json:"serverLockTxid"`
	}
	return json.Marshal(view{
		ID:               r.ID,
		From:             string(r.From),
		To:               string(r.To),
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		LastStatus:       r.LastStatus,
		UserLockAmount:   r.UserLockAmount,
		ServerLockAmount: r.ServerLockAmount,
		BTCLockupAddress: r.BTCLockupAddress,
		ARKLockupAddress: r.ARKLockupAddress,
		QuoteGets:        r.QuoteGets,
		QuoteAccepts:     r.QuoteAccepts,
		ClaimRequests:    r.ClaimRequests,
		RefundRequests:   r.RefundRequests,
		LastQuote:        r.LastQuote,
		UserLockTxID:     r.UserLockTxID,
		ServerLockTxID:   r.ServerLockTxID,
	})
}

// mintServerLockTx fabricates the server lockup transaction paying the BTC
// lockup script. Only the output matters to the client, the input spends a
// synthetic outpoint.
func (r *swapRecord) mintServerLockTx() error {
	if r.ServerLockTxHex != "" && r.ServerLockTxID != "" {
		return nil
	}

	tx := wire.NewMsgTx(2)
	fakePrev := chainhash.DoubleHashH([]byte("mock-server-lock-" + r.ID))
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: fakePrev, Index: 0},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: int64(r.ServerLockAmount), PkScript: r.BTCLockupScript})

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize server lock tx: %w", err)
	}
	r.ServerLockTxHex = hex.EncodeToString(buf.Bytes())
	r.ServerLockTxID = tx.TxHash().String()
	return nil
}

func (s *server) newSwapRecord(req boltz.CreateChainSwapRequest) (*boltz.CreateChainSwapResponse, *swapRecord, error) {
	claimPubKey, refundPubKey, hash160, err := validateCreateRequest(req)
	if err != nil {
		return nil, nil, err
	}

	lockAmount := req.UserLockAmount
	if lockAmount == 0 {
		lockAmount = req.ServerLockAmount
	}
	if lockAmount == 0 {
		return nil, nil, fmt.Errorf("lock amount is required")
	}
	serverAmount := s.serverLegAmount(lockAmount)

	arkToBtc := req.From == boltz.CurrencyArk && req.To == boltz.CurrencyBtc
	btcToArk := req.From == boltz.CurrencyBtc && req.To == boltz.CurrencyArk
	if !arkToBtc && !btcToArk {
		return nil, nil, fmt.Errorf("unsupported direction %s -> %s", req.From, req.To)
	}

	b := s.currentBehavior()

	// On the BTC leg the server holds whichever role the direction leaves
	// open: it claims what the user locks up, or refunds what it locked up
	// itself.
	claimKey, refundKey, lockupCosigner := xOnly(claimPubKey), xOnly(s.pubKey), claimPubKey
	if btcToArk {
		claimKey, refundKey, lockupCosigner = xOnly(s.pubKey), xOnly(refundPubKey), refundPubKey
	}

	tree, err := newLockupTree(hash160, claimKey, refundKey, b.BtcLockupTimeoutBlocks)
	if err != nil {
		return nil, nil, err
	}
	btcAddress, btcScript, err := s.deriveBtcLockup(lockupCosigner, tree)
	if err != nil {
		return nil, nil, err
	}

	// Advertised timeout and script locktime must stay identical: the client
	// re-derives the lockup address from the advertised timeouts and rejects
	// the swap on any mismatch. The optional safety margin moves both
	// backwards for regtest determinism.
	refundAt := time.Now().Unix() + b.ArkRefundLocktimeSeconds - b.ArkRefundSafetyMarginSeconds
	if b.ArkRefundAtUnix > 0 {
		refundAt = b.ArkRefundAtUnix
	}
	arkTimeouts := boltz.ArkTimeouts{
		Refund:                          int(refundAt),
		UnilateralClaim:                 int(b.UnilateralClaimDelay),
		UnilateralRefund:                int(b.UnilateralRefundDelay),
		UnilateralRefundWithoutReceiver: int(b.UnilateralRefundNoRecvDelay),
	}
	arkAddress, err := s.deriveArkLockup(arkToBtc, claimPubKey, refundPubKey, hash160, refundAt, b)
	if err != nil {
		return nil, nil, err
	}

	rec := &swapRecord{
		ID:                 fmt.Sprintf("mock_%d", time.Now().UnixNano()),
		From:               req.From,
		To:                 req.To,
		CreatedAt:          time.Now(),
		PreimageHashSHA256: req.PreimageHash,
		PreimageHash160:    append([]byte(nil), hash160...),
		ClaimPubKey:        claimPubKey,
		RefundPubKey:       refundPubKey,
		ClaimPubKeyHex:     req.ClaimPublicKey,
		RefundPubKeyHex:    req.RefundPublicKey,
		ServerPubKeyHex:    hex.EncodeToString(s.pubKey.SerializeCompressed()),
		UserLockAmount:     lockAmount,
		ServerLockAmount:   serverAmount,
		BTCSwapTree:        tree,
		BTCLockupScript:    btcScript,
		BTCLockupAddress:   btcAddress,
		BTCTimeoutHeight:   b.BtcLockupTimeoutBlocks,
		ARKLockupAddress:   arkAddress,
		ARKTimeouts:        arkTimeouts,
		LastStatus:         "swap.created",
	}

	btcLeg := boltz.SwapLeg{
		ServerPublicKey:    rec.ServerPubKeyHex,
		LockupAddress:      btcAddress,
		TimeoutBlockHeight: int(b.BtcLockupTimeoutBlocks),
		SwapTree:           &rec.BTCSwapTree,
	}
	arkLeg := boltz.SwapLeg{
		ServerPublicKey:    rec.ServerPubKeyHex,
		LockupAddress:      arkAddress,
		TimeoutBlockHeight: int(refundAt),
		Timeouts:           &arkTimeouts,
	}

	resp := &boltz.CreateChainSwapResponse{Id: rec.ID}
	if arkToBtc {
		btcLeg.Amount = int(serverAmount)
		arkLeg.Amount = int(lockAmount)
		resp.ClaimDetails, resp.LockupDetails = btcLeg, arkLeg
	} else {
		btcLeg.Amount = int(lockAmount)
		arkLeg.Amount = int(serverAmount)
		resp.ClaimDetails, resp.LockupDetails = arkLeg, btcLeg
	}
	return resp, rec, nil
}

func validateCreateRequest(req boltz.CreateChainSwapRequest) (claim, refund *btcec.PublicKey, hash160 []byte, err error) {
	if req.From == "" || req.To == "" {
		return nil, nil, nil, fmt.Errorf("from and to are required")
	}
	if req.From == req.To {
		return nil, nil, nil, fmt.Errorf("from and to must differ")
	}
	if req.PreimageHash == "" {
		return nil, nil, nil, fmt.Errorf("preimage hash is required")
	}
	if req.ClaimPublicKey == "" || req.RefundPublicKey == "" {
		return nil, nil, nil, fmt.Errorf("claim and refund keys are required")
	}

	claim, err = parsePubKeyHex(req.ClaimPublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("claim public key: %w", err)
	}
	refund, err = parsePubKeyHex(req.RefundPublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("refund public key: %w", err)
	}

	raw, err := hex.DecodeString(req.PreimageHash)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode preimage hash: %w", err)
	}
	hash160 = hash160FromPreimageHash(raw)
	if len(hash160) != 20 {
		return nil, nil, nil, fmt.Errorf("expected 20-byte preimage hash, got %d", len(hash160))
	}
	return claim, refund, hash160, nil
}

// serverLegAmount deducts the service fee and the miner fee from the user
// lockup amount.
func (s *server) serverLegAmount(lockAmount uint64) uint64 {
	fee := uint64(math.Ceil(float64(lockAmount) * float64(s.cfg.ServiceFeePPM) / 1_000_000))
	if fee > lockAmount {
		fee = 0
	}
	out := lockAmount - fee
	if out > s.cfg.MinerFeeSat {
		out -= s.cfg.MinerFeeSat
	}
	return out
}

func (s *server) deriveBtcLockup(cosigner *btcec.PublicKey, tree boltz.SwapTree) (string, []byte, error) {
	merkleRoot, err := lockupTreeRoot(tree)
	if err != nil {
		return "", nil, err
	}

	agg, _, _, err := musig2.AggregateKeys([]*btcec.PublicKey{s.pubKey, cosigner}, false)
	if err != nil {
		return "", nil, fmt.Errorf("aggregate keys: %w", err)
	}
	tweaked := txscript.ComputeTaprootOutputKey(agg.FinalKey, merkleRoot)

	pkScript, err := txscript.PayToTaprootScript(tweaked)
	if err != nil {
		return "", nil, fmt.Errorf("build p2tr script: %w", err)
	}
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tweaked), s.cfg.Network)
	if err != nil {
		return "", nil, fmt.Errorf("encode p2tr address: %w", err)
	}
	return addr.EncodeAddress(), pkScript, nil
}

func (s *server) deriveArkLockup(
	arkToBtc bool,
	claimPubKey, refundPubKey *btcec.PublicKey,
	hash160 []byte,
	refundAt int64,
	b behavior,
) (string, error) {
	receiver, sender := claimPubKey, s.pubKey
	if arkToBtc {
		receiver, sender = s.pubKey, refundPubKey
	}

	script, err := vhtlc.NewVHTLCScript(vhtlc.Opts{
		Sender:                               sender,
		Receiver:                             receiver,
		Server:                               s.arkSigner,
		PreimageHash:                         hash160,
		RefundLocktime:                       arklib.AbsoluteLocktime(refundAt),
		UnilateralClaimDelay:                 relativeLocktime(b.UnilateralClaimDelay),
		UnilateralRefundDelay:                relativeLocktime(b.UnilateralRefundDelay),
		UnilateralRefundWithoutReceiverDelay: relativeLocktime(b.UnilateralRefundNoRecvDelay),
	})
	if err != nil {
		return "", fmt.Errorf("create vhtlc script: %w", err)
	}

	addr, err := script.Address(s.cfg.ArkHRP)
	if err != nil {
		return "", fmt.Errorf("encode vhtlc address: %w", err)
	}
	return addr, nil
}

// counterSign produces the server's musig2 partial signature over the
// client's claim transaction, tweaked with the lockup tree root.
func (s *server) counterSign(rec *swapRecord, req boltz.ChainSwapClaimRequest) (string, string, error) {
	if req.ToSign.ClaimTx == "" {
		return "", "", fmt.Errorf("missing toSign.transaction")
	}
	if req.ToSign.Nonce == "" {
		return "", "", fmt.Errorf("missing toSign.nonce")
	}

	claimTx, err := decodeTx(req.ToSign.ClaimTx)
	if err != nil {
		return "", "", fmt.Errorf("invalid claim tx: %w", err)
	}
	if req.ToSign.Index < 0 || req.ToSign.Index >= len(claimTx.TxIn) {
		return "", "", fmt.Errorf("invalid toSign.index")
	}

	clientNonce, err := decodeNonce66(req.ToSign.Nonce)
	if err != nil {
		return "", "", fmt.Errorf("invalid client nonce: %w", err)
	}
	serverNonces, err := musig2.GenNonces(musig2.WithPublicKey(s.pubKey))
	if err != nil {
		return "", "", fmt.Errorf("generate server nonce: %w", err)
	}
	combinedNonce, err := musig2.AggregateNonces([][66]byte{clientNonce, serverNonces.PubNonce})
	if err != nil {
		return "", "", fmt.Errorf("aggregate nonces: %w", err)
	}

	prevOutPoint := claimTx.TxIn[req.ToSign.Index].PreviousOutPoint
	prevFetcher := txscript.NewMultiPrevOutFetcher(map[wire.OutPoint]*wire.TxOut{
		prevOutPoint: {Value: int64(rec.ServerLockAmount), PkScript: rec.BTCLockupScript},
	})
	sigHashes := txscript.NewTxSigHashes(claimTx, prevFetcher)
	msg, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, claimTx, req.ToSign.Index, prevFetcher,
	)
	if err != nil {
		return "", "", fmt.Errorf("taproot message: %w", err)
	}

	merkleRoot, err := lockupTreeRoot(rec.BTCSwapTree)
	if err != nil {
		return "", "", err
	}

	var msg32 [32]byte
	copy(msg32[:], msg)
	partial, err := musig2.Sign(
		serverNonces.SecNonce,
		s.signingKey,
		combinedNonce,
		[]*btcec.PublicKey{s.pubKey, rec.ClaimPubKey},
		msg32,
		musig2.WithTaprootSignTweak(merkleRoot),
		musig2.WithFastSign(),
	)
	if err != nil {
		return "", "", fmt.Errorf("musig sign: %w", err)
	}

	var scalar [32]byte
	partial.S.PutBytesUnchecked(scalar[:])
	return hex.EncodeToString(serverNonces.PubNonce[:]), hex.EncodeToString(scalar[:]), nil
}

// cosignRefundPsbt adds the server's schnorr script-spend signature to every
// input of a collaborative refund packet.
func (s *server) cosignRefundPsbt(raw string) (string, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(raw), true)
	if err != nil {
		return "", fmt.Errorf("decode psbt: %w", err)
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut, len(ptx.UnsignedTx.TxIn))
	for i, in := range ptx.Inputs {
		if in.WitnessUtxo == nil {
			return "", fmt.Errorf("input %d missing witness utxo", i)
		}
		prevouts[ptx.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	prevFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevFetcher)
	xOnlyKey := schnorr.SerializePubKey(s.pubKey)

	for i, in := range ptx.Inputs {
		if len(in.TaprootLeafScript) == 0 {
			return "", fmt.Errorf("input %d missing taproot leaf script", i)
		}
		leaf := txscript.NewBaseTapLeaf(in.TaprootLeafScript[0].Script)
		leafHash := leaf.TapHash()

		msgHash, err := txscript.CalcTapscriptSignaturehash(
			sigHashes, txscript.SigHashDefault, ptx.UnsignedTx, i, prevFetcher, leaf,
		)
		if err != nil {
			return "", fmt.Errorf("input %d calc sighash: %w", i, err)
		}
		sig, err := schnorr.Sign(s.signingKey, msgHash)
		if err != nil {
			return "", fmt.Errorf("input %d sign: %w", i, err)
		}

		// At most one signature per key and leaf pair.
		kept := make([]*psbt.TaprootScriptSpendSig, 0, len(in.TaprootScriptSpendSig)+1)
		for _, existing := range in.TaprootScriptSpendSig {
			if bytes.Equal(existing.XOnlyPubKey, xOnlyKey) && bytes.Equal(existing.LeafHash, leafHash[:]) {
				continue
			}
			kept = append(kept, existing)
		}
		ptx.Inputs[i].TaprootScriptSpendSig = append(kept, &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: xOnlyKey,
			LeafHash:    leafHash[:],
			Signature:   sig.Serialize(),
			SigHash:     txscript.SigHashDefault,
		})
	}

	return ptx.B64Encode()
}

// newLockupTree builds the two-leaf BTC lockup taptree: a hash-gated claim
// leaf and a CLTV refund leaf.
func newLockupTree(hash160, claimKey, refundKey []byte, timeout uint32) (boltz.SwapTree, error) {
	claimScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddData([]byte{0x20}).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_HASH160).
		AddData(hash160).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(claimKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return boltz.SwapTree{}, fmt.Errorf("build claim script: %w", err)
	}

	refundScript, err := txscript.NewScriptBuilder().
		AddData(refundKey).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		Script()
	if err != nil {
		return boltz.SwapTree{}, fmt.Errorf("build refund script: %w", err)
	}

	return boltz.SwapTree{
		ClaimLeaf:  boltz.SwapTreeLeaf{Version: uint8(txscript.BaseLeafVersion), Output: hex.EncodeToString(claimScript)},
		RefundLeaf: boltz.SwapTreeLeaf{Version: uint8(txscript.BaseLeafVersion), Output: hex.EncodeToString(refundScript)},
	}, nil
}

func lockupTreeRoot(tree boltz.SwapTree) ([]byte, error) {
	claimScript, err := hex.DecodeString(tree.ClaimLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("decode claim leaf: %w", err)
	}
	refundScript, err := hex.DecodeString(tree.RefundLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("decode refund leaf: %w", err)
	}

	assembled := txscript.AssembleTaprootScriptTree(
		txscript.NewBaseTapLeaf(claimScript),
		txscript.NewBaseTapLeaf(refundScript),
	)
	if assembled == nil || assembled.RootNode == nil {
		return nil, fmt.Errorf("assemble taproot tree")
	}
	root := assembled.RootNode.TapHash()
	return root[:], nil
}

// hash160FromPreimageHash accepts either the 20-byte HASH160 directly or the
// 32-byte SHA256 to fold down.
func hash160FromPreimageHash(b []byte) []byte {
	switch len(b) {
	case 20:
		return b
	case 32:
		return input.Ripemd160H(b)
	default:
		return nil
	}
}

func parsePubKeyHex(s string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

func xOnly(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

func relativeLocktime(v uint32) arklib.RelativeLocktime {
	if v >= 512 {
		return arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: v}
	}
	return arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: v}
}

func decodeNonce66(nonceHex string) ([66]byte, error) {
	var out [66]byte
	b, err := hex.DecodeString(nonceHex)
	if err != nil {
		return out, err
	}
	if len(b) != 66 {
		return out, fmt.Errorf("expected 66 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func fakeTxid() string {
	r := make([]byte, 32)
	_, _ = rand.Read(r)
	sum := sha256.Sum256(r)
	return hex.EncodeToString(sum[:])
}

func fakeTxHex() string {
	r := make([]byte, 100)
	_, _ = rand.Read(r)
	return hex.EncodeToString(r)
}
