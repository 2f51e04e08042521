package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

type arkToBtcHandler struct {
	swapHandler           *Handler
	chainSwapState        ChainSwapState
	network               *chaincfg.Params
	btcClaimPrivKey       *btcec.PrivateKey
	preimage              []byte
	btcDestinationAddress string
	swapResp              *boltz.CreateChainSwapResponse
	boltzClaimPubKey      *btcec.PublicKey
	swapTree              boltz.SwapTree
	userLockupTxid        string
}

func NewArkToBtcHandler(
	swapHandler *Handler,
	state ChainSwapState,
	network *chaincfg.Params,
	btcClaimPrivKey *btcec.PrivateKey,
	preimage []byte,
	btcDestinationAddress string,
	swapResp *boltz.CreateChainSwapResponse,
	boltzClaimPubKey *btcec.PublicKey,
	swapTree boltz.SwapTree,
) ChainSwapEventHandler {
	return &arkToBtcHandler{
		swapHandler:           swapHandler,
		chainSwapState:        state,
		network:               network,
		btcClaimPrivKey:       btcClaimPrivKey,
		preimage:              preimage,
		btcDestinationAddress: btcDestinationAddress,
		swapResp:              swapResp,
		boltzClaimPubKey:      boltzClaimPubKey,
		swapTree:              swapTree,
	}
}

func (h *arkToBtcHandler) HandleSwapCreated(ctx context.Context, update boltz.SwapUpdate) error {
	log.Infof("swap %s created, funding VHTLC", h.chainSwapState.SwapID)

	receivers := []types.Receiver{
		{
			To:     h.swapResp.LockupDetails.LockupAddress,
			Amount: h.chainSwapState.Swap.Amount,
		},
	}

	txId, err := h.swapHandler.arkClient.SendOffChain(ctx, receivers)
	if err != nil {
		return fmt.Errorf("failed to fund VHTLC: %w", err)
	}

	h.userLockupTxid = txId
	log.Infof("funded VHTLC with txid %s", txId)

	return nil
}

func (h *arkToBtcHandler) HandleLockupFailed(ctx context.Context, update boltz.SwapUpdate) error {
	return h.handleFailure(ctx, update, getQuote)
}

func (h *arkToBtcHandler) HandleUserLockedMempool(ctx context.Context, update boltz.SwapUpdate) error {
	log.Infof("user lockup transaction for swap %s detected in mempool", h.chainSwapState.SwapID)
	return nil
}

func (h *arkToBtcHandler) HandleUserLocked(_ context.Context, update boltz.SwapUpdate) error {
	log.Infof("user lockup transaction for swap %s confirmed", h.chainSwapState.SwapID)
	h.chainSwapState.Swap.UserLock(update.Transaction.Id)
	return nil
}

func (h *arkToBtcHandler) HandleServerLockedMempool(ctx context.Context, update boltz.SwapUpdate) error {
	return h.handleServerLocked(ctx, update)
}

func (h *arkToBtcHandler) HandleServerLocked(ctx context.Context, update boltz.SwapUpdate) error {
	// BTC is claimed only once the lockup confirms
	return h.handleServerLocked(ctx, update)
}

func (h *arkToBtcHandler) HandleSwapExpired(ctx context.Context, update boltz.SwapUpdate) error {
	return h.handleFailure(ctx, update, "swap expired")
}

func (h *arkToBtcHandler) HandleTransactionFailed(ctx context.Context, update boltz.SwapUpdate) error {
	return h.handleFailure(ctx, update, "transaction failed")
}

func (h *arkToBtcHandler) GetState() ChainSwapState {
	return h.chainSwapState
}

func (h *arkToBtcHandler) handleServerLocked(ctx context.Context, update boltz.SwapUpdate) error {
	status := boltz.ParseEvent(update.Status)

	if status == boltz.TransactionServerMempool {
		log.Infof("server lockup for swap %s detected in mempool", h.chainSwapState.SwapID)
		h.chainSwapState.Swap.ServerLock(update.Transaction.Id)
		return nil
	}

	log.Infof("server locked BTC for swap %s (confirmed), claiming", h.chainSwapState.SwapID)

	h.chainSwapState.Swap.ServerLock(update.Transaction.Id)

	claimTxid, err := h.claimBtcLockup(ctx, update.Transaction.Hex)
	if err != nil {
		h.chainSwapState.Swap.Fail(fmt.Sprintf("claim failed: %v", err))
		return fmt.Errorf("failed to claim BTC lockup: %w", err)
	}

	h.chainSwapState.Swap.Claim(claimTxid)
	log.Infof("claimed BTC in transaction %s", claimTxid)

	return nil
}

func (h *arkToBtcHandler) handleFailure(ctx context.Context, _ boltz.SwapUpdate, reason string) error {
	if reason == getQuote {
		return acceptNewQuote(h.swapHandler, h.chainSwapState)
	}

	log.Warnf("swap %s %s, attempting refund", h.chainSwapState.SwapID, reason)

	refundTxid, err := h.swapHandler.RefundArkToBTCSwap(
		ctx, h.chainSwapState.SwapID, h.chainSwapState.Swap.VhtlcOpts,
		h.chainSwapState.UnilateralRefundCallback,
	)
	if err != nil {
		return fmt.Errorf("refund failed: %w", err)
	}

	log.Infof("refund successful for swap %s: %s", h.chainSwapState.SwapID, refundTxid)
	h.chainSwapState.Swap.Refund(refundTxid)

	return nil
}

// claimBtcLockup spends the confirmed BTC lockup to the user's destination.
// The cooperative MuSig2 key path is tried first since its witness is
// smaller, the HTLC claim leaf with the preimage is the fallback.
func (h *arkToBtcHandler) claimBtcLockup(ctx context.Context, serverLockupHex string) (string, error) {
	swapId := h.chainSwapState.SwapID

	txid, err := h.claimBtcLockupCooperative(ctx, swapId, serverLockupHex)
	if err != nil {
		log.WithError(err).Warnf(
			"cooperative claim failed for swap %s, falling back to script-path claim", swapId,
		)
		return h.claimBtcLockupScriptPath(ctx, swapId, serverLockupHex)
	}

	log.Infof("claimed BTC via cooperative path: %s", txid)
	return txid, nil
}

func (h *arkToBtcHandler) claimBtcLockupCooperative(
	_ context.Context, swapId, serverLockupHex string,
) (string, error) {
	setup, err := h.prepareClaimTransaction(serverLockupHex)
	if err != nil {
		return "", err
	}

	musigCtx, err := NewMuSigContext(h.btcClaimPrivKey, h.boltzClaimPubKey)
	if err != nil {
		return "", fmt.Errorf("musig context: %w", err)
	}

	ourNonce, err := musigCtx.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	claimTxHex, err := serializeTransaction(setup.claimTx)
	if err != nil {
		return "", fmt.Errorf("serialize claim tx: %w", err)
	}

	boltzSigResp, err := h.swapHandler.boltzSvc.SubmitChainSwapClaim(swapId, boltz.ChainSwapClaimRequest{
		Preimage: hex.EncodeToString(h.preimage),
		ToSign: boltz.ToSign{
			Nonce:   SerializePubNonce(ourNonce),
			ClaimTx: claimTxHex,
			Index:   0,
		},
	})
	if err != nil {
		return "", fmt.Errorf("submit claim to boltz: %w", err)
	}

	boltzNonce, err := ParsePubNonce(boltzSigResp.PubNonce)
	if err != nil {
		return "", fmt.Errorf("parse boltz nonce: %w", err)
	}

	prevOutFetcher := NewPrevOutputFetcher(setup.prevOut, setup.prevOutPoint)

	msg, err := TaprootMessage(setup.claimTx, 0, prevOutFetcher)
	if err != nil {
		return "", fmt.Errorf("taproot message: %w", err)
	}

	combinedNonce, err := musigCtx.AggregateNonces(boltzNonce)
	if err != nil {
		return "", fmt.Errorf("aggregate nonces: %w", err)
	}

	keys := musigCtx.Keys()
	ourPartial, err := musigCtx.OurPartialSign(combinedNonce, keys, msg, setup.swapInfo.merkleRoot)
	if err != nil {
		return "", fmt.Errorf("our partial sig: %w", err)
	}

	boltzPartial, err := ParsePartialSignatureScalar32(boltzSigResp.PartialSignature)
	if err != nil {
		return "", fmt.Errorf("parse boltz partial sig: %w", err)
	}

	if ourPartial.R == nil {
		return "", fmt.Errorf("missing nonce point in our partial signature")
	}

	allPartials := []*musig2.PartialSignature{ourPartial, boltzPartial}
	finalSig, err := CombineFinalSig(ourPartial.R, allPartials, keys, msg, setup.swapInfo.merkleRoot)
	if err != nil {
		return "", fmt.Errorf("combine sigs: %w", err)
	}

	tweakedKey, err := ComputeTweakedOutputKey(keys, setup.swapInfo.merkleRoot)
	if err != nil {
		return "", fmt.Errorf("compute tweaked key: %w", err)
	}
	if err := VerifyFinalSig(msg, finalSig, tweakedKey); err != nil {
		return "", fmt.Errorf("final sig verify failed: %w", err)
	}

	setup.claimTx.TxIn[0].Witness = wire.TxWitness{finalSig.Serialize()}

	txid, err := h.swapHandler.explorerClient.BroadcastTransaction(setup.claimTx)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	return txid, nil
}

// claimBtcLockupScriptPath claims through the HTLC claim leaf, revealing the
// preimage onchain. Witness stack: signature, preimage, claim script, control
// block.
func (h *arkToBtcHandler) claimBtcLockupScriptPath(
	_ context.Context, swapId, serverLockupHex string,
) (string, error) {
	log.Infof("performing script-path claim for swap %s", swapId)

	setup, err := h.prepareClaimTransaction(serverLockupHex)
	if err != nil {
		return "", err
	}

	claimScript, err := hex.DecodeString(h.swapTree.ClaimLeaf.Output)
	if err != nil {
		return "", fmt.Errorf("failed to decode claim script: %w", err)
	}

	claimLeaf := txscript.NewBaseTapLeaf(claimScript)

	internalKey, err := computeAggregateInternalKey(h.boltzClaimPubKey, h.btcClaimPrivKey.PubKey())
	if err != nil {
		return "", err
	}

	controlBlock, err := createControlBlockFromSwapTree(internalKey, h.swapTree, true)
	if err != nil {
		return "", fmt.Errorf("failed to create control block: %w", err)
	}

	prevOutFetcher := NewPrevOutputFetcher(setup.prevOut, setup.prevOutPoint)

	sigHash, err := txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(setup.claimTx, prevOutFetcher),
		txscript.SigHashDefault,
		setup.claimTx,
		0,
		prevOutFetcher,
		claimLeaf,
	)
	if err != nil {
		return "", fmt.Errorf("failed to calculate tapscript sighash: %w", err)
	}

	signature, err := schnorr.Sign(h.btcClaimPrivKey, sigHash)
	if err != nil {
		return "", fmt.Errorf("failed to sign claim transaction: %w", err)
	}

	setup.claimTx.TxIn[0].Witness = wire.TxWitness{
		signature.Serialize(),
		h.preimage,
		claimScript,
		controlBlock,
	}

	txid, err := h.swapHandler.explorerClient.BroadcastTransaction(setup.claimTx)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast script-path claim transaction: %w", err)
	}

	log.Infof("broadcast script-path claim transaction %s", txid)

	return txid, nil
}

// prepareClaimTransaction locates the lockup output in the server's lockup tx
// and builds the unsigned claim transaction spending it.
func (h *arkToBtcHandler) prepareClaimTransaction(serverLockupHex string) (*claimSetup, error) {
	swapInfo, err := buildSwapRecipe(h.boltzClaimPubKey, h.btcClaimPrivKey.PubKey(), h.swapTree)
	if err != nil {
		return nil, fmt.Errorf("build btc swap recipe: %w", err)
	}

	lockupTx, err := deserializeTransaction(serverLockupHex)
	if err != nil {
		return nil, fmt.Errorf("deserialize lockup tx: %w", err)
	}

	lockupOutput, err := findLockupOutput(lockupTx, swapInfo.lockupScript)
	if err != nil {
		return nil, fmt.Errorf("find lockup output: %w", err)
	}

	claimTx, err := constructClaimTransaction(
		h.swapHandler.explorerClient,
		h.swapHandler.config.Dust,
		ClaimTransactionParams{
			LockupTxid:      lockupOutput.txid,
			LockupVout:      lockupOutput.vout,
			LockupAmount:    lockupOutput.amount,
			DestinationAddr: h.btcDestinationAddress,
			Network:         h.network,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("construct claim tx: %w", err)
	}

	return &claimSetup{
		swapInfo: swapInfo,
		claimTx:  claimTx,
		prevOut: &wire.TxOut{
			Value:    int64(lockupOutput.amount),
			PkScript: lockupOutput.pkScript,
		},
		prevOutPoint: claimTx.TxIn[0].PreviousOutPoint,
	}, nil
}

type swapInfo struct {
	serverPubKey *btcec.PublicKey
	claimPubKey  *btcec.PublicKey
	merkleRoot   []byte
	lockupScript []byte
}

type claimSetup struct {
	swapInfo     *swapInfo
	claimTx      *wire.MsgTx
	prevOut      *wire.TxOut
	prevOutPoint wire.OutPoint
}

type lockupTxOutput struct {
	txid     string
	vout     uint32
	amount   uint64
	pkScript []byte
}

func findLockupOutput(lockupTx *wire.MsgTx, expectedPkScript []byte) (*lockupTxOutput, error) {
	for vout, out := range lockupTx.TxOut {
		if bytes.Equal(out.PkScript, expectedPkScript) {
			return &lockupTxOutput{
				txid:     lockupTx.TxHash().String(),
				vout:     uint32(vout),
				amount:   uint64(out.Value),
				pkScript: out.PkScript,
			}, nil
		}
	}
	return nil, fmt.Errorf("lockup output not found for pkScript %x", expectedPkScript)
}

func buildSwapRecipe(serverPub, claimPub *btcec.PublicKey, tree boltz.SwapTree) (*swapInfo, error) {
	if err := validateSwapTree(tree); err != nil {
		return nil, err
	}
	mr, err := computeSwapTreeMerkleRoot(tree)
	if err != nil {
		return nil, err
	}
	script, err := computeExpectedLockupScript(serverPub, claimPub, mr)
	if err != nil {
		return nil, err
	}
	return &swapInfo{
		serverPubKey: serverPub,
		claimPubKey:  claimPub,
		merkleRoot:   mr,
		lockupScript: script,
	}, nil
}

// computeExpectedLockupScript derives the P2TR script the counterparty must
// have paid to: aggregated MuSig2 key tweaked with the swap tree merkle root.
func computeExpectedLockupScript(
	serverPubKey, claimPubKey *btcec.PublicKey, merkleRoot []byte,
) ([]byte, error) {
	internalKey, err := computeAggregateInternalKey(serverPubKey, claimPubKey)
	if err != nil {
		return nil, err
	}

	tweakedKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)

	script, err := txscript.PayToTaprootScript(tweakedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2TR script: %w", err)
	}

	return script, nil
}
