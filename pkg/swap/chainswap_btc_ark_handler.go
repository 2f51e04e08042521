package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// getQuote marks a lockup failure caused by an amount mismatch, resolved by
// accepting a new quote instead of refunding.
const getQuote = "get_quote"

type btcToArkHandler struct {
	swapHandler    *Handler
	chainSwapState ChainSwapState
	preimage       []byte
	refundKey      *btcec.PrivateKey
	swapResp       *boltz.CreateChainSwapResponse
}

func NewBtcToArkHandler(
	swapHandler *Handler,
	chainSwapState ChainSwapState,
	preimage []byte,
	refundKey *btcec.PrivateKey,
	swapResp *boltz.CreateChainSwapResponse,
) ChainSwapEventHandler {
	return &btcToArkHandler{
		swapHandler:    swapHandler,
		chainSwapState: chainSwapState,
		preimage:       preimage,
		refundKey:      refundKey,
		swapResp:       swapResp,
	}
}

func (b *btcToArkHandler) HandleSwapCreated(_ context.Context, _ boltz.SwapUpdate) error {
	log.Infof("swap %s created, waiting for user to lock BTC", b.chainSwapState.SwapID)
	return nil
}

func (b *btcToArkHandler) HandleLockupFailed(ctx context.Context, update boltz.SwapUpdate) error {
	return b.handleFailure(ctx, update, getQuote)
}

func (b *btcToArkHandler) HandleUserLockedMempool(ctx context.Context, update boltz.SwapUpdate) error {
	return b.handleUserLocked(ctx, update)
}

func (b *btcToArkHandler) HandleUserLocked(ctx context.Context, update boltz.SwapUpdate) error {
	return b.handleUserLocked(ctx, update)
}

func (b *btcToArkHandler) HandleServerLockedMempool(ctx context.Context, update boltz.SwapUpdate) error {
	// counterparty trusts our onchain lockup, VTXOs are claimable from mempool
	return b.handleServerLocked(ctx, update)
}

func (b *btcToArkHandler) HandleServerLocked(context.Context, boltz.SwapUpdate) error {
	return nil
}

func (b *btcToArkHandler) HandleSwapExpired(ctx context.Context, update boltz.SwapUpdate) error {
	return b.handleFailure(ctx, update, "swap expired")
}

func (b *btcToArkHandler) HandleTransactionFailed(ctx context.Context, update boltz.SwapUpdate) error {
	return b.handleFailure(ctx, update, "transaction failed")
}

func (b *btcToArkHandler) GetState() ChainSwapState {
	return b.chainSwapState
}

func (b *btcToArkHandler) handleUserLocked(_ context.Context, update boltz.SwapUpdate) error {
	if boltz.ParseEvent(update.Status) == boltz.TransactionMempool {
		log.Infof("user BTC lockup for swap %s detected in mempool", b.chainSwapState.SwapID)
	} else {
		log.Infof("user BTC lockup for swap %s confirmed", b.chainSwapState.SwapID)
	}

	b.chainSwapState.Swap.UserLock(update.Transaction.Id)

	return nil
}

func (b *btcToArkHandler) handleServerLocked(ctx context.Context, update boltz.SwapUpdate) error {
	log.Infof("counterparty sent VTXOs for swap %s, claiming now", b.chainSwapState.SwapID)

	b.chainSwapState.Swap.ServerLock(update.Transaction.Id)

	claimTxid, err := b.swapHandler.ClaimVHTLC(ctx, b.preimage, b.chainSwapState.Swap.VhtlcOpts)
	if err != nil {
		b.chainSwapState.Swap.Fail(fmt.Sprintf("claim failed: %v", err))
		return fmt.Errorf("failed to claim vtxos: %w", err)
	}

	b.chainSwapState.Swap.Claim(claimTxid)
	log.Infof("claimed vtxos in transaction %s", claimTxid)

	time.Sleep(5 * time.Second)

	// co-sign the counterparty's BTC claim so it can spend through the cheaper
	// key path instead of revealing the preimage on the claim leaf
	if err := b.signBoltzBtcClaim(b.chainSwapState.SwapID); err != nil {
		log.WithError(err).Warn("failed to provide cooperative signature for BTC claim")
	} else {
		log.Info("provided cooperative signature for BTC claim")
	}

	return nil
}

func (b *btcToArkHandler) handleFailure(ctx context.Context, _ boltz.SwapUpdate, reason string) error {
	if reason == getQuote {
		return acceptNewQuote(b.swapHandler, b.chainSwapState)
	}

	// BTC is recovered to a boarding address and settled into a VTXO since
	// there is no onchain wallet to receive it
	log.Warnf("swap %s failed: %s, refunding BTC via boarding address", b.chainSwapState.SwapID, reason)

	refundTxid, err := b.refundBtcToArkSwap(ctx)
	if err != nil {
		log.WithError(err).Errorf("BTC refund failed for swap %s", b.chainSwapState.SwapID)
		b.chainSwapState.Swap.RefundFailed(fmt.Sprintf("refund failed: %v", err))
		return fmt.Errorf("failed to refund BTC: %w", err)
	}

	log.Infof("BTC refund successful for swap %s: txid %s", b.chainSwapState.SwapID, refundTxid)
	b.chainSwapState.Swap.Refund(refundTxid)

	return nil
}

// acceptNewQuote fetches and accepts an updated quote after a lockup amount
// mismatch, shared by both swap directions.
func acceptNewQuote(h *Handler, state ChainSwapState) error {
	log.Warnf("user lockup failed for swap %s (amount mismatch), fetching quote", state.SwapID)

	quote, err := h.boltzSvc.GetChainSwapQuote(state.SwapID)
	if err != nil {
		state.Swap.UserLockedFailed(fmt.Sprintf("lockup failed, quote error: %v", err))
		return fmt.Errorf("failed to get quote: %w", err)
	}

	log.Infof("quote for swap %s: amount=%d, onchainAmount=%d",
		state.SwapID, quote.Amount, quote.OnchainAmount)

	if err := h.boltzSvc.AcceptChainSwapQuote(state.SwapID, *quote); err != nil {
		state.Swap.UserLockedFailed(fmt.Sprintf("quote acceptance failed: %v", err))
		return fmt.Errorf("failed to accept quote: %w", err)
	}

	log.Infof("quote accepted for swap %s", state.SwapID)
	return nil
}

// refundBtcToArkSwap spends our BTC lockup through the refund leaf (CLTV) to
// a boarding address, waits for confirmation and settles the funds into a
// VTXO. Called while the swap is still being monitored, with the counterparty
// API reachable.
func (b *btcToArkHandler) refundBtcToArkSwap(ctx context.Context) (string, error) {
	swapId := b.chainSwapState.SwapID
	log.Infof("starting BTC refund for swap %s", swapId)

	swapTxs, err := b.swapHandler.boltzSvc.GetChainSwapTransactions(swapId)
	if err != nil {
		return "", fmt.Errorf("failed to get swap transactions: %w", err)
	}

	if swapTxs.UserLock == nil || swapTxs.UserLock.Id == "" {
		return "", fmt.Errorf("no user lockup transaction found for swap %s", swapId)
	}

	userLockupTxid := swapTxs.UserLock.Id
	userLockupTxHex := swapTxs.UserLock.Hex

	swapTree := b.swapResp.GetSwapTree(false)
	refundComponents, err := ValidateRefundLeafScript(swapTree.RefundLeaf.Output)
	if err != nil {
		return "", fmt.Errorf("failed to parse refund script: %w", err)
	}

	currentHeight, err := b.swapHandler.explorerClient.GetCurrentBlockHeight()
	if err != nil {
		return "", fmt.Errorf("failed to get current block height: %w", err)
	}

	if currentHeight < refundComponents.Timeout {
		blocksRemaining := refundComponents.Timeout - currentHeight
		return "", fmt.Errorf(
			"CLTV timeout not yet reached: current block %d, required %d (wait %d more blocks)",
			currentHeight, refundComponents.Timeout, blocksRemaining,
		)
	}

	_, _, boardingAddr, err := b.swapHandler.arkClient.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get boarding address: %w", err)
	}

	lockupTx, err := deserializeTransaction(userLockupTxHex)
	if err != nil {
		return "", fmt.Errorf("failed to deserialize user lockup tx: %w", err)
	}

	networkParams := networkNameToParams(b.swapHandler.config.Network.Name)
	lockupVout, lockupAmount, err := findOutputForAddress(
		lockupTx, b.swapResp.LockupDetails.LockupAddress, networkParams,
	)
	if err != nil {
		return "", fmt.Errorf("failed to find lockup output in user tx: %w", err)
	}

	claimTx, err := constructClaimTransaction(
		b.swapHandler.explorerClient,
		b.swapHandler.config.Dust,
		ClaimTransactionParams{
			LockupTxid:      userLockupTxid,
			LockupVout:      lockupVout,
			LockupAmount:    lockupAmount,
			DestinationAddr: boardingAddr,
			Network:         networkParams,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to construct claim transaction: %w", err)
	}
	claimTx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1
	claimTx.LockTime = refundComponents.Timeout

	refundScript, err := hex.DecodeString(swapTree.RefundLeaf.Output)
	if err != nil {
		return "", fmt.Errorf("failed to decode refund script: %w", err)
	}

	serverPubKey, err := parsePubkey(b.swapResp.LockupDetails.ServerPublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to parse server public key: %w", err)
	}

	internalKey, err := computeAggregateInternalKey(serverPubKey, b.refundKey.PubKey())
	if err != nil {
		return "", err
	}

	controlBlock, err := createControlBlockFromSwapTree(internalKey, swapTree, false)
	if err != nil {
		return "", fmt.Errorf("failed to create control block: %w", err)
	}

	prevOutFetcher, err := parsePrevoutFetcher(userLockupTxHex, claimTx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to parse prevout fetcher: %w", err)
	}

	refundLeaf := txscript.NewBaseTapLeaf(refundScript)
	sigHash, err := txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(claimTx, prevOutFetcher),
		txscript.SigHashDefault,
		claimTx,
		0,
		prevOutFetcher,
		refundLeaf,
	)
	if err != nil {
		return "", fmt.Errorf("failed to calculate sighash: %w", err)
	}

	signature, err := schnorr.Sign(b.refundKey, sigHash)
	if err != nil {
		return "", fmt.Errorf("failed to sign refund transaction: %w", err)
	}

	claimTx.TxIn[0].Witness = wire.TxWitness{
		signature.Serialize(),
		refundScript,
		controlBlock,
	}

	claimTxid, err := b.swapHandler.explorerClient.BroadcastTransaction(claimTx)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast refund transaction: %w", err)
	}

	log.Infof("refund transaction broadcast: %s", claimTxid)
	log.Infof("BTC sent to boarding address %s, waiting for confirmation", boardingAddr)

	if !b.swapHandler.waitForConfirmation(claimTxid) {
		return "", fmt.Errorf("refund transaction %s not confirmed in time", claimTxid)
	}

	settleTxid, err := b.swapHandler.arkClient.Settle(ctx)
	if err != nil {
		log.WithError(err).Warnf("settle failed, BTC remains in boarding address %s", boardingAddr)
		return claimTxid, nil
	}

	log.Infof("BTC refunded and boarded as VTXO, settle tx %s", settleTxid)

	return claimTxid, nil
}

// signBoltzBtcClaim hands the counterparty a MuSig2 partial signature over
// its claim transaction so our BTC lockup can be swept via the key path.
func (b *btcToArkHandler) signBoltzBtcClaim(swapId string) error {
	claimDetails, err := b.swapHandler.boltzSvc.GetChainSwapClaimDetails(swapId)
	if err != nil {
		return fmt.Errorf("failed to get claim details: %w", err)
	}

	boltzPubKey, err := parsePubkey(claimDetails.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to parse counterparty public key: %w", err)
	}

	musigCtx, err := NewMuSigContext(b.refundKey, boltzPubKey)
	if err != nil {
		return fmt.Errorf("musig context: %w", err)
	}

	ourNonce, err := musigCtx.GenerateNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	boltzNonce, err := ParsePubNonce(claimDetails.PubNonce)
	if err != nil {
		return fmt.Errorf("parse counterparty nonce: %w", err)
	}

	txHashBytes, err := hex.DecodeString(claimDetails.TransactionHash)
	if err != nil {
		return fmt.Errorf("decode transaction hash: %w", err)
	}
	var msg [32]byte
	copy(msg[:], txHashBytes)

	combinedNonce, err := musigCtx.AggregateNonces(boltzNonce)
	if err != nil {
		return fmt.Errorf("aggregate nonces: %w", err)
	}

	merkleRoot, err := computeSwapTreeMerkleRoot(b.swapResp.GetSwapTree(false))
	if err != nil {
		return fmt.Errorf("compute merkle root: %w", err)
	}

	keys := musigCtx.Keys()
	partialSig, err := musigCtx.OurPartialSign(combinedNonce, keys, msg, merkleRoot)
	if err != nil {
		return fmt.Errorf("our partial sig: %w", err)
	}

	var buf bytes.Buffer
	if err := partialSig.Encode(&buf); err != nil {
		return fmt.Errorf("encode partial sig: %w", err)
	}

	if _, err := b.swapHandler.boltzSvc.SubmitChainSwapClaim(swapId, boltz.ChainSwapClaimRequest{
		Signature: boltz.CrossSignSignature{
			PubNonce:         SerializePubNonce(ourNonce),
			PartialSignature: hex.EncodeToString(buf.Bytes()),
		},
	}); err != nil {
		return fmt.Errorf("submit claim signature: %w", err)
	}

	return nil
}
