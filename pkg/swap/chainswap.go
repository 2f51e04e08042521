package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	log "github.com/sirupsen/logrus"
)

// ChainSwapStatus tracks the lifecycle of a chain swap (Ark <-> BTC onchain).
type ChainSwapStatus int

const (
	ChainSwapPending ChainSwapStatus = iota
	ChainSwapUserLocked
	ChainSwapServerLocked

	ChainSwapClaimed

	ChainSwapUserLockedFailed
	ChainSwapFailed
	ChainSwapRefundFailed
	ChainSwapRefunded
	ChainSwapRefundedUnilaterally
)

// ChainSwap holds the state of a single chain swap. Mutations go through the
// methods below so that every transition emits a typed event.
type ChainSwap struct {
	Id       string
	Amount   uint64
	Preimage []byte

	// UserBtcLockupAddress is the counterparty's BTC lockup address the user
	// funds on the btc to ark path. BtcDestinationAddress is where the
	// claimed BTC goes on the ark to btc path. Both persist so monitoring
	// can restart after a process restart.
	UserBtcLockupAddress  string
	BtcDestinationAddress string

	VhtlcOpts vhtlc.Opts

	UserLockTxid   string
	ServerLockTxid string
	ClaimTxid      string
	RefundTxid     string

	Timestamp int64
	Status    ChainSwapStatus
	Error     string

	SwapRespJson string

	onEvent ChainSwapEventCallback
}

func NewChainSwap(
	id string,
	amount uint64,
	preimage []byte,
	vhtlcOpts *vhtlc.Opts,
	swapRespJson string,
	eventCallback ChainSwapEventCallback,
) (*ChainSwap, error) {
	if id == "" {
		return nil, errors.New("id cannot be empty")
	}
	if amount == 0 {
		return nil, errors.New("amount cannot be 0")
	}
	if preimage == nil {
		return nil, errors.New("preimage cannot be nil")
	}
	if vhtlcOpts == nil {
		return nil, errors.New("vhtlcOpts cannot be nil")
	}

	return &ChainSwap{
		Id:           id,
		Timestamp:    time.Now().Unix(),
		Status:       ChainSwapPending,
		Amount:       amount,
		Preimage:     preimage,
		VhtlcOpts:    *vhtlcOpts,
		SwapRespJson: swapRespJson,
		onEvent:      eventCallback,
	}, nil
}


// emit invokes the transition callback when one is registered.
func (s *ChainSwap) emit(event ChainSwapEvent) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

func (s *ChainSwap) UserLock(txid string) {
	s.UserLockTxid = txid
	s.Status = ChainSwapUserLocked

	s.emit(UserLockEvent{SwapID: s.Id, TxID: txid})
}

func (s *ChainSwap) ServerLock(txid string) {
	s.ServerLockTxid = txid
	s.Status = ChainSwapServerLocked

	s.emit(ServerLockEvent{SwapID: s.Id, TxID: txid})
}

func (s *ChainSwap) Claim(txid string) {
	s.ClaimTxid = txid
	s.Status = ChainSwapClaimed

	s.emit(ClaimEvent{SwapID: s.Id, TxID: txid})
}

func (s *ChainSwap) Refund(txid string) {
	s.RefundTxid = txid
	s.Status = ChainSwapRefunded

	s.emit(RefundEvent{SwapID: s.Id, TxID: txid})
}

func (s *ChainSwap) RefundUnilaterally(txid string) {
	s.RefundTxid = txid
	s.Status = ChainSwapRefundedUnilaterally

	s.emit(UnilateralRefundEvent{SwapID: s.Id, TxID: txid})
}

func (s *ChainSwap) Fail(err string) {
	s.Status = ChainSwapFailed
	s.Error = err

	s.emit(FailEvent{SwapID: s.Id, Error: err})
}

func (s *ChainSwap) RefundFailed(err string) {
	s.Status = ChainSwapRefundFailed
	s.Error = err

	s.emit(RefundFailedEvent{SwapID: s.Id, Error: err})
}

func (s *ChainSwap) UserLockedFailed(err string) {
	s.Status = ChainSwapUserLockedFailed
	s.Error = err

	s.emit(UserLockFailedEvent{SwapID: s.Id, Error: err})
}

// ChainSwapEvent is implemented by all chain swap state transition events.
type ChainSwapEvent interface {
	isChainSwapEvent()
}

// UserLockEvent is emitted when the user locks funds (Ark VTXO or BTC UTXO).
type UserLockEvent struct {
	SwapID string
	TxID   string
}

func (UserLockEvent) isChainSwapEvent() {}

// ServerLockEvent is emitted when the counterparty locks funds on the other leg.
type ServerLockEvent struct {
	SwapID string
	TxID   string
}

func (ServerLockEvent) isChainSwapEvent() {}

type ClaimEvent struct {
	SwapID string
	TxID   string
}

func (ClaimEvent) isChainSwapEvent() {}

type RefundEvent struct {
	SwapID string
	TxID   string
}

func (RefundEvent) isChainSwapEvent() {}

type UnilateralRefundEvent struct {
	SwapID string
	TxID   string
}

func (UnilateralRefundEvent) isChainSwapEvent() {}

type FailEvent struct {
	SwapID string
	Error  string
}

func (FailEvent) isChainSwapEvent() {}

type RefundFailedEvent struct {
	SwapID string
	Error  string
}

func (RefundFailedEvent) isChainSwapEvent() {}

type UserLockFailedEvent struct {
	SwapID string
	Error  string
}

func (UserLockFailedEvent) isChainSwapEvent() {}

// ChainSwapEventCallback receives every state transition of a chain swap.
type ChainSwapEventCallback func(event ChainSwapEvent)

// ChainSwapArkToBtc swaps Ark VTXOs for a BTC UTXO paid to
// btcDestinationAddress. The counterparty locks BTC behind a 2-leaf taproot
// HTLC (claimDetails) and tells us the VHTLC address to fund on the Ark side
// (lockupDetails). Before sending anything we re-derive both the VHTLC address
// and the BTC lockup script locally and refuse the swap on any mismatch.
//
// The returned ChainSwap is monitored in the background: once the BTC lockup
// confirms we claim it, cooperatively via MuSig2 if possible, otherwise via the
// HTLC claim leaf with the preimage. On failure the VHTLC is refunded,
// collaboratively first, then through unilateralRefundCallback.
func (h *Handler) ChainSwapArkToBtc(
	ctx context.Context,
	amount uint64,
	btcDestinationAddress string,
	network *chaincfg.Params,
	eventCallback ChainSwapEventCallback,
	unilateralRefundCallback func(swapId string, opts vhtlc.Opts) error,
) (*ChainSwap, error) {
	log.Infof("initiating ark to btc chain swap for %d sats to %s", amount, btcDestinationAddress)

	var (
		arkToBtc          = true
		btcClaimPrivKey   = h.privateKey
		btcClaimPubKey    = btcClaimPrivKey.PubKey()
		vhtlcRefundPubKey = h.privateKey.PubKey()
	)

	preimage, preimageHashSHA256, preimageHashHASH160, err := genPreimageInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}

	swapResp, err := h.boltzSvc.CreateChainSwap(boltz.CreateChainSwapRequest{
		From:            boltz.CurrencyArk,
		To:              boltz.CurrencyBtc,
		PreimageHash:    hex.EncodeToString(preimageHashSHA256),
		ClaimPublicKey:  hex.EncodeToString(btcClaimPubKey.SerializeCompressed()),
		RefundPublicKey: hex.EncodeToString(vhtlcRefundPubKey.SerializeCompressed()),
		UserLockAmount:  amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain swap: %w", err)
	}

	// make sure we can claim the BTC leg before locking any VTXO
	if err := validateBtcClaimOrRefundPossible(
		swapResp.GetSwapTree(arkToBtc),
		arkToBtc,
		swapResp.ClaimDetails.ServerPublicKey,
		btcClaimPubKey,
		preimageHashHASH160,
		nil,
		0,
	); err != nil {
		return nil, fmt.Errorf("invalid HTLC: %w", err)
	}

	log.Infof("created chain swap %s", swapResp.Id)

	vhtlcOpts, err := validateVHTLC(ctx, h, arkToBtc, swapResp, preimageHashHASH160)
	if err != nil {
		return nil, fmt.Errorf("invalid VHTLC: %w", err)
	}

	if err := validateBtcLockupAddress(
		network,
		swapResp.ClaimDetails.LockupAddress,
		swapResp.ClaimDetails.ServerPublicKey,
		btcClaimPubKey,
		swapResp.GetSwapTree(arkToBtc),
	); err != nil {
		return nil, fmt.Errorf("BTC lockup address validation failed: %w", err)
	}

	swapRespJson, err := json.Marshal(swapResp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap response: %w", err)
	}

	chainSwap, err := NewChainSwap(swapResp.Id, amount, preimage, vhtlcOpts, string(swapRespJson), eventCallback)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain swap: %w", err)
	}

	chainSwap.BtcDestinationAddress = btcDestinationAddress

	goWithRecover("monitorAndClaimArkToBtcSwap", func() {
		h.monitorAndClaimArkToBtcSwap(
			ctx,
			network,
			eventCallback,
			unilateralRefundCallback,
			btcClaimPrivKey,
			preimage,
			btcDestinationAddress,
			swapResp,
			chainSwap,
		)
	})

	return chainSwap, nil
}

// ChainSwapBtcToArk swaps a BTC UTXO for Ark VTXOs. The caller must fund the
// returned UserBtcLockupAddress onchain; once the counterparty sees the lockup
// it sends VTXOs to a VHTLC we can claim with the preimage. The BTC refund
// leaf (CLTV) is validated upfront so the UTXO can always be recovered if the
// counterparty never delivers.
func (h *Handler) ChainSwapBtcToArk(
	_ context.Context,
	amount uint64,
	network *chaincfg.Params,
	eventCallback ChainSwapEventCallback,
) (*ChainSwap, error) {
	log.Infof("initiating btc to ark chain swap for %d sats", amount)

	var (
		arkToBtc    = false
		claimPubKey = h.privateKey.PubKey()
		refundKey   = h.privateKey
	)

	preimage, preimageHashSHA256, preimageHashHASH160, err := genPreimageInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}

	swapResp, err := h.boltzSvc.CreateChainSwap(boltz.CreateChainSwapRequest{
		From:            boltz.CurrencyBtc,
		To:              boltz.CurrencyArk,
		PreimageHash:    hex.EncodeToString(preimageHashSHA256),
		ClaimPublicKey:  hex.EncodeToString(claimPubKey.SerializeCompressed()),
		RefundPublicKey: hex.EncodeToString(refundKey.PubKey().SerializeCompressed()),
		UserLockAmount:  amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain swap: %w", err)
	}

	if err := validateBtcClaimOrRefundPossible(
		swapResp.GetSwapTree(arkToBtc),
		arkToBtc,
		"",
		nil,
		nil,
		refundKey.PubKey(),
		uint32(swapResp.LockupDetails.TimeoutBlockHeight),
	); err != nil {
		return nil, fmt.Errorf("invalid BTC HTLC refund path: %w", err)
	}

	vhtlcOpts, err := validateVHTLC(context.Background(), h, arkToBtc, swapResp, preimageHashHASH160)
	if err != nil {
		return nil, fmt.Errorf("invalid VHTLC: %w", err)
	}

	log.Infof("created btc to ark chain swap %s", swapResp.Id)
	log.Infof("send %d sats to %s", swapResp.LockupDetails.Amount, swapResp.LockupDetails.LockupAddress)

	if err := validateBtcLockupAddress(
		network,
		swapResp.LockupDetails.LockupAddress,
		swapResp.LockupDetails.ServerPublicKey,
		refundKey.PubKey(),
		swapResp.GetSwapTree(arkToBtc),
	); err != nil {
		return nil, fmt.Errorf("BTC lockup address validation failed: %w", err)
	}

	swapRespJson, err := json.Marshal(swapResp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap response: %w", err)
	}

	chainSwap, err := NewChainSwap(swapResp.Id, amount, preimage, vhtlcOpts, string(swapRespJson), eventCallback)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain swap: %w", err)
	}

	chainSwap.UserBtcLockupAddress = swapResp.LockupDetails.LockupAddress

	goWithRecover("monitorBtcToArkChainSwap", func() {
		h.monitorBtcToArkChainSwap(
			context.Background(),
			eventCallback,
			preimage,
			refundKey,
			swapResp,
			chainSwap,
		)
	})

	return chainSwap, nil
}

// RefundArkToBTCSwap refunds the Ark leg of a failed ark to btc swap. It tries
// the collaborative refund path first, then falls back to
// unilateralRefundCallback.
func (h *Handler) RefundArkToBTCSwap(
	ctx context.Context,
	swapId string,
	vhtlcOpts vhtlc.Opts,
	unilateralRefundCallback func(swapId string, opts vhtlc.Opts) error,
) (string, error) {
	refundTxid, err := h.RefundSwap(context.Background(), swapId, true, vhtlcOpts)
	if err != nil {
		log.WithError(err).Error("failed to refund swap collaboratively")

		if callbackErr := unilateralRefundCallback(swapId, vhtlcOpts); callbackErr != nil {
			return "", callbackErr
		}

		return "", nil
	}

	return refundTxid, nil
}

// RefundBtcToArkSwap recovers the BTC leg of a failed btc to ark swap without
// talking to the counterparty. The lockup UTXO is spent through the refund
// leaf (CLTV) to one of our boarding addresses and then settled into a VTXO.
// The swap data is passed in from persistent storage so the refund works after
// a restart and with the counterparty API down.
func (h *Handler) RefundBtcToArkSwap(
	ctx context.Context,
	swapId string,
	amount uint64,
	userLockupTxid string,
	boltzSwapRespJson string,
) (string, error) {
	log.Infof("starting btc to ark refund for swap %s", swapId)

	if userLockupTxid == "" {
		return "", errors.New("userLockupTxid empty")
	}
	if boltzSwapRespJson == "" {
		return "", errors.New("boltzSwapRespJson empty")
	}

	userLockupTxHex, err := h.explorerClient.GetTransaction(userLockupTxid)
	if err != nil {
		return "", fmt.Errorf("failed to fetch lockup transaction from explorer: %w", err)
	}

	var swapResp boltz.CreateChainSwapResponse
	if err := json.Unmarshal([]byte(boltzSwapRespJson), &swapResp); err != nil {
		return "", fmt.Errorf("failed to deserialize swap response: %w", err)
	}

	if swapResp.LockupDetails.SwapTree == nil {
		return "", fmt.Errorf("swap tree not found in swap response for swap %s", swapId)
	}
	if swapResp.LockupDetails.LockupAddress == "" {
		return "", fmt.Errorf("lockup address not found in swap response for swap %s", swapId)
	}

	swapTree := *swapResp.LockupDetails.SwapTree

	lockupTx, err := deserializeTransaction(userLockupTxHex)
	if err != nil {
		return "", fmt.Errorf("failed to deserialize user lockup tx: %w", err)
	}

	networkParams := networkNameToParams(h.config.Network.Name)
	lockupVout, lockupAmount, err := findOutputForAddress(
		lockupTx, swapResp.LockupDetails.LockupAddress, networkParams,
	)
	if err != nil {
		return "", fmt.Errorf("failed to find lockup output in user tx: %w", err)
	}

	if amount > 0 && lockupAmount < amount {
		log.Warnf(
			"user lockup output amount (%d sats) is below requested swap amount (%d sats)",
			lockupAmount, amount,
		)
	}

	refundComponents, err := ValidateRefundLeafScript(swapTree.RefundLeaf.Output)
	if err != nil {
		return "", fmt.Errorf("failed to parse refund script: %w", err)
	}

	log.Infof("refund script parsed, timeout %d blocks, refund pubkey %x",
		refundComponents.Timeout, refundComponents.RefundPubKey)

	currentHeight, err := h.explorerClient.GetCurrentBlockHeight()
	if err != nil {
		return "", fmt.Errorf("failed to get current block height: %w", err)
	}

	requiredHeight := refundComponents.Timeout
	if currentHeight < requiredHeight {
		blocksRemaining := requiredHeight - currentHeight
		return "", fmt.Errorf(
			"CLTV timeout not yet reached: current block %d, required %d (wait %d more blocks)",
			currentHeight, requiredHeight, blocksRemaining,
		)
	}

	_, _, boardingAddr, err := h.arkClient.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get boarding address: %w", err)
	}

	claimTx, err := constructClaimTransaction(
		h.explorerClient,
		h.config.Dust,
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
	// CLTV requires a non-final sequence
	claimTx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1
	claimTx.LockTime = refundComponents.Timeout

	refundScript, err := hex.DecodeString(swapTree.RefundLeaf.Output)
	if err != nil {
		return "", fmt.Errorf("failed to decode refund script: %w", err)
	}

	serverPubKey, err := parsePubkey(swapResp.LockupDetails.ServerPublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to parse server public key: %w", err)
	}

	internalKey, err := computeAggregateInternalKey(serverPubKey, h.privateKey.PubKey())
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

	signature, err := schnorr.Sign(h.privateKey, sigHash)
	if err != nil {
		return "", fmt.Errorf("failed to sign refund transaction: %w", err)
	}

	claimTx.TxIn[0].Witness = wire.TxWitness{
		signature.Serialize(),
		refundScript,
		controlBlock,
	}

	claimTxid, err := h.explorerClient.BroadcastTransaction(claimTx)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast refund transaction: %w", err)
	}

	log.Infof("refund transaction broadcast: %s", claimTxid)
	log.Infof("BTC sent to boarding address %s, waiting for confirmation", boardingAddr)

	if !h.waitForConfirmation(claimTxid) {
		// the funds sit safely in the boarding address either way
		log.Warnf("refund transaction %s not confirmed in time, BTC is in boarding address %s",
			claimTxid, boardingAddr)
		return claimTxid, nil
	}

	settleTxid, err := h.arkClient.Settle(ctx)
	if err != nil {
		log.WithError(err).Warnf("settle failed, BTC remains in boarding address %s", boardingAddr)
		return claimTxid, nil
	}

	log.Infof("BTC refunded and boarded as VTXO, settle tx %s", settleTxid)

	return claimTxid, nil
}

// waitForConfirmation polls the explorer until txid confirms or the wait
// window expires.
func (h *Handler) waitForConfirmation(txid string) bool {
	const (
		maxWaitTime  = 2 * time.Hour
		pollInterval = 30 * time.Second
	)

	startTime := time.Now()
	for time.Since(startTime) < maxWaitTime {
		txStatus, err := h.explorerClient.GetTransactionStatus(txid)
		if err != nil {
			log.WithError(err).Warn("failed to get transaction status, retrying")
			time.Sleep(pollInterval)
			continue
		}

		if txStatus.Confirmed {
			log.Infof("transaction %s confirmed at block %d", txid, txStatus.BlockHeight)
			return true
		}

		time.Sleep(pollInterval)
	}

	return false
}

// goWithRecover runs fn in a goroutine, a panic must not take down the
// process while other swaps are in flight.
func goWithRecover(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic in %s: %v", name, r)
			}
		}()
		fn()
	}()
}

func genPreimageInfo() (preimage, preimageHashSHA256, preimageHashHASH160 []byte, err error) {
	preimage = make([]byte, 32)
	if _, err = rand.Read(preimage); err != nil {
		err = fmt.Errorf("failed to generate preimage: %w", err)
		return
	}

	sha := sha256.Sum256(preimage)
	preimageHashSHA256 = sha[:]
	preimageHashHASH160 = input.Ripemd160H(preimageHashSHA256)
	return
}

// parsePrevoutFetcher builds a prevout fetcher for the input of claimTx that
// spends lockupTxHex.
func parsePrevoutFetcher(lockupTxHex string, claimTx *wire.MsgTx, inputIndex int) (txscript.PrevOutputFetcher, error) {
	lockupTxBytes, err := hex.DecodeString(lockupTxHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode lockup tx hex: %w", err)
	}

	var lockupTx wire.MsgTx
	if err := lockupTx.Deserialize(bytes.NewReader(lockupTxBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize lockup tx: %w", err)
	}

	prevOut := claimTx.TxIn[inputIndex].PreviousOutPoint
	if int(prevOut.Index) >= len(lockupTx.TxOut) {
		return nil, fmt.Errorf(
			"invalid prevout index %d (lockup tx has %d outputs)", prevOut.Index, len(lockupTx.TxOut),
		)
	}

	return txscript.NewCannedPrevOutputFetcher(
		lockupTx.TxOut[prevOut.Index].PkScript,
		lockupTx.TxOut[prevOut.Index].Value,
	), nil
}
