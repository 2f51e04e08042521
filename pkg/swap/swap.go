// Package swap moves funds between lightning, the ark and the base chain
// through a semi-trusted swap counterparty. Every swap is secured by a VHTLC
// so the counterparty can never take funds without revealing the preimage.
package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/offchain"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/arkade-os/arkd/pkg/ark-lib/tree"
	"github.com/arkade-os/arkd/pkg/ark-lib/txutils"
	arksdk "github.com/arkade-os/go-sdk"
	"github.com/arkade-os/go-sdk/client"
	"github.com/arkade-os/go-sdk/indexer"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ccoveille/go-safecast"
	"github.com/lightningnetwork/lnd/input"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	log "github.com/sirupsen/logrus"
)

var ErrNoVtxosFound = fmt.Errorf("no vtxos found for the given vhtlc opts")

type Handler struct {
	arkClient       arksdk.ArkClient
	transportClient client.TransportClient
	indexerClient   indexer.Indexer
	boltzSvc        *boltz.Api
	explorerClient  ExplorerClient
	privateKey      *btcec.PrivateKey
	publicKey       *btcec.PublicKey
	timeout         uint32
	config          types.Config
}

type Status int

const (
	StatusPending Status = iota
	StatusFailed
	StatusSuccess
)

type Swap struct {
	Id           string
	Invoice      string
	TxId         string
	Timestamp    int64
	RedeemTxid   string
	Status       Status
	PreimageHash []byte
	TimeoutInfo  boltz.TimeoutBlockHeights
	Opts         *vhtlc.Opts
	Amount       uint64
}

func NewHandler(
	arkClient arksdk.ArkClient, transportClient client.TransportClient,
	indexerClient indexer.Indexer, boltzSvc *boltz.Api, explorerClient ExplorerClient,
	privateKey *btcec.PrivateKey, timeout uint32,
) (*Handler, error) {
	cfg, err := arkClient.GetConfigData(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get config data: %w", err)
	}
	return &Handler{
		arkClient:       arkClient,
		transportClient: transportClient,
		indexerClient:   indexerClient,
		boltzSvc:        boltzSvc,
		explorerClient:  explorerClient,
		privateKey:      privateKey,
		publicKey:       privateKey.PubKey(),
		timeout:         timeout,
		config:          *cfg,
	}, nil
}

// ServerPubKey returns the public key of the Ark operator the handler
// creates VHTLCs with.
func (h *Handler) ServerPubKey() *btcec.PublicKey {
	return h.config.SignerPubKey
}

// NetworkParams returns the chain parameters of the network the connected
// Ark operator runs on.
func (h *Handler) NetworkParams() *chaincfg.Params {
	return networkNameToParams(h.config.Network.Name)
}

// PayInvoice pays a bolt11 invoice by locking funds in a VHTLC the
// counterparty claims once the invoice is settled.
func (h *Handler) PayInvoice(
	ctx context.Context, invoice string, unilateralRefund func(swap Swap) error,
) (*Swap, error) {
	if len(invoice) <= 0 {
		return nil, fmt.Errorf("missing invoice")
	}

	return h.submarineSwap(ctx, invoice, unilateralRefund)
}

// GetInvoice creates an invoice that, once paid, is settled with funds locked
// by the counterparty in a VHTLC we claim with the preimage.
func (h *Handler) GetInvoice(
	ctx context.Context, amount uint64, postProcess func(swap Swap) error,
) (Swap, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return Swap{}, fmt.Errorf("failed to generate preimage: %w", err)
	}

	return h.reverseSwap(ctx, amount, preimage, postProcess)
}

func (h *Handler) GetVHTLCFunds(
	ctx context.Context, vhtlcOpts []vhtlc.Opts,
) ([]types.Vtxo, error) {
	vHTLCs := make([]*vhtlc.VHTLCScript, 0, len(vhtlcOpts))
	for _, opts := range vhtlcOpts {
		vHTLC, err := vhtlc.NewVHTLCScript(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse VHTLC from opts: %w", err)
		}
		vHTLCs = append(vHTLCs, vHTLC)
	}

	return h.getVHTLCFunds(ctx, vHTLCs)
}

func (h *Handler) ClaimVHTLC(
	ctx context.Context, preimage []byte, vhtlcOpts vhtlc.Opts,
) (string, error) {
	vHTLC, err := vhtlc.NewVHTLCScript(vhtlcOpts)
	if err != nil {
		return "", err
	}

	vtxos, err := h.getVHTLCFunds(ctx, []*vhtlc.VHTLCScript{vHTLC})
	if err != nil {
		return "", err
	}
	if len(vtxos) == 0 {
		return "", ErrNoVtxosFound
	}

	vtxo := &vtxos[0]

	// recoverable vtxos cannot be spent offchain directly, settle in a batch
	if vtxo.IsRecoverable() {
		txid, err := h.SettleVHTLCWithClaimPath(ctx, vhtlcOpts, preimage)
		if err != nil {
			return "", fmt.Errorf("failed to settle vhtlc with claim path: %w", err)
		}

		log.Infof("recoverable vhtlc settled with claim path: %s", txid)
		return txid, nil
	}

	vtxoTxHash, err := chainhash.NewHashFromStr(vtxo.Txid)
	if err != nil {
		return "", err
	}
	vtxoOutpoint := &wire.OutPoint{
		Hash:  *vtxoTxHash,
		Index: vtxo.VOut,
	}

	// self send output
	myAddr, err := h.arkClient.NewOffchainAddress(ctx)
	if err != nil {
		return "", err
	}

	decodedAddr, err := arklib.DecodeAddressV0(myAddr)
	if err != nil {
		return "", err
	}

	pkScript, err := script.P2TRScript(decodedAddr.VtxoTapKey)
	if err != nil {
		return "", err
	}

	amount, err := safecast.ToInt64(vtxo.Amount)
	if err != nil {
		return "", err
	}

	claimTapscript, err := vHTLC.ClaimTapscript()
	if err != nil {
		return "", err
	}

	arkTx, checkpoints, err := offchain.BuildTxs(
		[]offchain.VtxoInput{
			{
				RevealedTapscripts: vHTLC.GetRevealedTapscripts(),
				Outpoint:           vtxoOutpoint,
				Amount:             amount,
				Tapscript:          claimTapscript,
			},
		},
		[]*wire.TxOut{
			{
				Value:    amount,
				PkScript: pkScript,
			},
		},
		checkpointExitScript(h.config),
	)
	if err != nil {
		return "", err
	}

	signTransaction := func(tx *psbt.Packet) (string, error) {
		// the preimage goes into the condition witness before signing
		if err := txutils.SetArkPsbtField(
			tx, 0, txutils.ConditionWitnessField, wire.TxWitness{preimage},
		); err != nil {
			return "", err
		}

		encoded, err := tx.B64Encode()
		if err != nil {
			return "", err
		}

		return h.arkClient.SignTransaction(ctx, encoded)
	}

	signedArkTx, err := signTransaction(arkTx)
	if err != nil {
		return "", err
	}

	checkpointTxs := make([]string, 0, len(checkpoints))
	for _, ptx := range checkpoints {
		tx, err := ptx.B64Encode()
		if err != nil {
			return "", err
		}
		checkpointTxs = append(checkpointTxs, tx)
	}

	arkTxid, finalArkTx, signedCheckpoints, err := h.transportClient.SubmitTx(
		ctx, signedArkTx, checkpointTxs,
	)
	if err != nil {
		return "", err
	}

	if err := verifyFinalArkTx(
		finalArkTx, h.config.SignerPubKey, getInputTapLeaves(arkTx),
	); err != nil {
		return "", err
	}

	finalCheckpoints, err := verifyAndSignCheckpoints(
		signedCheckpoints, checkpoints, h.config.SignerPubKey, signTransaction,
	)
	if err != nil {
		return "", err
	}

	if err := h.transportClient.FinalizeTx(ctx, arkTxid, finalCheckpoints); err != nil {
		return "", err
	}

	return arkTxid, nil
}

// RefundSwap refunds a funded VHTLC back to us. With withReceiver the
// counterparty co-signs the 3-of-3 refund path, otherwise the CLTV-gated
// refund-without-receiver path is used.
func (h *Handler) RefundSwap(
	ctx context.Context, swapId string, withReceiver bool, vhtlcOpts vhtlc.Opts,
) (string, error) {
	vhtlcScript, err := vhtlc.NewVHTLCScript(vhtlcOpts)
	if err != nil {
		return "", err
	}
	vhtlcAddr, err := vhtlcScript.Address(h.config.Network.Addr)
	if err != nil {
		return "", err
	}

	vtxos, err := h.getVHTLCFunds(ctx, []*vhtlc.VHTLCScript{vhtlcScript})
	if err != nil {
		return "", err
	}
	if len(vtxos) == 0 {
		return "", fmt.Errorf("no vtxos found for vhtlc %s", vhtlcAddr)
	}

	vtxo := vtxos[0]

	if vtxo.IsRecoverable() {
		txid, err := h.SettleVhtlcWithRefundPath(ctx, vhtlcOpts)
		if err != nil {
			return "", fmt.Errorf("failed to settle vhtlc with refund path: %w", err)
		}

		log.Infof("recoverable vhtlc settled with refund path: %s", txid)
		return txid, nil
	}

	vtxoTxHash, err := chainhash.NewHashFromStr(vtxo.Txid)
	if err != nil {
		return "", err
	}
	vtxoOutpoint := &wire.OutPoint{
		Hash:  *vtxoTxHash,
		Index: vtxo.VOut,
	}

	refundTapscript, err := vhtlcScript.RefundTapscript(withReceiver)
	if err != nil {
		return "", err
	}

	offchainAddress, err := h.arkClient.NewOffchainAddress(ctx)
	if err != nil {
		return "", err
	}

	offchainPkScript, err := offchainAddressPkScript(offchainAddress)
	if err != nil {
		return "", err
	}

	dest, err := hex.DecodeString(offchainPkScript)
	if err != nil {
		return "", err
	}

	amount, err := safecast.ToInt64(vtxo.Amount)
	if err != nil {
		return "", err
	}

	refundTx, checkpointPtxs, err := offchain.BuildTxs(
		[]offchain.VtxoInput{
			{
				RevealedTapscripts: vhtlcScript.GetRevealedTapscripts(),
				Outpoint:           vtxoOutpoint,
				Amount:             amount,
				Tapscript:          refundTapscript,
			},
		},
		[]*wire.TxOut{
			{
				Value:    amount,
				PkScript: dest,
			},
		},
		checkpointExitScript(h.config),
	)
	if err != nil {
		return "", err
	}

	if len(checkpointPtxs) != 1 {
		return "", fmt.Errorf(
			"failed to build refund tx: expected 1 checkpoint tx got %d", len(checkpointPtxs),
		)
	}
	unsignedRefundTx, err := refundTx.B64Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode unsigned refund tx: %s", err)
	}
	unsignedCheckpointTx, err := checkpointPtxs[0].B64Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode unsigned refund checkpoint tx: %s", err)
	}

	signTransaction := func(tx *psbt.Packet) (string, error) {
		encoded, err := tx.B64Encode()
		if err != nil {
			return "", err
		}
		return h.arkClient.SignTransaction(ctx, encoded)
	}

	signedRefundTx, err := signTransaction(refundTx)
	if err != nil {
		return "", fmt.Errorf("failed to sign refund tx: %s", err)
	}
	signedCheckpointTx, err := signTransaction(checkpointPtxs[0])
	if err != nil {
		return "", fmt.Errorf("failed to sign refund checkpoint tx: %s", err)
	}

	signedRefundPsbt, err := psbt.NewFromRawBytes(strings.NewReader(signedRefundTx), true)
	if err != nil {
		return "", fmt.Errorf("failed to decode refund tx signed by us: %s", err)
	}

	signedCheckpointPsbt, err := psbt.NewFromRawBytes(strings.NewReader(signedCheckpointTx), true)
	if err != nil {
		return "", fmt.Errorf("failed to decode checkpoint tx signed by us: %s", err)
	}

	pubKeysToVerify := []*btcec.PublicKey{vhtlcOpts.Sender, vhtlcOpts.Server}
	checkpointsList := append([]*psbt.Packet{}, signedCheckpointPsbt)

	if withReceiver {
		pubKeysToVerify = append(pubKeysToVerify, vhtlcOpts.Receiver)

		boltzSignedRefundPtx, boltzSignedCheckpointPtx, err := h.collaborativeRefund(
			swapId, unsignedRefundTx, unsignedCheckpointTx)
		if err != nil {
			return "", err
		}

		for i := range signedRefundPsbt.Inputs {
			boltzIn := boltzSignedRefundPtx.Inputs[i]
			partialSig := boltzIn.TaprootScriptSpendSig[0]
			signedRefundPsbt.Inputs[i].TaprootScriptSpendSig =
				append(signedRefundPsbt.Inputs[i].TaprootScriptSpendSig, partialSig)
		}

		checkpointsList = append(checkpointsList, boltzSignedCheckpointPtx)
	}

	signedRefund, err := signedRefundPsbt.B64Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode final refund tx: %s", err)
	}

	arkTxid, finalRefundTx, serverSignedCheckpoints, err := h.transportClient.SubmitTx(
		ctx, signedRefund, []string{unsignedCheckpointTx},
	)
	if err != nil {
		return "", err
	}

	finalRefundPtx, err := psbt.NewFromRawBytes(strings.NewReader(finalRefundTx), true)
	if err != nil {
		return "", fmt.Errorf("failed to decode refund tx signed by server: %s", err)
	}

	serverCheckpointPtx, err := psbt.NewFromRawBytes(
		strings.NewReader(serverSignedCheckpoints[0]), true,
	)
	if err != nil {
		return "", fmt.Errorf("failed to decode checkpoint tx signed by server: %s", err)
	}

	if err := verifySignatures(
		[]*psbt.Packet{finalRefundPtx}, pubKeysToVerify, getInputTapLeaves(refundTx),
	); err != nil {
		return "", err
	}

	checkpointsList = append(checkpointsList, serverCheckpointPtx)
	finalCheckpointPtx, err := combineTapscripts(checkpointsList)
	if err != nil {
		return "", fmt.Errorf("failed to combine checkpoint txs: %s", err)
	}

	if err := verifySignatures(
		[]*psbt.Packet{finalCheckpointPtx}, pubKeysToVerify,
		getInputTapLeaves(serverCheckpointPtx),
	); err != nil {
		return "", err
	}

	finalCheckpointTx, err := finalCheckpointPtx.B64Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode final checkpoint tx: %s", err)
	}

	if err := h.transportClient.FinalizeTx(ctx, arkTxid, []string{finalCheckpointTx}); err != nil {
		return "", fmt.Errorf("failed to finalize refund tx: %w", err)
	}

	return arkTxid, nil
}

// SettleVHTLCWithClaimPath claims a VHTLC through a batch session, revealing
// the preimage in the forfeit.
func (h *Handler) SettleVHTLCWithClaimPath(
	ctx context.Context, vhtlcOpts vhtlc.Opts, preimage []byte,
) (string, error) {
	if err := validatePreimage(preimage, vhtlcOpts.PreimageHash); err != nil {
		return "", err
	}

	session, err := h.getBatchSessionArgs(ctx, vhtlcOpts, nil)
	if err != nil {
		return "", err
	}

	proof, message, err := getClaimIntent(session, preimage)
	if err != nil {
		return "", fmt.Errorf("failed to build claim intent: %w", err)
	}

	signedProof, err := h.arkClient.SignTransaction(ctx, proof)
	if err != nil {
		return "", fmt.Errorf("failed to sign intent proof: %w", err)
	}

	intentID, err := h.transportClient.RegisterIntent(ctx, signedProof, message)
	if err != nil {
		return "", fmt.Errorf("failed to register VHTLC claim intent: %w", err)
	}

	topics := getEventTopics(session.vtxos, session.signerSession.GetPublicKey())
	eventsCh, cancel, err := h.transportClient.GetEventStream(ctx, topics)
	if err != nil {
		return "", fmt.Errorf("failed to get event stream: %w", err)
	}
	defer cancel()

	claimHandler := newClaimBatchSessionHandler(
		h.arkClient, h.transportClient,
		intentID,
		session.vtxos,
		[]types.Receiver{{To: session.destinationAddr, Amount: session.totalAmount}},
		preimage,
		[]*vhtlc.VHTLCScript{session.vhtlcScript},
		h.config,
		session.signerSession,
	)

	txid, err := arksdk.JoinBatchSession(ctx, eventsCh, claimHandler)
	if err != nil {
		return "", fmt.Errorf("batch session failed: %w", err)
	}

	log.Debugf("successfully claimed VHTLC in round %s", txid)
	return txid, nil
}

// SettleVhtlcWithRefundPath refunds a VHTLC through a batch session using the
// refund-without-receiver path.
func (h *Handler) SettleVhtlcWithRefundPath(
	ctx context.Context, vhtlcOpts vhtlc.Opts,
) (string, error) {
	session, err := h.getBatchSessionArgs(ctx, vhtlcOpts, nil)
	if err != nil {
		return "", err
	}

	proof, message, err := getRefundIntent(session)
	if err != nil {
		return "", fmt.Errorf("failed to build refund intent: %w", err)
	}

	signedProof, err := h.arkClient.SignTransaction(ctx, proof)
	if err != nil {
		return "", fmt.Errorf("failed to sign intent proof: %w", err)
	}

	intentID, err := h.transportClient.RegisterIntent(ctx, signedProof, message)
	if err != nil {
		return "", fmt.Errorf("failed to register VHTLC refund intent: %w", err)
	}

	topics := getEventTopics(session.vtxos, session.signerSession.GetPublicKey())
	eventsCh, cancel, err := h.transportClient.GetEventStream(ctx, topics)
	if err != nil {
		return "", fmt.Errorf("failed to get event stream: %w", err)
	}
	defer cancel()

	withReceiver := false
	refundHandler := newRefundBatchSessionHandler(
		h.arkClient,
		h.transportClient,
		intentID,
		session.vtxos,
		[]types.Receiver{{To: session.destinationAddr, Amount: session.totalAmount}},
		withReceiver,
		[]*vhtlc.VHTLCScript{session.vhtlcScript},
		h.config,
		h.publicKey,
		session.signerSession,
	)

	txid, err := arksdk.JoinBatchSession(ctx, eventsCh, refundHandler)
	if err != nil {
		return "", fmt.Errorf("batch session failed: %w", err)
	}

	log.Debugf("successfully refunded VHTLC in round %s", txid)
	return txid, nil
}

// SettleVHTLCWithCollaborativeRefundPath completes a delegated refund: the
// sender provides a signed intent proof and a partial forfeit tx, we join the
// batch on their behalf.
func (h *Handler) SettleVHTLCWithCollaborativeRefundPath(
	ctx context.Context, vhtlcOpts vhtlc.Opts,
	partialForfeitTx, proof, message string, signerSession tree.SignerSession,
) (string, error) {
	session, err := h.getBatchSessionArgs(ctx, vhtlcOpts, &signerSession)
	if err != nil {
		return "", err
	}

	signedProof, err := h.arkClient.SignTransaction(ctx, proof)
	if err != nil {
		return "", fmt.Errorf("failed to cosign intent proof: %w", err)
	}

	intentId, err := h.transportClient.RegisterIntent(ctx, signedProof, message)
	if err != nil {
		return "", fmt.Errorf("failed to register intent: %w", err)
	}

	withReceiver := true
	handler := newCollabRefundBatchSessionHandler(
		h.arkClient,
		h.transportClient,
		intentId,
		session.vtxos,
		[]types.Receiver{{To: session.destinationAddr, Amount: session.totalAmount}},
		withReceiver,
		[]*vhtlc.VHTLCScript{session.vhtlcScript},
		h.config,
		session.signerSession,
		partialForfeitTx,
	)

	topics := getEventTopics(session.vtxos, session.signerSession.GetPublicKey())
	eventsCh, cancel, err := h.transportClient.GetEventStream(ctx, topics)
	if err != nil {
		return "", fmt.Errorf("failed to get event stream: %w", err)
	}
	defer cancel()

	txid, err := arksdk.JoinBatchSession(ctx, eventsCh, handler)
	if err != nil {
		return "", fmt.Errorf("batch session failed: %w", err)
	}

	log.Debugf("successfully completed delegate refund in round %s", txid)
	return txid, nil
}

func (h *Handler) submarineSwap(
	ctx context.Context, invoice string, unilateralRefund func(swap Swap) error,
) (*Swap, error) {
	if unilateralRefund == nil {
		return nil, fmt.Errorf("missing callback for unilateral refund")
	}

	_, preimageHash, err := DecodeInvoice(invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %v", err)
	}

	swap, err := h.boltzSvc.CreateSwap(boltz.CreateSwapRequest{
		From:            boltz.CurrencyArk,
		To:              boltz.CurrencyBtc,
		Invoice:         invoice,
		RefundPublicKey: hex.EncodeToString(h.publicKey.SerializeCompressed()),
		PaymentTimeout:  h.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to make submarine swap: %v", err)
	}

	receiverPubkey, err := parsePubkey(swap.ClaimPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid claim pubkey: %v", err)
	}

	vhtlcAddress, _, vhtlcOpts, err := h.getVHTLC(
		ctx,
		receiverPubkey,
		nil,
		preimageHash,
		arklib.AbsoluteLocktime(swap.TimeoutBlockHeights.RefundLocktime),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralClaim),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralRefund),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralRefundWithoutReceiver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify vHTLC: %v", err)
	}
	if swap.Address != vhtlcAddress {
		return nil, fmt.Errorf("boltz is trying to scam us, vHTLCs do not match")
	}

	ws := h.boltzSvc.NewWebsocket()
	if err := ws.ConnectAndSubscribe(ctx, []string{swap.Id}, 5*time.Second); err != nil {
		return nil, err
	}

	receivers := []types.Receiver{{To: swap.Address, Amount: swap.ExpectedAmount}}
	var txid string
	for range 3 {
		txid, err = h.arkClient.SendOffChain(ctx, receivers)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "vtxo_already_spent") {
				continue
			}
			return nil, fmt.Errorf("failed to pay to vHTLC address: %v", err)
		}
		break
	}
	if err != nil {
		log.WithError(err).Error("failed to pay to vHTLC address")
		return nil, fmt.Errorf("something went wrong, please retry")
	}

	swapDetails := &Swap{
		Id:           swap.Id,
		Invoice:      invoice,
		TxId:         txid,
		PreimageHash: preimageHash,
		Timestamp:    time.Now().Unix(),
		TimeoutInfo:  swap.TimeoutBlockHeights,
		Status:       StatusPending,
		Opts:         vhtlcOpts,
		Amount:       swap.ExpectedAmount,
	}

	contextTimeout := time.Second * time.Duration(h.timeout)
	timeoutCtx, cancel := context.WithTimeout(ctx, contextTimeout)
	defer cancel()
	ctx = timeoutCtx

	for {
		select {
		case update, ok := <-ws.Updates:
			if !ok {
				ws = h.resubscribe(ctx, ws, swap.Id)
				continue
			}

			switch boltz.ParseEvent(update.Status) {
			case boltz.TransactionLockupFailed, boltz.InvoiceFailedToPay:
				withReceiver := true
				swapDetails.Status = StatusFailed

				txid, err := h.RefundSwap(context.Background(), swap.Id, withReceiver, *vhtlcOpts)
				if err != nil {
					log.WithError(err).Warnf("failed to refund swap %s collaboratively", swap.Id)
					go func() {
						if err := unilateralRefund(*swapDetails); err != nil {
							log.WithError(err).Errorf(
								"failed to refund swap %s unilaterally", swap.Id,
							)
						}
					}()
				}
				swapDetails.RedeemTxid = txid

				return swapDetails, nil
			case boltz.TransactionClaimed, boltz.InvoiceSettled:
				swapDetails.Status = StatusSuccess

				return swapDetails, nil
			}
		case <-ctx.Done():
			swapDetails.Status = StatusFailed
			go func() {
				if err := unilateralRefund(*swapDetails); err != nil {
					log.WithError(err).Errorf("failed to refund swap %s unilaterally", swap.Id)
				}
			}()

			return swapDetails, nil
		}
	}
}

func (h *Handler) reverseSwap(
	ctx context.Context, amount uint64, preimage []byte, postProcess func(swap Swap) error,
) (Swap, error) {
	buf := sha256.Sum256(preimage)
	preimageHash := input.Ripemd160H(buf[:])

	swap, err := h.boltzSvc.CreateReverseSwap(boltz.CreateReverseSwapRequest{
		From:           boltz.CurrencyBtc,
		To:             boltz.CurrencyArk,
		InvoiceAmount:  amount,
		ClaimPublicKey: hex.EncodeToString(h.publicKey.SerializeCompressed()),
		PreimageHash:   hex.EncodeToString(buf[:]),
	})
	if err != nil {
		return Swap{}, fmt.Errorf("failed to make reverse submarine swap: %v", err)
	}

	senderPubkey, err := parsePubkey(swap.RefundPublicKey)
	if err != nil {
		return Swap{}, fmt.Errorf("invalid refund pubkey: %v", err)
	}

	// the invoice must commit to our preimage and the requested amount
	invoiceAmount, gotPreimageHash, err := DecodeInvoice(swap.Invoice)
	if err != nil {
		return Swap{}, fmt.Errorf("failed to decode invoice: %v", err)
	}

	if !bytes.Equal(preimageHash, gotPreimageHash) {
		return Swap{}, fmt.Errorf(
			"invalid preimage hash: expected %x, got %x", preimageHash, gotPreimageHash,
		)
	}
	if invoiceAmount != amount {
		return Swap{}, fmt.Errorf(
			"invalid invoice amount: expected %d, got %d", amount, invoiceAmount,
		)
	}

	vhtlcAddress, _, vhtlcOpts, err := h.getVHTLC(
		ctx,
		nil,
		senderPubkey,
		gotPreimageHash,
		arklib.AbsoluteLocktime(swap.TimeoutBlockHeights.RefundLocktime),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralClaim),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralRefund),
		parseLocktime(swap.TimeoutBlockHeights.UnilateralRefundWithoutReceiver),
	)

	swapDetails := Swap{
		Id:           swap.Id,
		Invoice:      swap.Invoice,
		PreimageHash: preimageHash,
		TimeoutInfo:  swap.TimeoutBlockHeights,
		Timestamp:    time.Now().Unix(),
		Status:       StatusPending,
		Amount:       swap.OnchainAmount,
		Opts:         vhtlcOpts,
	}
	if err != nil {
		return swapDetails, fmt.Errorf("failed to verify vHTLC: %v", err)
	}

	if swap.LockupAddress != vhtlcAddress {
		return swapDetails, fmt.Errorf("boltz is trying to scam us, vHTLCs do not match")
	}

	inv, err := decodepay.Decodepay(swap.Invoice)
	if err != nil {
		return swapDetails, fmt.Errorf("failed to decode invoice: %v", err)
	}

	go func(swapDetails Swap) {
		if redeemTxid, err := h.waitAndClaim(
			inv.Expiry, swapDetails.Id, preimage, vhtlcOpts,
		); err != nil {
			swapDetails.Status = StatusFailed
			log.WithError(err).Error("failed to claim VHTLC")
		} else {
			swapDetails.RedeemTxid = redeemTxid
			swapDetails.Status = StatusSuccess
		}

		if err := postProcess(swapDetails); err != nil {
			log.WithError(err).Error("failed to post process swap")
		}
	}(swapDetails)
	return swapDetails, nil
}

func (h *Handler) getVHTLCFunds(
	ctx context.Context, vhtlcs []*vhtlc.VHTLCScript,
) ([]types.Vtxo, error) {
	scripts := make([]string, 0, len(vhtlcs))
	for _, vHTLC := range vhtlcs {
		tapKey, _, err := vHTLC.TapTree()
		if err != nil {
			return nil, err
		}

		outScript, err := script.P2TRScript(tapKey)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, hex.EncodeToString(outScript))
	}

	vtxosRequest := indexer.GetVtxosRequestOption{}
	if err := vtxosRequest.WithScripts(scripts); err != nil {
		return nil, err
	}
	resp, err := h.indexerClient.GetVtxos(ctx, vtxosRequest)
	if err != nil {
		return nil, err
	}
	return resp.Vtxos, nil
}

func (h *Handler) getVHTLC(
	_ context.Context,
	receiverPubkey, senderPubkey *btcec.PublicKey, preimageHash []byte,
	refundLocktime arklib.AbsoluteLocktime,
	unilateralClaimDelay, unilateralRefundDelay,
	unilateralRefundWithoutReceiverDelay arklib.RelativeLocktime,
) (string, *vhtlc.VHTLCScript, *vhtlc.Opts, error) {
	receiverPubkeySet := receiverPubkey != nil
	senderPubkeySet := senderPubkey != nil
	if receiverPubkeySet == senderPubkeySet {
		return "", nil, nil, fmt.Errorf("only one of receiver and sender pubkey must be set")
	}
	if !receiverPubkeySet {
		receiverPubkey = h.publicKey
	}
	if !senderPubkeySet {
		senderPubkey = h.publicKey
	}

	opts := vhtlc.Opts{
		Sender:                               senderPubkey,
		Receiver:                             receiverPubkey,
		Server:                               h.config.SignerPubKey,
		PreimageHash:                         preimageHash,
		RefundLocktime:                       refundLocktime,
		UnilateralClaimDelay:                 unilateralClaimDelay,
		UnilateralRefundDelay:                unilateralRefundDelay,
		UnilateralRefundWithoutReceiverDelay: unilateralRefundWithoutReceiverDelay,
	}

	vHTLC, err := vhtlc.NewVHTLCScript(opts)
	if err != nil {
		return "", nil, nil, err
	}

	encodedAddr, err := vHTLC.Address(h.config.Network.Addr)
	if err != nil {
		return "", nil, nil, err
	}

	return encodedAddr, vHTLC, &opts, nil
}

func (h *Handler) waitAndClaim(
	invoiceExpiry int, swapId string, preimage []byte, vhtlcOpts *vhtlc.Opts,
) (string, error) {
	expiryDuration := time.Duration(invoiceExpiry) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), expiryDuration*2)
	defer cancel()

	ws := h.boltzSvc.NewWebsocket()
	defer ws.Close()

	if err := ws.ConnectAndSubscribe(ctx, []string{swapId}, 5*time.Second); err != nil {
		return "", err
	}

	var txid string
	for {
		select {
		case update, ok := <-ws.Updates:
			if !ok {
				ws = h.resubscribe(ctx, ws, swapId)
				continue
			}

			confirmed := false
			switch boltz.ParseEvent(update.Status) {
			case boltz.TransactionMempool:
				confirmed = true
			case boltz.InvoiceFailedToPay, boltz.TransactionFailed, boltz.TransactionLockupFailed:
				return "", fmt.Errorf("failed to receive payment: %s", update.Status)
			}
			if confirmed {
				interval := 200 * time.Millisecond
				log.Debug("claiming VHTLC with preimage...")
				if err := retry(ctx, interval, func(ctx context.Context) (bool, error) {
					var err error
					txid, err = h.ClaimVHTLC(ctx, preimage, *vhtlcOpts)
					if err != nil {
						if errors.Is(err, ErrNoVtxosFound) {
							return false, nil
						}
						return false, err
					}

					return true, nil
				}); err != nil {
					return "", err
				}
				log.Debugf("successfully claimed VHTLC with tx: %s", txid)
				return txid, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("timed out waiting for boltz to detect payment")
		}
	}
}

// resubscribe replaces a dropped status feed with a fresh one. The old
// socket is returned untouched when the new subscription fails, so the
// caller's receive loop simply tries again.
func (h *Handler) resubscribe(
	ctx context.Context, ws *boltz.Websocket, swapId string,
) *boltz.Websocket {
	next := h.boltzSvc.NewWebsocket()
	if err := next.ConnectAndSubscribe(ctx, []string{swapId}, 5*time.Second); err != nil {
		return ws
	}
	_ = ws.Close()
	return next
}

func (h *Handler) collaborativeRefund(
	swapId, refundTx, checkpointTx string,
) (*psbt.Packet, *psbt.Packet, error) {
	tx, err := h.boltzSvc.RefundSubmarine(swapId, boltz.RefundSwapRequest{
		Transaction: refundTx,
		Checkpoint:  checkpointTx,
	})
	if err != nil {
		return nil, nil, err
	}

	refundPtx, err := psbt.NewFromRawBytes(strings.NewReader(tx.Transaction), true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode refund tx signed by boltz: %s", err)
	}

	checkpointPtx, err := psbt.NewFromRawBytes(strings.NewReader(tx.Checkpoint), true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode checkpoint tx signed by boltz: %s", err)
	}

	return refundPtx, checkpointPtx, nil
}

// getBatchSessionArgs prepares the shared state for settling a VHTLC in a
// batch session. signerSession is non-nil only for delegated refunds.
func (h *Handler) getBatchSessionArgs(
	ctx context.Context, vhtlcOpts vhtlc.Opts, signerSession *tree.SignerSession,
) (*batchSessionArgs, error) {
	vhtlcScript, err := vhtlc.NewVHTLCScript(vhtlcOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create VHTLC script: %w", err)
	}

	vtxos, err := h.getVHTLCFunds(ctx, []*vhtlc.VHTLCScript{vhtlcScript})
	if err != nil {
		return nil, fmt.Errorf("failed to query VTXOs: %w", err)
	}
	if len(vtxos) == 0 {
		return nil, ErrNoVtxosFound
	}

	var totalAmount uint64
	for _, vtxo := range vtxos {
		totalAmount += vtxo.Amount
	}

	myAddr, err := h.arkClient.NewOffchainAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get offchain address: %w", err)
	}

	if signerSession == nil {
		ephemeralKey, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to create ephemeral key: %w", err)
		}

		ephemeralSignerSession := tree.NewTreeSignerSession(ephemeralKey)
		signerSession = &ephemeralSignerSession
	}

	vtxoTapscripts := []client.TapscriptsVtxo{{
		Vtxo:       vtxos[0],
		Tapscripts: vhtlcScript.GetRevealedTapscripts(),
	}}

	return &batchSessionArgs{
		vhtlcScript:     vhtlcScript,
		totalAmount:     totalAmount,
		destinationAddr: myAddr,
		signerSession:   *signerSession,
		vtxos:           vtxoTapscripts,
	}, nil
}
