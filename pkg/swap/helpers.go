package swap

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/intent"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/arkade-os/arkd/pkg/ark-lib/tree"
	"github.com/arkade-os/arkd/pkg/ark-lib/txutils"
	"github.com/arkade-os/go-sdk/client"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
)

// validatePreimage checks the preimage length and that
// RIPEMD160(SHA256(preimage)) matches the expected hash.
func validatePreimage(preimage, expectedHash []byte) error {
	if len(preimage) != 32 {
		return fmt.Errorf("preimage must be 32 bytes, got %d", len(preimage))
	}

	buf := sha256.Sum256(preimage)
	preimageHash := input.Ripemd160H(buf[:])
	if !bytes.Equal(preimageHash, expectedHash) {
		return fmt.Errorf("preimage hash mismatch: expected %x, got %x",
			expectedHash, preimageHash)
	}

	return nil
}

// getEventTopics lists the event stream topics for a batch session: one
// "txid:vout" per vtxo and the ephemeral signer pubkey.
func getEventTopics(vtxos []client.TapscriptsVtxo, signerPubkey string) []string {
	topics := make([]string, 0, len(vtxos)+1)
	for _, vtxo := range vtxos {
		topics = append(topics, fmt.Sprintf("%s:%d", vtxo.Outpoint.Txid, vtxo.Outpoint.VOut))
	}
	return append(topics, signerPubkey)
}

// extractLocktimeAndSequence returns the absolute locktime and the input
// sequence for a forfeit closure. CLTV closures need a sequence below
// MaxTxInSequenceNum for the locktime to be enforced.
func extractLocktimeAndSequence(closure script.Closure) (arklib.AbsoluteLocktime, uint32) {
	if cltv, ok := closure.(*script.CLTVMultisigClosure); ok {
		return cltv.Locktime, wire.MaxTxInSequenceNum - 1
	}
	return arklib.AbsoluteLocktime(0), wire.MaxTxInSequenceNum
}

// ForfeitBuilder selects the settlement path of a VHTLC and prepares the
// forfeit tx before signing.
type ForfeitBuilder interface {
	BuildForfeit(forfeitPtx *psbt.Packet) error
	GetSettlementClosure(vhtlcScript *vhtlc.VHTLCScript) script.Closure
}

// ClaimForfeitBuilder settles through the claim path. The preimage must be
// injected before signing.
type ClaimForfeitBuilder struct {
	preimage []byte
}

func (b *ClaimForfeitBuilder) BuildForfeit(forfeitPtx *psbt.Packet) error {
	if err := txutils.SetArkPsbtField(
		forfeitPtx, 0, txutils.ConditionWitnessField, wire.TxWitness{b.preimage},
	); err != nil {
		return fmt.Errorf("failed to inject preimage: %w", err)
	}
	return nil
}

func (b *ClaimForfeitBuilder) GetSettlementClosure(vhtlcScript *vhtlc.VHTLCScript) script.Closure {
	return vhtlcScript.ClaimClosure
}

// RefundForfeitBuilder settles through one of the refund paths.
type RefundForfeitBuilder struct {
	withReceiver bool
}

func (b *RefundForfeitBuilder) BuildForfeit(_ *psbt.Packet) error {
	return nil
}

func (b *RefundForfeitBuilder) GetSettlementClosure(vhtlcScript *vhtlc.VHTLCScript) script.Closure {
	if b.withReceiver {
		return vhtlcScript.RefundClosure
	}
	return vhtlcScript.RefundWithoutReceiverClosure
}

// getClaimIntent builds and encodes the intent proof settling a VHTLC
// through the claim path.
func getClaimIntent(session *batchSessionArgs, preimage []byte) (string, string, error) {
	return buildSettlementIntent(session, &ClaimForfeitBuilder{preimage: preimage})
}

// getRefundIntent builds and encodes the intent proof settling a VHTLC
// through the refund-without-receiver path.
func getRefundIntent(session *batchSessionArgs) (string, string, error) {
	return buildSettlementIntent(session, &RefundForfeitBuilder{withReceiver: false})
}

func buildSettlementIntent(
	session *batchSessionArgs, builder ForfeitBuilder,
) (string, string, error) {
	vhtlcScript := session.vhtlcScript
	forfeitClosure := builder.GetSettlementClosure(vhtlcScript)
	locktime, sequence := extractLocktimeAndSequence(forfeitClosure)

	vtxos := make([]types.Vtxo, 0, len(session.vtxos))
	for _, vtxo := range session.vtxos {
		vtxos = append(vtxos, vtxo.Vtxo)
	}

	inputs, err := buildIntentInputs(vtxos, vhtlcScript, sequence)
	if err != nil {
		return "", "", err
	}

	message, err := createIntentMessage(session.signerSession)
	if err != nil {
		return "", "", err
	}

	outputs, err := buildIntentOutputs([]types.Receiver{
		{To: session.destinationAddr, Amount: session.totalAmount},
	})
	if err != nil {
		return "", "", err
	}

	proof, err := intent.New(message, inputs, outputs)
	if err != nil {
		return "", "", fmt.Errorf("failed to build intent proof: %w", err)
	}

	if locktime != 0 {
		proof.Packet.UnsignedTx.LockTime = uint32(locktime)
	}

	if err := addForfeitLeafProof(proof, vhtlcScript, forfeitClosure); err != nil {
		return "", "", err
	}

	// the vtxo inputs sit after the BIP-322 toSpend input at index 0
	for i := range inputs {
		proof.Inputs[i+1].TaprootLeafScript = proof.Inputs[0].TaprootLeafScript
		if err := txutils.SetArkPsbtField(
			&proof.Packet, i+1, txutils.VtxoTaprootTreeField,
			vhtlcScript.GetRevealedTapscripts(),
		); err != nil {
			return "", "", fmt.Errorf("failed to encode tapscripts: %w", err)
		}
	}

	encodedProof, err := proof.B64Encode()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode intent proof: %w", err)
	}

	return encodedProof, message, nil
}

func buildIntentInputs(
	vtxos []types.Vtxo, vhtlcScript *vhtlc.VHTLCScript, inputSequence uint32,
) ([]intent.Input, error) {
	vhtlcTapKey, _, err := vhtlcScript.TapTree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tap tree: %w", err)
	}

	pkScript, err := script.P2TRScript(vhtlcTapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create p2tr script: %w", err)
	}

	inputs := make([]intent.Input, 0, len(vtxos))
	for _, vtxo := range vtxos {
		vtxoTxHash, err := chainhash.NewHashFromStr(vtxo.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid vtxo txid %s: %w", vtxo.Txid, err)
		}

		inputs = append(inputs, intent.Input{
			OutPoint: &wire.OutPoint{
				Hash:  *vtxoTxHash,
				Index: vtxo.VOut,
			},
			Sequence: inputSequence,
			WitnessUtxo: &wire.TxOut{
				Value:    int64(vtxo.Amount),
				PkScript: pkScript,
			},
		})
	}

	return inputs, nil
}

func createIntentMessage(signerSession tree.SignerSession) (string, error) {
	validAt := time.Now()
	intentMessage, err := intent.RegisterMessage{
		BaseMessage: intent.BaseMessage{
			Type: intent.IntentMessageTypeRegister,
		},
		ExpireAt:            validAt.Add(5 * time.Minute).Unix(),
		ValidAt:             validAt.Unix(),
		CosignersPublicKeys: []string{signerSession.GetPublicKey()},
	}.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode intent message: %w", err)
	}
	return intentMessage, nil
}

func buildIntentOutputs(receivers []types.Receiver) ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0, len(receivers))
	for _, receiver := range receivers {
		decodedAddr, err := arklib.DecodeAddressV0(receiver.To)
		if err != nil {
			return nil, fmt.Errorf("failed to decode receiver address: %w", err)
		}

		pkScript, err := script.P2TRScript(decodedAddr.VtxoTapKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create receiver pkScript: %w", err)
		}

		outputs = append(outputs, &wire.TxOut{
			Value:    int64(receiver.Amount),
			PkScript: pkScript,
		})
	}
	return outputs, nil
}

// addForfeitLeafProof attaches the forfeit closure merkle proof to the
// BIP-322 toSpend input so the operator can build the forfeit tx.
func addForfeitLeafProof(
	proof *intent.Proof, vhtlcScript *vhtlc.VHTLCScript, forfeitClosure script.Closure,
) error {
	_, vhtlcTapTree, err := vhtlcScript.TapTree()
	if err != nil {
		return fmt.Errorf("failed to get tap tree: %w", err)
	}

	forfeitScript, err := forfeitClosure.Script()
	if err != nil {
		return fmt.Errorf("failed to get forfeit script: %w", err)
	}

	forfeitLeaf := txscript.NewBaseTapLeaf(forfeitScript)
	leafProof, err := vhtlcTapTree.GetTaprootMerkleProof(forfeitLeaf.TapHash())
	if err != nil {
		return fmt.Errorf("failed to get forfeit merkle proof: %w", err)
	}

	proof.Packet.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
		{
			ControlBlock: leafProof.ControlBlock,
			Script:       leafProof.Script,
			LeafVersion:  txscript.BaseLeafVersion,
		},
	}

	return nil
}

// extractConnector returns the first non-anchor output of a connector tx.
func extractConnector(connectorTx *psbt.Packet) (*wire.TxOut, *wire.OutPoint, error) {
	for outIndex, output := range connectorTx.UnsignedTx.TxOut {
		if bytes.Equal(txutils.ANCHOR_PKSCRIPT, output.PkScript) {
			continue
		}

		return output, &wire.OutPoint{
			Hash:  connectorTx.UnsignedTx.TxHash(),
			Index: uint32(outIndex),
		}, nil
	}

	return nil, nil, fmt.Errorf("connector output not found")
}
