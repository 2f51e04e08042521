package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// checkpointExitScript is the collaborative closure every checkpoint output
// carries: the operator alone, after the unilateral exit delay.
func checkpointExitScript(cfg types.Config) *script.CSVMultisigClosure {
	return &script.CSVMultisigClosure{
		Locktime: cfg.UnilateralExitDelay,
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{cfg.SignerPubKey},
		},
	}
}

// verifyInputSignatures checks that every input carries a valid signature
// from pubkey for its tapscript leaf.
func verifyInputSignatures(
	tx *psbt.Packet, pubkey *btcec.PublicKey, tapLeaves map[int]txscript.TapLeaf,
) error {
	xOnlyPubkey := schnorr.SerializePubKey(pubkey)

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	sigsToVerify := make(map[int]*psbt.TaprootScriptSpendSig)

	for inputIndex, input := range tx.Inputs {
		if input.WitnessUtxo == nil {
			return fmt.Errorf("input %d has no witness utxo, cannot verify signature", inputIndex)
		}

		outpoint := tx.UnsignedTx.TxIn[inputIndex].PreviousOutPoint
		prevouts[outpoint] = input.WitnessUtxo

		tapLeaf, ok := tapLeaves[inputIndex]
		if !ok {
			return fmt.Errorf("input %d has no tapscript leaf, cannot verify signature", inputIndex)
		}
		leafHash := tapLeaf.TapHash()

		found := false
		for _, sig := range input.TaprootScriptSpendSig {
			if bytes.Equal(sig.XOnlyPubKey, xOnlyPubkey) && bytes.Equal(sig.LeafHash, leafHash[:]) {
				found = true
				sigsToVerify[inputIndex] = sig
				break
			}
		}
		if !found {
			return fmt.Errorf("input %d has no signature for pubkey %x", inputIndex, xOnlyPubkey)
		}
	}

	prevoutFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	txSigHashes := txscript.NewTxSigHashes(tx.UnsignedTx, prevoutFetcher)

	for inputIndex, sig := range sigsToVerify {
		msgHash, err := txscript.CalcTapscriptSignaturehash(
			txSigHashes,
			sig.SigHash,
			tx.UnsignedTx,
			inputIndex,
			prevoutFetcher,
			tapLeaves[inputIndex],
		)
		if err != nil {
			return fmt.Errorf("failed to compute tapscript sighash: %w", err)
		}

		signature, err := schnorr.ParseSignature(sig.Signature)
		if err != nil {
			return fmt.Errorf("failed to parse signature: %w", err)
		}

		if !signature.Verify(msgHash, pubkey) {
			return fmt.Errorf("input %d: invalid signature", inputIndex)
		}
	}

	return nil
}

// verifySignatures runs verifyInputSignatures for every pubkey on every
// packet.
func verifySignatures(
	txs []*psbt.Packet, pubkeys []*btcec.PublicKey, tapLeaves map[int]txscript.TapLeaf,
) error {
	for _, tx := range txs {
		for _, pubkey := range pubkeys {
			if err := verifyInputSignatures(tx, pubkey, tapLeaves); err != nil {
				return err
			}
		}
	}
	return nil
}

// getInputTapLeaves maps input index to its first tapscript leaf, skipping
// inputs without one.
func getInputTapLeaves(tx *psbt.Packet) map[int]txscript.TapLeaf {
	tapLeaves := make(map[int]txscript.TapLeaf)
	for inputIndex, input := range tx.Inputs {
		if input.TaprootLeafScript == nil {
			continue
		}
		tapLeaves[inputIndex] = txscript.NewBaseTapLeaf(input.TaprootLeafScript[0].Script)
	}
	return tapLeaves
}

// combineTapscripts merges the tapscript signatures of several copies of the
// same transaction into the first packet. All packets must share the txid.
func combineTapscripts(txs []*psbt.Packet) (*psbt.Packet, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("no transactions to combine")
	}

	combined := txs[0]
	txid := combined.UnsignedTx.TxID()

	for _, tx := range txs[1:] {
		if tx.UnsignedTx.TxID() != txid {
			return nil, fmt.Errorf("cannot combine %s with %s", tx.UnsignedTx.TxID(), txid)
		}

		for i, input := range tx.Inputs {
			for _, sig := range input.TaprootScriptSpendSig {
				duplicate := false
				for _, existing := range combined.Inputs[i].TaprootScriptSpendSig {
					if bytes.Equal(existing.XOnlyPubKey, sig.XOnlyPubKey) &&
						bytes.Equal(existing.LeafHash, sig.LeafHash) {
						duplicate = true
						break
					}
				}
				if !duplicate {
					combined.Inputs[i].TaprootScriptSpendSig = append(
						combined.Inputs[i].TaprootScriptSpendSig, sig,
					)
				}
			}
		}
	}

	return combined, nil
}

// verifyAndSignCheckpoints matches the server-signed checkpoints against the
// ones we built, verifies the operator signature on each and counter-signs.
func verifyAndSignCheckpoints(
	signedCheckpoints []string, myCheckpoints []*psbt.Packet,
	arkSigner *btcec.PublicKey, sign func(tx *psbt.Packet) (string, error),
) ([]string, error) {
	finalCheckpoints := make([]string, 0, len(signedCheckpoints))
	for _, checkpoint := range signedCheckpoints {
		signedCheckpointPtx, err := psbt.NewFromRawBytes(strings.NewReader(checkpoint), true)
		if err != nil {
			return nil, err
		}

		var myCheckpointTx *psbt.Packet
		for _, chk := range myCheckpoints {
			if chk.UnsignedTx.TxID() == signedCheckpointPtx.UnsignedTx.TxID() {
				myCheckpointTx = chk
				break
			}
		}
		if myCheckpointTx == nil {
			return nil, fmt.Errorf("checkpoint tx not found")
		}

		if err := verifyInputSignatures(
			signedCheckpointPtx, arkSigner, getInputTapLeaves(myCheckpointTx),
		); err != nil {
			return nil, err
		}

		finalCheckpoint, err := sign(signedCheckpointPtx)
		if err != nil {
			return nil, fmt.Errorf("failed to sign checkpoint transaction: %w", err)
		}

		finalCheckpoints = append(finalCheckpoints, finalCheckpoint)
	}

	return finalCheckpoints, nil
}

func verifyFinalArkTx(
	finalArkTx string, arkSigner *btcec.PublicKey, expectedTapLeaves map[int]txscript.TapLeaf,
) error {
	finalArkPtx, err := psbt.NewFromRawBytes(strings.NewReader(finalArkTx), true)
	if err != nil {
		return err
	}

	return verifyInputSignatures(finalArkPtx, arkSigner, expectedTapLeaves)
}

func offchainAddressPkScript(addr string) (string, error) {
	decodedAddress, err := arklib.DecodeAddressV0(addr)
	if err != nil {
		return "", fmt.Errorf("failed to decode address %s: %w", addr, err)
	}

	p2trScript, err := txscript.PayToTaprootScript(decodedAddress.VtxoTapKey)
	if err != nil {
		return "", fmt.Errorf("failed to build p2tr script for %s: %w", addr, err)
	}
	return hex.EncodeToString(p2trScript), nil
}
