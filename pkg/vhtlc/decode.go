package vhtlc

import (
	"encoding/hex"
	"fmt"

	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
)

// RevealedLeaves carries the hex-encoded leaf scripts of a contract as
// returned by a counterparty or an indexer.
type RevealedLeaves struct {
	Claim                           string
	Refund                          string
	RefundWithoutReceiver           string
	UnilateralClaim                 string
	UnilateralRefund                string
	UnilateralRefundWithoutReceiver string
}

// FromRevealedLeaves reconstructs a VHTLCScript from its leaf scripts. The
// sender and receiver keys are recovered by elimination against the server
// key.
func FromRevealedLeaves(
	server *btcec.PublicKey, preimageHash string, leaves RevealedLeaves,
) (*VHTLCScript, error) {
	decodedPreimageHash, err := hex.DecodeString(preimageHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decode preimage hash: %w", err)
	}

	preimageCondition, err := preimageConditionScript(decodedPreimageHash)
	if err != nil {
		return nil, err
	}

	claimClosure, err := parseClaimClosure(leaves.Claim)
	if err != nil {
		return nil, err
	}
	refundClosure, err := parseRefundClosure(leaves.Refund)
	if err != nil {
		return nil, err
	}
	refundWithoutReceiverClosure, err := parseRefundWithoutReceiverClosure(
		leaves.RefundWithoutReceiver,
	)
	if err != nil {
		return nil, err
	}
	unilateralClaimClosure, err := parseUnilateralClaimClosure(leaves.UnilateralClaim)
	if err != nil {
		return nil, err
	}
	unilateralRefundClosure, err := parseUnilateralRefundClosure(leaves.UnilateralRefund)
	if err != nil {
		return nil, err
	}
	unilateralRefundWithoutReceiverClosure, err := parseUnilateralRefundWithoutReceiverClosure(
		leaves.UnilateralRefundWithoutReceiver,
	)
	if err != nil {
		return nil, err
	}

	var sender, receiver *btcec.PublicKey
	for _, pk := range claimClosure.PubKeys {
		if !pk.IsEqual(server) {
			receiver = pk
		}
	}
	for _, pk := range refundWithoutReceiverClosure.PubKeys {
		if !pk.IsEqual(server) {
			sender = pk
		}
	}
	if sender == nil || receiver == nil {
		return nil, fmt.Errorf("failed to recover sender and receiver pubkeys from leaves")
	}

	return &VHTLCScript{
		TapscriptsVtxoScript: script.TapscriptsVtxoScript{
			Closures: []script.Closure{
				claimClosure,
				refundClosure,
				refundWithoutReceiverClosure,
				unilateralClaimClosure,
				unilateralRefundClosure,
				unilateralRefundWithoutReceiverClosure,
			},
		},
		Sender:                                 sender,
		Receiver:                               receiver,
		Server:                                 server,
		ClaimClosure:                           claimClosure,
		RefundClosure:                          refundClosure,
		RefundWithoutReceiverClosure:           refundWithoutReceiverClosure,
		UnilateralClaimClosure:                 unilateralClaimClosure,
		UnilateralRefundClosure:                unilateralRefundClosure,
		UnilateralRefundWithoutReceiverClosure: unilateralRefundWithoutReceiverClosure,
		preimageConditionScript:                preimageCondition,
	}, nil
}

func parseClaimClosure(leaf string) (*script.ConditionMultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claim closure: %w", err)
	}
	closure := script.ConditionMultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse claim closure: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid claim closure %s", leaf)
	}
	if len(closure.PubKeys) != 2 {
		return nil, fmt.Errorf(
			"invalid claim closure: expected 2 pubkeys, got %d", len(closure.PubKeys),
		)
	}
	return &closure, nil
}

func parseRefundClosure(leaf string) (*script.MultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refund closure: %w", err)
	}
	closure := script.MultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse refund closure: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid refund closure %s", leaf)
	}
	if len(closure.PubKeys) != 3 {
		return nil, fmt.Errorf(
			"invalid refund closure: expected 3 pubkeys, got %d", len(closure.PubKeys),
		)
	}
	return &closure, nil
}

func parseRefundWithoutReceiverClosure(leaf string) (*script.CLTVMultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refund without receiver closure: %w", err)
	}
	closure := script.CLTVMultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse refund without receiver closure: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid refund without receiver closure %s", leaf)
	}
	if len(closure.PubKeys) != 2 {
		return nil, fmt.Errorf(
			"invalid refund without receiver closure: expected 2 pubkeys, got %d",
			len(closure.PubKeys),
		)
	}
	return &closure, nil
}

func parseUnilateralClaimClosure(leaf string) (*script.ConditionCSVMultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode unilateral claim closure: %w", err)
	}
	closure := script.ConditionCSVMultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unilateral claim closure: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid unilateral claim closure")
	}
	if len(closure.PubKeys) != 1 {
		return nil, fmt.Errorf(
			"invalid unilateral claim closure: expected 1 pubkey, got %d", len(closure.PubKeys),
		)
	}
	return &closure, nil
}

func parseUnilateralRefundClosure(leaf string) (*script.CSVMultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode unilateral refund closure: %w", err)
	}
	closure := script.CSVMultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unilateral refund closure: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid unilateral refund closure")
	}
	if len(closure.PubKeys) != 2 {
		return nil, fmt.Errorf(
			"invalid unilateral refund closure: expected 2 pubkeys, got %d", len(closure.PubKeys),
		)
	}
	return &closure, nil
}

func parseUnilateralRefundWithoutReceiverClosure(leaf string) (*script.CSVMultisigClosure, error) {
	buf, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to decode unilateral refund without receiver closure: %w", err,
		)
	}
	closure := script.CSVMultisigClosure{}
	ok, err := closure.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to parse unilateral refund without receiver closure: %w", err,
		)
	}
	if !ok {
		return nil, fmt.Errorf("invalid unilateral refund without receiver closure")
	}
	if len(closure.PubKeys) != 1 {
		return nil, fmt.Errorf(
			"invalid unilateral refund without receiver closure: expected 1 pubkey, got %d",
			len(closure.PubKeys),
		)
	}
	return &closure, nil
}
