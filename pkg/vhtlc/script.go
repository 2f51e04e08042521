// Package vhtlc builds the taproot script tree of a virtual hash-time-locked
// contract. The tree has three collaborative spending paths (claim, refund,
// refund without receiver) and three unilateral exit paths guarded by CSV
// delays, so each party can always recover funds without the server.
package vhtlc

import (
	"encoding/hex"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

type VHTLCScript struct {
	script.TapscriptsVtxoScript

	Sender                                 *btcec.PublicKey
	Receiver                               *btcec.PublicKey
	Server                                 *btcec.PublicKey
	ClaimClosure                           *script.ConditionMultisigClosure
	RefundClosure                          *script.MultisigClosure
	RefundWithoutReceiverClosure           *script.CLTVMultisigClosure
	UnilateralClaimClosure                 *script.ConditionCSVMultisigClosure
	UnilateralRefundClosure                *script.CSVMultisigClosure
	UnilateralRefundWithoutReceiverClosure *script.CSVMultisigClosure

	preimageConditionScript []byte
}

// NewVHTLCScript derives the six closures of the contract from the given
// options.
func NewVHTLCScript(opts Opts) (*VHTLCScript, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	preimageCondition, err := preimageConditionScript(opts.PreimageHash)
	if err != nil {
		return nil, err
	}

	claimClosure := opts.claimClosure(preimageCondition)
	refundClosure := opts.refundClosure()
	refundWithoutReceiverClosure := opts.refundWithoutReceiverClosure()
	unilateralClaimClosure := opts.unilateralClaimClosure(preimageCondition)
	unilateralRefundClosure := opts.unilateralRefundClosure()
	unilateralRefundWithoutReceiverClosure := opts.unilateralRefundWithoutReceiverClosure()

	return &VHTLCScript{
		TapscriptsVtxoScript: script.TapscriptsVtxoScript{
			Closures: []script.Closure{
				// Collaborative paths
				claimClosure,
				refundClosure,
				refundWithoutReceiverClosure,
				// Exit paths
				unilateralClaimClosure,
				unilateralRefundClosure,
				unilateralRefundWithoutReceiverClosure,
			},
		},
		Sender:                                 opts.Sender,
		Receiver:                               opts.Receiver,
		Server:                                 opts.Server,
		ClaimClosure:                           claimClosure,
		RefundClosure:                          refundClosure,
		RefundWithoutReceiverClosure:           refundWithoutReceiverClosure,
		UnilateralClaimClosure:                 unilateralClaimClosure,
		UnilateralRefundClosure:                unilateralRefundClosure,
		UnilateralRefundWithoutReceiverClosure: unilateralRefundWithoutReceiverClosure,
		preimageConditionScript:                preimageCondition,
	}, nil
}

// Address encodes the contract as an ark address for the given network
// prefix.
func (v *VHTLCScript) Address(hrp string) (string, error) {
	tapKey, _, err := v.TapTree()
	if err != nil {
		return "", err
	}

	addr := &arklib.Address{
		HRP:        hrp,
		Signer:     v.Server,
		VtxoTapKey: tapKey,
	}

	return addr.EncodeV0()
}

// GetRevealedTapscripts returns every leaf of the tree as a hex-encoded
// script.
func (v *VHTLCScript) GetRevealedTapscripts() []string {
	var scripts []string
	for _, closure := range v.Closures {
		if buf, err := closure.Script(); err == nil {
			scripts = append(scripts, hex.EncodeToString(buf))
		}
	}
	return scripts
}

// ClaimTapscript returns the revealed script and control block needed to
// spend through the collaborative claim path.
func (v *VHTLCScript) ClaimTapscript() (*waddrmgr.Tapscript, error) {
	claimScript, err := v.ClaimClosure.Script()
	if err != nil {
		return nil, err
	}
	return v.tapscriptFor(claimScript)
}

// RefundTapscript returns the revealed script and control block for one of
// the two collaborative refund paths.
func (v *VHTLCScript) RefundTapscript(withReceiver bool) (*waddrmgr.Tapscript, error) {
	var closure script.Closure = v.RefundWithoutReceiverClosure
	if withReceiver {
		closure = v.RefundClosure
	}
	refundScript, err := closure.Script()
	if err != nil {
		return nil, err
	}
	return v.tapscriptFor(refundScript)
}

func (v *VHTLCScript) tapscriptFor(leafScript []byte) (*waddrmgr.Tapscript, error) {
	_, tapTree, err := v.TapTree()
	if err != nil {
		return nil, err
	}

	leafProof, err := tapTree.GetTaprootMerkleProof(
		txscript.NewBaseTapLeaf(leafScript).TapHash(),
	)
	if err != nil {
		return nil, err
	}

	ctrlBlock, err := txscript.ParseControlBlock(leafProof.ControlBlock)
	if err != nil {
		return nil, err
	}

	return &waddrmgr.Tapscript{
		RevealedScript: leafProof.Script,
		ControlBlock:   ctrlBlock,
	}, nil
}

// DeriveOpts rebuilds the options the contract was created from, used when
// restoring swaps from revealed scripts.
func (v *VHTLCScript) DeriveOpts() Opts {
	return Opts{
		Sender:                               v.Sender,
		Receiver:                             v.Receiver,
		Server:                               v.Server,
		PreimageHash:                         v.preimageConditionScript[2 : 2+hash160Len],
		RefundLocktime:                       v.RefundWithoutReceiverClosure.Locktime,
		UnilateralClaimDelay:                 v.UnilateralClaimClosure.Locktime,
		UnilateralRefundDelay:                v.UnilateralRefundClosure.Locktime,
		UnilateralRefundWithoutReceiverDelay: v.UnilateralRefundWithoutReceiverClosure.Locktime,
	}
}

func preimageConditionScript(preimageHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUAL).
		Script()
}
