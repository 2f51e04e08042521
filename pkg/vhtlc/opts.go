package vhtlc

import (
	"fmt"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	hash160Len           = 20
	minSecondsDelay      = 512
	secondsDelayMultiple = 512
)

// Opts gathers everything needed to derive a VHTLC script tree: the three
// parties, the hash lock and the four timelocks guarding the refund and
// unilateral exit paths.
type Opts struct {
	Sender                               *btcec.PublicKey
	Receiver                             *btcec.PublicKey
	Server                               *btcec.PublicKey
	PreimageHash                         []byte
	RefundLocktime                       arklib.AbsoluteLocktime
	UnilateralClaimDelay                 arklib.RelativeLocktime
	UnilateralRefundDelay                arklib.RelativeLocktime
	UnilateralRefundWithoutReceiverDelay arklib.RelativeLocktime
}

func (o Opts) validate() error {
	if o.Sender == nil {
		return fmt.Errorf("missing sender pubkey")
	}
	if o.Receiver == nil {
		return fmt.Errorf("missing receiver pubkey")
	}
	if o.Server == nil {
		return fmt.Errorf("missing server pubkey")
	}

	if len(o.PreimageHash) <= 0 {
		return fmt.Errorf("missing preimage hash")
	}
	if len(o.PreimageHash) != hash160Len {
		return fmt.Errorf("preimage hash must be %d bytes", hash160Len)
	}

	if o.RefundLocktime == 0 {
		return fmt.Errorf("refund locktime must be greater than 0")
	}

	if err := validateDelay(o.UnilateralClaimDelay); err != nil {
		return fmt.Errorf("invalid unilateral claim delay: %w", err)
	}
	if err := validateDelay(o.UnilateralRefundDelay); err != nil {
		return fmt.Errorf("invalid unilateral refund delay: %w", err)
	}
	if err := validateDelay(o.UnilateralRefundWithoutReceiverDelay); err != nil {
		return fmt.Errorf("invalid unilateral refund without receiver delay: %w", err)
	}

	return nil
}

func validateDelay(locktime arklib.RelativeLocktime) error {
	if locktime.Value == 0 {
		return fmt.Errorf("value must be greater than 0")
	}
	if locktime.Type == arklib.LocktimeTypeSecond {
		if locktime.Value < minSecondsDelay {
			return fmt.Errorf("value in seconds must be at least %d", minSecondsDelay)
		}
		if locktime.Value%secondsDelayMultiple != 0 {
			return fmt.Errorf("value in seconds must be a multiple of %d", secondsDelayMultiple)
		}
	}
	return nil
}

// claimClosure = (Receiver + Server) + preimage
func (o Opts) claimClosure(preimageCondition []byte) *script.ConditionMultisigClosure {
	return &script.ConditionMultisigClosure{
		Condition: preimageCondition,
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{o.Receiver, o.Server},
		},
	}
}

// refundClosure = (Sender + Receiver + Server)
func (o Opts) refundClosure() *script.MultisigClosure {
	return &script.MultisigClosure{
		PubKeys: []*btcec.PublicKey{o.Sender, o.Receiver, o.Server},
	}
}

// refundWithoutReceiverClosure = (Sender + Server) after RefundLocktime
func (o Opts) refundWithoutReceiverClosure() *script.CLTVMultisigClosure {
	return &script.CLTVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{o.Sender, o.Server},
		},
		Locktime: o.RefundLocktime,
	}
}

// unilateralClaimClosure = (Receiver + preimage) after UnilateralClaimDelay
func (o Opts) unilateralClaimClosure(
	preimageCondition []byte,
) *script.ConditionCSVMultisigClosure {
	return &script.ConditionCSVMultisigClosure{
		CSVMultisigClosure: script.CSVMultisigClosure{
			MultisigClosure: script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{o.Receiver},
			},
			Locktime: o.UnilateralClaimDelay,
		},
		Condition: preimageCondition,
	}
}

// unilateralRefundClosure = (Sender + Receiver) after UnilateralRefundDelay
func (o Opts) unilateralRefundClosure() *script.CSVMultisigClosure {
	return &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{o.Sender, o.Receiver},
		},
		Locktime: o.UnilateralRefundDelay,
	}
}

// unilateralRefundWithoutReceiverClosure = (Sender) after
// UnilateralRefundWithoutReceiverDelay
func (o Opts) unilateralRefundWithoutReceiverClosure() *script.CSVMultisigClosure {
	return &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{o.Sender},
		},
		Locktime: o.UnilateralRefundWithoutReceiverDelay,
	}
}
