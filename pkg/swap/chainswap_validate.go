package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// MinRefundTimeout is the minimum acceptable CLTV delta on the BTC refund
// leaf, roughly one day of blocks.
const MinRefundTimeout = 144

// validateVHTLC re-derives the VHTLC address from the counterparty's timeout
// parameters and our own keys. A mismatch means the advertised lockup address
// does not pay a contract we control.
func validateVHTLC(
	ctx context.Context,
	h *Handler,
	isArkToBtc bool,
	swapResp *boltz.CreateChainSwapResponse,
	preimageHashHASH160 []byte,
) (*vhtlc.Opts, error) {
	var (
		vhtlcAddr              string
		receiverKey, senderKey *btcec.PublicKey
		refundLocktime         arklib.AbsoluteLocktime

		unilateralClaimDelay, unilateralRefundDelay,
		unilateralRefundWithoutReceiverDelay arklib.RelativeLocktime
	)

	if isArkToBtc {
		leg := swapResp.LockupDetails
		if leg.Timeouts == nil {
			return nil, fmt.Errorf("missing timeouts on ark lockup leg")
		}

		boltzReceiverKey, err := parsePubkey(leg.ServerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid counterparty claim public key: %w", err)
		}

		vhtlcAddr = leg.LockupAddress
		receiverKey = boltzReceiverKey
		refundLocktime = arklib.AbsoluteLocktime(leg.Timeouts.Refund)
		unilateralClaimDelay = parseLocktime(uint32(leg.Timeouts.UnilateralClaim))
		unilateralRefundDelay = parseLocktime(uint32(leg.Timeouts.UnilateralRefund))
		unilateralRefundWithoutReceiverDelay = parseLocktime(uint32(leg.Timeouts.UnilateralRefundWithoutReceiver))
	} else {
		leg := swapResp.ClaimDetails
		if leg.Timeouts == nil {
			return nil, fmt.Errorf("missing timeouts on ark claim leg")
		}

		boltzSenderKey, err := parsePubkey(leg.ServerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid counterparty sender public key: %w", err)
		}

		vhtlcAddr = leg.LockupAddress
		senderKey = boltzSenderKey
		refundLocktime = arklib.AbsoluteLocktime(leg.Timeouts.Refund)
		unilateralClaimDelay = parseLocktime(uint32(leg.Timeouts.UnilateralClaim))
		unilateralRefundDelay = parseLocktime(uint32(leg.Timeouts.UnilateralRefund))
		unilateralRefundWithoutReceiverDelay = parseLocktime(uint32(leg.Timeouts.UnilateralRefundWithoutReceiver))
	}

	vhtlcAddress, _, vhtlcOpts, err := h.getVHTLC(
		ctx,
		receiverKey,
		senderKey,
		preimageHashHASH160,
		refundLocktime,
		unilateralClaimDelay,
		unilateralRefundDelay,
		unilateralRefundWithoutReceiverDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute VHTLC: %w", err)
	}

	if vhtlcAddr != vhtlcAddress {
		return nil, fmt.Errorf(
			"VHTLC address mismatch - potential scam!\nExpected: %s\nGot: %s",
			vhtlcAddress,
			vhtlcAddr,
		)
	}
	return vhtlcOpts, nil
}

// HTLCComponents holds the fields parsed out of the BTC claim leaf script.
type HTLCComponents struct {
	PreimageHash [20]byte
	ClaimPubKey  [32]byte
}

// RefundHTLCComponents holds the fields parsed out of the BTC refund leaf
// script.
type RefundHTLCComponents struct {
	RefundPubKey [32]byte
	Timeout      uint32
}

// validateClaimLeafScript parses the claim leaf script:
//
//	OP_SIZE 0x01 0x20 OP_EQUALVERIFY
//	OP_HASH160 <20: preimage hash> OP_EQUALVERIFY
//	<32: claim pubkey> OP_CHECKSIG
func validateClaimLeafScript(outputHex string) (*HTLCComponents, error) {
	scriptBytes, err := hex.DecodeString(outputHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claim leaf output hex: %w", err)
	}

	return parseClaimLeafScript(scriptBytes)
}

// scriptParser reads a fixed script layout byte by byte so every opcode and
// push length gets checked.
type scriptParser struct {
	buf *bytes.Reader
}

func newScriptParser(script []byte) *scriptParser {
	return &scriptParser{buf: bytes.NewReader(script)}
}

func (p *scriptParser) expectOpcode(expected byte, name string) error {
	got, err := p.buf.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("expected %s (0x%x), got 0x%x", name, expected, got)
	}
	return nil
}

func (p *scriptParser) expectPush(expectedLen byte, name string) error {
	got, err := p.buf.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read push length for %s: %w", name, err)
	}
	if got != expectedLen {
		return fmt.Errorf("expected push length 0x%x for %s, got 0x%x", expectedLen, name, got)
	}
	return nil
}

func (p *scriptParser) readFixedBytes(n int, name string) ([]byte, error) {
	data := make([]byte, n)
	read, err := p.buf.Read(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if read != n {
		return nil, fmt.Errorf("expected %d bytes for %s, got %d", n, name, read)
	}
	return data, nil
}

func (p *scriptParser) expectNoMoreBytes() error {
	if p.buf.Len() != 0 {
		return fmt.Errorf("unexpected extra bytes at end of script: %d bytes remaining", p.buf.Len())
	}
	return nil
}

func parseClaimLeafScript(script []byte) (*HTLCComponents, error) {
	if len(script) < 57 {
		return nil, fmt.Errorf("script too short: expected at least 57 bytes, got %d", len(script))
	}

	p := newScriptParser(script)

	if err := p.expectOpcode(txscript.OP_SIZE, "OP_SIZE"); err != nil {
		return nil, err
	}
	if err := p.expectPush(0x01, "preimage size length"); err != nil {
		return nil, err
	}
	preimageSize, err := p.readFixedBytes(1, "preimage size")
	if err != nil {
		return nil, err
	}
	if preimageSize[0] != 0x20 {
		return nil, fmt.Errorf("expected preimage size 0x20, got 0x%x", preimageSize[0])
	}
	if err := p.expectOpcode(txscript.OP_EQUALVERIFY, "OP_EQUALVERIFY"); err != nil {
		return nil, err
	}
	if err := p.expectOpcode(txscript.OP_HASH160, "OP_HASH160"); err != nil {
		return nil, err
	}
	if err := p.expectPush(0x14, "preimage hash"); err != nil {
		return nil, err
	}
	preimageHashBytes, err := p.readFixedBytes(20, "preimage hash")
	if err != nil {
		return nil, err
	}
	if err := p.expectOpcode(txscript.OP_EQUALVERIFY, "second OP_EQUALVERIFY"); err != nil {
		return nil, err
	}
	if err := p.expectPush(0x20, "claim pubkey"); err != nil {
		return nil, err
	}
	claimPubKeyBytes, err := p.readFixedBytes(32, "claim pubkey")
	if err != nil {
		return nil, err
	}
	if err := p.expectOpcode(txscript.OP_CHECKSIG, "OP_CHECKSIG"); err != nil {
		return nil, err
	}
	if err := p.expectNoMoreBytes(); err != nil {
		return nil, err
	}

	components := &HTLCComponents{}
	copy(components.PreimageHash[:], preimageHashBytes)
	copy(components.ClaimPubKey[:], claimPubKeyBytes)
	return components, nil
}

// validateBtcClaimOrRefundPossible checks, before any funds move, that the
// BTC leg of the swap tree is actually spendable by us. For ark to btc swaps
// the claim path is checked (serverPubKeyHex, claimPubKey and preimageHash
// required), for btc to ark the refund path (refundPubKey and expectedTimeout
// required).
func validateBtcClaimOrRefundPossible(
	swapTree boltz.SwapTree,
	arkToBtc bool,
	serverPubKeyHex string,
	claimPubKey *btcec.PublicKey,
	preimageHash []byte,
	refundPubKey *btcec.PublicKey,
	expectedTimeout uint32,
) error {
	if arkToBtc {
		return validateClaimPath(swapTree, serverPubKeyHex, claimPubKey, preimageHash)
	}
	return validateRefundPath(swapTree, refundPubKey, expectedTimeout)
}

func validateClaimPath(
	swapTree boltz.SwapTree,
	serverPubKeyHex string,
	claimPubKey *btcec.PublicKey,
	preimageHash []byte,
) error {
	if err := validateSwapTree(swapTree); err != nil {
		return fmt.Errorf("invalid swap tree: %w", err)
	}

	components, err := validateClaimLeafScript(swapTree.ClaimLeaf.Output)
	if err != nil {
		return fmt.Errorf("invalid claim leaf HTLC script: %w", err)
	}

	if serverPubKeyHex == "" {
		return fmt.Errorf("server public key is empty")
	}
	if _, err := parsePubkey(serverPubKeyHex); err != nil {
		return fmt.Errorf("invalid server public key: %w", err)
	}

	if claimPubKey == nil {
		return fmt.Errorf("claim public key is nil")
	}

	claimPubKeyXOnly := schnorr.SerializePubKey(claimPubKey)
	if !bytes.Equal(claimPubKeyXOnly, components.ClaimPubKey[:]) {
		return fmt.Errorf(
			"claim pubkey mismatch: expected %x, got %x in script",
			claimPubKeyXOnly,
			components.ClaimPubKey[:],
		)
	}

	if len(preimageHash) != 20 {
		return fmt.Errorf("preimage hash must be 20 bytes, got %d", len(preimageHash))
	}
	if !bytes.Equal(preimageHash, components.PreimageHash[:]) {
		return fmt.Errorf(
			"preimage hash mismatch: expected %x, got %x in script",
			preimageHash,
			components.PreimageHash[:],
		)
	}

	return nil
}

// ValidateRefundLeafScript parses the refund leaf script:
//
//	<32: refund pubkey> OP_CHECKSIGVERIFY
//	<1-4: timeout, little endian> OP_CHECKLOCKTIMEVERIFY
//
// The refund path uses an absolute locktime, not a CSV delay.
func ValidateRefundLeafScript(outputHex string) (*RefundHTLCComponents, error) {
	scriptBytes, err := hex.DecodeString(outputHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refund leaf output hex: %w", err)
	}

	return parseRefundLeafScript(scriptBytes)
}

func parseRefundLeafScript(script []byte) (*RefundHTLCComponents, error) {
	if len(script) < 37 {
		return nil, fmt.Errorf("refund script too short: expected at least 37 bytes, got %d", len(script))
	}

	p := newScriptParser(script)

	if err := p.expectPush(0x20, "refund pubkey"); err != nil {
		return nil, err
	}
	refundPubKeyBytes, err := p.readFixedBytes(32, "refund pubkey")
	if err != nil {
		return nil, err
	}
	if err := p.expectOpcode(txscript.OP_CHECKSIGVERIFY, "OP_CHECKSIGVERIFY"); err != nil {
		return nil, err
	}

	pushLen, err := p.buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read push length for timeout: %w", err)
	}
	if pushLen < 0x01 || pushLen > 0x04 {
		return nil, fmt.Errorf("expected timeout push length 1-4 bytes, got 0x%x", pushLen)
	}

	timeoutBytes, err := p.readFixedBytes(int(pushLen), "timeout")
	if err != nil {
		return nil, err
	}

	var timeout uint32
	for i := 0; i < len(timeoutBytes); i++ {
		timeout |= uint32(timeoutBytes[i]) << (8 * i)
	}

	if err := p.expectOpcode(txscript.OP_CHECKLOCKTIMEVERIFY, "OP_CHECKLOCKTIMEVERIFY"); err != nil {
		return nil, err
	}
	if err := p.expectNoMoreBytes(); err != nil {
		return nil, err
	}

	components := &RefundHTLCComponents{Timeout: timeout}
	copy(components.RefundPubKey[:], refundPubKeyBytes)
	return components, nil
}

func validateRefundPath(
	swapTree boltz.SwapTree,
	refundPubKey *btcec.PublicKey,
	expectedTimeout uint32,
) error {
	if err := validateSwapTree(swapTree); err != nil {
		return fmt.Errorf("invalid swap tree: %w", err)
	}

	components, err := ValidateRefundLeafScript(swapTree.RefundLeaf.Output)
	if err != nil {
		return fmt.Errorf("invalid refund leaf HTLC script: %w", err)
	}

	if refundPubKey == nil {
		return fmt.Errorf("refund public key is nil")
	}
	refundPubKeyXOnly := schnorr.SerializePubKey(refundPubKey)
	if !bytes.Equal(refundPubKeyXOnly, components.RefundPubKey[:]) {
		return fmt.Errorf(
			"refund pubkey mismatch: expected %x, got %x in script",
			refundPubKeyXOnly,
			components.RefundPubKey[:],
		)
	}

	if components.Timeout != expectedTimeout {
		return fmt.Errorf(
			"timeout mismatch: expected %d blocks, got %d blocks in script",
			expectedTimeout,
			components.Timeout,
		)
	}

	if components.Timeout < MinRefundTimeout {
		return fmt.Errorf(
			"timeout too short: got %d blocks, minimum safe timeout is %d blocks",
			components.Timeout,
			MinRefundTimeout,
		)
	}

	return nil
}

// validateBtcLockupAddress re-derives the taproot lockup address from the
// aggregated keys and swap tree and compares it against the one the
// counterparty advertised.
func validateBtcLockupAddress(
	network *chaincfg.Params,
	expectedAddr string,
	serverPubKeyHex string,
	clientPubKey *btcec.PublicKey,
	swapTree boltz.SwapTree,
) error {
	serverPubKey, err := parsePubkey(serverPubKeyHex)
	if err != nil {
		return fmt.Errorf("parse server pubkey: %w", err)
	}

	merkleRoot, err := computeSwapTreeMerkleRoot(swapTree)
	if err != nil {
		return fmt.Errorf("compute merkle root: %w", err)
	}

	internalKey, err := computeAggregateInternalKey(serverPubKey, clientPubKey)
	if err != nil {
		return err
	}

	tweakedKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)

	addr, err := encodeP2TRAddress(network, schnorr.SerializePubKey(tweakedKey))
	if err != nil {
		return fmt.Errorf("encode p2tr address: %w", err)
	}

	if addr != expectedAddr {
		return fmt.Errorf("btc lockup address mismatch: expected=%s derived=%s", expectedAddr, addr)
	}

	return nil
}

func validateSwapTree(swapTree boltz.SwapTree) error {
	if swapTree.ClaimLeaf.Output == "" {
		return fmt.Errorf("claim leaf output is empty")
	}
	if swapTree.ClaimLeaf.Version != 0xc0 {
		return fmt.Errorf("invalid claim leaf version: expected 0xc0, got 0x%x", swapTree.ClaimLeaf.Version)
	}
	if swapTree.RefundLeaf.Output == "" {
		return fmt.Errorf("refund leaf output is empty")
	}
	if swapTree.RefundLeaf.Version != 0xc0 {
		return fmt.Errorf("invalid refund leaf version: expected 0xc0, got 0x%x", swapTree.RefundLeaf.Version)
	}
	if _, err := hex.DecodeString(swapTree.ClaimLeaf.Output); err != nil {
		return fmt.Errorf("claim leaf script is not valid hex: %w", err)
	}
	if _, err := hex.DecodeString(swapTree.RefundLeaf.Output); err != nil {
		return fmt.Errorf("refund leaf script is not valid hex: %w", err)
	}
	return nil
}

func encodeP2TRAddress(net *chaincfg.Params, xonlyPubKey []byte) (string, error) {
	if len(xonlyPubKey) != 32 {
		return "", fmt.Errorf("x-only pubkey must be 32 bytes, got %d", len(xonlyPubKey))
	}

	tapAddr, err := btcutil.NewAddressTaproot(xonlyPubKey, net)
	if err != nil {
		return "", err
	}
	return tapAddr.EncodeAddress(), nil
}
