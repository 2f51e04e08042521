package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

type ClaimTransactionParams struct {
	LockupTxid      string
	LockupVout      uint32
	LockupAmount    uint64
	DestinationAddr string
	Network         *chaincfg.Params
}

// constructClaimTransaction builds the skeleton spending a swap lockup output
// to the destination address. The caller signs it afterwards, either key-path
// with musig2 or script-path with a plain schnorr signature.
func constructClaimTransaction(
	explorerClient ExplorerClient,
	dustAmount uint64,
	params ClaimTransactionParams,
) (*wire.MsgTx, error) {
	lockupHash, err := chainhash.NewHashFromStr(params.LockupTxid)
	if err != nil {
		return nil, fmt.Errorf("invalid lockup txid: %w", err)
	}

	destAddr, err := btcutil.DecodeAddress(params.DestinationAddr, params.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}

	pkScript, err := payToAddrScript(destAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create output script: %w", err)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  *lockupHash,
			Index: params.LockupVout,
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    int64(params.LockupAmount),
		PkScript: pkScript,
	})

	feeRate, err := explorerClient.GetFeeRate()
	if err != nil {
		return nil, err
	}

	// extra 100 sats to absorb the witness the caller will attach
	feeAmount := uint64(math.Ceil(float64(computeVSize(tx))*feeRate) + 100)
	if feeAmount >= params.LockupAmount || params.LockupAmount-feeAmount <= dustAmount {
		return nil, fmt.Errorf("not enough funds to cover network fees")
	}
	tx.TxOut[0].Value = int64(params.LockupAmount - feeAmount)

	return tx, nil
}

func computeVSize(tx *wire.MsgTx) lntypes.VByte {
	baseSize := tx.SerializeSizeStripped()
	totalSize := tx.SerializeSize()
	weight := totalSize + baseSize*3
	return lntypes.WeightUnit(uint64(weight)).ToVB()
}

func payToAddrScript(addr btcutil.Address) ([]byte, error) {
	switch addr.(type) {
	case *btcutil.AddressWitnessPubKeyHash,
		*btcutil.AddressWitnessScriptHash,
		*btcutil.AddressTaproot:
		return txscript.PayToAddrScript(addr)
	default:
		return nil, fmt.Errorf("unsupported address type: %T", addr)
	}
}

func serializeTransaction(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTransaction(txHex string) (*wire.MsgTx, error) {
	txBytes, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}

	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

func findOutputForAddress(
	tx *wire.MsgTx, address string, network *chaincfg.Params,
) (uint32, uint64, error) {
	if tx == nil {
		return 0, 0, fmt.Errorf("tx is nil")
	}
	if address == "" {
		return 0, 0, fmt.Errorf("address is empty")
	}

	addr, err := btcutil.DecodeAddress(address, network)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode address: %w", err)
	}

	expectedPkScript, err := payToAddrScript(addr)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build address script: %w", err)
	}

	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, expectedPkScript) {
			if out.Value <= 0 {
				return 0, 0, fmt.Errorf("matched output %d has non-positive value %d", i, out.Value)
			}
			return uint32(i), uint64(out.Value), nil
		}
	}

	return 0, 0, fmt.Errorf("address output not found in tx")
}

func computeSwapTreeMerkleRoot(tree boltz.SwapTree) ([]byte, error) {
	claimScript, err := hex.DecodeString(tree.ClaimLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claim leaf script: %w", err)
	}
	refundScript, err := hex.DecodeString(tree.RefundLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refund leaf script: %w", err)
	}

	claimLeafHash := tapLeafHash(tree.ClaimLeaf.Version, claimScript)
	refundLeafHash := tapLeafHash(tree.RefundLeaf.Version, refundScript)

	return computeMerkleRoot(claimLeafHash[:], refundLeafHash[:]), nil
}

func computeMerkleRoot(leftHash, rightHash []byte) []byte {
	left, right := leftHash, rightHash
	// leaf hashes are sorted before hashing the branch
	if bytes.Compare(left, right) > 0 {
		left, right = right, left
	}

	branch := append(append([]byte{}, left...), right...)
	h := chainhash.TaggedHash(chainhash.TagTapBranch, branch)
	return h[:]
}

func tapLeafHash(leafVersion uint8, script []byte) [32]byte {
	var b bytes.Buffer
	b.WriteByte(leafVersion)
	_ = wire.WriteVarInt(&b, 0, uint64(len(script)))
	b.Write(script)
	return *chainhash.TaggedHash(chainhash.TagTapLeaf, b.Bytes())
}

// computeAggregateInternalKey aggregates the two swap keys into the taproot
// internal key. The server key comes first, its position is fixed by the
// counterparty and the keys are not sorted.
func computeAggregateInternalKey(serverPubKey, clientPubKey *btcec.PublicKey) (*btcec.PublicKey, error) {
	aggregateKey, _, _, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{serverPubKey, clientPubKey}, false,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate keys: %w", err)
	}
	return aggregateKey.FinalKey, nil
}

// createControlBlockFromSwapTree builds the BIP341 control block for spending
// one leaf of the two-leaf swap tree: [leafVersion|parity, internalKeyX,
// siblingLeafHash].
func createControlBlockFromSwapTree(
	internalKey *btcec.PublicKey,
	swapTree boltz.SwapTree,
	isClaimPath bool,
) ([]byte, error) {
	claimScript, err := hex.DecodeString(swapTree.ClaimLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claim script: %w", err)
	}
	refundScript, err := hex.DecodeString(swapTree.RefundLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refund script: %w", err)
	}

	siblingLeaf := txscript.NewBaseTapLeaf(claimScript)
	if isClaimPath {
		siblingLeaf = txscript.NewBaseTapLeaf(refundScript)
	}

	merkleRoot, err := computeSwapTreeMerkleRoot(swapTree)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merkle root: %w", err)
	}

	tweakedKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)
	parity := tweakedKey.SerializeCompressed()[0] & 0x01
	siblingHash := siblingLeaf.TapHash()

	controlBlock := make([]byte, 0, 1+32+32)
	controlBlock = append(controlBlock, byte(txscript.BaseLeafVersion)|parity)
	controlBlock = append(controlBlock, internalKey.SerializeCompressed()[1:]...)
	controlBlock = append(controlBlock, siblingHash[:]...)

	return controlBlock, nil
}
