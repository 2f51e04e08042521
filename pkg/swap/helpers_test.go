package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/arkade-os/go-sdk/client"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/stretchr/testify/require"
)

func TestValidatePreimage(t *testing.T) {
	t.Run("valid preimage", func(t *testing.T) {
		preimage := make([]byte, 32)
		_, err := rand.Read(preimage)
		require.NoError(t, err)

		buf := sha256.Sum256(preimage)
		expectedHash := input.Ripemd160H(buf[:])

		require.NoError(t, validatePreimage(preimage, expectedHash))
	})

	t.Run("too short", func(t *testing.T) {
		err := validatePreimage(make([]byte, 16), make([]byte, 20))
		require.Error(t, err)
		require.Contains(t, err.Error(), "preimage must be 32 bytes, got 16")
	})

	t.Run("too long", func(t *testing.T) {
		err := validatePreimage(make([]byte, 64), make([]byte, 20))
		require.Error(t, err)
		require.Contains(t, err.Error(), "preimage must be 32 bytes, got 64")
	})

	t.Run("hash mismatch", func(t *testing.T) {
		preimage := make([]byte, 32)
		_, err := rand.Read(preimage)
		require.NoError(t, err)

		wrongHash := make([]byte, 20)
		_, err = rand.Read(wrongHash)
		require.NoError(t, err)

		err = validatePreimage(preimage, wrongHash)
		require.Error(t, err)
		require.Contains(t, err.Error(), "preimage hash mismatch")
	})
}

func TestGetEventTopics(t *testing.T) {
	vtxo := func(txid string, vout uint32) client.TapscriptsVtxo {
		return client.TapscriptsVtxo{
			Vtxo: types.Vtxo{Outpoint: types.Outpoint{Txid: txid, VOut: vout}},
		}
	}

	t.Run("single vtxo", func(t *testing.T) {
		topics := getEventTopics([]client.TapscriptsVtxo{vtxo("abcd1234", 0)}, "pubkey456")

		require.Len(t, topics, 2)
		require.Equal(t, "abcd1234:0", topics[0])
		require.Equal(t, "pubkey456", topics[1])
	})

	t.Run("multiple vtxos", func(t *testing.T) {
		vtxos := []client.TapscriptsVtxo{
			vtxo("tx1", 0), vtxo("tx2", 1), vtxo("tx3", 2),
		}

		topics := getEventTopics(vtxos, "pubkeyXYZ")

		require.Len(t, topics, 4)
		require.Equal(t, "tx1:0", topics[0])
		require.Equal(t, "tx2:1", topics[1])
		require.Equal(t, "tx3:2", topics[2])
		require.Equal(t, "pubkeyXYZ", topics[3])
	})

	t.Run("no vtxos", func(t *testing.T) {
		topics := getEventTopics(nil, "pubkey000")

		require.Len(t, topics, 1)
		require.Equal(t, "pubkey000", topics[0])
	})
}

func TestExtractLocktimeAndSequence(t *testing.T) {
	t.Run("CLTV closure", func(t *testing.T) {
		key, _ := btcec.NewPrivateKey()
		closure := &script.CLTVMultisigClosure{
			MultisigClosure: script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{key.PubKey()},
			},
			Locktime: arklib.AbsoluteLocktime(12345),
		}

		locktime, sequence := extractLocktimeAndSequence(closure)

		require.Equal(t, arklib.AbsoluteLocktime(12345), locktime)
		require.Equal(t, wire.MaxTxInSequenceNum-1, sequence)
	})

	t.Run("multisig closure", func(t *testing.T) {
		key, _ := btcec.NewPrivateKey()
		closure := &script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{key.PubKey()},
		}

		locktime, sequence := extractLocktimeAndSequence(closure)

		require.Equal(t, arklib.AbsoluteLocktime(0), locktime)
		require.Equal(t, wire.MaxTxInSequenceNum, sequence)
	})

	t.Run("condition multisig closure", func(t *testing.T) {
		key, _ := btcec.NewPrivateKey()
		closure := &script.ConditionMultisigClosure{
			MultisigClosure: script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{key.PubKey()},
			},
		}

		locktime, sequence := extractLocktimeAndSequence(closure)

		require.Equal(t, arklib.AbsoluteLocktime(0), locktime)
		require.Equal(t, wire.MaxTxInSequenceNum, sequence)
	})
}

func TestClaimForfeitBuilder(t *testing.T) {
	senderKey, _ := btcec.NewPrivateKey()
	serverKey, _ := btcec.NewPrivateKey()

	testHash := make([]byte, 20)
	testHash[0] = 0x42

	vhtlcScript := &vhtlc.VHTLCScript{
		ClaimClosure: &script.ConditionMultisigClosure{
			MultisigClosure: script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{senderKey.PubKey(), serverKey.PubKey()},
			},
			Condition: testHash,
		},
	}

	preimage := make([]byte, 32)
	preimage[0] = 0xAB
	builder := &ClaimForfeitBuilder{preimage: preimage}

	closure := builder.GetSettlementClosure(vhtlcScript)
	_, ok := closure.(*script.ConditionMultisigClosure)
	require.True(t, ok)

	forfeitPtx := &psbt.Packet{
		UnsignedTx: &wire.MsgTx{},
		Inputs:     []psbt.PInput{{}},
	}

	require.NoError(t, builder.BuildForfeit(forfeitPtx))
	require.NotEmpty(t, forfeitPtx.Inputs[0].Unknowns, "preimage should be injected into forfeit psbt")
}

func TestRefundForfeitBuilder(t *testing.T) {
	senderKey, _ := btcec.NewPrivateKey()
	receiverKey, _ := btcec.NewPrivateKey()
	serverKey, _ := btcec.NewPrivateKey()

	vhtlcScript := &vhtlc.VHTLCScript{
		RefundClosure: &script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{senderKey.PubKey(), receiverKey.PubKey(), serverKey.PubKey()},
		},
		RefundWithoutReceiverClosure: &script.CLTVMultisigClosure{
			MultisigClosure: script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{senderKey.PubKey(), serverKey.PubKey()},
			},
			Locktime: 144,
		},
	}

	t.Run("with receiver", func(t *testing.T) {
		builder := &RefundForfeitBuilder{withReceiver: true}
		closure := builder.GetSettlementClosure(vhtlcScript)

		_, ok := closure.(*script.MultisigClosure)
		require.True(t, ok)
	})

	t.Run("without receiver", func(t *testing.T) {
		builder := &RefundForfeitBuilder{withReceiver: false}
		closure := builder.GetSettlementClosure(vhtlcScript)

		_, ok := closure.(*script.CLTVMultisigClosure)
		require.True(t, ok)
	})

	t.Run("BuildForfeit leaves psbt untouched", func(t *testing.T) {
		builder := &RefundForfeitBuilder{withReceiver: true}
		forfeitPtx := &psbt.Packet{
			UnsignedTx: &wire.MsgTx{},
			Inputs:     []psbt.PInput{{}},
		}

		require.NoError(t, builder.BuildForfeit(forfeitPtx))
		require.Empty(t, forfeitPtx.Inputs[0].Unknowns)
	})
}

func TestExtractConnector(t *testing.T) {
	connectorTx := &psbt.Packet{
		UnsignedTx: &wire.MsgTx{
			TxOut: []*wire.TxOut{
				{Value: 330, PkScript: []byte{0x51, 0x20}},
				{Value: 50000, PkScript: []byte{0x51, 0x21}},
			},
		},
	}

	connector, outpoint, err := extractConnector(connectorTx)
	require.NoError(t, err)
	require.NotNil(t, connector)
	require.Equal(t, int64(330), connector.Value)
	require.Equal(t, uint32(0), outpoint.Index)
}

func TestExtractConnectorNotFound(t *testing.T) {
	connectorTx := &psbt.Packet{
		UnsignedTx: &wire.MsgTx{TxOut: []*wire.TxOut{}},
	}

	_, _, err := extractConnector(connectorTx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connector output not found")
}
