package vhtlc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ripemd160"
)

func generatePrivateKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return privKey
}

func generatePreimage(t *testing.T) []byte {
	t.Helper()
	preimage := make([]byte, 32)
	_, err := rand.Read(preimage)
	require.NoError(t, err)
	return preimage
}

// RIPEMD160(SHA256(preimage))
func calculatePreimageHash(preimage []byte) []byte {
	sha := sha256.Sum256(preimage)
	rmd := ripemd160.New()
	rmd.Write(sha[:])
	return rmd.Sum(nil)
}

func testOpts(t *testing.T) (Opts, *btcec.PrivateKey, *btcec.PrivateKey, *btcec.PrivateKey, []byte) {
	t.Helper()
	senderKey := generatePrivateKey(t)
	receiverKey := generatePrivateKey(t)
	serverKey := generatePrivateKey(t)
	preimage := generatePreimage(t)

	opts := Opts{
		Sender:                               senderKey.PubKey(),
		Receiver:                             receiverKey.PubKey(),
		Server:                               serverKey.PubKey(),
		PreimageHash:                         calculatePreimageHash(preimage),
		RefundLocktime:                       arklib.AbsoluteLocktime(time.Now().Add(24 * time.Hour).Unix()),
		UnilateralClaimDelay:                 arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144},
		UnilateralRefundDelay:                arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 72},
		UnilateralRefundWithoutReceiverDelay: arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 288},
	}
	return opts, senderKey, receiverKey, serverKey, preimage
}

func TestVHTLCScript(t *testing.T) {
	opts, senderKey, receiverKey, serverKey, preimage := testOpts(t)

	script, err := NewVHTLCScript(opts)
	require.NoError(t, err)

	t.Run("Create", func(t *testing.T) {
		require.NotNil(t, script)
		require.NotNil(t, script.ClaimClosure)
		require.NotNil(t, script.RefundClosure)
		require.NotNil(t, script.RefundWithoutReceiverClosure)
		require.NotNil(t, script.UnilateralClaimClosure)
		require.NotNil(t, script.UnilateralRefundClosure)
		require.NotNil(t, script.UnilateralRefundWithoutReceiverClosure)

		scripts := script.GetRevealedTapscripts()
		assert.NotEmpty(t, scripts)
		assert.GreaterOrEqual(t, len(scripts), 6)
	})

	t.Run("Claim", func(t *testing.T) {
		claimScript, err := script.ClaimClosure.Script()
		require.NoError(t, err)

		msg := make([]byte, 32)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		sig, err := schnorr.Sign(receiverKey, msg)
		require.NoError(t, err)

		witness := [][]byte{
			sig.Serialize(),
			preimage,
			claimScript,
			[]byte{0x01}, // dummy control block
		}

		assert.Equal(t, 4, len(witness), "claim witness should have 4 elements")
		assert.Equal(t, 64, len(witness[0]), "schnorr signature should be 64 bytes")
		assert.Equal(t, 32, len(witness[1]), "preimage should be 32 bytes")
		assert.NotEmpty(t, witness[2], "claim script should not be empty")
		assert.NotEmpty(t, witness[3], "control block should not be empty")
	})

	t.Run("Refund", func(t *testing.T) {
		refundScript, err := script.RefundClosure.Script()
		require.NoError(t, err)

		msg := make([]byte, 32)
		_, err = rand.Read(msg)
		require.NoError(t, err)

		senderSig, err := schnorr.Sign(senderKey, msg)
		require.NoError(t, err)
		receiverSig, err := schnorr.Sign(receiverKey, msg)
		require.NoError(t, err)
		serverSig, err := schnorr.Sign(serverKey, msg)
		require.NoError(t, err)

		witness := [][]byte{
			senderSig.Serialize(),
			receiverSig.Serialize(),
			serverSig.Serialize(),
			refundScript,
			[]byte{0x01}, // dummy control block
		}

		assert.Equal(t, 5, len(witness), "refund witness should have 5 elements")
		assert.Equal(t, 64, len(witness[0]))
		assert.Equal(t, 64, len(witness[1]))
		assert.Equal(t, 64, len(witness[2]))
		assert.NotEmpty(t, witness[3], "refund script should not be empty")
		assert.NotEmpty(t, witness[4], "control block should not be empty")
	})

	t.Run("Tapscripts", func(t *testing.T) {
		claimTapscript, err := script.ClaimTapscript()
		require.NoError(t, err)
		require.NotNil(t, claimTapscript)
		assert.NotEmpty(t, claimTapscript.RevealedScript)
		require.NotNil(t, claimTapscript.ControlBlock)

		for _, withReceiver := range []bool{true, false} {
			refundTapscript, err := script.RefundTapscript(withReceiver)
			require.NoError(t, err)
			require.NotNil(t, refundTapscript)
			assert.NotEmpty(t, refundTapscript.RevealedScript)
		}
	})
}

func TestVHTLCAddressDeterminism(t *testing.T) {
	opts, _, _, serverKey, _ := testOpts(t)

	first, err := NewVHTLCScript(opts)
	require.NoError(t, err)
	second, err := NewVHTLCScript(opts)
	require.NoError(t, err)

	addr1, err := first.Address(arklib.BitcoinRegTest.Addr)
	require.NoError(t, err)
	addr2, err := second.Address(arklib.BitcoinRegTest.Addr)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2, "same options must derive the same address")

	// any change in the options must change the address
	otherKey := generatePrivateKey(t)
	opts.Receiver = otherKey.PubKey()
	third, err := NewVHTLCScript(opts)
	require.NoError(t, err)
	addr3, err := third.Address(arklib.BitcoinRegTest.Addr)
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr3)
}

func TestVHTLCRoundTrip(t *testing.T) {
	opts, _, _, serverKey, _ := testOpts(t)

	script, err := NewVHTLCScript(opts)
	require.NoError(t, err)

	leaves := script.GetRevealedTapscripts()
	require.Len(t, leaves, 6)

	decoded, err := FromRevealedLeaves(
		serverKey.PubKey(),
		hex.EncodeToString(opts.PreimageHash),
		RevealedLeaves{
			Claim:                           leaves[0],
			Refund:                          leaves[1],
			RefundWithoutReceiver:           leaves[2],
			UnilateralClaim:                 leaves[3],
			UnilateralRefund:                leaves[4],
			UnilateralRefundWithoutReceiver: leaves[5],
		},
	)
	require.NoError(t, err)

	derived := decoded.DeriveOpts()
	assert.Equal(t, opts.PreimageHash, derived.PreimageHash)
	assert.True(t, opts.Sender.IsEqual(derived.Sender))
	assert.True(t, opts.Receiver.IsEqual(derived.Receiver))
	assert.Equal(t, opts.RefundLocktime, derived.RefundLocktime)
	assert.Equal(t, opts.UnilateralClaimDelay, derived.UnilateralClaimDelay)

	origAddr, err := script.Address(arklib.BitcoinRegTest.Addr)
	require.NoError(t, err)
	decodedAddr, err := decoded.Address(arklib.BitcoinRegTest.Addr)
	require.NoError(t, err)
	assert.Equal(t, origAddr, decodedAddr)
}

func TestVHTLCOptsValidation(t *testing.T) {
	base, _, _, _, _ := testOpts(t)

	tests := []struct {
		name        string
		mutate      func(o *Opts)
		expectedErr string
	}{
		{
			name:        "missing sender",
			mutate:      func(o *Opts) { o.Sender = nil },
			expectedErr: "missing sender pubkey",
		},
		{
			name:        "missing receiver",
			mutate:      func(o *Opts) { o.Receiver = nil },
			expectedErr: "missing receiver pubkey",
		},
		{
			name:        "missing server",
			mutate:      func(o *Opts) { o.Server = nil },
			expectedErr: "missing server pubkey",
		},
		{
			name:        "missing preimage hash",
			mutate:      func(o *Opts) { o.PreimageHash = nil },
			expectedErr: "missing preimage hash",
		},
		{
			name:        "short preimage hash",
			mutate:      func(o *Opts) { o.PreimageHash = o.PreimageHash[:10] },
			expectedErr: "preimage hash must be 20 bytes",
		},
		{
			name:        "zero refund locktime",
			mutate:      func(o *Opts) { o.RefundLocktime = 0 },
			expectedErr: "refund locktime must be greater than 0",
		},
		{
			name: "zero claim delay",
			mutate: func(o *Opts) {
				o.UnilateralClaimDelay = arklib.RelativeLocktime{}
			},
			expectedErr: "invalid unilateral claim delay",
		},
		{
			name: "seconds delay below minimum",
			mutate: func(o *Opts) {
				o.UnilateralRefundDelay = arklib.RelativeLocktime{
					Type: arklib.LocktimeTypeSecond, Value: 256,
				}
			},
			expectedErr: "must be at least 512",
		},
		{
			name: "seconds delay not a multiple of 512",
			mutate: func(o *Opts) {
				o.UnilateralRefundDelay = arklib.RelativeLocktime{
					Type: arklib.LocktimeTypeSecond, Value: 700,
				}
			},
			expectedErr: "must be a multiple of 512",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := NewVHTLCScript(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}

	t.Run("valid seconds delays", func(t *testing.T) {
		opts := base
		opts.UnilateralClaimDelay = arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeSecond, Value: 1024,
		}
		_, err := NewVHTLCScript(opts)
		require.NoError(t, err)
	})
}
