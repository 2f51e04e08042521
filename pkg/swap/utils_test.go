package swap

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestParsePubkey(t *testing.T) {
	t.Run("empty returns nil without error", func(t *testing.T) {
		pk, err := parsePubkey("")
		require.NoError(t, err)
		require.Nil(t, pk)
	})

	t.Run("valid compressed pubkey", func(t *testing.T) {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		encoded := hex.EncodeToString(key.PubKey().SerializeCompressed())

		pk, err := parsePubkey(encoded)
		require.NoError(t, err)
		require.True(t, key.PubKey().IsEqual(pk))
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := parsePubkey("not hex")
		require.Error(t, err)
	})

	t.Run("invalid key bytes", func(t *testing.T) {
		_, err := parsePubkey("0000")
		require.Error(t, err)
	})
}

func TestParseLocktime(t *testing.T) {
	t.Run("below threshold is block based", func(t *testing.T) {
		lt := parseLocktime(511)
		require.Equal(t, arklib.LocktimeTypeBlock, lt.Type)
		require.Equal(t, uint32(511), lt.Value)
	})

	t.Run("at threshold is second based", func(t *testing.T) {
		lt := parseLocktime(512)
		require.Equal(t, arklib.LocktimeTypeSecond, lt.Type)
		require.Equal(t, uint32(512), lt.Value)
	})
}

func TestNetworkNameToParams(t *testing.T) {
	tests := []struct {
		name     string
		expected *chaincfg.Params
	}{
		{arklib.Bitcoin.Name, &chaincfg.MainNetParams},
		{arklib.BitcoinTestNet.Name, &chaincfg.TestNet3Params},
		{arklib.BitcoinSigNet.Name, &chaincfg.SigNetParams},
		{arklib.BitcoinMutinyNet.Name, &chaincfg.SigNetParams},
		{arklib.BitcoinRegTest.Name, &chaincfg.RegressionNetParams},
		{"unknown", &chaincfg.RegressionNetParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, networkNameToParams(tt.name))
		})
	}
}

func TestRetry(t *testing.T) {
	t.Run("returns once fn reports done", func(t *testing.T) {
		calls := 0
		err := retry(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("propagates fn error", func(t *testing.T) {
		wantErr := fmt.Errorf("boom")
		err := retry(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
			return false, wantErr
		})
		require.ErrorIs(t, err, wantErr)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := retry(ctx, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
