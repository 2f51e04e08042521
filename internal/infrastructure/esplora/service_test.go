package esplora

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPServiceGetBlockHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/tip/height", r.URL.Path)
		fmt.Fprint(w, "820000")
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "")
	defer svc.Close()

	height, err := svc.GetBlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(820000), height)
}

func TestHTTPServiceGetBlockHeightErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "tip not found", http.StatusNotFound)
		}))
		defer srv.Close()

		svc := NewService(srv.URL, "")
		_, err := svc.GetBlockHeight(context.Background())
		require.ErrorContains(t, err, "unexpected status 404")
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not a number")
		}))
		defer srv.Close()

		svc := NewService(srv.URL, "")
		_, err := svc.GetBlockHeight(context.Background())
		require.ErrorContains(t, err, "parse height")
	})
}

func TestNewServicePrefersElectrum(t *testing.T) {
	svc := NewService("https://blockstream.info/api", "blockstream.info:700")
	require.IsType(t, &electrumService{}, svc)

	svc = NewService("https://blockstream.info/api", "")
	require.IsType(t, &httpService{}, svc)
}

func TestElectrumClientTLSDetection(t *testing.T) {
	tests := []struct {
		address string
		useTLS  bool
	}{
		{"blockstream.info:700", true},
		{"server.example.com:50002", true},
		{"server.example.com:50001", false},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			client := NewElectrumClient(tt.address, 10*time.Second)
			require.Equal(t, tt.useTLS, client.useTLS)
		})
	}
}

func TestElectrumClientGetBlockchainHeight(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	client := NewElectrumClient("blockstream.info:700", 10*time.Second)
	defer client.Close()

	height, err := client.GetBlockchainHeight(context.Background())
	if err != nil {
		t.Skipf("skipping, no network connectivity: %v", err)
	}
	require.Greater(t, height, int64(800000))
}
