package swap

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// ExplorerClient talks to an esplora-compatible chain explorer. It is the
// only window the swap handlers have on the base chain.
type ExplorerClient interface {
	BroadcastTransaction(tx *wire.MsgTx) (string, error)
	GetFeeRate() (float64, error)
	GetCurrentBlockHeight() (uint32, error)
	// GetTransaction returns the raw transaction hex.
	GetTransaction(txid string) (string, error)
	GetTransactionStatus(txid string) (*TxStatus, error)
}

type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height"`
}

type explorerClient struct {
	baseURL string
	client  *http.Client
}

func NewExplorerClient(baseURL string) ExplorerClient {
	return &explorerClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (e explorerClient) BroadcastTransaction(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	txHex := hex.EncodeToString(buf.Bytes())

	resp, err := e.client.Post(
		fmt.Sprintf("%s/tx", e.baseURL), "text/plain", strings.NewReader(txHex),
	)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read broadcast response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broadcast failed: %s", strings.TrimSpace(string(body)))
	}

	txid := strings.TrimSpace(string(body))
	if txid == "" {
		txid = tx.TxHash().String()
	}
	return txid, nil
}

func (e explorerClient) GetFeeRate() (float64, error) {
	resp, err := e.client.Get(fmt.Sprintf("%s/fee-estimates", e.baseURL))
	if err != nil {
		return 0, fmt.Errorf("failed to get fee estimates: %w", err)
	}
	defer resp.Body.Close()

	var estimates map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&estimates); err != nil {
		return 0, fmt.Errorf("failed to decode fee estimates: %w", err)
	}

	if rate, ok := estimates["1"]; ok {
		return rate, nil
	}
	// empty mempool on regtest
	return 1, nil
}

func (e explorerClient) GetCurrentBlockHeight() (uint32, error) {
	resp, err := e.client.Get(fmt.Sprintf("%s/blocks/tip/height", e.baseURL))
	if err != nil {
		return 0, fmt.Errorf("failed to get tip height: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read tip height: %w", err)
	}

	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", string(body), err)
	}
	return uint32(height), nil
}

func (e explorerClient) GetTransaction(txid string) (string, error) {
	resp, err := e.client.Get(fmt.Sprintf("%s/tx/%s/hex", e.baseURL, txid))
	if err != nil {
		return "", fmt.Errorf("failed to get transaction %s: %w", txid, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transaction %s: %w", txid, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get transaction %s: %s", txid, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (e explorerClient) GetTransactionStatus(txid string) (*TxStatus, error) {
	resp, err := e.client.Get(fmt.Sprintf("%s/tx/%s/status", e.baseURL, txid))
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", txid, err)
	}
	defer resp.Body.Close()

	var status TxStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status of %s: %w", txid, err)
	}
	return &status, nil
}
