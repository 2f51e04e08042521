package esplora

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ElectrumClient speaks the newline-delimited JSON-RPC dialect of the
// Electrum protocol over a single TCP or TLS connection.
type ElectrumClient struct {
	address string
	useTLS  bool
	timeout time.Duration

	mu    sync.Mutex
	conn  net.Conn
	reqID uint64
}

type electrumRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type electrumResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *electrumError  `json:"error,omitempty"`
}

type electrumError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewElectrumClient targets an Electrum server at host:port. Ports 700 and
// 50002 are conventionally TLS, everything else plain TCP.
func NewElectrumClient(address string, timeout time.Duration) *ElectrumClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	useTLS := strings.HasSuffix(address, ":700") || strings.HasSuffix(address, ":50002")
	return &ElectrumClient{
		address: address,
		useTLS:  useTLS,
		timeout: timeout,
	}
}

func (c *ElectrumClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: c.timeout}

	var (
		conn net.Conn
		err  error
	)
	if c.useTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", c.address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.address)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	c.conn = conn
	return nil
}

func (c *ElectrumClient) disconnectLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// call performs one request/response roundtrip. The connection is dropped on
// any transport error so the next call redials.
func (c *ElectrumClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	c.reqID++
	req := electrumRequest{ID: c.reqID, Method: method, Params: params}
	if req.Params == nil {
		req.Params = []any{}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	payload = append(payload, '\n')

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		c.disconnectLocked()
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.disconnectLocked()
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		c.disconnectLocked()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	line, err := bufio.NewReader(c.conn).ReadBytes('\n')
	if err != nil {
		c.disconnectLocked()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp electrumResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("electrum error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response ID mismatch: expected %d, got %d", req.ID, resp.ID)
	}

	return resp.Result, nil
}

// GetBlockchainHeight returns the server's current tip height.
func (c *ElectrumClient) GetBlockchainHeight(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "blockchain.headers.subscribe")
	if err != nil {
		return 0, fmt.Errorf("blockchain.headers.subscribe failed: %w", err)
	}

	var header struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, fmt.Errorf("failed to parse header: %w", err)
	}

	return header.Height, nil
}

// Close drops the connection if one is open.
func (c *ElectrumClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}
