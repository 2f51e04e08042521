// Package esplora provides block height feeds for locktime tracking, either
// from an Esplora REST endpoint or an Electrum server.
package esplora

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Service interface {
	GetBlockHeight(ctx context.Context) (int64, error)
	Close() error
}

// NewService returns an Electrum-backed service when electrumURL is set,
// otherwise an Esplora HTTP one.
func NewService(esploraURL, electrumURL string) Service {
	if electrumURL != "" {
		return &electrumService{
			client: NewElectrumClient(electrumURL, 10*time.Second),
		}
	}
	return &httpService{
		baseURL: esploraURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type electrumService struct {
	client *ElectrumClient
}

func (s *electrumService) GetBlockHeight(ctx context.Context) (int64, error) {
	height, err := s.client.GetBlockchainHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("electrum get height: %w", err)
	}
	return height, nil
}

func (s *electrumService) Close() error {
	s.client.Close()
	return nil
}

type httpService struct {
	baseURL string
	client  *http.Client
}

func (s *httpService) GetBlockHeight(ctx context.Context) (int64, error) {
	url := strings.TrimRight(s.baseURL, "/") + "/blocks/tip/height"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get height: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse height: %w", err)
	}
	return n, nil
}

func (s *httpService) Close() error {
	return nil
}
