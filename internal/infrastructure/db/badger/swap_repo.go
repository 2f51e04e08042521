package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const swapDir = "swap"

type swapRepository struct {
	store *badgerhold.Store
}

func NewSwapRepository(baseDir string, logger badger.Logger) (domain.SwapRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, swapDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}
	return &swapRepository{store}, nil
}

func (r *swapRepository) GetAll(ctx context.Context) ([]domain.Swap, error) {
	var swapDataList []swapData
	if err := r.store.Find(&swapDataList, nil); err != nil {
		return nil, fmt.Errorf("failed to get all swaps: %w", err)
	}

	var swaps []domain.Swap
	for _, s := range swapDataList {
		swap, err := s.toSwap()
		if err != nil {
			return nil, fmt.Errorf("failed to convert data to swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, nil
}

func (r *swapRepository) Get(ctx context.Context, swapId string) (*domain.Swap, error) {
	var data swapData
	err := r.store.Get(swapId, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("swap with swapId %s not found", swapId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}

	swap, err := data.toSwap()
	if err != nil {
		return nil, fmt.Errorf("failed to convert data to swap: %w", err)
	}

	return &swap, nil
}

// Add stores the given swaps, skipping those already present. It returns
// the number of swaps actually added.
func (r *swapRepository) Add(ctx context.Context, swaps []domain.Swap) (int, error) {
	count := 0
	for _, swap := range swaps {
		if err := r.store.Insert(swap.Id, toSwapData(swap)); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				continue
			}
			return count, fmt.Errorf("failed to add swap %s: %w", swap.Id, err)
		}
		count++
	}
	return count, nil
}

func (r *swapRepository) Update(ctx context.Context, swap domain.Swap) error {
	if err := r.store.Update(swap.Id, toSwapData(swap)); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("swap with swapId %s not found", swap.Id)
		}
		return fmt.Errorf("failed to update swap: %w", err)
	}
	return nil
}

func (r *swapRepository) Close() {
	// nolint:all
	r.store.Close()
}

type swapData struct {
	Id          string
	Amount      uint64
	Timestamp   int64
	To          boltz.Currency
	From        boltz.Currency
	Status      domain.SwapStatus
	Type        domain.SwapType
	Invoice     string
	Preimage    string
	Vhtlc       vhtlcData
	FundingTxId string
	RedeemTxId  string
}

func toSwapData(swap domain.Swap) swapData {
	return swapData{
		Id:          swap.Id,
		Amount:      swap.Amount,
		Timestamp:   swap.Timestamp,
		To:          swap.To,
		From:        swap.From,
		Status:      swap.Status,
		Type:        swap.Type,
		Invoice:     swap.Invoice,
		Preimage:    swap.Preimage,
		Vhtlc:       toVhtlcData(swap.Vhtlc),
		FundingTxId: swap.FundingTxId,
		RedeemTxId:  swap.RedeemTxId,
	}
}

func (s *swapData) toSwap() (domain.Swap, error) {
	vHTLC, err := s.Vhtlc.toVhtlc()
	if err != nil {
		return domain.Swap{}, fmt.Errorf("failed to convert vhtlc data to opts: %w", err)
	}

	return domain.Swap{
		Id:          s.Id,
		Amount:      s.Amount,
		Timestamp:   s.Timestamp,
		To:          s.To,
		From:        s.From,
		Status:      s.Status,
		Type:        s.Type,
		Invoice:     s.Invoice,
		Preimage:    s.Preimage,
		Vhtlc:       vHTLC,
		FundingTxId: s.FundingTxId,
		RedeemTxId:  s.RedeemTxId,
	}, nil
}
