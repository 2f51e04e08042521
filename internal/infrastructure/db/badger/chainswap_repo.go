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

const chainSwapDir = "chainswap"

type chainSwapRepository struct {
	store *badgerhold.Store
}

func NewChainSwapRepository(baseDir string, logger badger.Logger) (domain.ChainSwapRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, chainSwapDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain swap store: %s", err)
	}
	return &chainSwapRepository{store}, nil
}

func (r *chainSwapRepository) Add(ctx context.Context, swap domain.ChainSwap) error {
	if err := r.store.Insert(swap.Id, toChainSwapData(swap)); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("chain swap with id %s already exists", swap.Id)
		}
		return fmt.Errorf("failed to add chain swap: %w", err)
	}
	return nil
}

func (r *chainSwapRepository) Get(ctx context.Context, id string) (*domain.ChainSwap, error) {
	var data chainSwapData
	err := r.store.Get(id, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("chain swap %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chain swap: %w", err)
	}

	swap := data.toChainSwap()
	return &swap, nil
}

func (r *chainSwapRepository) GetAll(ctx context.Context) ([]domain.ChainSwap, error) {
	var dataList []chainSwapData
	if err := r.store.Find(&dataList, nil); err != nil {
		return nil, fmt.Errorf("failed to get all chain swaps: %w", err)
	}

	swaps := make([]domain.ChainSwap, 0, len(dataList))
	for _, data := range dataList {
		swaps = append(swaps, data.toChainSwap())
	}
	return swaps, nil
}

func (r *chainSwapRepository) GetByStatus(
	ctx context.Context, status domain.ChainSwapStatus,
) ([]domain.ChainSwap, error) {
	var dataList []chainSwapData
	query := badgerhold.Where("Status").Eq(status)
	if err := r.store.Find(&dataList, query); err != nil {
		return nil, fmt.Errorf("failed to get chain swaps by status: %w", err)
	}

	swaps := make([]domain.ChainSwap, 0, len(dataList))
	for _, data := range dataList {
		swaps = append(swaps, data.toChainSwap())
	}
	return swaps, nil
}

func (r *chainSwapRepository) Update(ctx context.Context, swap domain.ChainSwap) error {
	if err := r.store.Update(swap.Id, toChainSwapData(swap)); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("chain swap %s not found", swap.Id)
		}
		return fmt.Errorf("failed to update chain swap: %w", err)
	}
	return nil
}

func (r *chainSwapRepository) Close() {
	// nolint:all
	r.store.Close()
}

type chainSwapData struct {
	Id                      string
	From                    boltz.Currency
	To                      boltz.Currency
	ClaimPreimage           string
	Amount                  uint64
	UserBtcLockupAddress    string
	BtcDestinationAddress   string
	UserLockupTxId          string
	ServerLockupTxId        string
	ClaimTxId               string
	RefundTxId              string
	CreatedAt               int64
	Status                  domain.ChainSwapStatus
	ErrorMessage            string
	BoltzCreateResponseJSON string
}

func toChainSwapData(swap domain.ChainSwap) chainSwapData {
	return chainSwapData(swap)
}

func (d chainSwapData) toChainSwap() domain.ChainSwap {
	return domain.ChainSwap(d)
}
