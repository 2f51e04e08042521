package ports

import "github.com/ArkLabsHQ/lampo/internal/core/domain"

type RepoManager interface {
	Swap() domain.SwapRepository
	ChainSwap() domain.ChainSwapRepository
	VHTLC() domain.VHTLCRepository
	Close()
}
