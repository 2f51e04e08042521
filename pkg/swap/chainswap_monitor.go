package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) monitorAndClaimArkToBtcSwap(
	ctx context.Context,
	network *chaincfg.Params,
	eventCallback ChainSwapEventCallback,
	unilateralRefundCallback func(swapId string, opts vhtlc.Opts) error,
	btcClaimPrivKey *btcec.PrivateKey,
	preimage []byte,
	btcDestinationAddress string,
	swapResp *boltz.CreateChainSwapResponse,
	swap *ChainSwap,
) {
	var (
		arkToBtc = true
		swapTree = swapResp.GetSwapTree(arkToBtc)
		swapId   = swap.Id
	)

	pk, err := parsePubkey(swapResp.ClaimDetails.ServerPublicKey)
	if err != nil {
		log.WithError(err).Errorf("failed to parse server public key for swap %s", swapId)
		swap.Fail(fmt.Sprintf("parse server public key: %v", err))
		return
	}

	handler := NewArkToBtcHandler(
		h,
		ChainSwapState{
			SwapID:                   swapId,
			Timeout:                  time.Duration(h.timeout) * time.Second,
			EventCallback:            eventCallback,
			UnilateralRefundCallback: unilateralRefundCallback,
			Swap:                     swap,
		},
		network,
		btcClaimPrivKey,
		preimage,
		btcDestinationAddress,
		swapResp,
		pk,
		swapTree,
	)

	h.monitorChainSwap(ctx, handler)
}

func (h *Handler) monitorBtcToArkChainSwap(
	ctx context.Context,
	eventCallback ChainSwapEventCallback,
	preimage []byte,
	refundKey *btcec.PrivateKey,
	swapResp *boltz.CreateChainSwapResponse,
	swap *ChainSwap,
) {
	handler := NewBtcToArkHandler(
		h,
		ChainSwapState{
			SwapID:        swap.Id,
			Timeout:       time.Duration(h.timeout) * time.Second,
			EventCallback: eventCallback,
			Swap:          swap,
		},
		preimage,
		refundKey,
		swapResp,
	)

	h.monitorChainSwap(ctx, handler)
}

// monitorChainSwap drives a chain swap from the counterparty's status stream.
// The websocket loop is shared between both directions, the swap-specific
// reactions live in the ChainSwapEventHandler.
func (h *Handler) monitorChainSwap(ctx context.Context, handler ChainSwapEventHandler) {
	state := handler.GetState()
	swapId := state.SwapID
	log.Infof("starting websocket monitoring for chain swap %s", swapId)

	ws := h.boltzSvc.NewWebsocket()
	if err := ws.ConnectAndSubscribe(ctx, []string{swapId}, 5*time.Second); err != nil {
		log.WithError(err).Errorf("failed to connect to websocket for swap %s", swapId)
		state.Swap.Fail(fmt.Sprintf("websocket subscribe failed: %v", err))
		return
	}
	defer ws.Close()

	timeout := time.After(state.Timeout)

	for {
		select {
		case update, ok := <-ws.Updates:
			if !ok {
				state.Swap.Fail("websocket closed")
				return
			}

			status := boltz.ParseEvent(update.Status)
			log.Infof("chain swap %s status update: %s", swapId, update.Status)

			var err error
			switch status {
			case boltz.SwapCreated:
				err = handler.HandleSwapCreated(ctx, update)
			case boltz.TransactionLockupFailed:
				err = handler.HandleLockupFailed(ctx, update)
			case boltz.TransactionMempool:
				err = handler.HandleUserLockedMempool(ctx, update)
			case boltz.TransactionConfirmed:
				err = handler.HandleUserLocked(ctx, update)
			case boltz.TransactionServerMempool:
				err = handler.HandleServerLockedMempool(ctx, update)
			case boltz.TransactionServerConfirmed:
				err = handler.HandleServerLocked(ctx, update)
			case boltz.SwapExpired:
				err = handler.HandleSwapExpired(ctx, update)
			case boltz.TransactionFailed:
				err = handler.HandleTransactionFailed(ctx, update)
			default:
				log.Warnf("unknown status %s for swap %s", update.Status, swapId)
				continue
			}

			if err != nil {
				log.WithError(err).Errorf("event handler error for swap %s", swapId)
				state.Swap.Fail(err.Error())
				return
			}

			if state.Swap.Status == ChainSwapClaimed || state.Swap.Status == ChainSwapFailed {
				return
			}

		case <-timeout:
			log.Warnf("swap %s monitoring timed out after %v", swapId, state.Timeout)
			state.Swap.Fail(fmt.Sprintf("monitoring timed out after %v", state.Timeout))
			return

		case <-ctx.Done():
			state.Swap.Fail("context cancelled")
			return
		}
	}
}

// ChainSwapEventHandler reacts to the counterparty's status updates for one
// swap direction.
type ChainSwapEventHandler interface {
	HandleSwapCreated(ctx context.Context, update boltz.SwapUpdate) error
	HandleLockupFailed(ctx context.Context, update boltz.SwapUpdate) error
	HandleUserLockedMempool(ctx context.Context, update boltz.SwapUpdate) error
	HandleUserLocked(ctx context.Context, update boltz.SwapUpdate) error
	HandleServerLockedMempool(ctx context.Context, update boltz.SwapUpdate) error
	HandleServerLocked(ctx context.Context, update boltz.SwapUpdate) error
	HandleSwapExpired(ctx context.Context, update boltz.SwapUpdate) error
	HandleTransactionFailed(ctx context.Context, update boltz.SwapUpdate) error
	GetState() ChainSwapState
}

type ChainSwapState struct {
	SwapID                   string
	Timeout                  time.Duration
	EventCallback            ChainSwapEventCallback
	UnilateralRefundCallback func(swapId string, opts vhtlc.Opts) error
	Swap                     *ChainSwap
}
