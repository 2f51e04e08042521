package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/internal/core/ports"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/swap"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ccoveille/go-safecast"
	"github.com/lightningnetwork/lnd/input"
	log "github.com/sirupsen/logrus"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Service is the swap manager. It drives the swap handler, persists every
// swap it initiates and guarantees each VHTLC is redeemed at most once.
type Service struct {
	BuildInfo BuildInfo

	repoManager  ports.RepoManager
	schedulerSvc ports.SchedulerService
	swapHandler  *swap.Handler
	boltzSvc     *boltz.Api

	publicKey    *btcec.PublicKey
	serverPubKey *btcec.PublicKey
	network      *chaincfg.Params

	// guards concurrent redeem attempts on the same swap record
	redeemMtx sync.Mutex
	inFlight  map[string]struct{}
}

func NewService(
	buildInfo BuildInfo,
	repoManager ports.RepoManager,
	schedulerSvc ports.SchedulerService,
	swapHandler *swap.Handler,
	boltzSvc *boltz.Api,
	publicKey, serverPubKey *btcec.PublicKey,
	network *chaincfg.Params,
) *Service {
	return &Service{
		BuildInfo:    buildInfo,
		repoManager:  repoManager,
		schedulerSvc: schedulerSvc,
		swapHandler:  swapHandler,
		boltzSvc:     boltzSvc,
		publicKey:    publicKey,
		serverPubKey: serverPubKey,
		network:      network,
		inFlight:     make(map[string]struct{}),
	}
}

// Start resumes monitoring of pending chain swaps and schedules the periodic
// status refresh.
func (s *Service) Start(ctx context.Context, refreshInterval time.Duration) error {
	s.schedulerSvc.Start()

	if err := s.schedulerSvc.ScheduleRecurringJob(refreshInterval, func() {
		s.RefreshSwapStatuses(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule status refresh: %w", err)
	}

	if err := s.resumeChainSwaps(ctx); err != nil {
		log.WithError(err).Warn("failed to resume pending chain swaps")
	}

	return nil
}

func (s *Service) Stop() {
	s.schedulerSvc.Stop()
	s.repoManager.Close()
}

// CreateLightningInvoice starts a reverse swap: it returns an invoice that,
// once paid over lightning, settles into our ark wallet by claiming the VHTLC
// the counterparty locks.
func (s *Service) CreateLightningInvoice(
	ctx context.Context, amount uint64,
) (string, string, error) {
	sw, err := s.swapHandler.GetInvoice(ctx, amount, func(res swap.Swap) error {
		return s.finalizeSwap(context.Background(), res)
	})
	if err != nil {
		return "", "", err
	}

	record := toSwapRecord(sw, boltz.CurrencyBtc, boltz.CurrencyArk)
	if _, err := s.repoManager.Swap().Add(ctx, []domain.Swap{record}); err != nil {
		log.WithError(err).Warnf("failed to persist reverse swap %s", sw.Id)
	}
	if err := s.storeVhtlc(ctx, sw.Opts); err != nil {
		log.WithError(err).Warnf("failed to persist vhtlc of swap %s", sw.Id)
	}

	return sw.Invoice, sw.Id, nil
}

// PayLightningInvoice starts a submarine swap: it funds a VHTLC with vtxos
// and waits for the counterparty to pay the invoice. If the payment fails the
// VHTLC is refunded, collaboratively if possible, otherwise unilaterally once
// the refund locktime expires.
func (s *Service) PayLightningInvoice(
	ctx context.Context, invoice string,
) (*domain.Swap, error) {
	sw, err := s.swapHandler.PayInvoice(ctx, invoice, s.scheduleUnilateralRefund)
	if err != nil {
		return nil, err
	}

	record := toSwapRecord(*sw, boltz.CurrencyArk, boltz.CurrencyBtc)
	record.Type = domain.SwapPayment
	if _, err := s.repoManager.Swap().Add(ctx, []domain.Swap{record}); err != nil {
		log.WithError(err).Warnf("failed to persist submarine swap %s", sw.Id)
	}
	if err := s.storeVhtlc(ctx, sw.Opts); err != nil {
		log.WithError(err).Warnf("failed to persist vhtlc of swap %s", sw.Id)
	}

	return &record, nil
}

// CreateChainSwap starts a chain swap between the ark and the base chain.
// For ark to btc, btcAddress is the destination of the claimed funds. For
// btc to ark, the returned record carries the BTC address the user must fund.
func (s *Service) CreateChainSwap(
	ctx context.Context, from boltz.Currency, amount uint64, btcAddress string,
) (*domain.ChainSwap, error) {
	if from != boltz.CurrencyArk && from != boltz.CurrencyBtc {
		return nil, fmt.Errorf("unsupported chain swap direction from %s", from)
	}

	pair, err := s.boltzSvc.GetChainPair(from)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain pair: %w", err)
	}
	if amount < pair.Limits.Minimal || amount > pair.Limits.Maximal {
		return nil, fmt.Errorf(
			"amount %d out of pair limits [%d, %d]",
			amount, pair.Limits.Minimal, pair.Limits.Maximal,
		)
	}

	var cs *swap.ChainSwap
	if from == boltz.CurrencyArk {
		if btcAddress == "" {
			return nil, fmt.Errorf("missing btc destination address")
		}
		cs, err = s.swapHandler.ChainSwapArkToBtc(
			ctx, amount, btcAddress, s.network,
			s.onChainSwapEvent, s.unilateralRefundChainSwap,
		)
	} else {
		cs, err = s.swapHandler.ChainSwapBtcToArk(
			ctx, amount, s.network, s.onChainSwapEvent,
		)
	}
	if err != nil {
		return nil, err
	}

	record := toChainSwapRecord(cs, from)
	if err := s.repoManager.ChainSwap().Add(ctx, record); err != nil {
		log.WithError(err).Warnf("failed to persist chain swap %s", cs.Id)
	}
	if err := s.storeVhtlc(ctx, &cs.VhtlcOpts); err != nil {
		log.WithError(err).Warnf("failed to persist vhtlc of chain swap %s", cs.Id)
	}

	return &record, nil
}

// ClaimVHTLC redeems the VHTLC of the given swap with the preimage. A swap
// already redeemed is never redeemed twice.
func (s *Service) ClaimVHTLC(
	ctx context.Context, swapId string, preimage []byte,
) (string, error) {
	record, release, err := s.acquireRedeem(ctx, swapId)
	if err != nil {
		return "", err
	}
	defer release()

	txid, err := s.swapHandler.ClaimVHTLC(ctx, preimage, record.Vhtlc.Opts)
	if err != nil {
		return "", err
	}

	record.Status = domain.SwapSuccess
	record.RedeemTxId = txid
	record.Preimage = hex.EncodeToString(preimage)
	if err := s.repoManager.Swap().Update(ctx, *record); err != nil {
		log.WithError(err).Warnf("failed to persist claim of swap %s", swapId)
	}

	return txid, nil
}

// RefundVHTLC refunds the VHTLC of the given swap, collaboratively when
// withReceiver is true. A swap already redeemed is never redeemed twice.
func (s *Service) RefundVHTLC(
	ctx context.Context, swapId string, withReceiver bool,
) (string, error) {
	record, release, err := s.acquireRedeem(ctx, swapId)
	if err != nil {
		return "", err
	}
	defer release()

	txid, err := s.swapHandler.RefundSwap(ctx, swapId, withReceiver, record.Vhtlc.Opts)
	if err != nil {
		return "", err
	}

	record.Status = domain.SwapFailed
	record.RedeemTxId = txid
	if err := s.repoManager.Swap().Update(ctx, *record); err != nil {
		log.WithError(err).Warnf("failed to persist refund of swap %s", swapId)
	}

	return txid, nil
}

// GetSwapHistory returns all swaps, regular and chain, newest first.
func (s *Service) GetSwapHistory(ctx context.Context) ([]HistoryEntry, error) {
	swaps, err := s.repoManager.Swap().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	chainSwaps, err := s.repoManager.ChainSwap().GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return mergeHistory(swaps, chainSwaps), nil
}

// GetPendingSwaps returns the swaps that still need monitoring.
func (s *Service) GetPendingSwaps(
	ctx context.Context,
) ([]domain.Swap, []domain.ChainSwap, error) {
	swaps, err := s.repoManager.Swap().GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	pendingSwaps := make([]domain.Swap, 0, len(swaps))
	for _, sw := range swaps {
		if sw.Status == domain.SwapPending {
			pendingSwaps = append(pendingSwaps, sw)
		}
	}

	chainSwaps, err := s.repoManager.ChainSwap().GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	pendingChainSwaps := make([]domain.ChainSwap, 0, len(chainSwaps))
	for _, cs := range chainSwaps {
		if cs.IsPending() {
			pendingChainSwaps = append(pendingChainSwaps, cs)
		}
	}

	return pendingSwaps, pendingChainSwaps, nil
}

// GetSwapStatus polls the counterparty for the current status of a swap.
func (s *Service) GetSwapStatus(
	ctx context.Context, swapId string,
) (*boltz.SwapStatusResponse, error) {
	return s.boltzSvc.GetSwapStatus(swapId)
}

// RefreshSwapStatuses polls the counterparty for every pending record and
// finalizes those that reached a terminal status while we were not looking.
func (s *Service) RefreshSwapStatuses(ctx context.Context) {
	pendingSwaps, pendingChainSwaps, err := s.GetPendingSwaps(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list pending swaps")
		return
	}

	for _, sw := range pendingSwaps {
		status, err := s.boltzSvc.GetSwapStatus(sw.Id)
		if err != nil {
			log.WithError(err).Debugf("failed to refresh status of swap %s", sw.Id)
			continue
		}

		switch boltz.ParseEvent(status.Status) {
		case boltz.TransactionClaimed, boltz.InvoiceSettled:
			sw.Status = domain.SwapSuccess
		case boltz.SwapExpired, boltz.TransactionFailed,
			boltz.TransactionRefunded, boltz.InvoiceFailedToPay:
			sw.Status = domain.SwapFailed
		default:
			continue
		}

		if err := s.repoManager.Swap().Update(ctx, sw); err != nil {
			log.WithError(err).Warnf("failed to persist refreshed swap %s", sw.Id)
		}
	}

	for _, cs := range pendingChainSwaps {
		status, err := s.boltzSvc.GetSwapStatus(cs.Id)
		if err != nil {
			log.WithError(err).Debugf("failed to refresh status of chain swap %s", cs.Id)
			continue
		}

		switch boltz.ParseEvent(status.Status) {
		case boltz.SwapExpired, boltz.TransactionFailed:
			cs.Failed(fmt.Sprintf("counterparty reported %s", status.Status))
			if err := s.repoManager.ChainSwap().Update(ctx, cs); err != nil {
				log.WithError(err).Warnf("failed to persist refreshed chain swap %s", cs.Id)
			}
		}
	}
}

// RestoreSwaps fetches our swap history from the counterparty and recreates
// the records the local store is missing, re-deriving the VHTLC options from
// the revealed leaf scripts.
func (s *Service) RestoreSwaps(ctx context.Context) (int, error) {
	history, err := s.boltzSvc.GetSwapHistory(
		hex.EncodeToString(s.publicKey.SerializeCompressed()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch swap history: %w", err)
	}

	restored := make([]domain.Swap, 0, len(history))
	for _, sw := range history {
		if _, err := s.repoManager.Swap().Get(ctx, sw.Id); err == nil {
			continue
		}

		record, err := s.restoreSwap(sw)
		if err != nil {
			log.WithError(err).Warnf("failed to restore swap %s", sw.Id)
			continue
		}

		if err := s.storeVhtlc(ctx, &record.Vhtlc.Opts); err != nil {
			log.WithError(err).Warnf("failed to persist vhtlc of restored swap %s", sw.Id)
		}
		restored = append(restored, *record)
	}

	count, err := s.repoManager.Swap().Add(ctx, restored)
	if err != nil {
		return 0, fmt.Errorf("failed to persist restored swaps: %w", err)
	}

	log.Infof("restored %d swaps from counterparty history", count)
	return count, nil
}

func (s *Service) restoreSwap(sw boltz.Swap) (*domain.Swap, error) {
	details := sw.ClaimDetails
	swapType := domain.SwapRegular
	from, to := boltz.CurrencyBtc, boltz.CurrencyArk
	if details == nil {
		details = sw.RefundDetails
		swapType = domain.SwapPayment
		from, to = boltz.CurrencyArk, boltz.CurrencyBtc
	}
	if details == nil {
		return nil, fmt.Errorf("swap has no claim or refund details")
	}

	opts, err := s.deriveVhtlcOpts(sw.PreimageHash, details.Tree)
	if err != nil {
		return nil, err
	}

	status := domain.SwapPending
	switch boltz.ParseEvent(sw.Status) {
	case boltz.TransactionClaimed, boltz.InvoiceSettled:
		status = domain.SwapSuccess
	case boltz.SwapExpired, boltz.TransactionFailed,
		boltz.TransactionRefunded, boltz.InvoiceFailedToPay:
		status = domain.SwapFailed
	}

	return &domain.Swap{
		Id:          sw.Id,
		Amount:      details.Amount,
		Timestamp:   int64(sw.CreatedAt),
		From:        from,
		To:          to,
		Status:      status,
		Type:        swapType,
		Vhtlc:       domain.NewVhtlc(*opts),
		FundingTxId: details.Transaction.ID,
	}, nil
}

func (s *Service) deriveVhtlcOpts(
	preimageHashSHA256 string, tree boltz.Tree,
) (*vhtlc.Opts, error) {
	hashBytes, err := hex.DecodeString(preimageHashSHA256)
	if err != nil {
		return nil, fmt.Errorf("invalid preimage hash: %w", err)
	}
	preimageHash160 := hex.EncodeToString(input.Ripemd160H(hashBytes))

	script, err := vhtlc.FromRevealedLeaves(
		s.serverPubKey, preimageHash160, vhtlc.RevealedLeaves{
			Claim:                           tree.ClaimLeaf.Output,
			Refund:                          tree.RefundLeaf.Output,
			RefundWithoutReceiver:           tree.RefundLeafWithoutReceiver.Output,
			UnilateralClaim:                 tree.UnilateralClaimLeaf.Output,
			UnilateralRefund:                tree.UnilateralRefundLeaf.Output,
			UnilateralRefundWithoutReceiver: tree.UnilateralRefundWithoutReceiver.Output,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild vhtlc from revealed leaves: %w", err)
	}

	opts := script.DeriveOpts()
	return &opts, nil
}

// acquireRedeem takes the redeem slot for the swap and loads its record.
// It fails if the record is already redeemed or a redeem is in flight.
func (s *Service) acquireRedeem(
	ctx context.Context, swapId string,
) (*domain.Swap, func(), error) {
	s.redeemMtx.Lock()
	defer s.redeemMtx.Unlock()
	if _, busy := s.inFlight[swapId]; busy {
		return nil, nil, fmt.Errorf("redeem of swap %s already in progress", swapId)
	}

	// the record is read under the lock: once a redeem releases its slot,
	// its persisted result is visible to the next acquirer
	record, err := s.repoManager.Swap().Get(ctx, swapId)
	if err != nil {
		return nil, nil, err
	}
	if record.IsRedeemed() {
		return nil, nil, fmt.Errorf("swap %s already redeemed in %s", swapId, record.RedeemTxId)
	}

	s.inFlight[swapId] = struct{}{}

	release := func() {
		s.redeemMtx.Lock()
		defer s.redeemMtx.Unlock()
		delete(s.inFlight, swapId)
	}
	return record, release, nil
}

func (s *Service) finalizeSwap(ctx context.Context, res swap.Swap) error {
	record, err := s.repoManager.Swap().Get(ctx, res.Id)
	if err != nil {
		return err
	}

	record.Status = toSwapStatus(res.Status)
	record.RedeemTxId = res.RedeemTxid
	return s.repoManager.Swap().Update(ctx, *record)
}

// scheduleUnilateralRefund arms the fallback refund of a submarine swap: once
// the chain passes the refund locktime the VHTLC is settled through the
// refund-without-receiver path.
func (s *Service) scheduleUnilateralRefund(res swap.Swap) error {
	if res.Opts == nil {
		return fmt.Errorf("missing vhtlc options for swap %s", res.Id)
	}

	target, err := safecast.ToUint32(uint64(res.Opts.RefundLocktime))
	if err != nil {
		return fmt.Errorf("invalid refund locktime: %w", err)
	}

	opts := *res.Opts
	s.schedulerSvc.ScheduleAtHeight(target, func() {
		txid, err := s.swapHandler.SettleVhtlcWithRefundPath(context.Background(), opts)
		if err != nil {
			log.WithError(err).Errorf("failed to refund swap %s unilaterally", res.Id)
			return
		}

		record, err := s.repoManager.Swap().Get(context.Background(), res.Id)
		if err != nil {
			log.WithError(err).Warnf("failed to load swap %s after unilateral refund", res.Id)
			return
		}
		record.Status = domain.SwapFailed
		record.RedeemTxId = txid
		if err := s.repoManager.Swap().Update(context.Background(), *record); err != nil {
			log.WithError(err).Warnf("failed to persist unilateral refund of swap %s", res.Id)
		}
	})

	log.Infof("scheduled unilateral refund of swap %s at height %d", res.Id, target)
	return nil
}

// unilateralRefundChainSwap arms the fallback refund of the ark leg of a
// chain swap whose collaborative refund failed.
func (s *Service) unilateralRefundChainSwap(swapId string, opts vhtlc.Opts) error {
	target, err := safecast.ToUint32(uint64(opts.RefundLocktime))
	if err != nil {
		return fmt.Errorf("invalid refund locktime: %w", err)
	}

	s.schedulerSvc.ScheduleAtHeight(target, func() {
		txid, err := s.swapHandler.SettleVhtlcWithRefundPath(context.Background(), opts)
		if err != nil {
			log.WithError(err).Errorf(
				"failed to refund chain swap %s unilaterally", swapId,
			)
			return
		}

		record, err := s.repoManager.ChainSwap().Get(context.Background(), swapId)
		if err != nil {
			log.WithError(err).Warnf(
				"failed to load chain swap %s after unilateral refund", swapId,
			)
			return
		}
		record.RefundedUnilaterally(txid)
		if err := s.repoManager.ChainSwap().Update(context.Background(), *record); err != nil {
			log.WithError(err).Warnf(
				"failed to persist unilateral refund of chain swap %s", swapId,
			)
		}
	})

	log.Infof("scheduled unilateral refund of chain swap %s at height %d", swapId, target)
	return nil
}

// onChainSwapEvent mirrors every state transition of a running chain swap
// into its persisted record.
func (s *Service) onChainSwapEvent(event swap.ChainSwapEvent) {
	ctx := context.Background()

	var swapId string
	apply := func(record *domain.ChainSwap) {}

	switch e := event.(type) {
	case swap.UserLockEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.UserLocked(e.TxID) }
	case swap.ServerLockEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.ServerLocked(e.TxID) }
	case swap.ClaimEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.Claimed(e.TxID) }
	case swap.RefundEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.Refunded(e.TxID) }
	case swap.UnilateralRefundEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.RefundedUnilaterally(e.TxID) }
	case swap.FailEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.Failed(e.Error) }
	case swap.RefundFailedEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.RefundFailed(e.Error) }
	case swap.UserLockFailedEvent:
		swapId = e.SwapID
		apply = func(r *domain.ChainSwap) { r.UserLockFailed(e.Error) }
	default:
		return
	}

	record, err := s.repoManager.ChainSwap().Get(ctx, swapId)
	if err != nil {
		log.WithError(err).Warnf("failed to load chain swap %s on event", swapId)
		return
	}

	apply(record)
	if err := s.repoManager.ChainSwap().Update(ctx, *record); err != nil {
		log.WithError(err).Warnf("failed to persist chain swap %s on event", swapId)
	}
}

func (s *Service) resumeChainSwaps(ctx context.Context) error {
	chainSwaps, err := s.repoManager.ChainSwap().GetAll(ctx)
	if err != nil {
		return err
	}

	for _, cs := range chainSwaps {
		if !cs.IsPending() {
			continue
		}

		if _, err := s.swapHandler.ResumeChainSwap(ctx, s.toResumeParams(cs)); err != nil {
			log.WithError(err).Warnf("failed to resume chain swap %s", cs.Id)
			continue
		}
		log.Infof("resumed monitoring of chain swap %s", cs.Id)
	}

	return nil
}

// toResumeParams maps a persisted chain swap record onto the handler's resume
// parameters. Both BTC-side addresses are carried: the destination address is
// what the ark to btc monitor claims to, the lockup address is what the btc to
// ark refund path spends from.
func (s *Service) toResumeParams(cs domain.ChainSwap) swap.ResumeChainSwapParams {
	return swap.ResumeChainSwapParams{
		SwapID:                cs.Id,
		From:                  cs.From,
		To:                    cs.To,
		Amount:                cs.Amount,
		PreimageHex:           cs.ClaimPreimage,
		BoltzResponseJSON:     cs.BoltzCreateResponseJSON,
		UserBtcAddress:        cs.UserBtcLockupAddress,
		BtcDestinationAddress: cs.BtcDestinationAddress,
		UserLockTxid:          cs.UserLockupTxId,
		ServerLockTxid:        cs.ServerLockupTxId,
		ClaimTxid:             cs.ClaimTxId,
		RefundTxid:            cs.RefundTxId,
		Status:                toHandlerChainSwapStatus(cs.Status),
		Error:                 cs.ErrorMessage,
		Timestamp:             cs.CreatedAt,
		Network:               s.network,
		EventCallback:         s.onChainSwapEvent,
		UnilateralRefundCB:    s.unilateralRefundChainSwap,
	}
}

func (s *Service) storeVhtlc(ctx context.Context, opts *vhtlc.Opts) error {
	if opts == nil {
		return fmt.Errorf("missing vhtlc options")
	}
	return s.repoManager.VHTLC().Add(ctx, domain.NewVhtlc(*opts))
}
