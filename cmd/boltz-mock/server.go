package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	modeSuccess = "success"
	modeFail    = "fail"
)

// behavior holds the knobs that tests may flip at runtime through
// /admin/config. Claim and refund modes switch the cooperative endpoints
// between the happy path and injected failures.
type behavior struct {
	ClaimMode                    string `json:"claimMode"`
	RefundMode                   string `json:"refundMode"`
	ArkRefundLocktimeSeconds     int64  `json:"arkRefundLocktimeSeconds"`
	ArkRefundAtUnix              int64  `json:"arkRefundAtUnix"`
	ArkRefundSafetyMarginSeconds int64  `json:"arkRefundSafetyMarginSeconds"`
	BtcLockupTimeoutBlocks       uint32 `json:"btcLockupTimeoutBlocks"`
	UnilateralClaimDelay         uint32 `json:"unilateralClaimDelay"`
	UnilateralRefundDelay        uint32 `json:"unilateralRefundDelay"`
	UnilateralRefundNoRecvDelay  uint32 `json:"unilateralRefundNoRecvDelay"`
	QuoteAmount                  uint64 `json:"quoteAmount"`
	QuoteOnchainAmount           uint64 `json:"quoteOnchainAmount"`
}

// behaviorPatch applies partial updates, nil fields are left untouched.
type behaviorPatch struct {
	ClaimMode                    *string `json:"claimMode"`
	RefundMode                   *string `json:"refundMode"`
	ArkRefundLocktimeSeconds     *int64  `json:"arkRefundLocktimeSeconds"`
	ArkRefundAtUnix              *int64  `json:"arkRefundAtUnix"`
	ArkRefundSafetyMarginSeconds *int64  `json:"arkRefundSafetyMarginSeconds"`
	BtcLockupTimeoutBlocks       *uint32 `json:"btcLockupTimeoutBlocks"`
	UnilateralClaimDelay         *uint32 `json:"unilateralClaimDelay"`
	UnilateralRefundDelay        *uint32 `json:"unilateralRefundDelay"`
	UnilateralRefundNoRecvDelay  *uint32 `json:"unilateralRefundNoRecvDelay"`
	QuoteAmount                  *uint64 `json:"quoteAmount"`
	QuoteOnchainAmount           *uint64 `json:"quoteOnchainAmount"`
}

type subscriber struct {
	swapIDs map[string]struct{}
	writeMu sync.Mutex
}

type server struct {
	cfg settings

	behaviorMu sync.RWMutex
	behavior   behavior

	swapsMu sync.RWMutex
	swaps   map[string]*swapRecord

	subsMu   sync.RWMutex
	subs     map[*websocket.Conn]*subscriber
	upgrader websocket.Upgrader

	signingKey *btcec.PrivateKey
	pubKey     *btcec.PublicKey
	arkSigner  *btcec.PublicKey

	httpServer *http.Server
}

func newServer(cfg settings) (*server, error) {
	applySettingsDefaults(&cfg)

	signingKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	arkSigner, err := resolveArkSigner(cfg.ArkdURL)
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:        cfg,
		behavior:   defaultBehavior(cfg),
		swaps:      make(map[string]*swapRecord),
		subs:       make(map[*websocket.Conn]*subscriber),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		signingKey: signingKey,
		pubKey:     signingKey.PubKey(),
		arkSigner:  arkSigner,
	}, nil
}

func applySettingsDefaults(cfg *settings) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9001"
	}
	if cfg.Network == nil {
		cfg.Network = &chaincfg.RegressionNetParams
	}
	if cfg.ArkHRP == "" {
		cfg.ArkHRP = "tark"
	}
	if cfg.CreatedEventDelay <= 0 {
		cfg.CreatedEventDelay = 50 * time.Millisecond
	}
	if cfg.ArkRefundLocktimeSeconds <= 0 {
		cfg.ArkRefundLocktimeSeconds = 60
	}
	if cfg.BtcLockupTimeoutBlocks == 0 {
		cfg.BtcLockupTimeoutBlocks = 720
	}
	if cfg.UnilateralClaimDelay == 0 {
		cfg.UnilateralClaimDelay = 512
	}
	if cfg.UnilateralRefundDelay == 0 {
		cfg.UnilateralRefundDelay = 512
	}
	if cfg.UnilateralRefundNoRecv == 0 {
		cfg.UnilateralRefundNoRecv = 1024
	}
	if cfg.ServiceFeePPM == 0 {
		cfg.ServiceFeePPM = 20000 // 2%
	}
	if cfg.MinerFeeSat == 0 {
		cfg.MinerFeeSat = 200
	}
}

func defaultBehavior(cfg settings) behavior {
	return behavior{
		ClaimMode:                   modeSuccess,
		RefundMode:                  modeSuccess,
		ArkRefundLocktimeSeconds:    cfg.ArkRefundLocktimeSeconds,
		BtcLockupTimeoutBlocks:      cfg.BtcLockupTimeoutBlocks,
		UnilateralClaimDelay:        cfg.UnilateralClaimDelay,
		UnilateralRefundDelay:       cfg.UnilateralRefundDelay,
		UnilateralRefundNoRecvDelay: cfg.UnilateralRefundNoRecv,
	}
}

func (s *server) listen() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v2/ws", s.serveWS)
	mux.HandleFunc("/v2/swap/chain", s.createChainSwap)
	mux.HandleFunc("/v2/swap/chain/", s.routeChainSwap)
	mux.HandleFunc("/admin/reset", s.adminReset)
	mux.HandleFunc("/admin/config", s.adminConfig)
	mux.HandleFunc("/admin/swaps/", s.adminSwap)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("mock counterparty stopped unexpectedly")
		}
	}()
	return nil
}

func (s *server) shutdown() error {
	s.subsMu.Lock()
	for conn := range s.subs {
		_ = conn.Close()
	}
	s.subs = make(map[*websocket.Conn]*subscriber)
	s.subsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *server) createChainSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req boltz.CreateChainSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}

	resp, rec, err := s.newSwapRecord(req)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.swapsMu.Lock()
	s.swaps[rec.ID] = rec
	s.swapsMu.Unlock()

	go func(id string, delay time.Duration) {
		time.Sleep(delay)
		s.publishStatus(id, "swap.created", "", "")
	}(rec.ID, s.cfg.CreatedEventDelay)

	sendJSON(w, http.StatusOK, resp)
}

func (s *server) routeChainSwap(w http.ResponseWriter, r *http.Request) {
	// Expected shapes: /v2/swap/chain/{id}/claim, .../quote, .../refund/ark
	parts := pathSegments(r.URL.Path)
	if len(parts) < 5 {
		sendError(w, http.StatusNotFound, "not found")
		return
	}
	id, rest := parts[3], parts[4:]

	switch {
	case len(rest) == 1 && rest[0] == "claim" && r.Method == http.MethodGet:
		s.claimDetails(w, id)
	case len(rest) == 1 && rest[0] == "claim" && r.Method == http.MethodPost:
		s.submitClaim(w, r, id)
	case len(rest) == 1 && rest[0] == "quote" && r.Method == http.MethodGet:
		s.quote(w, id)
	case len(rest) == 1 && rest[0] == "quote" && r.Method == http.MethodPost:
		s.acceptQuote(w, r, id)
	case len(rest) == 2 && rest[0] == "refund" && rest[1] == "ark" && r.Method == http.MethodPost:
		s.refundArk(w, r, id)
	default:
		sendError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) claimDetails(w http.ResponseWriter, id string) {
	rec, ok := s.swapSnapshot(id)
	if !ok {
		sendError(w, http.StatusNotFound, "swap not found")
		return
	}

	nonce, err := musig2.GenNonces(musig2.WithPublicKey(s.pubKey))
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The client parses this field as a 32-byte hash, pad when unset.
	txHash := rec.ServerLockTxID
	if len(txHash) != 64 {
		txHash = strings.Repeat("00", 32)
	}

	sendJSON(w, http.StatusOK, boltz.ChainSwapClaimDetailsResponse{
		PubNonce:        hex.EncodeToString(nonce.PubNonce[:]),
		PublicKey:       rec.ServerPubKeyHex,
		TheirPublicKey:  rec.ClaimPubKeyHex,
		TransactionHash: txHash,
	})
}

func (s *server) submitClaim(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := s.swapSnapshot(id)
	if !ok {
		sendError(w, http.StatusNotFound, "swap not found")
		return
	}
	s.mutateSwap(id, func(live *swapRecord) { live.ClaimRequests++ })

	var req boltz.ChainSwapClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if s.currentBehavior().ClaimMode == modeFail {
		sendError(w, http.StatusInternalServerError, "cooperative claim disabled by mock config")
		return
	}

	// Cross-signature submitted during the BTC->ARK flow, acknowledge and
	// return an empty counter-signature.
	if req.Signature.PartialSignature != "" {
		sendJSON(w, http.StatusOK, boltz.PartialSignatureResponse{})
		return
	}

	nonceHex, partialHex, err := s.counterSign(rec, req)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, boltz.PartialSignatureResponse{
		PubNonce:         nonceHex,
		PartialSignature: partialHex,
	})
}

func (s *server) quote(w http.ResponseWriter, id string) {
	rec, ok := s.swapSnapshot(id)
	if !ok {
		sendError(w, http.StatusNotFound, "swap not found")
		return
	}
	s.mutateSwap(id, func(live *swapRecord) { live.QuoteGets++ })

	b := s.currentBehavior()
	amount, onchain := rec.ServerLockAmount, rec.UserLockAmount
	if b.QuoteAmount > 0 {
		amount = b.QuoteAmount
	}
	if b.QuoteOnchainAmount > 0 {
		onchain = b.QuoteOnchainAmount
	}

	sendJSON(w, http.StatusOK, boltz.QuoteResponse{
		Amount:             amount,
		OnchainAmount:      onchain,
		TimeoutBlockHeight: rec.BTCTimeoutHeight,
	})
}

func (s *server) acceptQuote(w http.ResponseWriter, r *http.Request, id string) {
	var req boltz.QuoteResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}

	found := s.mutateSwap(id, func(live *swapRecord) {
		live.QuoteAccepts++
		live.LastQuote = req
		live.ServerLockAmount = req.Amount
		live.UserLockAmount = req.OnchainAmount
		// The server lockup is re-minted at the accepted amount.
		live.ServerLockTxID = ""
		live.ServerLockTxHex = ""
	})
	if !found {
		sendError(w, http.StatusNotFound, "swap not found")
		return
	}
	sendJSON(w, http.StatusOK, req)
}

func (s *server) refundArk(w http.ResponseWriter, r *http.Request, id string) {
	if !s.mutateSwap(id, func(live *swapRecord) { live.RefundRequests++ }) {
		sendError(w, http.StatusNotFound, "swap not found")
		return
	}

	var req boltz.RefundSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if s.currentBehavior().RefundMode == modeFail {
		sendError(w, http.StatusServiceUnavailable, "refund endpoint disabled by mock config")
		return
	}

	signedRefund, err := s.cosignRefundPsbt(req.Transaction)
	if err != nil {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("sign refund tx: %v", err))
		return
	}
	signedCheckpoint, err := s.cosignRefundPsbt(req.Checkpoint)
	if err != nil {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("sign checkpoint tx: %v", err))
		return
	}

	sendJSON(w, http.StatusOK, boltz.RefundSwapResponse{
		Transaction: signedRefund,
		Checkpoint:  signedCheckpoint,
	})
}

func (s *server) adminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.swapsMu.Lock()
	s.swaps = make(map[string]*swapRecord)
	s.swapsMu.Unlock()

	s.behaviorMu.Lock()
	s.behavior = defaultBehavior(s.cfg)
	s.behaviorMu.Unlock()

	sendJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *server) adminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sendJSON(w, http.StatusOK, s.currentBehavior())
	case http.MethodPost:
		var patch behaviorPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			sendError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := s.patchBehavior(patch); err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		sendJSON(w, http.StatusOK, s.currentBehavior())
	default:
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *server) adminSwap(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path)
	if len(parts) < 3 {
		sendError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[2]

	switch {
	case len(parts) == 3 && r.Method == http.MethodGet:
		rec, ok := s.swapSnapshot(id)
		if !ok {
			sendError(w, http.StatusNotFound, "swap not found")
			return
		}
		sendJSON(w, http.StatusOK, rec)

	case len(parts) == 4 && parts[3] == "event" && r.Method == http.MethodPost:
		var req struct {
			Status string `json:"status"`
			TxID   string `json:"txid"`
			TxHex  string `json:"txhex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Status == "" {
			sendError(w, http.StatusBadRequest, "status is required")
			return
		}
		if err := s.publishStatus(id, req.Status, req.TxID, req.TxHex); err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, _ := s.swapSnapshot(id)
		sendJSON(w, http.StatusOK, rec)

	default:
		sendError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := &subscriber{swapIDs: make(map[string]struct{})}
	s.subsMu.Lock()
	s.subs[conn] = sub
	s.subsMu.Unlock()

	defer func() {
		s.subsMu.Lock()
		delete(s.subs, conn)
		s.subsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg struct {
			Op      string   `json:"op"`
			Channel string   `json:"channel"`
			Args    []string `json:"args"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != "subscribe" || msg.Channel != "swap.update" {
			continue
		}

		for _, id := range msg.Args {
			sub.swapIDs[id] = struct{}{}
		}
		sub.writeMu.Lock()
		_ = conn.WriteJSON(map[string]any{
			"event":   "subscribe",
			"channel": "swap.update",
			"args":    msg.Args,
		})
		sub.writeMu.Unlock()
	}
}

// publishStatus records the status transition and fans it out to every
// websocket subscriber of the swap. Server-side mempool events lazily mint
// the server lockup transaction so the client has a real hex to inspect.
func (s *server) publishStatus(id, status, txID, txHex string) error {
	s.swapsMu.Lock()
	rec, ok := s.swaps[id]
	if !ok {
		s.swapsMu.Unlock()
		return fmt.Errorf("swap %s not found", id)
	}

	switch {
	case strings.HasPrefix(status, "transaction.mempool."):
		if rec.ServerLockTxHex == "" || rec.ServerLockTxID == "" {
			if err := rec.mintServerLockTx(); err != nil {
				s.swapsMu.Unlock()
				return err
			}
		}
		if txID == "" {
			txID = rec.ServerLockTxID
		}
		if txHex == "" {
			txHex = rec.ServerLockTxHex
		}
	case strings.HasPrefix(status, "transaction."):
		if txID == "" {
			txID = fakeTxid()
		}
		if txHex == "" {
			txHex = fakeTxHex()
		}
		if status == "transaction.mempool" || status == "transaction.confirmed" {
			rec.UserLockTxID = txID
			rec.UserLockTxHex = txHex
		}
	}
	rec.LastStatus = status
	s.swapsMu.Unlock()

	arg := map[string]any{"id": id, "status": status}
	if txID != "" {
		arg["transaction"] = map[string]string{"id": txID, "hex": txHex}
	}
	payload := map[string]any{
		"event":   "update",
		"channel": "swap.update",
		"args":    []map[string]any{arg},
	}

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for conn, sub := range s.subs {
		if _, ok := sub.swapIDs[id]; !ok {
			continue
		}
		sub.writeMu.Lock()
		err := conn.WriteJSON(payload)
		sub.writeMu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to push ws event")
		}
	}
	return nil
}

// swapSnapshot returns a deep enough copy to read outside the lock.
func (s *server) swapSnapshot(id string) (*swapRecord, bool) {
	s.swapsMu.RLock()
	defer s.swapsMu.RUnlock()
	rec, ok := s.swaps[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	cp.PreimageHash160 = append([]byte(nil), rec.PreimageHash160...)
	cp.BTCLockupScript = append([]byte(nil), rec.BTCLockupScript...)
	return &cp, true
}

func (s *server) mutateSwap(id string, fn func(*swapRecord)) bool {
	s.swapsMu.Lock()
	defer s.swapsMu.Unlock()
	rec, ok := s.swaps[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

func (s *server) currentBehavior() behavior {
	s.behaviorMu.RLock()
	defer s.behaviorMu.RUnlock()
	return s.behavior
}

func (s *server) patchBehavior(patch behaviorPatch) error {
	s.behaviorMu.Lock()
	defer s.behaviorMu.Unlock()

	if patch.ClaimMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*patch.ClaimMode))
		if mode != modeSuccess && mode != modeFail {
			return fmt.Errorf("unsupported claimMode: %s", mode)
		}
		s.behavior.ClaimMode = mode
	}
	if patch.RefundMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*patch.RefundMode))
		if mode != modeSuccess && mode != modeFail {
			return fmt.Errorf("unsupported refundMode: %s", mode)
		}
		s.behavior.RefundMode = mode
	}
	if patch.ArkRefundLocktimeSeconds != nil {
		if *patch.ArkRefundLocktimeSeconds <= 0 {
			return fmt.Errorf("arkRefundLocktimeSeconds must be > 0")
		}
		s.behavior.ArkRefundLocktimeSeconds = *patch.ArkRefundLocktimeSeconds
	}
	if patch.ArkRefundAtUnix != nil {
		if *patch.ArkRefundAtUnix < 0 {
			return fmt.Errorf("arkRefundAtUnix must be >= 0")
		}
		s.behavior.ArkRefundAtUnix = *patch.ArkRefundAtUnix
	}
	if patch.ArkRefundSafetyMarginSeconds != nil {
		if *patch.ArkRefundSafetyMarginSeconds < 0 {
			return fmt.Errorf("arkRefundSafetyMarginSeconds must be >= 0")
		}
		s.behavior.ArkRefundSafetyMarginSeconds = *patch.ArkRefundSafetyMarginSeconds
	}
	if patch.BtcLockupTimeoutBlocks != nil {
		if *patch.BtcLockupTimeoutBlocks < 144 {
			return fmt.Errorf("btcLockupTimeoutBlocks must be >= 144")
		}
		s.behavior.BtcLockupTimeoutBlocks = *patch.BtcLockupTimeoutBlocks
	}
	if patch.UnilateralClaimDelay != nil {
		s.behavior.UnilateralClaimDelay = *patch.UnilateralClaimDelay
	}
	if patch.UnilateralRefundDelay != nil {
		s.behavior.UnilateralRefundDelay = *patch.UnilateralRefundDelay
	}
	if patch.UnilateralRefundNoRecvDelay != nil {
		s.behavior.UnilateralRefundNoRecvDelay = *patch.UnilateralRefundNoRecvDelay
	}
	if patch.QuoteAmount != nil {
		s.behavior.QuoteAmount = *patch.QuoteAmount
	}
	if patch.QuoteOnchainAmount != nil {
		s.behavior.QuoteOnchainAmount = *patch.QuoteOnchainAmount
	}
	return nil
}

// resolveArkSigner polls the operator's /v1/info endpoint until the signer
// public key is advertised. The operator container may still be booting when
// the mock starts.
func resolveArkSigner(arkdURL string) (*btcec.PublicKey, error) {
	if strings.TrimSpace(arkdURL) == "" {
		return nil, fmt.Errorf("MOCK_BOLTZ_ARKD_URL is required")
	}
	url := strings.TrimRight(strings.TrimSpace(arkdURL), "/") + "/v1/info"

	var lastErr error
	for attempt := 0; attempt < 30; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		resp, err := http.Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}

		var info struct {
			SignerPubkey string `json:"signerPubkey"`
		}
		if err := json.Unmarshal(body, &info); err != nil {
			lastErr = err
			continue
		}
		if info.SignerPubkey == "" {
			lastErr = fmt.Errorf("signerPubkey missing in operator info")
			continue
		}
		raw, err := hex.DecodeString(info.SignerPubkey)
		if err != nil {
			return nil, err
		}
		return btcec.ParsePubKey(raw)
	}
	return nil, fmt.Errorf("failed to fetch ark signer public key from %s: %w", url, lastErr)
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]string{"error": msg})
}
