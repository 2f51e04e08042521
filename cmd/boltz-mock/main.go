// Command boltz-mock runs an in-process swap counterparty for development and
// end to end tests. It speaks the /v2 chain swap REST surface and the
// swap.update websocket channel, derives real BTC and Ark lockup scripts, and
// exposes /admin endpoints to drive swap lifecycles and failure injection.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

// settings is the boot-time configuration, read once from MOCK_BOLTZ_*
// environment variables. Values that can change while running live in
// behavior instead.
type settings struct {
	ListenAddr string
	ArkdURL    string
	ArkHRP     string
	Network    *chaincfg.Params

	// Delay before the swap.created event is pushed after creation.
	CreatedEventDelay time.Duration

	ArkRefundLocktimeSeconds int64
	BtcLockupTimeoutBlocks   uint32
	UnilateralClaimDelay     uint32
	UnilateralRefundDelay    uint32
	UnilateralRefundNoRecv   uint32

	ServiceFeePPM uint64
	MinerFeeSat   uint64
}

func loadSettings() settings {
	return settings{
		ListenAddr:               envStr("MOCK_BOLTZ_LISTEN_ADDR", ":9001"),
		ArkdURL:                  envStr("MOCK_BOLTZ_ARKD_URL", "http://arkd:7070"),
		ArkHRP:                   envStr("MOCK_BOLTZ_ARK_HRP", "tark"),
		Network:                  envNetwork("MOCK_BOLTZ_NETWORK"),
		CreatedEventDelay:        envDuration("MOCK_BOLTZ_AUTO_SWAP_CREATED_DELAY", 50*time.Millisecond),
		ArkRefundLocktimeSeconds: envInt64("MOCK_BOLTZ_ARK_REFUND_LOCKTIME_SECONDS", 60),
		BtcLockupTimeoutBlocks:   envUint32("MOCK_BOLTZ_BTC_LOCKUP_TIMEOUT_BLOCKS", 720),
		UnilateralClaimDelay:     envUint32("MOCK_BOLTZ_UNILATERAL_CLAIM_DELAY", 512),
		UnilateralRefundDelay:    envUint32("MOCK_BOLTZ_UNILATERAL_REFUND_DELAY", 512),
		UnilateralRefundNoRecv:   envUint32("MOCK_BOLTZ_UNILATERAL_REFUND_NO_RECV_DELAY", 1024),
		ServiceFeePPM:            envUint64("MOCK_BOLTZ_SERVICE_FEE_PPM", 20000),
		MinerFeeSat:              envUint64("MOCK_BOLTZ_MINER_FEE_SAT", 200),
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(envStr("MOCK_BOLTZ_LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}

	srv, err := newServer(loadSettings())
	if err != nil {
		log.WithError(err).Fatal("failed to create mock counterparty")
	}
	if err := srv.listen(); err != nil {
		log.WithError(err).Fatal("failed to start mock counterparty")
	}
	log.Infof("mock counterparty listening on %s", srv.cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := srv.shutdown(); err != nil {
		log.WithError(err).Error("failed to stop mock counterparty")
	}
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(envStr(key, "")); err == nil {
		return d
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(envStr(key, ""), 10, 64); err == nil {
		return n
	}
	return fallback
}

func envUint64(key string, fallback uint64) uint64 {
	if n, err := strconv.ParseUint(envStr(key, ""), 10, 64); err == nil {
		return n
	}
	return fallback
}

func envUint32(key string, fallback uint32) uint32 {
	if n, err := strconv.ParseUint(envStr(key, ""), 10, 32); err == nil {
		return uint32(n)
	}
	return fallback
}

func envNetwork(key string) *chaincfg.Params {
	switch strings.ToLower(envStr(key, "regtest")) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
