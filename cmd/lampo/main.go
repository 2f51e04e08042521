package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArkLabsHQ/lampo/internal/config"
	"github.com/ArkLabsHQ/lampo/internal/core/application"
	"github.com/ArkLabsHQ/lampo/internal/infrastructure/db"
	"github.com/ArkLabsHQ/lampo/internal/infrastructure/esplora"
	"github.com/ArkLabsHQ/lampo/internal/infrastructure/scheduler"
	"github.com/ArkLabsHQ/lampo/pkg/boltz"
	"github.com/ArkLabsHQ/lampo/pkg/swap"
	arksdk "github.com/arkade-os/go-sdk"
	grpcclient "github.com/arkade-os/go-sdk/client/grpc"
	indexerclient "github.com/arkade-os/go-sdk/indexer/grpc"
	"github.com/arkade-os/go-sdk/store"
	"github.com/arkade-os/go-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// The wallet is deterministic from LAMPO_PRIVATE_KEY and the config store is
// in-memory, so the unlock password protects nothing that survives a restart.
const walletPassword = "lampo"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if cfg.PrivateKey == "" {
		log.Fatal("missing LAMPO_PRIVATE_KEY")
	}
	privKeyBytes, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		log.WithError(err).Fatal("invalid private key")
	}
	privateKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)

	log.Info("starting lampo...")

	ctx := context.Background()

	storeSvc, err := store.NewStore(store.Config{
		BaseDir:          cfg.Datadir,
		ConfigStoreType:  types.InMemoryStore,
		AppDataStoreType: types.SQLStore,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open ark store")
	}

	arkClient, err := arksdk.NewArkClient(storeSvc)
	if err != nil {
		log.WithError(err).Fatal("failed to init ark client")
	}

	if err := arkClient.Init(ctx, arksdk.InitArgs{
		ClientType:           arksdk.GrpcClient,
		WalletType:           arksdk.SingleKeyWallet,
		ServerUrl:            cfg.ArkServer,
		ExplorerURL:          cfg.EsploraURL,
		Password:             walletPassword,
		Seed:                 cfg.PrivateKey,
		WithTransactionFeed:  true,
		ExplorerPollInterval: 2 * time.Second,
	}); err != nil {
		log.WithError(err).Fatal("failed to init ark wallet")
	}

	if err := arkClient.Unlock(ctx, walletPassword); err != nil {
		log.WithError(err).Fatal("failed to unlock ark wallet")
	}

	transportClient, err := grpcclient.NewClient(cfg.ArkServer)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to ark server")
	}

	indexerClient, err := indexerclient.NewClient(cfg.ArkServer)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to ark indexer")
	}

	boltzSvc := &boltz.Api{
		URL:   cfg.BoltzURL,
		WSURL: cfg.BoltzWSURL,
		Client: http.Client{
			Timeout: 30 * time.Second,
		},
	}

	explorerSvc := swap.NewExplorerClient(cfg.EsploraURL)

	swapHandler, err := swap.NewHandler(
		arkClient, transportClient, indexerClient, boltzSvc, explorerSvc,
		privateKey, cfg.SwapTimeout,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to init swap handler")
	}

	repoManager, err := db.NewService(db.ServiceConfig{
		DbType:   cfg.DbType,
		DbConfig: []any{cfg.Datadir, nil},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	blockSource := esplora.NewService(cfg.EsploraURL, cfg.ElectrumURL)

	schedulerSvc := scheduler.NewScheduler(
		blockSource, time.Duration(cfg.BlockPollDelay)*time.Second,
	)

	appSvc := application.NewService(
		application.BuildInfo{Version: version, Commit: commit, Date: date},
		repoManager, schedulerSvc, swapHandler, boltzSvc,
		privateKey.PubKey(), swapHandler.ServerPubKey(), swapHandler.NetworkParams(),
	)

	refreshInterval := time.Duration(cfg.RefreshInterval) * time.Second
	if err := appSvc.Start(ctx, refreshInterval); err != nil {
		log.WithError(err).Fatal("failed to start swap service")
	}

	log.Info("lampo started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down...")
	appSvc.Stop()
	if err := blockSource.Close(); err != nil {
		log.WithError(err).Warn("failed to close block source")
	}
	log.Exit(0)
}
