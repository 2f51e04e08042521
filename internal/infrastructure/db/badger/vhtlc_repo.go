package badgerdb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ArkLabsHQ/lampo/internal/core/domain"
	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

type vhtlcRepository struct {
	store *badgerhold.Store
}

func NewVHTLCRepository(baseDir string, logger badger.Logger) (domain.VHTLCRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, "vhtlc")
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vHTLC store: %s", err)
	}
	return &vhtlcRepository{store}, nil
}

// GetAll retrieves all VHTLC options from the database
func (r *vhtlcRepository) GetAll(ctx context.Context) ([]domain.Vhtlc, error) {
	var opts []vhtlcData
	if err := r.store.Find(&opts, nil); err != nil {
		return nil, fmt.Errorf("failed to get all vHTLC options: %w", err)
	}

	var vhtlcList []domain.Vhtlc
	for _, opt := range opts {
		vHTLC, err := opt.toVhtlc()
		if err != nil {
			return nil, fmt.Errorf("failed to convert data to opts: %w", err)
		}
		vhtlcList = append(vhtlcList, vHTLC)
	}
	return vhtlcList, nil
}

// Get retrieves a specific VHTLC option by id
func (r *vhtlcRepository) Get(ctx context.Context, id string) (*domain.Vhtlc, error) {
	var dataOpts vhtlcData
	err := r.store.Get(id, &dataOpts)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("vHTLC with id %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vHTLC option: %w", err)
	}

	vHTLC, err := dataOpts.toVhtlc()
	if err != nil {
		return nil, fmt.Errorf("failed to convert data to opts: %w", err)
	}

	return &vHTLC, nil
}

// Add stores a new VHTLC option in the database
func (r *vhtlcRepository) Add(ctx context.Context, vhtlc domain.Vhtlc) error {
	data := toVhtlcData(vhtlc)

	if err := r.store.Insert(data.Id, data); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("vHTLC with id %s already exists", data.Id)
		}
		return err
	}
	return nil
}

func (r *vhtlcRepository) Close() {
	// nolint:all
	r.store.Close()
}

type vhtlcData struct {
	Id                                   string
	PreimageHash                         string
	Sender                               string
	Receiver                             string
	Server                               string
	RefundLocktime                       arklib.AbsoluteLocktime
	UnilateralClaimDelay                 arklib.RelativeLocktime
	UnilateralRefundDelay                arklib.RelativeLocktime
	UnilateralRefundWithoutReceiverDelay arklib.RelativeLocktime
}

func toVhtlcData(v domain.Vhtlc) vhtlcData {
	return vhtlcData{
		Id:                                   v.Id,
		PreimageHash:                         hex.EncodeToString(v.PreimageHash),
		Sender:                               hex.EncodeToString(v.Sender.SerializeCompressed()),
		Receiver:                             hex.EncodeToString(v.Receiver.SerializeCompressed()),
		Server:                               hex.EncodeToString(v.Server.SerializeCompressed()),
		RefundLocktime:                       v.RefundLocktime,
		UnilateralClaimDelay:                 v.UnilateralClaimDelay,
		UnilateralRefundDelay:                v.UnilateralRefundDelay,
		UnilateralRefundWithoutReceiverDelay: v.UnilateralRefundWithoutReceiverDelay,
	}
}

func decodePubKeyHex(s string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

func (d *vhtlcData) toVhtlc() (domain.Vhtlc, error) {
	sender, err := decodePubKeyHex(d.Sender)
	if err != nil {
		return domain.Vhtlc{}, err
	}
	receiver, err := decodePubKeyHex(d.Receiver)
	if err != nil {
		return domain.Vhtlc{}, err
	}
	server, err := decodePubKeyHex(d.Server)
	if err != nil {
		return domain.Vhtlc{}, err
	}
	preimageHashBytes, err := hex.DecodeString(d.PreimageHash)
	if err != nil {
		return domain.Vhtlc{}, err
	}

	opts := vhtlc.Opts{
		Sender:                               sender,
		Receiver:                             receiver,
		Server:                               server,
		RefundLocktime:                       d.RefundLocktime,
		UnilateralClaimDelay:                 d.UnilateralClaimDelay,
		UnilateralRefundDelay:                d.UnilateralRefundDelay,
		UnilateralRefundWithoutReceiverDelay: d.UnilateralRefundWithoutReceiverDelay,
		PreimageHash:                         preimageHashBytes,
	}

	return domain.NewVhtlc(opts), nil
}
