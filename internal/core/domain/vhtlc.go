package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ArkLabsHQ/lampo/pkg/vhtlc"
)

type Vhtlc struct {
	vhtlc.Opts
	Id string
}

// VHTLCRepository stores the VHTLC options owned by the wallet
type VHTLCRepository interface {
	GetAll(ctx context.Context) ([]Vhtlc, error)
	Get(ctx context.Context, id string) (*Vhtlc, error)
	Add(ctx context.Context, vhtlc Vhtlc) error
	Close()
}

func NewVhtlc(opts vhtlc.Opts) Vhtlc {
	return Vhtlc{
		Opts: opts,
		Id:   GetVhtlcId(opts),
	}
}

func GetVhtlcId(opts vhtlc.Opts) string {
	return CreateVhtlcId(
		opts.PreimageHash,
		opts.Sender.SerializeCompressed(),
		opts.Receiver.SerializeCompressed(),
	)
}

// CreateVhtlcId derives a stable identifier from the fields that uniquely
// determine a VHTLC contract.
func CreateVhtlcId(preimageHash, sender, receiver []byte) string {
	id := make([]byte, 0, len(preimageHash)+len(sender)+len(receiver))
	id = append(id, preimageHash...)
	id = append(id, sender...)
	id = append(id, receiver...)
	idHash := sha256.Sum256(id)
	return hex.EncodeToString(idHash[:])
}
