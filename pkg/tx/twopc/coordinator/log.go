package coordinator

import (
	"context"
	"time"

	"github.com/nazeru/market-ledger-go/pkg/tx/common"
)

type ParticipantRef struct {
	Name string `json:"name"`
}

// TxRecord is one entry of the coordinator log.
type TxRecord struct {
	TxID         common.TxID      `json:"txid"`
	Ref          string           `json:"ref"`
	Status       common.TxStatus  `json:"status"`
	Participants []ParticipantRef `json:"participants"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type TxLogStore interface {
	Create(ctx context.Context, txid common.TxID, ref string, participants []ParticipantRef) error
	SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error
	GetStatus(ctx context.Context, txid common.TxID) (common.TxStatus, error)
	// ListByStatus returns the records currently in status, oldest first.
	ListByStatus(ctx context.Context, status common.TxStatus) ([]TxRecord, error)
}
