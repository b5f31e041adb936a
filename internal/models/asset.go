// internal/models/asset.go
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// MaxRegistrationRetries bounds manual re-registration of a failed asset.
const MaxRegistrationRetries = 5

// MediaRef points at a blob held by the storage layer. Both halves are opaque
// to the lifecycle engine.
type MediaRef struct {
	URL  string `json:"url" gorm:"type:text" validate:"omitempty,url,max=2048"`
	Path string `json:"path" gorm:"type:text" validate:"max=1024"`
}

type Asset struct {
	BaseModel
	CreatorID      uuid.UUID       `json:"creator_id" gorm:"type:uuid;not null;index"`
	OwnerID        uuid.UUID       `json:"owner_id" gorm:"type:uuid;not null;index"`
	LedgerName     string          `json:"ledger_name" gorm:"size:128;not null"`
	Title          string          `json:"title" gorm:"size:255;not null"`
	Artist         string          `json:"artist" gorm:"size:255"`
	Description    string          `json:"description" gorm:"type:text"`
	Genre          string          `json:"genre" gorm:"size:100;index"`
	Tags           pq.StringArray  `json:"tags" gorm:"type:text[]"`
	Price          decimal.Decimal `json:"price" gorm:"type:decimal(20,8);not null;default:0"`
	LimitedEdition bool            `json:"limited_edition" gorm:"default:false"`
	TotalSupply    *int            `json:"total_supply,omitempty"`
	Audio          MediaRef        `json:"audio" gorm:"embedded;embeddedPrefix:audio_"`
	Cover          MediaRef        `json:"cover" gorm:"embedded;embeddedPrefix:cover_"`

	Status        AssetStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	LedgerAddress *string     `json:"ledger_address,omitempty" gorm:"size:128"`
	LedgerTxID    string      `json:"ledger_tx_id,omitempty" gorm:"size:128"`
	OwnerGenesis  string      `json:"owner_genesis,omitempty" gorm:"size:128"`
	FeeSponsored  bool        `json:"fee_sponsored" gorm:"default:false"`
	LastError     string      `json:"last_error,omitempty" gorm:"type:text"`
	RetryCount    int         `json:"retry_count" gorm:"default:0"`
	ConfirmedAt   *time.Time  `json:"confirmed_at,omitempty"`
}

// assetTransitions lists every legal status edge. Self edges are not listed;
// callers treat them as no-ops.
var assetTransitions = map[AssetStatus][]AssetStatus{
	AssetStatusPending:         {AssetStatusRegistering},
	AssetStatusRegistering:     {AssetStatusConfirming, AssetStatusFailed},
	AssetStatusConfirming:      {AssetStatusConfirmed, AssetStatusFailed, AssetStatusTransferPending},
	AssetStatusConfirmed:       {AssetStatusTransferPending, AssetStatusTransferred},
	AssetStatusTransferPending: {AssetStatusConfirmed},
	AssetStatusFailed:          {AssetStatusRegistering},
}

// CanTransition reports whether an asset may move from one status to another.
func CanTransition(from, to AssetStatus) bool {
	for _, next := range assetTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the asset to the given status or returns an error if the
// edge is not part of the lifecycle.
func (a *Asset) TransitionTo(to AssetStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("illegal asset status transition %s -> %s", a.Status, to)
	}
	a.Status = to
	return nil
}

// Transferable reports whether the asset is in a status that accepts a new
// transfer.
func (a *Asset) Transferable() bool {
	return a.Status == AssetStatusConfirmed || a.Status == AssetStatusConfirming
}

func (a *Asset) HasLedgerAddress() bool {
	return a.LedgerAddress != nil && *a.LedgerAddress != ""
}
