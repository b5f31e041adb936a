// internal/models/transfer.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Transfer struct {
	BaseModel
	AssetID      uuid.UUID      `json:"asset_id" gorm:"type:uuid;not null;index"`
	FromUserID   uuid.UUID      `json:"from_user_id" gorm:"type:uuid;not null;index"`
	FromGenesis  string         `json:"from_genesis" gorm:"size:128"`
	ToUserID     uuid.UUID      `json:"to_user_id" gorm:"type:uuid;not null;index"`
	ToUsername   string         `json:"to_username" gorm:"size:255;not null"`
	ToGenesis    string         `json:"to_genesis,omitempty" gorm:"size:128"`
	LedgerTxID   string         `json:"ledger_tx_id,omitempty" gorm:"size:128"`
	Status       TransferStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	FeeSponsored bool           `json:"fee_sponsored" gorm:"default:false"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`

	Asset *Asset `json:"asset,omitempty" gorm:"foreignKey:AssetID"`
}

func (t *Transfer) IsTerminal() bool {
	return t.Status == TransferStatusConfirmed || t.Status == TransferStatusFailed
}

// AcceptsUpdate reports whether the stored transfer t may be overwritten by
// next. A terminal transfer keeps its status; a confirmed one may only gain
// its ledger confirmation, once.
func (t *Transfer) AcceptsUpdate(next *Transfer) bool {
	if !t.IsTerminal() {
		return true
	}
	return t.Status == TransferStatusConfirmed && next.Status == TransferStatusConfirmed &&
		t.ConfirmedAt == nil && next.ConfirmedAt != nil
}
