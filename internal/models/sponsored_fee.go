// internal/models/sponsored_fee.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SponsoredFee is an append-only audit row for a fee paid by the platform
// wallet on a user's behalf.
type SponsoredFee struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID     uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	Action     SponsoredAction `json:"action" gorm:"type:varchar(20);not null"`
	AssetID    *uuid.UUID      `json:"asset_id,omitempty" gorm:"type:uuid;index"`
	LedgerTxID string          `json:"ledger_tx_id" gorm:"size:128"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	SpendDate  string          `json:"spend_date" gorm:"size:10;not null;index"`
	CreatedAt  time.Time       `json:"created_at"`
}
