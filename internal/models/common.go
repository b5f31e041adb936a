// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Base model with common fields. Rows are never deleted, so there is no
// soft-delete column.
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enums
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type UserType string

const (
	UserTypeArtist UserType = "artist"
	UserTypeAdmin  UserType = "admin"
)

type AssetStatus string

const (
	AssetStatusPending         AssetStatus = "pending"
	AssetStatusRegistering     AssetStatus = "registering"
	AssetStatusConfirming      AssetStatus = "confirming"
	AssetStatusConfirmed       AssetStatus = "confirmed"
	AssetStatusTransferPending AssetStatus = "transfer_pending"
	AssetStatusTransferred     AssetStatus = "transferred"
	AssetStatusFailed          AssetStatus = "failed"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)

type SponsoredAction string

const (
	SponsoredActionMint     SponsoredAction = "mint"
	SponsoredActionTransfer SponsoredAction = "transfer"
)
