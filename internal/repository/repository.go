// Package repository persists assets, transfers, users and sponsorship audit
// rows. Store has a gorm implementation for production and an in-memory one
// for tests and local runs against the fake ledger.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/tunevault-backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("record state conflict")
)

// AssetGuard is the precondition of a conditional asset write: the stored
// row must still be in one of From and owned by OwnerID.
type AssetGuard struct {
	From    []models.AssetStatus
	OwnerID uuid.UUID
}

// Allows reports whether the stored asset satisfies the guard.
func (g AssetGuard) Allows(current *models.Asset) bool {
	if current.OwnerID != g.OwnerID {
		return false
	}
	for _, status := range g.From {
		if current.Status == status {
			return true
		}
	}
	return false
}

type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	// TransitionAsset saves asset if the stored row satisfies guard, and
	// returns ErrConflict without writing otherwise.
	TransitionAsset(ctx context.Context, asset *models.Asset, guard AssetGuard) error
	ListAssetsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Asset, error)
	ListAssetsByStatus(ctx context.Context, status models.AssetStatus) ([]models.Asset, error)

	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	ListTransfersByAsset(ctx context.Context, assetID uuid.UUID) ([]models.Transfer, error)
	ListTransfersByStatus(ctx context.Context, status models.TransferStatus) ([]models.Transfer, error)

	// BeginTransfer inserts a pending transfer and moves its asset to
	// transfer_pending in one step, provided the asset is still owned by the
	// sender and in one of from. It returns the asset as written. Otherwise
	// it returns ErrConflict and writes nothing.
	BeginTransfer(ctx context.Context, transfer *models.Transfer, from []models.AssetStatus) (*models.Asset, error)
	// FinishTransfer saves transfer and, when asset is not nil, the asset
	// under guard, in one step. It returns ErrConflict if the stored transfer
	// does not accept the update or the asset fails the guard.
	FinishTransfer(ctx context.Context, transfer *models.Transfer, asset *models.Asset, guard AssetGuard) error

	CreateSponsoredFee(ctx context.Context, fee *models.SponsoredFee) error
	SumSponsoredFees(ctx context.Context, spendDate string) (decimal.Decimal, error)
	ListSponsoredFees(ctx context.Context, spendDate string) ([]models.SponsoredFee, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
