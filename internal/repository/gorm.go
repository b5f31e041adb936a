package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/tunevault-backend/internal/database"
	"github.com/javajoker/tunevault-backend/internal/models"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("database error: %w", err)
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *GormStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *GormStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if err := s.db.WithContext(ctx).Create(asset).Error; err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

func (s *GormStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "asset")
	}
	return &asset, nil
}

func (s *GormStore) TransitionAsset(ctx context.Context, asset *models.Asset, guard AssetGuard) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if _, err := lockAsset(tx, asset.ID, guard); err != nil {
			return err
		}
		if err := tx.Save(asset).Error; err != nil {
			return fmt.Errorf("failed to update asset: %w", err)
		}
		return nil
	})
}

// lockAsset reads the asset row FOR UPDATE and checks it against guard.
func lockAsset(tx *gorm.DB, id uuid.UUID, guard AssetGuard) (*models.Asset, error) {
	var current models.Asset
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "asset")
	}
	if !guard.Allows(&current) {
		return nil, ErrConflict
	}
	return &current, nil
}

func (s *GormStore) ListAssetsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Asset, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch assets: %w", err)
	}
	return assets, nil
}

func (s *GormStore) ListAssetsByStatus(ctx context.Context, status models.AssetStatus) ([]models.Asset, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at ASC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch assets: %w", err)
	}
	return assets, nil
}

func (s *GormStore) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := s.db.WithContext(ctx).First(&transfer, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "transfer")
	}
	return &transfer, nil
}

func (s *GormStore) ListTransfersByAsset(ctx context.Context, assetID uuid.UUID) ([]models.Transfer, error) {
	var transfers []models.Transfer
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).
		Order("created_at DESC").Find(&transfers).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transfers: %w", err)
	}
	return transfers, nil
}

func (s *GormStore) ListTransfersByStatus(ctx context.Context, status models.TransferStatus) ([]models.Transfer, error) {
	var transfers []models.Transfer
	if err := s.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at ASC").Find(&transfers).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transfers: %w", err)
	}
	return transfers, nil
}

func (s *GormStore) BeginTransfer(ctx context.Context, transfer *models.Transfer, from []models.AssetStatus) (*models.Asset, error) {
	var asset *models.Asset
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		current, err := lockAsset(tx, transfer.AssetID, AssetGuard{From: from, OwnerID: transfer.FromUserID})
		if err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&models.Asset{}).Where("id = ?", current.ID).Updates(map[string]interface{}{
			"status":     models.AssetStatusTransferPending,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to lock asset for transfer: %w", err)
		}
		current.Status = models.AssetStatusTransferPending
		current.UpdatedAt = now
		if err := tx.Omit("Asset").Create(transfer).Error; err != nil {
			return fmt.Errorf("failed to create transfer: %w", err)
		}
		asset = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *GormStore) FinishTransfer(ctx context.Context, transfer *models.Transfer, asset *models.Asset, guard AssetGuard) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var current models.Transfer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", transfer.ID).Error; err != nil {
			return notFound(err, "transfer")
		}
		if !current.AcceptsUpdate(transfer) {
			return ErrConflict
		}
		if asset != nil {
			if _, err := lockAsset(tx, asset.ID, guard); err != nil {
				return err
			}
		}
		if err := tx.Omit("Asset").Save(transfer).Error; err != nil {
			return fmt.Errorf("failed to save transfer: %w", err)
		}
		if asset != nil {
			if err := tx.Save(asset).Error; err != nil {
				return fmt.Errorf("failed to save asset: %w", err)
			}
		}
		return nil
	})
}

func (s *GormStore) CreateSponsoredFee(ctx context.Context, fee *models.SponsoredFee) error {
	if err := s.db.WithContext(ctx).Create(fee).Error; err != nil {
		return fmt.Errorf("failed to record sponsored fee: %w", err)
	}
	return nil
}

func (s *GormStore) SumSponsoredFees(ctx context.Context, spendDate string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := s.db.WithContext(ctx).Model(&models.SponsoredFee{}).
		Where("spend_date = ?", spendDate).
		Select("SUM(amount)").Scan(&total).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum sponsored fees: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (s *GormStore) ListSponsoredFees(ctx context.Context, spendDate string) ([]models.SponsoredFee, error) {
	var fees []models.SponsoredFee
	if err := s.db.WithContext(ctx).Where("spend_date = ?", spendDate).
		Order("created_at ASC").Find(&fees).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch sponsored fees: %w", err)
	}
	return fees, nil
}
