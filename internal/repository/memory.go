package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/tunevault-backend/internal/models"
)

// MemoryStore keeps records in process memory. Values are copied in and out
// so callers never share state with the store.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]models.User
	assets    map[uuid.UUID]models.Asset
	transfers map[uuid.UUID]models.Transfer
	fees      []models.SponsoredFee
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]models.User),
		assets:    make(map[uuid.UUID]models.Asset),
		transfers: make(map[uuid.UUID]models.Transfer),
	}
}

func stamp(base *models.BaseModel) {
	now := time.Now()
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("failed to create user: duplicate username or email")
		}
	}
	stamp(&user.BaseModel)
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return &user, nil
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", ErrNotFound)
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", ErrNotFound)
}

func (s *MemoryStore) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&asset.BaseModel)
	s.assets[asset.ID] = *asset
	return nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset: %w", ErrNotFound)
	}
	return &asset, nil
}

func (s *MemoryStore) TransitionAsset(ctx context.Context, asset *models.Asset, guard AssetGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAsset(asset.ID, guard); err != nil {
		return err
	}
	return s.saveAsset(asset)
}

func (s *MemoryStore) checkAsset(id uuid.UUID, guard AssetGuard) error {
	current, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset: %w", ErrNotFound)
	}
	if !guard.Allows(&current) {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) saveAsset(asset *models.Asset) error {
	if _, ok := s.assets[asset.ID]; !ok {
		return fmt.Errorf("asset: %w", ErrNotFound)
	}
	if asset.HasLedgerAddress() && asset.Status != models.AssetStatusFailed {
		for id, other := range s.assets {
			if id != asset.ID && other.HasLedgerAddress() && *other.LedgerAddress == *asset.LedgerAddress &&
				other.Status != models.AssetStatusFailed {
				return fmt.Errorf("failed to update asset: ledger address already assigned")
			}
		}
	}
	asset.UpdatedAt = time.Now()
	s.assets[asset.ID] = *asset
	return nil
}

func (s *MemoryStore) ListAssetsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var assets []models.Asset
	for _, asset := range s.assets {
		if asset.OwnerID == ownerID {
			assets = append(assets, asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].CreatedAt.After(assets[j].CreatedAt) })
	return assets, nil
}

func (s *MemoryStore) ListAssetsByStatus(ctx context.Context, status models.AssetStatus) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var assets []models.Asset
	for _, asset := range s.assets {
		if asset.Status == status {
			assets = append(assets, asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].CreatedAt.Before(assets[j].CreatedAt) })
	return assets, nil
}

func (s *MemoryStore) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer: %w", ErrNotFound)
	}
	return &transfer, nil
}

func (s *MemoryStore) ListTransfersByAsset(ctx context.Context, assetID uuid.UUID) ([]models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var transfers []models.Transfer
	for _, transfer := range s.transfers {
		if transfer.AssetID == assetID {
			transfers = append(transfers, transfer)
		}
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].CreatedAt.After(transfers[j].CreatedAt) })
	return transfers, nil
}

func (s *MemoryStore) ListTransfersByStatus(ctx context.Context, status models.TransferStatus) ([]models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var transfers []models.Transfer
	for _, transfer := range s.transfers {
		if transfer.Status == status {
			transfers = append(transfers, transfer)
		}
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].CreatedAt.Before(transfers[j].CreatedAt) })
	return transfers, nil
}

func (s *MemoryStore) BeginTransfer(ctx context.Context, transfer *models.Transfer, from []models.AssetStatus) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAsset(transfer.AssetID, AssetGuard{From: from, OwnerID: transfer.FromUserID}); err != nil {
		return nil, err
	}

	asset := s.assets[transfer.AssetID]
	asset.Status = models.AssetStatusTransferPending
	asset.UpdatedAt = time.Now()
	s.assets[asset.ID] = asset

	stamp(&transfer.BaseModel)
	s.transfers[transfer.ID] = *transfer
	return &asset, nil
}

func (s *MemoryStore) FinishTransfer(ctx context.Context, transfer *models.Transfer, asset *models.Asset, guard AssetGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transfers[transfer.ID]
	if !ok {
		return fmt.Errorf("transfer: %w", ErrNotFound)
	}
	if !current.AcceptsUpdate(transfer) {
		return ErrConflict
	}
	if asset != nil {
		if err := s.checkAsset(asset.ID, guard); err != nil {
			return err
		}
		if err := s.saveAsset(asset); err != nil {
			return err
		}
	}
	transfer.UpdatedAt = time.Now()
	s.transfers[transfer.ID] = *transfer
	return nil
}

func (s *MemoryStore) CreateSponsoredFee(ctx context.Context, fee *models.SponsoredFee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fee.ID == uuid.Nil {
		fee.ID = uuid.New()
	}
	if fee.CreatedAt.IsZero() {
		fee.CreatedAt = time.Now()
	}
	s.fees = append(s.fees, *fee)
	return nil
}

func (s *MemoryStore) SumSponsoredFees(ctx context.Context, spendDate string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, fee := range s.fees {
		if fee.SpendDate == spendDate {
			total = total.Add(fee.Amount)
		}
	}
	return total, nil
}

func (s *MemoryStore) ListSponsoredFees(ctx context.Context, spendDate string) ([]models.SponsoredFee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fees []models.SponsoredFee
	for _, fee := range s.fees {
		if fee.SpendDate == spendDate {
			fees = append(fees, fee)
		}
	}
	return fees, nil
}
