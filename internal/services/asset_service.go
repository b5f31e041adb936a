// internal/services/asset_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/metrics"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

// RetryPolicy bounds the registration loop: Attempts calls in total with a
// fixed Delay between them.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 5 * time.Second}
}

type AssetService struct {
	store   repository.Store
	api     *ledger.API
	users   *UserService
	sponsor *SponsorService
	policy  RetryPolicy
	mintFee decimal.Decimal
}

type MintAssetRequest struct {
	Title          string          `json:"title" validate:"required,max=255"`
	Artist         string          `json:"artist" validate:"max=255"`
	Description    string          `json:"description" validate:"max=5000"`
	Genre          string          `json:"genre" validate:"max=100"`
	Tags           []string        `json:"tags" validate:"max=20,dive,max=50,tag"`
	Price          decimal.Decimal `json:"price" validate:"gte=0"`
	LimitedEdition bool            `json:"limited_edition"`
	TotalSupply    *int            `json:"total_supply,omitempty" validate:"omitempty,min=1"`
	Audio          models.MediaRef `json:"audio"`
	Cover          models.MediaRef `json:"cover"`
}

// ConfirmationResult is the outcome of a confirmation poll. Confirmed is
// false while the ledger does not know the asset yet.
type ConfirmationResult struct {
	Confirmed bool          `json:"confirmed"`
	Asset     *models.Asset `json:"asset"`
}

func NewAssetService(store repository.Store, api *ledger.API, users *UserService, sponsor *SponsorService, policy RetryPolicy, mintFee decimal.Decimal) *AssetService {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &AssetService{
		store:   store,
		api:     api,
		users:   users,
		sponsor: sponsor,
		policy:  policy,
		mintFee: mintFee,
	}
}

// MintAsset records a new asset for userID and registers it on the ledger.
// The returned asset is in confirming on success. On a registration failure
// the asset is kept in failed and returned together with the error.
func (s *AssetService) MintAsset(ctx context.Context, userID uuid.UUID, req *MintAssetRequest) (*models.Asset, error) {
	if err := validateMint(req); err != nil {
		return nil, err
	}

	user, err := s.users.ProvisionLedgerIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}

	supply := req.TotalSupply
	if !req.LimitedEdition {
		supply = nil
	}

	asset := &models.Asset{
		CreatorID:      user.ID,
		OwnerID:        user.ID,
		LedgerName:     ledgerName(req.Title, time.Now()),
		Title:          strings.TrimSpace(req.Title),
		Artist:         strings.TrimSpace(req.Artist),
		Description:    req.Description,
		Genre:          req.Genre,
		Tags:           pq.StringArray(req.Tags),
		Price:          req.Price,
		LimitedEdition: req.LimitedEdition,
		TotalSupply:    supply,
		Audio:          req.Audio,
		Cover:          req.Cover,
		Status:         models.AssetStatusRegistering,
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	metrics.RecordAssetTransition(string(asset.Status))

	logrus.WithFields(logrus.Fields{
		"asset_id":    asset.ID,
		"user_id":     user.ID,
		"ledger_name": asset.LedgerName,
	}).Info("Asset created, registering on ledger")

	// Once persisted, registration runs to completion regardless of the caller.
	return s.register(context.WithoutCancel(ctx), user, asset)
}

// ConfirmAssetRegistration polls the ledger for an asset in confirming. It is
// idempotent for assets that are already confirmed.
func (s *AssetService) ConfirmAssetRegistration(ctx context.Context, userID, assetID uuid.UUID) (*ConfirmationResult, error) {
	asset, err := s.ownedAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}

	switch asset.Status {
	case models.AssetStatusConfirmed:
		return &ConfirmationResult{Confirmed: true, Asset: asset}, nil
	case models.AssetStatusConfirming:
	default:
		return nil, newError(ErrStateConflict, "asset is %s, only confirming assets can be confirmed", asset.Status)
	}
	if !asset.HasLedgerAddress() {
		return nil, newError(ErrStateConflict, "asset has no ledger address")
	}

	record, err := s.api.GetAsset(ctx, ledger.GetAssetRequest{Address: *asset.LedgerAddress})
	if err != nil {
		if isNotFound(err) {
			return &ConfirmationResult{Confirmed: false, Asset: asset}, nil
		}
		return nil, remoteError(err, "failed to query ledger asset")
	}

	now := time.Now()
	asset.OwnerGenesis = record.Owner
	asset.ConfirmedAt = &now
	if err := asset.TransitionTo(models.AssetStatusConfirmed); err != nil {
		return nil, newError(ErrStateConflict, "%v", err)
	}
	guard := repository.AssetGuard{From: []models.AssetStatus{models.AssetStatusConfirming}, OwnerID: userID}
	if err := s.store.TransitionAsset(ctx, asset, guard); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.confirmedElsewhere(ctx, userID, assetID)
		}
		return nil, err
	}
	metrics.RecordAssetTransition(string(asset.Status))

	logrus.WithFields(logrus.Fields{
		"asset_id": asset.ID,
		"address":  record.Address,
		"owner":    record.Owner,
	}).Info("Asset registration confirmed")

	return &ConfirmationResult{Confirmed: true, Asset: asset}, nil
}

// RetryAssetRegistration re-runs registration for a failed asset under a
// fresh ledger name.
func (s *AssetService) RetryAssetRegistration(ctx context.Context, userID, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := s.ownedAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != models.AssetStatusFailed {
		return nil, newError(ErrStateConflict, "asset is %s, only failed assets can be retried", asset.Status)
	}
	if asset.RetryCount >= models.MaxRegistrationRetries {
		return nil, newError(ErrStateConflict, "asset reached the limit of %d registration attempts", models.MaxRegistrationRetries)
	}

	user, err := s.users.ProvisionLedgerIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := asset.TransitionTo(models.AssetStatusRegistering); err != nil {
		return nil, newError(ErrStateConflict, "%v", err)
	}
	asset.LedgerName = ledgerName(asset.Title, time.Now())
	asset.LastError = ""
	guard := repository.AssetGuard{From: []models.AssetStatus{models.AssetStatusFailed}, OwnerID: userID}
	if err := s.store.TransitionAsset(ctx, asset, guard); err != nil {
		return nil, fromStore(err, "asset")
	}
	metrics.RecordAssetTransition(string(asset.Status))

	return s.register(context.WithoutCancel(ctx), user, asset)
}

// RecoverInterruptedRegistrations settles assets a previous run left in
// registering. An asset the ledger knows by its name moves on to confirming;
// the rest are marked failed so their owners can retry. Assets whose ledger
// state cannot be read are left for the next run.
func (s *AssetService) RecoverInterruptedRegistrations(ctx context.Context) (int, error) {
	assets, err := s.store.ListAssetsByStatus(ctx, models.AssetStatusRegistering)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range assets {
		asset := &assets[i]
		if err := s.settleInterrupted(ctx, asset); err != nil {
			logrus.WithFields(logrus.Fields{
				"asset_id":    asset.ID,
				"ledger_name": asset.LedgerName,
			}).WithError(err).Warn("Interrupted registration not settled")
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *AssetService) settleInterrupted(ctx context.Context, asset *models.Asset) error {
	record, err := s.api.GetAsset(ctx, ledger.GetAssetRequest{Name: asset.LedgerName})
	switch {
	case err == nil:
		address := record.Address
		asset.LedgerAddress = &address
		asset.OwnerGenesis = record.Owner
		asset.LastError = ""
		err = asset.TransitionTo(models.AssetStatusConfirming)
	case isNotFound(err):
		asset.LastError = "registration interrupted before the ledger accepted it"
		asset.RetryCount++
		err = asset.TransitionTo(models.AssetStatusFailed)
	}
	if err != nil {
		return err
	}
	if err := s.store.TransitionAsset(ctx, asset, registeringGuard(asset)); err != nil {
		return err
	}
	metrics.RecordAssetTransition(string(asset.Status))
	return nil
}

// GetUserAssets lists every asset the user currently owns, transferred
// ones included.
func (s *AssetService) GetUserAssets(ctx context.Context, userID uuid.UUID) ([]models.Asset, error) {
	return s.store.ListAssetsByOwner(ctx, userID)
}

func (s *AssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fromStore(err, "asset")
	}
	return asset, nil
}

// confirmedElsewhere resolves a lost confirmation write. A concurrent poll
// that already confirmed the asset counts as success; any other change is a
// conflict.
func (s *AssetService) confirmedElsewhere(ctx context.Context, userID, assetID uuid.UUID) (*ConfirmationResult, error) {
	current, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.AssetStatusConfirmed && current.OwnerID == userID {
		return &ConfirmationResult{Confirmed: true, Asset: current}, nil
	}
	return nil, newError(ErrStateConflict, "asset changed to %s while confirming", current.Status)
}

func (s *AssetService) ownedAsset(ctx context.Context, userID, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.OwnerID != userID {
		return nil, newError(ErrOwnership, "asset is not owned by the caller")
	}
	return asset, nil
}

// register submits the asset to the ledger, retrying transient failures per
// the retry policy, and persists the outcome.
func (s *AssetService) register(ctx context.Context, user *models.User, asset *models.Asset) (*models.Asset, error) {
	log := logrus.WithFields(logrus.Fields{
		"asset_id":    asset.ID,
		"ledger_name": asset.LedgerName,
	})

	reservation := reserveFee(ctx, s.sponsor, s.mintFee, log)

	req := ledger.CreateAssetRequest{
		Name:   asset.LedgerName,
		Format: "JSON",
		JSON:   buildAssetFields(asset),
	}

	var (
		session *userSession
		result  *ledger.CreateAssetResult
		attempt int
	)
	operation := func() error {
		attempt++
		if session == nil {
			opened, err := s.users.openSession(ctx, user)
			if err != nil {
				return retryable(err)
			}
			session = opened
		}

		req.Session = session.id
		req.PIN = session.pin
		created, err := s.api.CreateAsset(ctx, req)
		if err != nil {
			return retryable(err)
		}
		result = created
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordRegistrationAttempt("retry")
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Warn("Ledger registration attempt failed, retrying")
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.policy.Delay), uint64(s.policy.Attempts-1))
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		metrics.RecordRegistrationAttempt("failed")
		s.sponsor.Release(reservation)
		return s.failRegistration(ctx, asset, err, attempt)
	}
	metrics.RecordRegistrationAttempt("success")

	address := result.Address
	asset.LedgerAddress = &address
	asset.LedgerTxID = result.TxID
	asset.OwnerGenesis = session.genesis
	asset.FeeSponsored = reservation != nil
	asset.LastError = ""
	if err := asset.TransitionTo(models.AssetStatusConfirming); err != nil {
		return nil, newError(ErrStateConflict, "%v", err)
	}
	if err := s.store.TransitionAsset(ctx, asset, registeringGuard(asset)); err != nil {
		log.WithField("address", address).WithError(err).Error("Ledger asset created but not saved")
		s.sponsor.Release(reservation)
		return nil, fromStore(err, "asset")
	}
	metrics.RecordAssetTransition(string(asset.Status))

	if reservation != nil {
		assetID := asset.ID
		if err := s.sponsor.Commit(ctx, reservation, SponsorRecord{
			UserID:     user.ID,
			Action:     models.SponsoredActionMint,
			AssetID:    &assetID,
			LedgerTxID: result.TxID,
		}); err != nil {
			log.WithFields(logrus.Fields{
				"tx_id":  result.TxID,
				"amount": reservation.Amount.String(),
			}).WithError(err).Error("Sponsored mint fee not recorded")
		}
	}

	log.WithFields(logrus.Fields{
		"address":   address,
		"tx_id":     result.TxID,
		"attempts":  attempt,
		"sponsored": asset.FeeSponsored,
	}).Info("Asset registered on ledger")

	return asset, nil
}

func (s *AssetService) failRegistration(ctx context.Context, asset *models.Asset, cause error, attempts int) (*models.Asset, error) {
	err := remoteError(cause, "ledger registration failed")

	asset.LastError = err.Error()
	asset.RetryCount++
	if transitionErr := asset.TransitionTo(models.AssetStatusFailed); transitionErr != nil {
		return nil, newError(ErrStateConflict, "%v", transitionErr)
	}
	if saveErr := s.store.TransitionAsset(ctx, asset, registeringGuard(asset)); saveErr != nil {
		logrus.WithField("asset_id", asset.ID).WithError(saveErr).Error("Failed to save failed registration")
		return nil, fromStore(saveErr, "asset")
	}
	metrics.RecordAssetTransition(string(asset.Status))

	logrus.WithFields(logrus.Fields{
		"asset_id":    asset.ID,
		"attempts":    attempts,
		"retry_count": asset.RetryCount,
	}).WithError(cause).Warn("Asset registration failed")

	return asset, err
}

// registeringGuard holds while nothing but the registration run has touched
// the asset.
func registeringGuard(asset *models.Asset) repository.AssetGuard {
	return repository.AssetGuard{From: []models.AssetStatus{models.AssetStatusRegistering}, OwnerID: asset.OwnerID}
}

// retryable marks err permanent unless the registration loop may try again.
func retryable(err error) error {
	if isTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// reserveFee asks the sponsor to cover a fee. A denial only means the user
// pays the fee.
func reserveFee(ctx context.Context, sponsor *SponsorService, fee decimal.Decimal, log *logrus.Entry) *Reservation {
	reservation, err := sponsor.Reserve(ctx, fee)
	if err != nil {
		if errors.Is(err, ErrBudgetExceeded) {
			log.WithField("reason", err.Error()).Info("Fee not sponsored")
		} else {
			log.WithError(err).Warn("Fee sponsorship check failed")
		}
		return nil
	}
	return reservation
}

func validateMint(req *MintAssetRequest) error {
	if req == nil {
		return newError(ErrValidation, "request body is required")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return &ServiceError{Kind: ErrValidation, Message: "validation failed", Err: err}
	}
	if strings.TrimSpace(req.Title) == "" {
		return newError(ErrValidation, "title is required")
	}
	if req.LimitedEdition && req.TotalSupply == nil {
		return newError(ErrValidation, "limited editions need a total supply")
	}
	if strings.TrimSpace(req.Audio.URL) == "" && strings.TrimSpace(req.Audio.Path) == "" {
		return newError(ErrValidation, "audio is required")
	}
	return nil
}
