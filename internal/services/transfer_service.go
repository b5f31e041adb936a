// internal/services/transfer_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/metrics"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
)

// transferableStatuses gate BeginTransfer. Only one request can win the
// conditional update, so an asset never has two pending transfers.
var transferableStatuses = []models.AssetStatus{
	models.AssetStatusConfirmed,
	models.AssetStatusConfirming,
}

type TransferService struct {
	store       repository.Store
	api         *ledger.API
	users       *UserService
	sponsor     *SponsorService
	transferFee decimal.Decimal
}

type TransferAssetRequest struct {
	AssetID   uuid.UUID `json:"asset_id" validate:"required"`
	Recipient string    `json:"recipient" validate:"required,max=255"`
}

// TransferConfirmation reports whether the ledger shows the asset under its
// new owner. NewOwner is the observed owner genesis.
type TransferConfirmation struct {
	Confirmed bool             `json:"confirmed"`
	NewOwner  string           `json:"new_owner,omitempty"`
	Transfer  *models.Transfer `json:"transfer"`
}

func NewTransferService(store repository.Store, api *ledger.API, users *UserService, sponsor *SponsorService, transferFee decimal.Decimal) *TransferService {
	return &TransferService{
		store:       store,
		api:         api,
		users:       users,
		sponsor:     sponsor,
		transferFee: transferFee,
	}
}

// TransferAsset moves an asset owned by userID to the recipient, identified
// by username or email. A ledger failure rolls the asset back to confirmed
// and leaves a failed transfer for audit; the failed transfer is returned
// together with the error.
func (s *TransferService) TransferAsset(ctx context.Context, userID uuid.UUID, req *TransferAssetRequest) (*models.Transfer, error) {
	if req == nil || req.AssetID == uuid.Nil {
		return nil, newError(ErrValidation, "asset_id is required")
	}

	asset, err := s.store.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, fromStore(err, "asset")
	}
	if asset.OwnerID != userID {
		return nil, newError(ErrOwnership, "asset is not owned by the caller")
	}
	if !asset.Transferable() {
		return nil, newError(ErrStateConflict, "asset is %s and cannot be transferred", asset.Status)
	}
	if !asset.HasLedgerAddress() {
		return nil, newError(ErrStateConflict, "asset has no ledger address")
	}

	recipient, err := s.users.ResolveRecipient(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	if recipient.ID == userID {
		return nil, newError(ErrValidation, "cannot transfer an asset to yourself")
	}

	sender, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	transfer := &models.Transfer{
		AssetID:     asset.ID,
		FromUserID:  userID,
		FromGenesis: sender.LedgerGenesis,
		ToUserID:    recipient.ID,
		ToUsername:  req.Recipient,
		Status:      models.TransferStatusPending,
	}
	asset, err = s.store.BeginTransfer(ctx, transfer, transferableStatuses)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, newError(ErrStateConflict, "asset is no longer transferable")
		}
		return nil, fromStore(err, "asset")
	}
	metrics.RecordAssetTransition(string(asset.Status))

	// The asset is now locked in transfer_pending; finish regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	log := logrus.WithFields(logrus.Fields{
		"asset_id":    asset.ID,
		"transfer_id": transfer.ID,
		"from":        userID,
		"to":          recipient.ID,
	})

	reservation := reserveFee(ctx, s.sponsor, s.transferFee, log)

	session, err := s.users.openSession(ctx, sender)
	if err != nil {
		return s.rollback(ctx, transfer, asset, reservation, err)
	}

	record, err := s.api.GetAsset(ctx, ledger.GetAssetRequest{Address: *asset.LedgerAddress})
	if err != nil {
		return s.rollback(ctx, transfer, asset, reservation, err)
	}
	if record.Owner != session.genesis {
		return s.rollback(ctx, transfer, asset, reservation,
			newError(ErrStateConflict, "ledger shows the asset under a different owner"))
	}

	result, err := s.api.TransferAsset(ctx, ledger.TransferAssetRequest{
		Session:   session.id,
		PIN:       session.pin,
		Address:   *asset.LedgerAddress,
		Recipient: recipient.Username,
	})
	if err != nil {
		return s.rollback(ctx, transfer, asset, reservation, err)
	}

	transfer.LedgerTxID = result.TxID
	transfer.Status = models.TransferStatusConfirmed
	transfer.FeeSponsored = reservation != nil
	asset.OwnerID = recipient.ID
	if err := asset.TransitionTo(models.AssetStatusConfirmed); err != nil {
		return nil, newError(ErrStateConflict, "%v", err)
	}
	if err := s.store.FinishTransfer(ctx, transfer, asset, lockedBy(transfer)); err != nil {
		log.WithField("tx_id", result.TxID).WithError(err).Error("Ledger transfer succeeded but was not saved")
		s.sponsor.Release(reservation)
		return nil, fromStore(err, "transfer")
	}
	metrics.RecordAssetTransition(string(asset.Status))

	if reservation != nil {
		assetID := asset.ID
		if err := s.sponsor.Commit(ctx, reservation, SponsorRecord{
			UserID:     userID,
			Action:     models.SponsoredActionTransfer,
			AssetID:    &assetID,
			LedgerTxID: result.TxID,
		}); err != nil {
			log.WithFields(logrus.Fields{
				"tx_id":  result.TxID,
				"amount": reservation.Amount.String(),
			}).WithError(err).Error("Sponsored transfer fee not recorded")
		}
	}

	log.WithFields(logrus.Fields{
		"tx_id":     result.TxID,
		"sponsored": transfer.FeeSponsored,
	}).Info("Asset transferred")

	return transfer, nil
}

// ConfirmTransfer checks the ledger for the new owner of a completed
// transfer. It is idempotent once the transfer has been confirmed.
func (s *TransferService) ConfirmTransfer(ctx context.Context, userID, transferID uuid.UUID) (*TransferConfirmation, error) {
	transfer, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fromStore(err, "transfer")
	}
	if transfer.FromUserID != userID && transfer.ToUserID != userID {
		return nil, newError(ErrOwnership, "transfer does not involve the caller")
	}

	switch transfer.Status {
	case models.TransferStatusFailed:
		return nil, newError(ErrStateConflict, "transfer failed: %s", transfer.ErrorMessage)
	case models.TransferStatusPending:
		return &TransferConfirmation{Confirmed: false, Transfer: transfer}, nil
	}
	if transfer.ConfirmedAt != nil {
		return &TransferConfirmation{Confirmed: true, NewOwner: transfer.ToGenesis, Transfer: transfer}, nil
	}

	asset, err := s.store.GetAsset(ctx, transfer.AssetID)
	if err != nil {
		return nil, fromStore(err, "asset")
	}
	if !asset.HasLedgerAddress() {
		return nil, newError(ErrStateConflict, "asset has no ledger address")
	}

	record, err := s.api.GetAsset(ctx, ledger.GetAssetRequest{Address: *asset.LedgerAddress})
	if err != nil {
		return nil, remoteError(err, "failed to query ledger asset")
	}
	if record.Owner == transfer.FromGenesis {
		return &TransferConfirmation{Confirmed: false, Transfer: transfer}, nil
	}

	now := time.Now()
	transfer.ConfirmedAt = &now
	transfer.ToGenesis = record.Owner

	// Only an asset still resting with the recipient becomes transferred.
	var settled *models.Asset
	if asset.Status == models.AssetStatusConfirmed && asset.OwnerID == transfer.ToUserID {
		asset.OwnerGenesis = record.Owner
		if err := asset.TransitionTo(models.AssetStatusTransferred); err != nil {
			return nil, newError(ErrStateConflict, "%v", err)
		}
		settled = asset
	}
	guard := repository.AssetGuard{From: []models.AssetStatus{models.AssetStatusConfirmed}, OwnerID: transfer.ToUserID}
	if err := s.store.FinishTransfer(ctx, transfer, settled, guard); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.confirmedElsewhere(ctx, transferID)
		}
		return nil, err
	}
	if settled != nil {
		metrics.RecordAssetTransition(string(settled.Status))
	}

	logrus.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"asset_id":    asset.ID,
		"new_owner":   record.Owner,
	}).Info("Transfer confirmed on ledger")

	return &TransferConfirmation{Confirmed: true, NewOwner: record.Owner, Transfer: transfer}, nil
}

// confirmedElsewhere resolves a lost confirmation write. A concurrent call
// that already recorded the confirmation counts as success.
func (s *TransferService) confirmedElsewhere(ctx context.Context, transferID uuid.UUID) (*TransferConfirmation, error) {
	current, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fromStore(err, "transfer")
	}
	if current.ConfirmedAt != nil {
		return &TransferConfirmation{Confirmed: true, NewOwner: current.ToGenesis, Transfer: current}, nil
	}
	return nil, newError(ErrStateConflict, "asset changed while confirming the transfer, try again")
}

// RecoverPendingTransfers settles transfers left pending by an interrupted
// process. An asset the ledger already shows under the recipient completes
// its transfer; any other pending transfer is rolled back. Transfers whose
// ledger state cannot be read are left for the next run.
func (s *TransferService) RecoverPendingTransfers(ctx context.Context) (int, error) {
	pending, err := s.store.ListTransfersByStatus(ctx, models.TransferStatusPending)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range pending {
		transfer := &pending[i]
		if err := s.settlePending(ctx, transfer); err != nil {
			logrus.WithFields(logrus.Fields{
				"transfer_id": transfer.ID,
				"asset_id":    transfer.AssetID,
			}).WithError(err).Warn("Pending transfer not settled")
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *TransferService) settlePending(ctx context.Context, transfer *models.Transfer) error {
	asset, err := s.store.GetAsset(ctx, transfer.AssetID)
	if err != nil {
		return err
	}
	if !asset.HasLedgerAddress() {
		return s.recoverByRollback(ctx, transfer, asset)
	}

	record, err := s.api.GetAsset(ctx, ledger.GetAssetRequest{Address: *asset.LedgerAddress})
	if err != nil {
		if isNotFound(err) {
			return s.recoverByRollback(ctx, transfer, asset)
		}
		return err
	}
	recipient, err := s.users.GetUser(ctx, transfer.ToUserID)
	if err != nil {
		return err
	}
	if recipient.LedgerGenesis == "" || record.Owner != recipient.LedgerGenesis {
		return s.recoverByRollback(ctx, transfer, asset)
	}

	transfer.Status = models.TransferStatusConfirmed
	asset.OwnerID = transfer.ToUserID
	if err := asset.TransitionTo(models.AssetStatusConfirmed); err != nil {
		return err
	}
	if err := s.store.FinishTransfer(ctx, transfer, asset, lockedBy(transfer)); err != nil {
		return err
	}
	metrics.RecordAssetTransition(string(asset.Status))

	logrus.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"asset_id":    asset.ID,
	}).Info("Interrupted transfer completed from ledger state")
	return nil
}

func (s *TransferService) recoverByRollback(ctx context.Context, transfer *models.Transfer, asset *models.Asset) error {
	// rollback returns the failed transfer alongside its cause; a nil
	// transfer means the rollback itself was not saved.
	failed, err := s.rollback(ctx, transfer, asset, nil, errors.New("transfer interrupted before completion"))
	if failed == nil {
		return err
	}
	return nil
}

// GetAssetTransfers returns the transfer history of an asset to its owner or
// creator.
func (s *TransferService) GetAssetTransfers(ctx context.Context, userID, assetID uuid.UUID) ([]models.Transfer, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fromStore(err, "asset")
	}
	if asset.OwnerID != userID && asset.CreatorID != userID {
		return nil, newError(ErrOwnership, "asset is not owned by the caller")
	}
	return s.store.ListTransfersByAsset(ctx, assetID)
}

// rollback restores the asset to confirmed and fails the transfer.
func (s *TransferService) rollback(ctx context.Context, transfer *models.Transfer, asset *models.Asset, reservation *Reservation, cause error) (*models.Transfer, error) {
	s.sponsor.Release(reservation)

	err := remoteError(cause, "ledger transfer failed")
	transfer.Status = models.TransferStatusFailed
	transfer.ErrorMessage = err.Error()
	if transitionErr := asset.TransitionTo(models.AssetStatusConfirmed); transitionErr != nil {
		return nil, newError(ErrStateConflict, "%v", transitionErr)
	}
	if saveErr := s.store.FinishTransfer(ctx, transfer, asset, lockedBy(transfer)); saveErr != nil {
		logrus.WithFields(logrus.Fields{
			"transfer_id": transfer.ID,
			"asset_id":    asset.ID,
		}).WithError(saveErr).Error("Failed to roll back transfer")
		return nil, saveErr
	}
	metrics.RecordAssetTransition(string(asset.Status))

	logrus.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"asset_id":    asset.ID,
	}).WithError(cause).Warn("Transfer rolled back")

	return transfer, err
}

// lockedBy is the guard for writes that settle a transfer started by
// BeginTransfer: the asset is still in transfer_pending under the sender.
func lockedBy(transfer *models.Transfer) repository.AssetGuard {
	return repository.AssetGuard{
		From:    []models.AssetStatus{models.AssetStatusTransferPending},
		OwnerID: transfer.FromUserID,
	}
}
