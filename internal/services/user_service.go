// internal/services/user_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

const (
	ledgerPasswordLength = 32
	ledgerPINLength      = 8
)

// UserService owns users' ledger identities: the sigchain created for each
// user and the sealed credentials used to open sessions on their behalf.
type UserService struct {
	store  repository.Store
	api    *ledger.API
	sealer *utils.Sealer
}

// userSession is an unlocked ledger session acting as a user.
type userSession struct {
	id      string
	pin     string
	genesis string
}

func NewUserService(store repository.Store, api *ledger.API, sealer *utils.Sealer) *UserService {
	return &UserService{
		store:  store,
		api:    api,
		sealer: sealer,
	}
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	return user, nil
}

// ProvisionLedgerIdentity creates the user's ledger profile with generated
// credentials. It is a no-op for users that already have one.
func (s *UserService) ProvisionLedgerIdentity(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasLedgerIdentity() {
		return user, nil
	}
	if user.Status != models.UserStatusActive {
		return nil, newError(ErrStateConflict, "user %s is %s", user.Username, user.Status)
	}

	password, err := utils.GenerateRandomString(ledgerPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ledger password: %w", err)
	}
	pin, err := utils.GeneratePIN(ledgerPINLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ledger pin: %w", err)
	}

	profile, err := s.api.CreateProfile(ctx, ledger.Credentials{
		Username: user.Username,
		Password: password,
		PIN:      pin,
	})
	if err != nil {
		return nil, remoteError(err, "failed to create ledger identity")
	}

	sealedPassword, err := s.sealer.Seal(password)
	if err != nil {
		return nil, fmt.Errorf("failed to seal ledger password: %w", err)
	}
	sealedPIN, err := s.sealer.Seal(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to seal ledger pin: %w", err)
	}

	user.LedgerGenesis = profile.Genesis
	user.LedgerPasswordSealed = sealedPassword
	user.LedgerPINSealed = sealedPIN
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save ledger identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"genesis": profile.Genesis,
		"tx_id":   profile.TxID,
	}).Info("Ledger identity created")

	return user, nil
}

// ResolveRecipient finds a user by username, then by email.
func (s *UserService) ResolveRecipient(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, newError(ErrValidation, "recipient is required")
	}

	user, err := s.store.FindUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user, err = s.store.FindUserByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "recipient %q not found", identifier)
		}
		return nil, err
	}
	return user, nil
}

// openSession logs in to the ledger as the user and unlocks the session for
// transactions.
func (s *UserService) openSession(ctx context.Context, user *models.User) (*userSession, error) {
	if !user.HasLedgerIdentity() {
		return nil, newError(ErrStateConflict, "user %s has no ledger identity", user.Username)
	}

	password, err := s.sealer.Open(user.LedgerPasswordSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger password: %w", err)
	}
	pin, err := s.sealer.Open(user.LedgerPINSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger pin: %w", err)
	}

	session, err := s.api.CreateSession(ctx, ledger.Credentials{Username: user.Username, Password: password, PIN: pin})
	if err != nil {
		return nil, err
	}
	if err := s.api.UnlockSession(ctx, session.Session, pin); err != nil {
		return nil, err
	}

	return &userSession{id: session.Session, pin: pin, genesis: session.Genesis}, nil
}
