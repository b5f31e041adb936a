package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
)

type AssetServiceTestSuite struct {
	engineSuite
}

func TestAssetServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AssetServiceTestSuite))
}

func (s *AssetServiceTestSuite) TestMintAssetRegistersOnLedger() {
	alice := s.createUser("alice")

	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	s.Equal(models.AssetStatusConfirming, asset.Status)
	s.True(asset.HasLedgerAddress())
	s.NotEmpty(asset.LedgerTxID)
	s.Equal(alice.LedgerGenesis, asset.OwnerGenesis)
	s.Equal(alice.ID, asset.CreatorID)
	s.Equal(alice.ID, asset.OwnerID)
	s.True(asset.FeeSponsored)
	s.Zero(asset.RetryCount)

	stored := s.reloadAsset(asset.ID)
	s.Equal(models.AssetStatusConfirming, stored.Status)
	s.Equal(*asset.LedgerAddress, *stored.LedgerAddress)

	fees, err := s.store.ListSponsoredFees(s.ctx, time.Now().UTC().Format(spendDateLayout))
	s.Require().NoError(err)
	s.Require().Len(fees, 1)
	s.Equal(models.SponsoredActionMint, fees[0].Action)
	s.Equal(asset.LedgerTxID, fees[0].LedgerTxID)
	s.True(fees[0].Amount.Equal(decimal.RequireFromString("0.01")))
}

func (s *AssetServiceTestSuite) TestMintAssetSubstitutesEmptyFields() {
	alice := s.createUser("alice")

	req := mintRequest("Test Track")
	req.Description = ""
	req.Genre = "   "
	_, err := s.assets.MintAsset(s.ctx, alice.ID, req)
	s.Require().NoError(err)

	fields := s.submittedFields(0)
	s.Equal("-", fields["description"])
	s.Equal("-", fields["genre"])
	s.Equal("-", fields["cover_url"])
	s.Equal("-", fields["total_supply"])
	s.Equal("Test Track", fields["title"])
	s.Equal("tunevault", fields["app"])
	s.Equal(alice.ID.String(), fields["creator"])
	for name, value := range fields {
		s.NotEmpty(value, name)
	}
}

func (s *AssetServiceTestSuite) TestMintAssetRetriesTimingRace() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset,
		ledger.Failure(ledger.KindRemoteRejected, "duplicate genesis-id"),
		ledger.Failure(ledger.KindRemoteRejected, "duplicate genesis-id"),
	)

	start := time.Now()
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	s.GreaterOrEqual(time.Since(start), 2*s.policy.Delay)
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 3)
	s.Equal(models.AssetStatusConfirming, asset.Status)
	s.True(asset.HasLedgerAddress())
	s.Zero(asset.RetryCount)
}

func (s *AssetServiceTestSuite) TestMintAssetRetriesNetworkFailure() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindNetworkUnreachable, "request timed out"))

	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 2)
	s.Equal(models.AssetStatusConfirming, asset.Status)
}

func (s *AssetServiceTestSuite) TestMintAssetExhaustsRetries() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset,
		ledger.Failure(ledger.KindNetworkUnreachable, "connection refused"),
		ledger.Failure(ledger.KindNetworkUnreachable, "connection refused"),
		ledger.Failure(ledger.KindNetworkUnreachable, "connection refused"),
	)

	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().Error(err)
	s.True(errors.Is(err, ErrRemoteTransient))
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 3)

	s.Require().NotNil(asset)
	stored := s.reloadAsset(asset.ID)
	s.Equal(models.AssetStatusFailed, stored.Status)
	s.Equal(1, stored.RetryCount)
	s.Contains(stored.LastError, "connection refused")
	s.False(stored.HasLedgerAddress())
}

func (s *AssetServiceTestSuite) TestMintAssetDoesNotRetryRejection() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindRemoteRejected, "field title too long"))

	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().Error(err)
	s.True(errors.Is(err, ErrRemoteRejected))
	s.Contains(err.Error(), "field title too long")
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 1)
	s.Equal(models.AssetStatusFailed, asset.Status)

	status := s.sponsor.Status(s.ctx)
	s.True(status.Spent.IsZero())
	s.True(status.Reserved.IsZero())
}

func (s *AssetServiceTestSuite) TestMintAssetValidation() {
	alice := s.createUser("alice")

	cases := map[string]func(*MintAssetRequest){
		"missing title":  func(r *MintAssetRequest) { r.Title = "" },
		"blank title":    func(r *MintAssetRequest) { r.Title = "   " },
		"negative price": func(r *MintAssetRequest) { r.Price = decimal.RequireFromString("-1") },
		"missing supply": func(r *MintAssetRequest) { r.LimitedEdition = true },
		"missing audio":  func(r *MintAssetRequest) { r.Audio = models.MediaRef{} },
		"bad audio url":  func(r *MintAssetRequest) { r.Audio.URL = "not a url" },
		"bad tag":        func(r *MintAssetRequest) { r.Tags = []string{"#1 hit"} },
	}
	for name, mutate := range cases {
		req := mintRequest("Test Track")
		mutate(req)
		_, err := s.assets.MintAsset(s.ctx, alice.ID, req)
		s.True(errors.Is(err, ErrValidation), name)
	}
	s.Empty(s.fake.Calls(ledger.EndpointCreateAsset))
}

func (s *AssetServiceTestSuite) TestMintAssetProvisionsMissingIdentity() {
	bob := &models.User{Username: "bob", Email: "bob@example.com", UserType: models.UserTypeArtist, Status: models.UserStatusActive}
	s.Require().NoError(s.store.CreateUser(s.ctx, bob))

	asset, err := s.assets.MintAsset(s.ctx, bob.ID, mintRequest("First Song"))
	s.Require().NoError(err)
	s.Equal(s.fake.Genesis("bob"), asset.OwnerGenesis)
	s.Len(s.fake.Calls(ledger.EndpointCreateProfile), 2)
}

func (s *AssetServiceTestSuite) TestConcurrentMintsShareBudget() {
	cfg := sponsorConfig(decimal.RequireFromString("0.01"))
	cfg.MintFeeEstimate = decimal.RequireFromString("0.006")
	s.configureSponsor(cfg)
	alice := s.createUser("alice")

	var wg sync.WaitGroup
	results := make([]*models.Asset, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest(fmt.Sprintf("Concurrent %d", i)))
			s.NoError(err)
			results[i] = asset
		}(i)
	}
	wg.Wait()

	sponsored := 0
	for _, asset := range results {
		s.Require().NotNil(asset)
		s.Equal(models.AssetStatusConfirming, asset.Status)
		if asset.FeeSponsored {
			sponsored++
		}
	}
	s.Equal(1, sponsored)
	s.True(s.sponsor.Status(s.ctx).Spent.Equal(decimal.RequireFromString("0.006")))
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistration() {
	alice := s.createUser("alice")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	result, err := s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.Require().NoError(err)
	s.True(result.Confirmed)
	s.Equal(models.AssetStatusConfirmed, result.Asset.Status)
	s.Equal(alice.LedgerGenesis, result.Asset.OwnerGenesis)
	s.Require().NotNil(result.Asset.ConfirmedAt)

	again, err := s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.Require().NoError(err)
	s.True(again.Confirmed)
	s.Equal(result.Asset.ConfirmedAt.Unix(), again.Asset.ConfirmedAt.Unix())
	s.Len(s.fake.Calls(ledger.EndpointGetAsset), 1)
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistrationNotYetVisible() {
	alice := s.createUser("alice")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	s.fake.Script(ledger.EndpointGetAsset, ledger.Failure(ledger.KindRemoteRejected, "object not found"))
	result, err := s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.Require().NoError(err)
	s.False(result.Confirmed)
	s.Equal(models.AssetStatusConfirming, s.reloadAsset(asset.ID).Status)
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistrationSurfacesGatewayErrors() {
	alice := s.createUser("alice")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	s.fake.Script(ledger.EndpointGetAsset, ledger.Failure(ledger.KindNetworkUnreachable, "request timed out"))
	_, err = s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.True(errors.Is(err, ErrRemoteTransient))
	s.Equal(models.AssetStatusConfirming, s.reloadAsset(asset.ID).Status)
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistrationRequiresConfirming() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindRemoteRejected, "bad request"))
	asset, _ := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NotNil(asset)

	_, err := s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.True(errors.Is(err, ErrStateConflict))
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistrationChecksOwner() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	_, err = s.assets.ConfirmAssetRegistration(s.ctx, bob.ID, asset.ID)
	s.True(errors.Is(err, ErrOwnership))
}

func (s *AssetServiceTestSuite) TestRetryAssetRegistration() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindRemoteRejected, "bad request"))
	failed, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().Error(err)

	asset, err := s.assets.RetryAssetRegistration(s.ctx, alice.ID, failed.ID)
	s.Require().NoError(err)
	s.Equal(models.AssetStatusConfirming, asset.Status)
	s.Equal(1, asset.RetryCount)
	s.Empty(asset.LastError)
	s.True(asset.HasLedgerAddress())
}

func (s *AssetServiceTestSuite) TestRetryAssetRegistrationCeiling() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindRemoteRejected, "bad request"))
	failed, _ := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NotNil(failed)

	failed.RetryCount = models.MaxRegistrationRetries
	s.Require().NoError(s.store.TransitionAsset(s.ctx, failed, repository.AssetGuard{
		From:    []models.AssetStatus{models.AssetStatusFailed},
		OwnerID: alice.ID,
	}))

	_, err := s.assets.RetryAssetRegistration(s.ctx, alice.ID, failed.ID)
	s.True(errors.Is(err, ErrStateConflict))
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 1)
}

func (s *AssetServiceTestSuite) TestRetryAssetRegistrationRequiresFailed() {
	alice := s.createUser("alice")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	_, err = s.assets.RetryAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.True(errors.Is(err, ErrStateConflict))
	s.Equal(models.AssetStatusConfirming, s.reloadAsset(asset.ID).Status)
}

func (s *AssetServiceTestSuite) TestGetAsset() {
	_, err := s.assets.GetAsset(s.ctx, uuid.New())
	s.True(errors.Is(err, ErrNotFound))
}

func (s *AssetServiceTestSuite) TestGetUserAssetsIncludesTransferred() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	asset := s.mintConfirmed(alice, "Gift")

	transfer, err := s.transfers.TransferAsset(s.ctx, alice.ID, &TransferAssetRequest{AssetID: asset.ID, Recipient: "bob"})
	s.Require().NoError(err)
	_, err = s.transfers.ConfirmTransfer(s.ctx, bob.ID, transfer.ID)
	s.Require().NoError(err)

	owned, err := s.assets.GetUserAssets(s.ctx, bob.ID)
	s.Require().NoError(err)
	s.Require().Len(owned, 1)
	s.Equal(models.AssetStatusTransferred, owned[0].Status)

	mine, err := s.assets.GetUserAssets(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Empty(mine)
}

func (s *AssetServiceTestSuite) TestConfirmAssetRegistrationKeepsConcurrentTransfer() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)
	s.Require().Equal(models.AssetStatusConfirming, asset.Status)

	held := newHoldingGateway(s.fake, ledger.EndpointGetAsset)
	poller := NewAssetService(s.store, ledger.NewAPI(held), s.users, s.sponsor, s.policy, decimal.Zero)

	done := make(chan error, 1)
	go func() {
		_, err := poller.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
		done <- err
	}()
	<-held.reached

	_, err = s.transfers.TransferAsset(s.ctx, alice.ID, &TransferAssetRequest{AssetID: asset.ID, Recipient: "bob"})
	s.Require().NoError(err)
	s.Require().Equal(bob.ID, s.reloadAsset(asset.ID).OwnerID)

	close(held.release)
	err = <-done
	s.True(errors.Is(err, ErrStateConflict), "unexpected error: %v", err)

	after := s.reloadAsset(asset.ID)
	s.Equal(bob.ID, after.OwnerID)
	s.Equal(models.AssetStatusConfirmed, after.Status)
}

func (s *AssetServiceTestSuite) TestConcurrentConfirmationsAgree() {
	alice := s.createUser("alice")
	asset, err := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NoError(err)

	held := newHoldingGateway(s.fake, ledger.EndpointGetAsset)
	poller := NewAssetService(s.store, ledger.NewAPI(held), s.users, s.sponsor, s.policy, decimal.Zero)

	type outcome struct {
		result *ConfirmationResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := poller.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
		done <- outcome{result, err}
	}()
	<-held.reached

	first, err := s.assets.ConfirmAssetRegistration(s.ctx, alice.ID, asset.ID)
	s.Require().NoError(err)
	s.True(first.Confirmed)

	close(held.release)
	late := <-done
	s.Require().NoError(late.err)
	s.True(late.result.Confirmed)
	s.Equal(models.AssetStatusConfirmed, late.result.Asset.Status)
}

func (s *AssetServiceTestSuite) TestRetryAssetRegistrationRunsOnce() {
	alice := s.createUser("alice")
	s.fake.Script(ledger.EndpointCreateAsset, ledger.Failure(ledger.KindRemoteRejected, "bad request"))
	failed, _ := s.assets.MintAsset(s.ctx, alice.ID, mintRequest("Test Track"))
	s.Require().NotNil(failed)
	s.Require().Equal(models.AssetStatusFailed, failed.Status)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.assets.RetryAssetRegistration(s.ctx, alice.ID, failed.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(errors.Is(err, ErrStateConflict), "unexpected error: %v", err)
	}
	s.Equal(1, succeeded)
	s.Len(s.fake.Calls(ledger.EndpointCreateAsset), 2)

	asset := s.reloadAsset(failed.ID)
	s.Equal(models.AssetStatusConfirming, asset.Status)
	s.Equal(1, asset.RetryCount)
}

func (s *AssetServiceTestSuite) registeringAsset(owner *models.User, ledgerName string) *models.Asset {
	asset := &models.Asset{
		CreatorID:  owner.ID,
		OwnerID:    owner.ID,
		LedgerName: ledgerName,
		Title:      ledgerName,
		Status:     models.AssetStatusRegistering,
	}
	s.Require().NoError(s.store.CreateAsset(s.ctx, asset))
	return asset
}

func (s *AssetServiceTestSuite) TestRecoverInterruptedRegistrations() {
	alice := s.createUser("alice")

	studio := ledger.Credentials{Username: "studio", Password: "studio-pass", PIN: "9999"}
	_, err := s.api.CreateProfile(s.ctx, studio)
	s.Require().NoError(err)
	session, err := s.api.CreateSession(s.ctx, studio)
	s.Require().NoError(err)
	created, err := s.api.CreateAsset(s.ctx, ledger.CreateAssetRequest{
		Session: session.Session,
		PIN:     studio.PIN,
		Name:    "accepted-1700000000",
		Format:  "JSON",
		JSON:    []ledger.Field{{Name: "title", Type: "string", Value: "Accepted"}},
	})
	s.Require().NoError(err)

	accepted := s.registeringAsset(alice, "accepted-1700000000")
	lost := s.registeringAsset(alice, "lost-1700000000")

	settled, err := s.assets.RecoverInterruptedRegistrations(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, settled)

	got := s.reloadAsset(accepted.ID)
	s.Equal(models.AssetStatusConfirming, got.Status)
	s.Require().True(got.HasLedgerAddress())
	s.Equal(created.Address, *got.LedgerAddress)
	s.Equal(s.fake.Genesis("studio"), got.OwnerGenesis)

	got = s.reloadAsset(lost.ID)
	s.Equal(models.AssetStatusFailed, got.Status)
	s.Equal(1, got.RetryCount)
	s.NotEmpty(got.LastError)

	retried, err := s.assets.RetryAssetRegistration(s.ctx, alice.ID, lost.ID)
	s.Require().NoError(err)
	s.Equal(models.AssetStatusConfirming, retried.Status)
}

func (s *AssetServiceTestSuite) TestRecoverInterruptedRegistrationsWaitsForLedger() {
	alice := s.createUser("alice")
	asset := s.registeringAsset(alice, "unreadable-1700000000")

	s.fake.Script(ledger.EndpointGetAsset, ledger.Failure(ledger.KindNetworkUnreachable, "connection refused"))
	settled, err := s.assets.RecoverInterruptedRegistrations(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, settled)
	s.Equal(models.AssetStatusRegistering, s.reloadAsset(asset.ID).Status)
}
