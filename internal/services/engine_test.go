package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

const (
	platformUser = "platform"
	platformPass = "platform-pass"
	platformPIN  = "4321"
)

// engineSuite wires the engines against the in-memory store and fake ledger.
type engineSuite struct {
	suite.Suite
	ctx       context.Context
	store     *repository.MemoryStore
	fake      *ledger.Fake
	api       *ledger.API
	users     *UserService
	sponsor   *SponsorService
	assets    *AssetService
	transfers *TransferService
	policy    RetryPolicy
}

func (s *engineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repository.NewMemoryStore()
	s.fake = ledger.NewFake()
	s.api = ledger.NewAPI(s.fake)
	s.policy = RetryPolicy{Attempts: 3, Delay: 5 * time.Millisecond}

	_, err := s.api.CreateProfile(s.ctx, ledger.Credentials{Username: platformUser, Password: platformPass, PIN: platformPIN})
	s.Require().NoError(err)

	sealer, err := utils.NewSealer("test-credential-key")
	s.Require().NoError(err)

	s.users = NewUserService(s.store, s.api, sealer)
	s.configureSponsor(sponsorConfig(decimal.RequireFromString("1")))
}

// configureSponsor rebuilds the sponsor and the engines that depend on it.
func (s *engineSuite) configureSponsor(cfg config.SponsorConfig) {
	s.sponsor = NewSponsorService(s.api, s.store, cfg)
	s.assets = NewAssetService(s.store, s.api, s.users, s.sponsor, s.policy, cfg.MintFeeEstimate)
	s.transfers = NewTransferService(s.store, s.api, s.users, s.sponsor, cfg.TransferFeeEstimate)
}

func sponsorConfig(dailyLimit decimal.Decimal) config.SponsorConfig {
	return config.SponsorConfig{
		Enabled:             true,
		Username:            platformUser,
		Password:            platformPass,
		PIN:                 platformPIN,
		AccountName:         "default",
		SessionRefresh:      30 * time.Minute,
		MaxFeePerTx:         decimal.RequireFromString("0.01"),
		DailyLimit:          dailyLimit,
		MintFeeEstimate:     decimal.RequireFromString("0.01"),
		TransferFeeEstimate: decimal.RequireFromString("0.01"),
	}
}

func (s *engineSuite) createUser(username string) *models.User {
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		UserType: models.UserTypeArtist,
		Status:   models.UserStatusActive,
	}
	s.Require().NoError(user.SetPassword("TestPass123!"))
	s.Require().NoError(s.store.CreateUser(s.ctx, user))

	provisioned, err := s.users.ProvisionLedgerIdentity(s.ctx, user.ID)
	s.Require().NoError(err)
	return provisioned
}

func mintRequest(title string) *MintAssetRequest {
	return &MintAssetRequest{
		Title:  title,
		Artist: "The Testers",
		Genre:  "ambient",
		Tags:   []string{"calm"},
		Price:  decimal.RequireFromString("2.50"),
		Audio:  models.MediaRef{URL: "https://cdn.example.com/a.mp3", Path: "audio/a.mp3"},
	}
}

// mintConfirmed mints an asset for user and confirms it.
func (s *engineSuite) mintConfirmed(user *models.User, title string) *models.Asset {
	asset, err := s.assets.MintAsset(s.ctx, user.ID, mintRequest(title))
	s.Require().NoError(err)

	result, err := s.assets.ConfirmAssetRegistration(s.ctx, user.ID, asset.ID)
	s.Require().NoError(err)
	s.Require().True(result.Confirmed)
	return result.Asset
}

func (s *engineSuite) reloadAsset(id uuid.UUID) *models.Asset {
	asset, err := s.store.GetAsset(s.ctx, id)
	s.Require().NoError(err)
	return asset
}

// submittedFields decodes the field list of the n-th create asset call.
func (s *engineSuite) submittedFields(n int) map[string]string {
	calls := s.fake.Calls(ledger.EndpointCreateAsset)
	s.Require().Greater(len(calls), n)

	var req ledger.CreateAssetRequest
	s.Require().NoError(json.Unmarshal(calls[n], &req))

	fields := make(map[string]string, len(req.JSON))
	for _, field := range req.JSON {
		fields[field.Name] = field.Value
	}
	return fields
}

// holdingGateway parks the first call to endpoint until release is closed,
// signalling on reached once the call is parked.
type holdingGateway struct {
	ledger.Gateway
	endpoint ledger.Endpoint
	reached  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newHoldingGateway(inner ledger.Gateway, endpoint ledger.Endpoint) *holdingGateway {
	return &holdingGateway{
		Gateway:  inner,
		endpoint: endpoint,
		reached:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *holdingGateway) Call(ctx context.Context, endpoint ledger.Endpoint, payload interface{}) ledger.Result {
	if endpoint == g.endpoint {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.reached)
			<-g.release
		}
	}
	return g.Gateway.Call(ctx, endpoint, payload)
}

var errConnectionReset = errors.New("connection reset")

// flakyStore fails selected writes and reads of the in-memory store.
type flakyStore struct {
	*repository.MemoryStore
	begun               bool
	failReadsAfterBegin bool
	failFinishes        int
}

func (f *flakyStore) BeginTransfer(ctx context.Context, transfer *models.Transfer, from []models.AssetStatus) (*models.Asset, error) {
	asset, err := f.MemoryStore.BeginTransfer(ctx, transfer, from)
	if err == nil {
		f.begun = true
	}
	return asset, err
}

func (f *flakyStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	if f.begun && f.failReadsAfterBegin {
		return nil, errConnectionReset
	}
	return f.MemoryStore.GetAsset(ctx, id)
}

func (f *flakyStore) FinishTransfer(ctx context.Context, transfer *models.Transfer, asset *models.Asset, guard repository.AssetGuard) error {
	if f.failFinishes > 0 {
		f.failFinishes--
		return errConnectionReset
	}
	return f.MemoryStore.FinishTransfer(ctx, transfer, asset, guard)
}
