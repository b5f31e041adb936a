// internal/services/sponsor_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/metrics"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
)

const spendDateLayout = "2006-01-02"

// SponsorService decides whether the platform wallet pays a user's ledger fee
// and keeps the daily spend under its ceiling.
//
// The budget is process-local. Reserve holds an amount before the ledger call
// so concurrent callers see it; Commit turns the hold into spend once the call
// succeeded and Release drops it otherwise.
type SponsorService struct {
	api   *ledger.API
	store repository.Store
	cfg   config.SponsorConfig
	now   func() time.Time

	sessionMu sync.Mutex
	session   *platformSession

	mu       sync.Mutex
	day      string
	spent    decimal.Decimal
	reserved decimal.Decimal
}

type platformSession struct {
	id       string
	genesis  string
	issuedAt time.Time
}

// Reservation is a budget hold returned by Reserve.
type Reservation struct {
	Amount decimal.Decimal
	day    string

	mu      sync.Mutex
	settled bool
}

// SponsorRecord describes the ledger operation a committed fee paid for.
type SponsorRecord struct {
	UserID     uuid.UUID
	Action     models.SponsoredAction
	AssetID    *uuid.UUID
	LedgerTxID string
}

type SponsorStatus struct {
	Configured    bool            `json:"configured"`
	SessionActive bool            `json:"session_active"`
	Date          string          `json:"date"`
	Spent         decimal.Decimal `json:"spent"`
	Reserved      decimal.Decimal `json:"reserved"`
	Remaining     decimal.Decimal `json:"remaining"`
	DailyLimit    decimal.Decimal `json:"daily_limit"`
	MaxFeePerTx   decimal.Decimal `json:"max_fee_per_tx"`
	Balance       *float64        `json:"balance,omitempty"`
	Available     *float64        `json:"available,omitempty"`
	BalanceError  string          `json:"balance_error,omitempty"`
}

func NewSponsorService(api *ledger.API, store repository.Store, cfg config.SponsorConfig) *SponsorService {
	return &SponsorService{
		api:   api,
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Reserve holds estimatedFee against today's budget. A denial is an
// ErrBudgetExceeded error whose message carries the reason; callers proceed
// unsponsored.
func (s *SponsorService) Reserve(ctx context.Context, estimatedFee decimal.Decimal) (*Reservation, error) {
	if !s.cfg.Configured() {
		return nil, s.deny("not_configured", "fee sponsorship is not configured")
	}
	if estimatedFee.GreaterThan(s.cfg.MaxFeePerTx) {
		return nil, s.deny("fee_ceiling", "fee %s exceeds per-transaction ceiling %s", estimatedFee, s.cfg.MaxFeePerTx)
	}
	if _, err := s.platformSession(ctx); err != nil {
		return nil, s.deny("no_session", "platform session unavailable: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	if s.spent.Add(s.reserved).Add(estimatedFee).GreaterThan(s.cfg.DailyLimit) {
		return nil, s.deny("daily_limit", "daily sponsorship limit %s reached", s.cfg.DailyLimit)
	}

	s.reserved = s.reserved.Add(estimatedFee)
	metrics.RecordSponsorDecision("allowed")
	return &Reservation{Amount: estimatedFee, day: s.day}, nil
}

// Commit converts a reservation into spend and appends the audit row. The
// spend counts even when the audit row cannot be written; the returned error
// only reports the missing row.
func (s *SponsorService) Commit(ctx context.Context, r *Reservation, record SponsorRecord) error {
	if r == nil || !r.settle() {
		return nil
	}

	s.mu.Lock()
	s.rollover()
	if r.day == s.day {
		s.reserved = s.reserved.Sub(r.Amount)
		s.spent = s.spent.Add(r.Amount)
		metrics.SetSponsorDailySpent(s.spent.InexactFloat64())
	}
	s.mu.Unlock()

	amount := r.Amount.InexactFloat64()
	metrics.RecordSponsoredFee(string(record.Action), amount)

	fee := &models.SponsoredFee{
		UserID:     record.UserID,
		Action:     record.Action,
		AssetID:    record.AssetID,
		LedgerTxID: record.LedgerTxID,
		Amount:     r.Amount,
		SpendDate:  r.day,
	}
	if err := s.store.CreateSponsoredFee(ctx, fee); err != nil {
		return fmt.Errorf("failed to record sponsored fee: %w", err)
	}
	return nil
}

// Release returns a reservation to the budget after a failed ledger call.
func (s *SponsorService) Release(r *Reservation) {
	if r == nil || !r.settle() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	if r.day == s.day {
		s.reserved = s.reserved.Sub(r.Amount)
	}
}

// Restore recomputes today's spend from the audit table.
func (s *SponsorService) Restore(ctx context.Context) error {
	day := s.today()
	total, err := s.store.SumSponsoredFees(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to restore sponsored spend: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.day = day
	s.spent = total
	s.reserved = decimal.Zero
	metrics.SetSponsorDailySpent(total.InexactFloat64())

	logrus.WithFields(logrus.Fields{
		"date":  day,
		"spent": total.String(),
	}).Info("Restored sponsored fee budget")
	return nil
}

// Status reports the budget and, when a platform session is available, the
// platform wallet balance.
func (s *SponsorService) Status(ctx context.Context) *SponsorStatus {
	s.mu.Lock()
	s.rollover()
	status := &SponsorStatus{
		Configured:  s.cfg.Configured(),
		Date:        s.day,
		Spent:       s.spent,
		Reserved:    s.reserved,
		Remaining:   decimal.Max(decimal.Zero, s.cfg.DailyLimit.Sub(s.spent).Sub(s.reserved)),
		DailyLimit:  s.cfg.DailyLimit,
		MaxFeePerTx: s.cfg.MaxFeePerTx,
	}
	s.mu.Unlock()

	if !status.Configured {
		return status
	}

	session, err := s.platformSession(ctx)
	if err != nil {
		status.BalanceError = err.Error()
		return status
	}
	status.SessionActive = true

	account, err := s.api.GetAccount(ctx, session.id, s.cfg.AccountName)
	if err != nil {
		status.BalanceError = err.Error()
		return status
	}
	status.Balance = &account.Balance
	status.Available = &account.Available
	return status
}

// platformSession returns the cached platform session, refreshing it when
// the refresh interval has elapsed. A failed refresh falls back to the
// previous session while it is younger than twice the interval.
func (s *SponsorService) platformSession(ctx context.Context) (*platformSession, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := s.now()
	if s.session != nil && now.Sub(s.session.issuedAt) < s.cfg.SessionRefresh {
		return s.session, nil
	}

	fresh, err := s.login(ctx)
	if err == nil {
		s.session = fresh
		return fresh, nil
	}

	logrus.WithError(err).Warn("Failed to refresh platform ledger session")
	if s.session != nil && now.Sub(s.session.issuedAt) < 2*s.cfg.SessionRefresh {
		return s.session, nil
	}
	s.session = nil
	return nil, err
}

func (s *SponsorService) login(ctx context.Context) (*platformSession, error) {
	creds := ledger.Credentials{Username: s.cfg.Username, Password: s.cfg.Password, PIN: s.cfg.PIN}
	session, err := s.api.CreateSession(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := s.api.UnlockSession(ctx, session.Session, s.cfg.PIN); err != nil {
		return nil, err
	}

	return &platformSession{id: session.Session, genesis: session.Genesis, issuedAt: s.now()}, nil
}

// rollover resets the accumulator the first time a new UTC date is seen.
// Callers hold s.mu.
func (s *SponsorService) rollover() {
	today := s.today()
	if s.day == today {
		return
	}
	if s.day != "" {
		logrus.WithFields(logrus.Fields{
			"previous": s.day,
			"spent":    s.spent.String(),
		}).Info("Sponsorship budget rolled over")
	}
	s.day = today
	s.spent = decimal.Zero
	s.reserved = decimal.Zero
	metrics.SetSponsorDailySpent(0)
}

func (s *SponsorService) today() string {
	return s.now().UTC().Format(spendDateLayout)
}

func (s *SponsorService) deny(reason, format string, args ...interface{}) error {
	metrics.RecordSponsorDecision(reason)
	return newError(ErrBudgetExceeded, format, args...)
}

// settle marks the reservation used and reports whether it was still open.
func (r *Reservation) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	return true
}
