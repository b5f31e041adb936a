package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LEDGER_MODE", "fake")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Ledger.RegistrationAttempts)
	assert.Equal(t, 5*time.Second, cfg.Ledger.RegistrationDelay)
	assert.Equal(t, 30*time.Minute, cfg.Sponsor.SessionRefresh)
	assert.True(t, cfg.Sponsor.MaxFeePerTx.Equal(decimal.RequireFromString("0.01")))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_MODE", "http")
	t.Setenv("LEDGER_TIMEOUT", "3s")
	t.Setenv("SPONSOR_DAILY_LIMIT", "2.5")
	t.Setenv("SPONSOR_USERNAME", "platform")
	t.Setenv("SPONSOR_PASSWORD", "pw")
	t.Setenv("SPONSOR_PIN", "1234")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.True(t, cfg.Sponsor.DailyLimit.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, cfg.Sponsor.Configured())
}

func TestValidateRejectsFakeLedgerInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("CREDENTIAL_KEY", "prod-key")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("LEDGER_MODE", "fake")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownLedgerMode(t *testing.T) {
	t.Setenv("LEDGER_MODE", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestSponsorNotConfiguredWithoutCredentials(t *testing.T) {
	assert.False(t, SponsorConfig{Enabled: true, Username: "platform"}.Configured())
	assert.False(t, SponsorConfig{Enabled: false, Username: "u", Password: "p", PIN: "1"}.Configured())
}

func TestLoadAllowedOrigins(t *testing.T) {
	t.Setenv("LEDGER_MODE", "fake")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://tunevault.app, https://admin.tunevault.app,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://tunevault.app", "https://admin.tunevault.app"}, cfg.Server.AllowedOrigins)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		User:     "tunevault",
		Password: `p@ss 'word\`,
		Database: "tunevault",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		`host=db port=5432 user=tunevault password='p@ss \'word\\' dbname=tunevault sslmode=disable TimeZone=UTC application_name=tunevault-backend`,
		d.DSN())

	d.Password = ""
	assert.NotContains(t, d.DSN(), "password=")
}
