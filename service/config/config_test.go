package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tonwatch")
	t.Setenv("MONITORED_WALLET", "UQtest-wallet-address")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "toncenter", cfg.TONProvider)
	assert.Empty(t, cfg.TonCenterAPIURL, "empty means the provider default")
	assert.True(t, cfg.MinAmountTON.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 50, cfg.DefaultFetchLimit)
	assert.Equal(t, 250, cfg.MaxFetchLimit)
	assert.Equal(t, "localhost:7233", cfg.TemporalHost)
	assert.Equal(t, "default", cfg.TemporalNamespace)
	assert.Equal(t, "tonwatch-deposit-polling", cfg.TemporalTaskQueue)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.MinPollInterval)
	assert.Equal(t, int64(1_000_000_000), cfg.NanotonsPerTon)
	assert.Equal(t, int32(9), cfg.UnitExponent())
	assert.Empty(t, cfg.ExtraBlockedOpcodes)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("TON_API", "tonapi")
	t.Setenv("TONAPI_URL", "https://tonapi.example.test/v2")
	t.Setenv("MIN_AMOUNT_TON", "0.5")
	t.Setenv("DEFAULT_FETCH_LIMIT", "25")
	t.Setenv("MAX_FETCH_LIMIT", "100")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("NANOTONS_PER_TON", "1000000")
	t.Setenv("EXTRA_BLOCKED_OPCODES", "0xdeadbeef, 05138d91")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, "tonapi", cfg.TONProvider)
	assert.Equal(t, "https://tonapi.example.test/v2", cfg.ProviderBaseURL())
	assert.True(t, cfg.MinAmountTON.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 25, cfg.DefaultFetchLimit)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, int64(1_000_000), cfg.NanotonsPerTon)
	assert.Equal(t, int32(6), cfg.UnitExponent())
	assert.Equal(t, []uint32{0xdeadbeef, 0x05138d91}, cfg.ExtraBlockedOpcodes)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MONITORED_WALLET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "MONITORED_WALLET")
}

func TestLoadInvalidValues(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TON_API", "etherscan")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TON_API")
	})

	t.Run("bad decimal", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MIN_AMOUNT_TON", "a-lot")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MIN_AMOUNT_TON")
	})

	t.Run("negative minimum", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MIN_AMOUNT_TON", "-1")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("POLL_INTERVAL", "soon")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POLL_INTERVAL")
	})

	t.Run("non-power-of-ten unit", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("NANOTONS_PER_TON", "500000000")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NANOTONS_PER_TON")
	})

	t.Run("bad opcode", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("EXTRA_BLOCKED_OPCODES", "0xnope")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "EXTRA_BLOCKED_OPCODES")
	})

	t.Run("limit ordering", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DEFAULT_FETCH_LIMIT", "500")
		t.Setenv("MAX_FETCH_LIMIT", "100")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := &Config{
		DatabaseURL:       "postgres://localhost:5432/tonwatch",
		MonitoredWallet:   "UQtest-wallet",
		TONProvider:       "toncenter",
		MinAmountTON:      decimal.RequireFromString("0.01"),
		DefaultFetchLimit: 50,
		MaxFetchLimit:     250,
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "tonwatch-deposit-polling",
		PollInterval:      30 * time.Second,
		MinPollInterval:   10 * time.Second,
	}
	require.NoError(t, valid.Validate())

	missing := *valid
	missing.MonitoredWallet = ""
	assert.Error(t, missing.Validate())

	fast := *valid
	fast.PollInterval = 100 * time.Millisecond
	fast.MinPollInterval = 50 * time.Millisecond
	assert.Error(t, fast.Validate())
}
