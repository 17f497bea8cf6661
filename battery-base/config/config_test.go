package config_test

import (
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/config"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Equal(t, address.BatteryManagementProcessorAddress, cfg.LedgerConfig().Processor)
	require.True(t, replacement.DefaultFee.Equal(cfg.Pricing.FixedFee))
}

func TestDecodeOverridesDefaults(t *testing.T) {
	cfg, err := config.Decode(strings.NewReader(`
node_url = "http://node:8545"
log_level = "debug"

[ledger]
processor = "0x00000000000000000000000000000000000b4773"
confirm_timeout = "45s"
max_attempts = 5

[fees]
tip_cap_gwei = 2

[pricing]
fixed_fee = "0.01"
`))
	require.NoError(t, err)

	require.Equal(t, "http://node:8545", cfg.NodeURL)
	require.Equal(t, common.HexToAddress("0xb4773"), cfg.Ledger.Processor)

	l := cfg.LedgerConfig()
	require.Equal(t, 45*time.Second, l.ConfirmTimeout)
	require.Equal(t, 5, l.MaxAttempts)
	// untouched keys keep their defaults
	require.Equal(t, config.Default().Ledger.PollInitial, config.Duration(l.PollInitial))

	fees := cfg.FeePolicy()
	require.Equal(t, big.NewInt(2_000_000_000), fees.TipCap)
	require.Nil(t, fees.FeeCap)

	price, err := cfg.PricingPolicy().Price(replacement.Quote{})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("0.01").Equal(price))
}

func TestLogLevels(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"crit":  log.LevelCrit,
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.LogLevel = name
			lvl, err := cfg.Level()
			require.NoError(t, err)
			require.Equal(t, want, lvl)
		})
	}
}

func TestZeroFixedFeeIsKept(t *testing.T) {
	cfg, err := config.Decode(strings.NewReader(`
[pricing]
fixed_fee = "0"
`))
	require.NoError(t, err)

	price, err := cfg.PricingPolicy().Price(replacement.Quote{})
	require.NoError(t, err)
	require.True(t, price.IsZero())

	price, err = config.Default().PricingPolicy().Price(replacement.Quote{})
	require.NoError(t, err)
	require.True(t, replacement.DefaultFee.Equal(price))
}

func TestPerCycleSelectsWearPricing(t *testing.T) {
	cfg, err := config.Decode(strings.NewReader(`
[pricing]
fixed_fee = "0.002"
per_cycle = "0.0001"
`))
	require.NoError(t, err)
	require.IsType(t, replacement.WearFee{}, cfg.PricingPolicy())
}

func TestUnknownKeysAreRejected(t *testing.T) {
	_, err := config.Decode(strings.NewReader(`
node_url = "http://node:8545"
nodeurl = "typo"

[ledger]
timeout = "1s"
`))
	require.ErrorIs(t, err, config.ErrUnknownKeys)
	require.ErrorContains(t, err, "ledger.timeout, nodeurl")
}

func TestInvalidValues(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		_, err := config.Decode(strings.NewReader(`
[ledger]
confirm_timeout = "soon"
`))
		require.Error(t, err)
	})

	t.Run("log level", func(t *testing.T) {
		_, err := config.Decode(strings.NewReader(`log_level = "loud"`))
		require.Error(t, err)
	})

	t.Run("negative rate limit", func(t *testing.T) {
		_, err := config.Decode(strings.NewReader(`
[service_center]
rate_limit = -1.0
`))
		require.Error(t, err)
	})

	t.Run("negative fee", func(t *testing.T) {
		_, err := config.Decode(strings.NewReader(`
[pricing]
fixed_fee = "-1"
`))
		require.Error(t, err)
	})
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := config.Default()
	cfg.NodeURL = "http://other:8545"
	cfg.Dev = true
	cfg.Ledger.MaxAttempts = 7
	cfg.Car.SkipDeal = true

	require.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.NodeURL, loaded.NodeURL)
	require.True(t, loaded.Dev)
	require.Equal(t, 7, loaded.Ledger.MaxAttempts)
	require.Equal(t, cfg.Ledger.ConfirmTimeout, loaded.Ledger.ConfirmTimeout)
	require.True(t, loaded.Car.SkipDeal)
	require.True(t, cfg.Pricing.FixedFee.Equal(loaded.Pricing.FixedFee))
}
