// Package config loads the battery base configuration from a TOML file in the XDG
// config directory. Command line flags override the values read here.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/shopspring/decimal"
)

// FilePath is the location of the config file relative to the XDG config home.
const FilePath = "batterybase/config.toml"

var ErrUnknownKeys = errors.New("unknown configuration keys")

// Duration decodes TOML strings such as "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Ledger struct {
	Processor      common.Address `toml:"processor"`
	ConfirmTimeout Duration       `toml:"confirm_timeout"`
	PollInitial    Duration       `toml:"poll_initial"`
	PollMax        Duration       `toml:"poll_max"`
	MaxAttempts    int            `toml:"max_attempts"`
}

// Fees caps the EIP-1559 fees of submitted transactions, in gwei. Zero means the node's
// suggestion is used.
type Fees struct {
	TipCapGwei uint64 `toml:"tip_cap_gwei"`
	FeeCapGwei uint64 `toml:"fee_cap_gwei"`
}

type Pricing struct {
	// FixedFee is the work cost charged per replacement, in ether.
	FixedFee decimal.Decimal `toml:"fixed_fee"`
	// PerCycle switches to wear based pricing when set.
	PerCycle decimal.Decimal `toml:"per_cycle"`
}

type ServiceCenter struct {
	Listen        string `toml:"listen"`
	MetricsListen string `toml:"metrics_listen"`
	// RateLimit caps the requests served per second. Zero disables the limit.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

type Car struct {
	ServiceCenterURL string   `toml:"service_center_url"`
	RequestTimeout   Duration `toml:"request_timeout"`
	DeliveryTimeout  Duration `toml:"delivery_timeout"`
	SkipDeal         bool     `toml:"skip_deal"`
}

type Config struct {
	NodeURL  string `toml:"node_url"`
	Dev      bool   `toml:"dev"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	// LogFile sends logs to a rotated file instead of stderr.
	LogFile string `toml:"log_file"`

	Ledger        Ledger        `toml:"ledger"`
	Fees          Fees          `toml:"fees"`
	Pricing       Pricing       `toml:"pricing"`
	ServiceCenter ServiceCenter `toml:"service_center"`
	Car           Car           `toml:"car"`
}

func Default() Config {
	l := ledger.DefaultConfig()
	r := replacement.DefaultConfig()
	return Config{
		NodeURL:  "http://localhost:8545",
		DataDir:  filepath.Join(xdg.DataHome, "batterybase"),
		LogLevel: "info",
		Ledger: Ledger{
			Processor:      address.BatteryManagementProcessorAddress,
			ConfirmTimeout: Duration(l.ConfirmTimeout),
			PollInitial:    Duration(l.PollInitial),
			PollMax:        Duration(l.PollMax),
			MaxAttempts:    l.MaxAttempts,
		},
		Pricing: Pricing{
			FixedFee: replacement.DefaultFee,
		},
		ServiceCenter: ServiceCenter{
			Listen:        "localhost:8600",
			MetricsListen: "localhost:8601",
			Burst:         16,
		},
		Car: Car{
			ServiceCenterURL: "http://localhost:8600",
			RequestTimeout:   Duration(r.RequestTimeout),
			DeliveryTimeout:  Duration(r.DeliveryTimeout),
		},
	}
}

// Path returns the config file path, creating its directory if needed.
func Path() (string, error) {
	p, err := xdg.ConfigFile(FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to get config file path: %w", err)
	}
	return p, nil
}

// Load reads the config file at path on top of the defaults. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a TOML document on top of the defaults and rejects keys that do not
// map to a field.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.NodeURL == "" && !c.Dev {
		return errors.New("node_url must be set")
	}
	if c.Ledger.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative, got %d", c.Ledger.MaxAttempts)
	}
	if c.Pricing.FixedFee.IsNegative() || c.Pricing.PerCycle.IsNegative() {
		return errors.New("pricing must not be negative")
	}
	if c.ServiceCenter.RateLimit < 0 || c.ServiceCenter.Burst < 0 {
		return errors.New("rate_limit and burst must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Save writes c to path, replacing any existing file.
func (c Config) Save(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to encode config: %w", err), f.Close())
	}

	return f.Close()
}

func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func (c Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		Processor:      c.Ledger.Processor,
		ConfirmTimeout: time.Duration(c.Ledger.ConfirmTimeout),
		PollInitial:    time.Duration(c.Ledger.PollInitial),
		PollMax:        time.Duration(c.Ledger.PollMax),
		MaxAttempts:    c.Ledger.MaxAttempts,
	}
}

func gwei(n uint64) *big.Int {
	if n == 0 {
		return nil
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(n), big.NewInt(params.GWei))
}

func (c Config) FeePolicy() actor.FeePolicy {
	return actor.FeePolicy{
		TipCap: gwei(c.Fees.TipCapGwei),
		FeeCap: gwei(c.Fees.FeeCapGwei),
	}
}

func (c Config) PricingPolicy() replacement.PricingPolicy {
	if !c.Pricing.PerCycle.IsZero() {
		return replacement.WearFee{Base: c.Pricing.FixedFee, PerCycle: c.Pricing.PerCycle}
	}
	return replacement.FixedFee{Amount: c.Pricing.FixedFee}
}

func (c Config) ReplacementConfig() replacement.Config {
	return replacement.Config{
		RequestTimeout:  time.Duration(c.Car.RequestTimeout),
		DeliveryTimeout: time.Duration(c.Car.DeliveryTimeout),
		SkipDeal:        c.Car.SkipDeal,
	}
}

// StorePath is the sqlite database of the named account inside the data dir.
func (c Config) StorePath(account string) string {
	return filepath.Join(c.DataDir, account+".db")
}
