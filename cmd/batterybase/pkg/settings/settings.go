// Package settings resolves the configuration shared by all commands: the config
// file, the global flags overriding it, logging and the connection to the ledger.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/config"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/registry"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/battery-base/verification"
	"github.com/evbattery/batterybase/cmd/batterybase/account/pkg/useraccount"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DevicesStore is the database simulating the memory of every battery device
	// reachable from this machine.
	DevicesStore = "devices"
	// IndexStore lists the local accounts and the ledgers they use.
	IndexStore = "batterybase"
)

// AccountFlag selects the local account a command acts as.
func AccountFlag(defaultName string) cli.Flag {
	return &cli.StringFlag{
		Name:    "account",
		Aliases: []string{"a"},
		Usage:   "Name of the local account to use",
		Value:   defaultName,
		EnvVars: []string{"BATTERYBASE_ACCOUNT"},
	}
}

// LoadAccount unlocks the account named by the --account flag. Close the returned
// account to release it.
func LoadAccount(c *cli.Context, cfg config.Config) (*useraccount.UserAccount, *actor.Actor, error) {
	ua, err := useraccount.Load(c.String("account"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user account: %w", err)
	}
	return ua, ua.Actor(cfg.FeePolicy()), nil
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path of the config file",
			EnvVars: []string{"BATTERYBASE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "node-url",
			Usage:   "The URL of the node to connect to",
			EnvVars: []string{"NODE_URL"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Directory of the local databases",
			EnvVars: []string{"BATTERYBASE_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "trace, debug, info, warn, error or crit",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write logs to a rotated file instead of stderr",
			EnvVars: []string{"LOG_FILE"},
		},
		&cli.BoolFlag{
			Name:    "dev",
			Usage:   "Talk to a development node",
			EnvVars: []string{"BATTERYBASE_DEV"},
		},
	}
}

// ConfigPath is the --config flag or the default location in the XDG config dir.
func ConfigPath(c *cli.Context) (string, error) {
	if p := c.String("config"); p != "" {
		return p, nil
	}
	return config.Path()
}

// Load reads the config file and applies the global flags set on the command line.
func Load(c *cli.Context) (config.Config, error) {
	path, err := ConfigPath(c)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if c.IsSet("node-url") {
		cfg.NodeURL = c.String("node-url")
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("dev") {
		cfg.Dev = c.Bool("dev")
	}

	return cfg, cfg.Validate()
}

// SetupLogging installs a terminal handler on stderr, coloured when stderr is a
// terminal, or on the rotated log file when one is configured.
func SetupLogging(cfg config.Config) error {
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}

	if cfg.LogFile != "" {
		output := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, lvl, false)))
		return nil
	}

	useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	output := colorable.NewColorableStderr()
	if !useColor {
		output = colorable.NewNonColorable(os.Stderr)
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, lvl, useColor)))
	return nil
}

// Session is a connection to the ledger through a node.
type Session struct {
	Config   config.Config
	Client   *ethclient.Client
	Ledger   *ledger.Ledger
	Registry *registry.Registry
}

func Connect(ctx context.Context, cfg config.Config) (*Session, error) {
	client, err := ethclient.DialContext(ctx, cfg.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	l, err := ledger.New(ctx, client, cfg.LedgerConfig())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	return &Session{
		Config:   cfg,
		Client:   client,
		Ledger:   l,
		Registry: registry.New(l),
	}, nil
}

func (s *Session) Close() {
	s.Client.Close()
}

// Verifier checks batteries reachable through devices, keeping counter snapshots
// in snapshots when it is not nil.
func (s *Session) Verifier(devices verification.Sources, snapshots verification.Snapshots) *verification.Service {
	opts := []verification.Option{verification.WithSources(devices)}
	if snapshots != nil {
		opts = append(opts, verification.WithSnapshots(snapshots))
	}
	return verification.New(s.Ledger, s.Registry, opts...)
}

// LookupAccount reads a local account from the index without unlocking it.
func LookupAccount(ctx context.Context, cfg config.Config, name string) (*sqlstore.Account, error) {
	index, err := OpenStore(cfg, IndexStore)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	a, err := index.Account(ctx, name)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return nil, fmt.Errorf("unknown account %s, create it with 'account create %s'", name, name)
	}
	return a, err
}

// OpenStore opens the database named name in the data dir.
func OpenStore(cfg config.Config, name string) (*sqlstore.SQLStore, error) {
	store, err := sqlstore.NewStore(cfg.StorePath(filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	return store, nil
}

// ParseEther reads a decimal amount of ether into wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	return replacement.Wei(d).BigInt(), nil
}

// FormatEther renders wei as a decimal amount of ether.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
