// Package useraccount keeps the signing keys of the local actors in encrypted
// keystore files under the XDG config dir, one per account name.
package useraccount

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/gofrs/flock"
	"golang.org/x/term"
)

const walletDir = "batterybase/wallets"

var ErrAccountInUse = errors.New("account is in use by another process")

// ScryptN and ScryptP are the key derivation parameters of new keystore files.
var (
	ScryptN = keystore.StandardScryptN
	ScryptP = keystore.StandardScryptP
)

type UserAccount struct {
	Name       string
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey

	lock *flock.Flock
}

// WalletPath returns the keystore file of the named account, creating its directory
// if needed.
func WalletPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid account name %q", name)
	}
	p, err := xdg.ConfigFile(filepath.Join(walletDir, name+".json"))
	if err != nil {
		return "", fmt.Errorf("failed to get wallet path: %w", err)
	}
	return p, nil
}

// Load decrypts the named account and locks it for this process, so two processes
// never sign with the same nonce sequence.
func Load(name string) (*UserAccount, error) {
	walletPath, err := WalletPath(name)
	if err != nil {
		return nil, err
	}

	walletBytes, err := os.ReadFile(walletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	lock := flock.New(walletPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAccountInUse, name)
	}

	password, err := ReadPassword()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read password: %w", err), lock.Unlock())
	}

	key, err := keystore.DecryptKey(walletBytes, password)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to decrypt private key: %w", err), lock.Unlock())
	}

	return &UserAccount{
		Name:       name,
		Address:    crypto.PubkeyToAddress(key.PrivateKey.PublicKey),
		PrivateKey: key.PrivateKey,
		lock:       lock,
	}, nil
}

// Actor returns the account as a ledger actor paying fees under fees.
func (u *UserAccount) Actor(fees actor.FeePolicy) *actor.Actor {
	return actor.New(u.PrivateKey, fees)
}

// Close releases the lock taken by Load.
func (u *UserAccount) Close() error {
	return u.lock.Unlock()
}

// Create generates a new key for the named account. An existing non-empty wallet is
// never overwritten.
func Create(name, password string) (common.Address, string, error) {
	return store(name, func(ks *keystore.KeyStore) (common.Address, string, error) {
		account, err := ks.NewAccount(password)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("failed to create new account: %w", err)
		}
		return account.Address, account.URL.Path, nil
	})
}

// Import stores key as the named account.
func Import(name string, key *ecdsa.PrivateKey, password string) (common.Address, string, error) {
	return store(name, func(ks *keystore.KeyStore) (common.Address, string, error) {
		account, err := ks.ImportECDSA(key, password)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("failed to encrypt keystore: %w", err)
		}
		return account.Address, account.URL.Path, nil
	})
}

func store(name string, write func(*keystore.KeyStore) (common.Address, string, error)) (common.Address, string, error) {
	walletPath, err := WalletPath(name)
	if err != nil {
		return common.Address{}, "", err
	}

	info, err := os.Stat(walletPath)
	// We only care if the error is insufficient permissions. If the file does not
	// exist or its size is zero, we can ignore the error since we are creating it.
	if err == nil {
		if info.Size() != 0 {
			return common.Address{}, "", fmt.Errorf("a wallet already exists at %s", walletPath)
		}
	} else if os.IsPermission(err) {
		return common.Address{}, "", fmt.Errorf("failed to stat walletPath %s: %w", walletPath, err)
	}

	// the keystore names files after the address, so a scratch dir keeps it from
	// picking up the wallets of other accounts
	scratch, err := os.MkdirTemp(filepath.Dir(walletPath), ".new-"+name)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("failed to create keystore dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, ScryptN, ScryptP)
	addr, created, err := write(ks)
	if err != nil {
		return common.Address{}, "", err
	}

	if err := os.Rename(created, walletPath); err != nil {
		return common.Address{}, "", fmt.Errorf("failed to rename wallet file: %w", err)
	}

	return addr, walletPath, nil
}

// ReadPassword reads a password from stdin if piped, or interactively if in a terminal
func ReadPassword() (string, error) {
	password, ok := os.LookupEnv("WALLET_PASSWORD")
	if ok {
		return password, nil
	}

	// Check if input is coming from a terminal
	if term.IsTerminal(int(syscall.Stdin)) {

		fmt.Print("Enter wallet password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		password := strings.TrimSpace(string(bytePassword))

		return password, nil
	}

	return readLine(os.Stdin)
}

// ReadNewPassword first checks if the password is set in the environment variable
// WALLET_PASSWORD, then reads a password from stdin if piped, or interactively if in
// a terminal, confirming that the passwords match
func ReadNewPassword() (string, error) {
	password, ok := os.LookupEnv("WALLET_PASSWORD")
	if ok {
		return password, nil
	}

	if term.IsTerminal(int(syscall.Stdin)) {

		fmt.Print("Enter wallet password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		password := strings.TrimSpace(string(bytePassword))

		fmt.Print("Confirm password: ")
		byteConfirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		confirm := strings.TrimSpace(string(byteConfirm))

		if password != confirm {
			return "", fmt.Errorf("passwords did not match")
		}

		return password, nil
	}

	return readLine(os.Stdin)
}

func readLine(r io.Reader) (string, error) {
	reader := bufio.NewReader(r)
	password, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(password), nil
}
