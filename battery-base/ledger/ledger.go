// Package ledger is the adapter between battery base and the shared ledger: it
// submits management transactions, confirms them and reads processor state back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
)

type Ledger struct {
	backend Backend
	cfg     Config
	chainID *big.Int

	accounts  keyedMutex
	batteries keyedMutex
}

func New(ctx context.Context, backend Backend, cfg Config) (*Ledger, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Ledger{
		backend: backend,
		cfg:     cfg.withDefaults(),
		chainID: chainID,
	}, nil
}

func (l *Ledger) Backend() Backend {
	return l.backend
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// Pending identifies a submitted, not yet confirmed transaction.
type Pending struct {
	Op          string
	TxHash      common.Hash
	From        common.Address
	Nonce       uint64
	SubmittedAt time.Time

	call ethereum.CallMsg
}

// Confirmation is the outcome of a successfully confirmed transaction.
type Confirmation struct {
	Op          string
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []*types.Log
	// Inferred is set when the receipt was not observed but the effect of the
	// transaction was found in ledger state.
	Inferred bool
	// AlreadyApplied is set when nothing was submitted because the ledger already
	// was in the requested state.
	AlreadyApplied bool
}

// RequiredBalance is the balance an account needs to submit mtx with the given fee
// cap and value attached.
func RequiredBalance(mtx *mgmttx.ManagementTransaction, feeCap, value *big.Int) *big.Int {
	need := new(big.Int).Mul(new(big.Int).SetUint64(mtx.RequiredGas()), feeCap)
	if value != nil {
		need.Add(need, value)
	}
	return need
}

func (l *Ledger) submit(ctx context.Context, a *actor.Actor, op string, mtx *mgmttx.ManagementTransaction, value *big.Int) (*Pending, error) {
	if value == nil {
		value = new(big.Int)
	}

	data, err := mtx.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", op, err)
	}

	tipCap, feeCap, err := a.Fees.Resolve(ctx, l.backend)
	if err != nil {
		return nil, err
	}

	gas := mtx.RequiredGas()

	unlock := l.accounts.lock(a.Address)
	defer unlock()

	balance, err := l.backend.BalanceAt(ctx, a.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	need := RequiredBalance(mtx, feeCap, value)
	if balance.Cmp(need) < 0 {
		return nil, fmt.Errorf("failed to submit %s: %w: have %s, need %s", op, ErrInsufficientFunds, balance, need)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, a.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	tx, err := a.Sign(l.chainID, &types.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		Gas:       gas,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		To:        &l.cfg.Processor,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}

	err = l.backend.SendTransaction(ctx, tx)
	if err != nil {
		if strings.Contains(err.Error(), "insufficient funds") {
			return nil, fmt.Errorf("failed to send %s: %w: %w", op, ErrInsufficientFunds, err)
		}
		return nil, fmt.Errorf("failed to send %s: %w", op, err)
	}

	metrics.LedgerSubmissions.WithLabelValues(op).Inc()
	log.Info("transaction submitted", "op", op, "hash", tx.Hash(), "from", a.Address, "nonce", nonce)

	return &Pending{
		Op:          op,
		TxHash:      tx.Hash(),
		From:        a.Address,
		Nonce:       nonce,
		SubmittedAt: time.Now(),
		call: ethereum.CallMsg{
			From:  a.Address,
			To:    &l.cfg.Processor,
			Gas:   gas,
			Value: value,
			Data:  data,
		},
	}, nil
}

var errNotMined = errors.New("transaction not mined yet")

// Wait polls for the receipt of p with exponential backoff until it is found or the
// confirmation timeout elapses. A failed receipt yields a *RevertError.
func (l *Ledger) Wait(ctx context.Context, p *Pending) (*Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.ConfirmTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.PollInitial
	b.MaxInterval = l.cfg.PollMax
	b.MaxElapsedTime = 0

	receipt, err := backoff.RetryNotifyWithData(
		func() (*types.Receipt, error) {
			r, err := l.backend.TransactionReceipt(waitCtx, p.TxHash)
			switch {
			case errors.Is(err, ethereum.NotFound):
				return nil, errNotMined
			case err != nil:
				return nil, err
			}
			return r, nil
		},
		backoff.WithContext(b, waitCtx),
		func(err error, next time.Duration) {
			if !errors.Is(err, errNotMined) {
				log.Warn("failed to fetch receipt", "op", p.Op, "hash", p.TxHash, "error", err, "retry", next)
			}
		},
	)

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to wait for %s: %w", p.Op, ctx.Err())
		}
		metrics.ObserveConfirmation(p.Op, "timeout", p.SubmittedAt)
		return nil, fmt.Errorf("%w: %s %s after %s", ErrTimeout, p.Op, p.TxHash.Hex(), l.cfg.ConfirmTimeout)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.ObserveConfirmation(p.Op, "reverted", p.SubmittedAt)
		return nil, l.revertError(ctx, p, receipt)
	}

	metrics.ObserveConfirmation(p.Op, "confirmed", p.SubmittedAt)
	log.Info("transaction confirmed", "op", p.Op, "hash", p.TxHash, "block", receipt.BlockNumber)

	return &Confirmation{
		Op:          p.Op,
		TxHash:      p.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Logs:        receipt.Logs,
	}, nil
}

// revertError replays the call on the state after the including block to learn why
// it failed. That state holds the transactions sent just before p in the same block,
// which p may depend on, and nothing of p itself since it reverted.
func (l *Ledger) revertError(ctx context.Context, p *Pending, receipt *types.Receipt) error {
	_, err := l.backend.CallContract(ctx, p.call, receipt.BlockNumber)
	reason := reasonFromCallError(err)

	log.Warn("transaction reverted", "op", p.Op, "hash", p.TxHash, "reason", reason)

	return &RevertError{TxHash: p.TxHash, Reason: reason}
}

// Result is the outcome of one handle passed to WaitAll.
type Result struct {
	Pending      *Pending
	Confirmation *Confirmation
	Err          error
}

// confirm waits for p. On a timeout it asks applied whether the effect of the
// transaction is already visible in ledger state, and otherwise waits again up to
// MaxAttempts times. It never resubmits.
func (l *Ledger) confirm(ctx context.Context, p *Pending, applied func(context.Context) (bool, error)) (*Confirmation, error) {
	for attempt := 1; ; attempt++ {
		c, err := l.Wait(ctx, p)
		if !errors.Is(err, ErrTimeout) {
			return c, err
		}

		if applied != nil {
			ok, ierr := applied(ctx)
			switch {
			case ierr != nil:
				log.Warn("failed to inspect ledger state after timeout", "op", p.Op, "hash", p.TxHash, "error", ierr)
			case ok:
				log.Info("transaction effect found in ledger state", "op", p.Op, "hash", p.TxHash)
				metrics.ObserveConfirmation(p.Op, "inferred", p.SubmittedAt)
				return &Confirmation{Op: p.Op, TxHash: p.TxHash, Inferred: true}, nil
			}
		}

		if attempt >= l.cfg.MaxAttempts {
			return nil, err
		}

		log.Warn("confirmation timed out, waiting again", "op", p.Op, "hash", p.TxHash, "attempt", attempt)
	}
}
