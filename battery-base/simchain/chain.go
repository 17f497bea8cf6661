// Package simchain is an in-memory chain that executes the battery management
// processor. Its methods mirror the subset of *ethclient.Client the ledger adapter
// uses, so either can back the adapter.
package simchain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/journal"
)

var (
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrFeeCapTooLow      = errors.New("max fee per gas less than block base fee")
	ErrAlreadyKnown      = errors.New("already known")
)

// ExecutionRevertedPrefix starts every error returned for a reverted call.
const ExecutionRevertedPrefix = "execution reverted"

var (
	DefaultBaseFee = big.NewInt(params.GWei)
	DefaultTipCap  = big.NewInt(params.GWei / 10)
)

type block struct {
	number uint64
	hash   common.Hash
	time   uint64
	txs    []common.Hash
	undo   map[slotKey]common.Hash
}

// Chain is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	chainID *big.Int
	signer  types.Signer
	baseFee *big.Int
	tipCap  *big.Int
	now     func() time.Time

	// AutoMine mines a block on every accepted transaction. When false, transactions
	// wait in the pool until Commit.
	autoMine bool

	state    *memState
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64

	pool     []*types.Transaction
	blocks   []block
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
}

type Option func(*Chain)

func WithAutoMine(on bool) Option {
	return func(c *Chain) { c.autoMine = on }
}

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func WithBaseFee(fee *big.Int) Option {
	return func(c *Chain) { c.baseFee = new(big.Int).Set(fee) }
}

func New(chainID *big.Int, opts ...Option) *Chain {
	c := &Chain{
		chainID:  new(big.Int).Set(chainID),
		signer:   types.LatestSignerForChainID(chainID),
		baseFee:  new(big.Int).Set(DefaultBaseFee),
		tipCap:   new(big.Int).Set(DefaultTipCap),
		now:      time.Now,
		autoMine: true,
		state:    newMemState(),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	for _, o := range opts {
		o(c)
	}

	c.blocks = append(c.blocks, block{number: 0, hash: crypto.Keccak256Hash([]byte("batterybase genesis"), c.chainID.Bytes()), time: uint64(c.now().Unix())})

	return c
}

// Fund credits amount wei to the account.
func (c *Chain) Fund(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance(account).Add(c.balance(account), amount)
}

func (c *Chain) SetAutoMine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = on
}

func (c *Chain) balance(account common.Address) *big.Int {
	b, ok := c.balances[account]
	if !ok {
		b = new(big.Int)
		c.balances[account] = b
	}
	return b
}

func (c *Chain) head() block {
	return c.blocks[len(c.blocks)-1]
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head().number, nil
}

func (c *Chain) pendingNonce(account common.Address) uint64 {
	nonce := c.nonces[account]
	for _, tx := range c.pool {
		from, _ := types.Sender(c.signer, tx)
		if from == account {
			nonce++
		}
	}
	return nonce
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingNonce(account), nil
}

func (c *Chain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// BalanceAt returns the latest balance; historical balances are not kept.
func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(account)), nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.tipCap), nil
}

// SuggestGasPrice suggests twice the base fee plus the tip, which stays valid for the
// lifetime of the chain since the base fee is constant.
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	p := new(big.Int).Mul(c.baseFee, big.NewInt(2))
	return p.Add(p, c.tipCap), nil
}

// stateAt returns the state after block blockNumber and that block. A nil or negative
// number stands for the latest block.
func (c *Chain) stateAt(blockNumber *big.Int) (storageutil.StateAccess, block, error) {
	head := c.head()
	if blockNumber == nil || blockNumber.Sign() < 0 {
		return c.state, head, nil
	}
	if !blockNumber.IsUint64() || blockNumber.Uint64() > head.number {
		return nil, block{}, fmt.Errorf("block %s not found", blockNumber)
	}
	n := blockNumber.Uint64()
	return historicState{current: c.state, later: c.blocks[n+1:]}, c.blocks[n], nil
}

// StorageAt reads a storage slot as of blockNumber.
func (c *Chain) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, _, err := c.stateAt(blockNumber)
	if err != nil {
		return nil, err
	}
	v := state.GetState(account, key)
	return v.Bytes(), nil
}

func (c *Chain) requiredGas(data []byte, to *common.Address) (uint64, error) {
	if to == nil || *to != address.BatteryManagementProcessorAddress {
		return params.TxGas, nil
	}
	mtx, err := mgmttx.Unpack(data)
	if err != nil {
		return 0, err
	}
	return mtx.RequiredGas(), nil
}

// EstimateGas returns the fixed schedule cost of the call. It fails when the call
// would revert.
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.requiredGas(msg.Data, msg.To)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ExecutionRevertedPrefix, err)
	}
	_, err = c.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, err
	}
	return gas, nil
}

// CallContract executes msg on top of the state after block blockNumber without
// committing anything. Balances are not checked.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.To == nil || *msg.To != address.BatteryManagementProcessorAddress {
		return nil, nil
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	state, at, err := c.stateAt(blockNumber)
	if err != nil {
		return nil, err
	}

	j := journal.New(state)
	defer j.Discard()

	callHash := crypto.Keccak256Hash(at.hash[:], msg.From[:], msg.Data)

	_, err = mgmttx.Execute(msg.Data, at.number+1, callHash, msg.From, value, j)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ExecutionRevertedPrefix, err)
	}
	return nil, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.ChainId().Cmp(c.chainID) != 0 {
		return fmt.Errorf("invalid chain id %s, expected %s", tx.ChainId(), c.chainID)
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if _, known := c.receipts[tx.Hash()]; known {
		return ErrAlreadyKnown
	}
	for _, p := range c.pool {
		if p.Hash() == tx.Hash() {
			return ErrAlreadyKnown
		}
	}

	expected := c.pendingNonce(from)
	switch {
	case tx.Nonce() < expected:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), expected)
	}

	if tx.GasFeeCap().Cmp(c.baseFee) < 0 {
		return fmt.Errorf("%w: address %s, maxFeePerGas: %s, baseFee: %s", ErrFeeCapTooLow, from.Hex(), tx.GasFeeCap(), c.baseFee)
	}

	gas, err := c.requiredGas(tx.Data(), tx.To())
	if err == nil && tx.Gas() < gas {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), gas)
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasFeeCap())
	cost.Add(cost, tx.Value())
	if c.balance(from).Cmp(cost) < 0 {
		return fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, from.Hex(), c.balance(from), cost)
	}

	c.pool = append(c.pool, tx)
	log.Trace("transaction accepted", "hash", tx.Hash(), "from", from, "nonce", tx.Nonce())

	if c.autoMine {
		c.commit()
	}

	return nil
}

// Commit mines every pooled transaction into a new block and returns its number.
func (c *Chain) Commit() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit()
}

// PendingCount is the number of transactions waiting for the next block.
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pool)
}

func (c *Chain) commit() uint64 {
	parent := c.head()
	number := parent.number + 1

	var num [8]byte
	binary.BigEndian.PutUint64(num[:], number)
	hashInput := [][]byte{parent.hash[:], num[:]}
	for _, tx := range c.pool {
		h := tx.Hash()
		hashInput = append(hashInput, h[:])
	}

	b := block{
		number: number,
		hash:   crypto.Keccak256Hash(hashInput...),
		time:   max(uint64(c.now().Unix()), parent.time+1),
	}

	var cumulativeGas uint64
	var logIndex uint

	c.state.undo = make(map[slotKey]common.Hash)
	for txIx, tx := range c.pool {
		receipt := c.apply(tx, b, uint(txIx))

		cumulativeGas += receipt.GasUsed
		receipt.CumulativeGasUsed = cumulativeGas

		for _, l := range receipt.Logs {
			l.Index = logIndex
			logIndex++
			c.logs = append(c.logs, *l)
		}

		c.receipts[tx.Hash()] = receipt
		b.txs = append(b.txs, tx.Hash())
	}

	b.undo = c.state.undo
	c.state.undo = nil

	c.pool = nil
	c.blocks = append(c.blocks, b)

	log.Debug("block mined", "number", number, "txs", len(b.txs), "gas", cumulativeGas)

	return number
}

func (c *Chain) apply(tx *types.Transaction, b block, txIx uint) *types.Receipt {
	from, _ := types.Sender(c.signer, tx)

	c.nonces[from] = tx.Nonce() + 1

	gasUsed, err := c.requiredGas(tx.Data(), tx.To())
	if err != nil {
		gasUsed = tx.Gas()
	}

	effectiveTip := new(big.Int).Sub(tx.GasFeeCap(), c.baseFee)
	if effectiveTip.Cmp(tx.GasTipCap()) > 0 {
		effectiveTip.Set(tx.GasTipCap())
	}
	effectiveGasPrice := new(big.Int).Add(c.baseFee, effectiveTip)

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), effectiveGasPrice)
	c.balance(from).Sub(c.balance(from), fee)

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed,
		EffectiveGasPrice: effectiveGasPrice,
		BlockHash:         b.hash,
		BlockNumber:       new(big.Int).SetUint64(b.number),
		TransactionIndex:  txIx,
	}

	if err != nil {
		log.Warn("undecodable management transaction", "hash", tx.Hash(), "error", err)
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}

	value := tx.Value()
	if c.balance(from).Cmp(value) < 0 {
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}

	to := *tx.To()
	if to != address.BatteryManagementProcessorAddress {
		c.balance(from).Sub(c.balance(from), value)
		c.balance(to).Add(c.balance(to), value)
		return receipt
	}

	j := journal.New(c.state)
	logs, err := mgmttx.Execute(tx.Data(), b.number, tx.Hash(), from, value, j)
	if err != nil {
		j.Discard()
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}
	j.Commit()

	c.balance(from).Sub(c.balance(from), value)
	c.balance(to).Add(c.balance(to), value)

	for _, l := range logs {
		l.TxHash = tx.Hash()
		l.TxIndex = txIx
		l.BlockHash = b.hash
		l.BlockNumber = b.number
	}
	receipt.Logs = logs

	return receipt
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// FilterLogs returns logs matching q. Block ranges default to the whole chain.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := uint64(0)
	to := c.head().number
	if q.FromBlock != nil && q.FromBlock.Sign() >= 0 {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil && q.ToBlock.Sign() >= 0 {
		to = q.ToBlock.Uint64()
	}

	out := []types.Log{}
	for _, l := range c.logs {
		if q.BlockHash != nil {
			if l.BlockHash != *q.BlockHash {
				continue
			}
		} else if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if matchLog(l, q.Addresses, q.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchLog(l types.Log, addresses []common.Address, topics [][]common.Hash) bool {
	if len(addresses) > 0 {
		found := false
		for _, a := range addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(topics) > len(l.Topics) {
		return false
	}

	for i, alternatives := range topics {
		if len(alternatives) == 0 {
			continue
		}
		match := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

// Close is a no-op so that Chain can stand in for *ethclient.Client.
func (c *Chain) Close() {}

// UsedSlots returns the number of non-empty storage slots held by account.
func (c *Chain) UsedSlots(account common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.UsedSlots(account)
}
