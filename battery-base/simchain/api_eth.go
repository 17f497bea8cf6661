package simchain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/storageaccounting"
)

// ethAPI serves the part of the eth namespace that ethclient needs to drive the
// battery management processor.
type ethAPI struct {
	chain *Chain
}

func NewEthAPI(chain *Chain) *ethAPI {
	return &ethAPI{chain: chain}
}

func (api *ethAPI) ChainId(ctx context.Context) (*hexutil.Big, error) {
	id, err := api.chain.ChainID(ctx)
	return (*hexutil.Big)(id), err
}

func (api *ethAPI) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	n, err := api.chain.BlockNumber(ctx)
	return hexutil.Uint64(n), err
}

func (api *ethAPI) GetBalance(ctx context.Context, account common.Address, _ rpc.BlockNumberOrHash) (*hexutil.Big, error) {
	b, err := api.chain.BalanceAt(ctx, account, nil)
	return (*hexutil.Big)(b), err
}

func (api *ethAPI) GetTransactionCount(ctx context.Context, account common.Address, blockNrOrHash rpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	if n, ok := blockNrOrHash.Number(); ok && n == rpc.PendingBlockNumber {
		nonce, err := api.chain.PendingNonceAt(ctx, account)
		return hexutil.Uint64(nonce), err
	}
	nonce, err := api.chain.NonceAt(ctx, account, nil)
	return hexutil.Uint64(nonce), err
}

func (api *ethAPI) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	p, err := api.chain.SuggestGasPrice(ctx)
	return (*hexutil.Big)(p), err
}

func (api *ethAPI) MaxPriorityFeePerGas(ctx context.Context) (*hexutil.Big, error) {
	p, err := api.chain.SuggestGasTipCap(ctx)
	return (*hexutil.Big)(p), err
}

func (api *ethAPI) GetStorageAt(ctx context.Context, account common.Address, key common.Hash, blockNrOrHash rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	return api.chain.StorageAt(ctx, account, key, blockOf(&blockNrOrHash))
}

func (api *ethAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	err := tx.UnmarshalBinary(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode transaction: %w", err)
	}

	err = api.chain.SendTransaction(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// GetTransactionReceipt returns nil for unknown or pending transactions.
func (api *ethAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := api.chain.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	return r, err
}

// CallArgs is the call object accepted by eth_call and eth_estimateGas.
type CallArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas"`
	Value *hexutil.Big    `json:"value"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (args CallArgs) toCallMsg() ethereum.CallMsg {
	msg := ethereum.CallMsg{From: args.From, To: args.To}
	if args.Gas != nil {
		msg.Gas = uint64(*args.Gas)
	}
	if args.Value != nil {
		msg.Value = args.Value.ToInt()
	}
	switch {
	case args.Input != nil:
		msg.Data = *args.Input
	case args.Data != nil:
		msg.Data = *args.Data
	}
	return msg
}

func (api *ethAPI) Call(ctx context.Context, args CallArgs, blockNrOrHash *rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	return api.chain.CallContract(ctx, args.toCallMsg(), blockOf(blockNrOrHash))
}

func (api *ethAPI) EstimateGas(ctx context.Context, args CallArgs, _ *rpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	gas, err := api.chain.EstimateGas(ctx, args.toCallMsg())
	return hexutil.Uint64(gas), err
}

// FilterArgs is the filter object accepted by eth_getLogs.
type FilterArgs struct {
	BlockHash *common.Hash     `json:"blockHash"`
	FromBlock *rpc.BlockNumber `json:"fromBlock"`
	ToBlock   *rpc.BlockNumber `json:"toBlock"`
	Addresses addressList      `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

// addressList accepts a single address or an array of addresses.
type addressList []common.Address

func (l *addressList) UnmarshalJSON(data []byte) error {
	var one common.Address
	if err := json.Unmarshal(data, &one); err == nil {
		*l = addressList{one}
		return nil
	}
	var many []common.Address
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid address filter: %w", err)
	}
	*l = many
	return nil
}

// blockOf resolves a block number argument. Tags and block hashes stand for the
// latest block.
func blockOf(b *rpc.BlockNumberOrHash) *big.Int {
	if b == nil {
		return nil
	}
	n, ok := b.Number()
	if !ok {
		return nil
	}
	return blockBound(&n)
}

func blockBound(n *rpc.BlockNumber) *big.Int {
	if n == nil || *n < 0 {
		return nil
	}
	return big.NewInt(n.Int64())
}

func (api *ethAPI) GetLogs(ctx context.Context, args FilterArgs) ([]types.Log, error) {
	return api.chain.FilterLogs(ctx, ethereum.FilterQuery{
		BlockHash: args.BlockHash,
		FromBlock: blockBound(args.FromBlock),
		ToBlock:   blockBound(args.ToBlock),
		Addresses: args.Addresses,
		Topics:    args.Topics,
	})
}

// batteryBaseAPI exposes processor level diagnostics.
type batteryBaseAPI struct {
	chain *Chain
}

func NewBatteryBaseAPI(chain *Chain) *batteryBaseAPI {
	return &batteryBaseAPI{chain: chain}
}

func (api *batteryBaseAPI) GetNumberOfUsedSlots(ctx context.Context) (*hexutil.Big, error) {
	data, err := api.chain.StorageAt(ctx, address.BatteryManagementProcessorAddress, storageaccounting.UsedSlotsKey, nil)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(new(big.Int).SetBytes(data)), nil
}

// devAPI is the faucet of a development chain.
type devAPI struct {
	chain *Chain
}

// Fund credits amount wei to account and returns the new balance.
func (api *devAPI) Fund(ctx context.Context, account common.Address, amount *hexutil.Big) (*hexutil.Big, error) {
	if amount == nil || amount.ToInt().Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	api.chain.Fund(account, amount.ToInt())
	b, err := api.chain.BalanceAt(ctx, account, nil)
	return (*hexutil.Big)(b), err
}

// NewRPCServer serves chain under the eth, batterybase and dev namespaces.
func NewRPCServer(chain *Chain) (*rpc.Server, error) {
	server := rpc.NewServer()

	err := server.RegisterName("eth", NewEthAPI(chain))
	if err != nil {
		return nil, fmt.Errorf("failed to register eth api: %w", err)
	}

	err = server.RegisterName("batterybase", NewBatteryBaseAPI(chain))
	if err != nil {
		return nil, fmt.Errorf("failed to register batterybase api: %w", err)
	}

	err = server.RegisterName("dev", &devAPI{chain: chain})
	if err != nil {
		return nil, fmt.Errorf("failed to register dev api: %w", err)
	}

	return server, nil
}
