package simchain_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evbattery/batterybase/battery-base/address"
	batterylogs "github.com/evbattery/batterybase/battery-base/logs"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/battery-base/storageaccounting"
	"github.com/stretchr/testify/require"
)

var chainID = big.NewInt(1337)

func newFundedKey(t *testing.T, chain *simchain.Chain) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain.Fund(crypto.PubkeyToAddress(key.PublicKey), new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether)))
	return key
}

func signTx(t *testing.T, chain *simchain.Chain, key *ecdsa.PrivateKey, mtx *mgmttx.ManagementTransaction, value *big.Int) *types.Transaction {
	t.Helper()
	ctx := context.Background()

	data, err := mtx.Encode()
	require.NoError(t, err)

	nonce, err := chain.PendingNonceAt(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	feeCap, err := chain.SuggestGasPrice(ctx)
	require.NoError(t, err)
	tip, err := chain.SuggestGasTipCap(ctx)
	require.NoError(t, err)

	if value == nil {
		value = new(big.Int)
	}

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		Gas:       mtx.RequiredGas(),
		GasTipCap: tip,
		GasFeeCap: feeCap,
		To:        &address.BatteryManagementProcessorAddress,
		Value:     value,
		Data:      data,
	})
	require.NoError(t, err)
	return tx
}

func TestSendAndMine(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	before, err := chain.BalanceAt(ctx, sender, nil)
	require.NoError(t, err)

	deposit := big.NewInt(params.Ether)
	tx := signTx(t, chain, key, &mgmttx.ManagementTransaction{
		RegisterVendor: []mgmttx.RegisterVendor{{Name: "Acme"}},
		Deposit:        []mgmttx.Deposit{{Amount: deposit}},
	}, deposit)

	require.NoError(t, chain.SendTransaction(ctx, tx))

	receipt, err := chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Len(t, receipt.Logs, 2)
	require.Equal(t, batterylogs.BatteryVendorRegistered, receipt.Logs[0].Topics[0])
	require.Equal(t, tx.Hash(), receipt.Logs[0].TxHash)
	require.Equal(t, uint64(1), receipt.BlockNumber.Uint64())

	after, err := chain.BalanceAt(ctx, sender, nil)
	require.NoError(t, err)
	spent := new(big.Int).Sub(before, after)
	fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	require.Equal(t, 0, new(big.Int).Add(deposit, fee).Cmp(spent))

	processorBalance, err := chain.BalanceAt(ctx, address.BatteryManagementProcessorAddress, nil)
	require.NoError(t, err)
	require.Equal(t, 0, deposit.Cmp(processorBalance))
}

func TestRevertedTransactionLeavesNoState(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)

	// registering batteries without a vendor record reverts
	tx := signTx(t, chain, key, &mgmttx.ManagementTransaction{
		RegisterBatteries: []mgmttx.RegisterBatteries{{Batteries: []common.Address{common.HexToAddress("0xb1")}}},
	}, nil)

	require.NoError(t, chain.SendTransaction(ctx, tx))

	receipt, err := chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	require.Empty(t, receipt.Logs)
	require.Equal(t, 0, chain.UsedSlots(address.BatteryManagementProcessorAddress))
	require.Equal(t, 0, chain.UsedSlots(address.BatteryIndexAddress))

	nonce, err := chain.PendingNonceAt(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestNonceChecks(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)

	mtx := &mgmttx.ManagementTransaction{RegisterServiceCenter: true}
	tx := signTx(t, chain, key, mtx, nil)
	require.NoError(t, chain.SendTransaction(ctx, tx))

	require.ErrorIs(t, chain.SendTransaction(ctx, tx), simchain.ErrAlreadyKnown)

	stale, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		Gas:       params.TxGas,
		GasTipCap: simchain.DefaultTipCap,
		GasFeeCap: new(big.Int).Mul(simchain.DefaultBaseFee, big.NewInt(2)),
		To:        &common.Address{},
	})
	require.NoError(t, err)
	require.ErrorIs(t, chain.SendTransaction(ctx, stale), simchain.ErrNonceTooLow)
}

func TestInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := signTx(t, chain, key, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)
	require.ErrorIs(t, chain.SendTransaction(ctx, tx), simchain.ErrInsufficientFunds)
}

func TestManualMining(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID, simchain.WithAutoMine(false))
	key := newFundedKey(t, chain)

	first := signTx(t, chain, key, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)
	require.NoError(t, chain.SendTransaction(ctx, first))

	_, err := chain.TransactionReceipt(ctx, first.Hash())
	require.ErrorIs(t, err, ethereum.NotFound)
	require.Equal(t, 1, chain.PendingCount())

	// the pool counts towards the pending nonce
	nonce, err := chain.PendingNonceAt(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	require.Equal(t, uint64(1), chain.Commit())

	receipt, err := chain.TransactionReceipt(ctx, first.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestCallContractReportsRevertReason(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)

	data, err := (&mgmttx.ManagementTransaction{
		TransferOwnership: []mgmttx.TransferOwnership{{Battery: common.HexToAddress("0xb1"), NewOwner: common.HexToAddress("0xca")}},
	}).Encode()
	require.NoError(t, err)

	_, err = chain.CallContract(ctx, ethereum.CallMsg{
		From: common.HexToAddress("0x01"),
		To:   &address.BatteryManagementProcessorAddress,
		Data: data,
	}, nil)
	require.ErrorIs(t, err, mgmttx.ErrUnknownBattery)
	require.ErrorContains(t, err, simchain.ExecutionRevertedPrefix)
}

func TestFilterLogs(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	vendorKey := newFundedKey(t, chain)
	scKey := newFundedKey(t, chain)

	deposit := big.NewInt(params.Ether)
	cell := common.HexToAddress("0xb1")
	require.NoError(t, chain.SendTransaction(ctx, signTx(t, chain, vendorKey, &mgmttx.ManagementTransaction{
		RegisterVendor:    []mgmttx.RegisterVendor{{Name: "Acme"}},
		Deposit:           []mgmttx.Deposit{{Amount: deposit}},
		RegisterBatteries: []mgmttx.RegisterBatteries{{Batteries: []common.Address{cell}}},
	}, deposit)))
	require.NoError(t, chain.SendTransaction(ctx, signTx(t, chain, scKey, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)))

	issued, err := chain.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{address.BatteryManagementProcessorAddress},
		Topics:    [][]common.Hash{{batterylogs.BatteryIssued}, {common.BytesToHash(cell.Bytes())}},
	})
	require.NoError(t, err)
	require.Len(t, issued, 1)

	secondBlock, err := chain.FilterLogs(ctx, ethereum.FilterQuery{FromBlock: big.NewInt(2)})
	require.NoError(t, err)
	require.Len(t, secondBlock, 1)
	require.Equal(t, batterylogs.BatteryServiceCenterRegistered, secondBlock[0].Topics[0])
}

func TestEthClientOverRPC(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	server, err := simchain.NewRPCServer(chain)
	require.NoError(t, err)
	defer server.Stop()

	client := ethclient.NewClient(rpc.DialInProc(server))
	defer client.Close()

	id, err := client.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, chainID, id)

	tx := signTx(t, chain, key, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)
	require.NoError(t, client.SendTransaction(ctx, tx))

	receipt, err := client.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Len(t, receipt.Logs, 1)

	_, err = client.TransactionReceipt(ctx, common.HexToHash("0x1234"))
	require.ErrorIs(t, err, ethereum.NotFound)

	nonce, err := client.PendingNonceAt(ctx, sender)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		Topics: [][]common.Hash{{batterylogs.BatteryServiceCenterRegistered}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, common.BytesToHash(sender.Bytes()), logs[0].Topics[1])

	used, err := client.StorageAt(ctx, address.BatteryIndexAddress, common.Hash{}, nil)
	require.NoError(t, err)
	require.Len(t, used, 32)
}

func TestDevFaucet(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)

	server, err := simchain.NewRPCServer(chain)
	require.NoError(t, err)
	defer server.Stop()

	client := rpc.DialInProc(server)
	defer client.Close()

	account := common.HexToAddress("0xfeed")

	var balance hexutil.Big
	err = client.CallContext(ctx, &balance, "dev_fund", account, (*hexutil.Big)(big.NewInt(params.Ether)))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(params.Ether), balance.ToInt())

	err = client.CallContext(ctx, &balance, "dev_fund", account, (*hexutil.Big)(big.NewInt(0)))
	require.Error(t, err)
}

func TestCallContractAtBlock(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)

	register := &mgmttx.ManagementTransaction{RegisterVendor: []mgmttx.RegisterVendor{{Name: "Acme"}}}
	require.NoError(t, chain.SendTransaction(ctx, signTx(t, chain, key, register, nil)))

	data, err := register.Encode()
	require.NoError(t, err)
	msg := ethereum.CallMsg{
		From: common.HexToAddress("0x02"),
		To:   &address.BatteryManagementProcessorAddress,
		Data: data,
	}

	_, err = chain.CallContract(ctx, msg, nil)
	require.ErrorIs(t, err, mgmttx.ErrDuplicateVendorName)

	_, err = chain.CallContract(ctx, msg, big.NewInt(1))
	require.ErrorIs(t, err, mgmttx.ErrDuplicateVendorName)

	// before the registration was mined the name was free
	_, err = chain.CallContract(ctx, msg, big.NewInt(0))
	require.NoError(t, err)

	_, err = chain.CallContract(ctx, msg, big.NewInt(2))
	require.ErrorContains(t, err, "block 2 not found")

	before, err := chain.StorageAt(ctx, address.BatteryManagementProcessorAddress, storageaccounting.UsedSlotsKey, big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, common.BytesToHash(before))

	after, err := chain.StorageAt(ctx, address.BatteryManagementProcessorAddress, storageaccounting.UsedSlotsKey, nil)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, common.BytesToHash(after))
}

func TestFeeCapBelowBaseFee(t *testing.T) {
	ctx := context.Background()
	baseFee := big.NewInt(50 * params.GWei)
	chain := simchain.New(chainID, simchain.WithBaseFee(baseFee))
	key := newFundedKey(t, chain)

	suggested, err := chain.SuggestGasPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, suggested.Cmp(baseFee))

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		Gas:       params.TxGas,
		GasTipCap: simchain.DefaultTipCap,
		GasFeeCap: simchain.DefaultBaseFee,
		To:        &common.Address{},
	})
	require.NoError(t, err)
	require.ErrorIs(t, chain.SendTransaction(ctx, tx), simchain.ErrFeeCapTooLow)

	require.NoError(t, chain.SendTransaction(ctx, signTx(t, chain, key, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)))
}

func TestSwitchAutoMine(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	key := newFundedKey(t, chain)

	chain.SetAutoMine(false)
	first := signTx(t, chain, key, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)
	require.NoError(t, chain.SendTransaction(ctx, first))
	require.Equal(t, 1, chain.PendingCount())

	_, err := chain.TransactionReceipt(ctx, first.Hash())
	require.ErrorIs(t, err, ethereum.NotFound)

	// the pooled transaction is mined along with the next one
	chain.SetAutoMine(true)
	second := signTx(t, chain, key, &mgmttx.ManagementTransaction{Deposit: []mgmttx.Deposit{{Amount: big.NewInt(0)}}}, nil)
	require.NoError(t, chain.SendTransaction(ctx, second))
	require.Equal(t, 0, chain.PendingCount())

	for _, tx := range []*types.Transaction{first, second} {
		receipt, err := chain.TransactionReceipt(ctx, tx.Hash())
		require.NoError(t, err)
		require.Equal(t, uint64(1), receipt.BlockNumber.Uint64())
	}
}
