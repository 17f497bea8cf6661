// Package actor holds the identity an operation is performed as: the signing key of
// the account and the fee policy used for its transactions. An Actor is built once
// at process start and passed into every mutating operation.
package actor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FeePolicy fixes the EIP-1559 fee parameters of an actor's transactions. Nil fields
// are filled from the node's suggestions at submission time.
type FeePolicy struct {
	TipCap *big.Int
	FeeCap *big.Int
}

// FeeSuggester is implemented by *ethclient.Client.
type FeeSuggester interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Resolve returns the tip and fee caps to use, asking the node for missing values.
func (p FeePolicy) Resolve(ctx context.Context, s FeeSuggester) (tipCap, feeCap *big.Int, err error) {
	tipCap = p.TipCap
	if tipCap == nil {
		tipCap, err = s.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
	}

	feeCap = p.FeeCap
	if feeCap == nil {
		feeCap, err = s.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to suggest gas fee cap: %w", err)
		}
	}

	if feeCap.Cmp(tipCap) < 0 {
		return nil, nil, fmt.Errorf("fee cap %s is below tip cap %s", feeCap, tipCap)
	}

	return tipCap, feeCap, nil
}

type Actor struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
	Fees    FeePolicy
}

func New(key *ecdsa.PrivateKey, fees FeePolicy) *Actor {
	return &Actor{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
		Fees:    fees,
	}
}

// Sign signs tx with the London signer for chainID.
func (a *Actor) Sign(chainID *big.Int, tx types.TxData) (*types.Transaction, error) {
	signed, err := types.SignNewTx(a.Key, types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
