// Package registry publishes per-domain DKIM key commitments to an on-chain
// registry contract over a JSON-RPC endpoint.
package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// setCommitments replaces the full commitment set stored for a domain; it is
// not an incremental diff.
const registryABI = `[{"inputs":[{"internalType":"string","name":"domain","type":"string"},{"internalType":"uint256[]","name":"commitments","type":"uint256[]"}],"name":"setCommitments","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

const DefaultConfirmTimeout = 2 * time.Minute

// ErrReverted is returned when the registry transaction was mined but did not
// succeed.
var ErrReverted = errors.New("registry transaction reverted")

// Backend is the subset of an Ethereum client the publisher needs. It is
// satisfied by *ethclient.Client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

type Publisher struct {
	backend        Backend
	contract       common.Address
	key            *ecdsa.PrivateKey
	sender         common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
	contractABI    abi.ABI
}

// ParseKey decodes a hex-encoded secp256k1 private key, with or without a 0x
// prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return key, nil
}

// ParseAddress validates and decodes a hex contract address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid contract address [%s]", s)
	}
	return common.HexToAddress(s), nil
}

// New builds a publisher around an existing backend. confirmTimeout bounds
// the wait for on-chain confirmation of each transaction.
func New(backend Backend, chainID *big.Int, contract common.Address, key *ecdsa.PrivateKey, confirmTimeout time.Duration) (*Publisher, error) {
	if backend == nil {
		return nil, errors.New("registry: backend is required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("registry: invalid chain ID")
	}
	if contract == (common.Address{}) {
		return nil, errors.New("registry: contract address is required")
	}
	if key == nil {
		return nil, errors.New("registry: signing key is required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, err
	}
	return &Publisher{
		backend:        backend,
		contract:       contract,
		key:            key,
		sender:         ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		confirmTimeout: confirmTimeout,
		contractABI:    parsed,
	}, nil
}

// Dial connects to a JSON-RPC endpoint and builds a publisher for the
// registry contract deployed there.
func Dial(ctx context.Context, rpcURL string, contract common.Address, key *ecdsa.PrivateKey, confirmTimeout time.Duration) (*Publisher, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("unable to reach [%s]: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query the chain ID of [%s]: %w", rpcURL, err)
	}
	return New(client, chainID, contract, key, confirmTimeout)
}

// Sender returns the address transactions are signed with.
func (publisher *Publisher) Sender() common.Address {
	return publisher.sender
}

// Publish replaces the registry's commitment set for a domain and waits for
// the transaction to be mined. An empty commitment sequence is a local no-op
// and performs no network call. A confirmation timeout or a reverted
// transaction is returned as an error; retrying is up to the caller.
func (publisher *Publisher) Publish(ctx context.Context, domain string, commitments []*big.Int) (common.Hash, error) {
	if len(commitments) == 0 {
		return common.Hash{}, nil
	}
	data, err := publisher.contractABI.Pack("setCommitments", domain, commitments)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := publisher.backend.PendingNonceAt(ctx, publisher.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unable to fetch the account nonce: %w", err)
	}
	gasPrice, err := publisher.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unable to fetch a gas price: %w", err)
	}
	gasLimit, err := publisher.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: publisher.sender,
		To:   &publisher.contract,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &publisher.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(publisher.chainID), publisher.key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := publisher.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("unable to submit the transaction: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, publisher.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, publisher.backend, signedTx)
	if err != nil {
		return signedTx.Hash(), fmt.Errorf("transaction [%s] unconfirmed: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signedTx.Hash(), fmt.Errorf("%w: [%s]", ErrReverted, signedTx.Hash().Hex())
	}
	return signedTx.Hash(), nil
}
