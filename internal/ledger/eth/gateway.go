// Package eth implements the ledger gateway against an EVM chain.
package eth

import (
	"context"
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
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/impactworks/impactstrike/internal/game"
	"github.com/impactworks/impactstrike/internal/ledger"
)

// cycleABI is the game contract surface the daily cycle consumes: the three
// state-changing calls plus the per-day cycle record view.
const cycleABI = `[
	{"inputs":[],"name":"lockTargeting","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"requestWinningCoordinates","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"resetDailyCycle","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"day","type":"uint256"}],"name":"dailyCycles","outputs":[
		{"internalType":"bool","name":"targetingLocked","type":"bool"},
		{"internalType":"bool","name":"coordinatesSet","type":"bool"},
		{"internalType":"uint8","name":"winningX","type":"uint8"},
		{"internalType":"uint8","name":"winningY","type":"uint8"},
		{"internalType":"uint8","name":"winningZ","type":"uint8"},
		{"internalType":"uint256","name":"participantCount","type":"uint256"},
		{"internalType":"uint256","name":"totalFees","type":"uint256"}
	],"stateMutability":"view","type":"function"}
]`

const receiptPollInterval = time.Second

// Config holds the chain connection settings for the gateway.
type Config struct {
	RPCURL          string
	ContractAddress string
	// PrivateKey is the hex-encoded key of the server wallet that signs
	// cycle transactions.
	PrivateKey string
	ChainID    int64
}

// Backend is the subset of an Ethereum client the gateway needs. *ethclient.Client
// satisfies it; tests may substitute a fake.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Gateway submits and reads game-cycle state on an EVM chain.
type Gateway struct {
	backend  Backend
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	closeFn  func()
}

// Close releases the underlying RPC connection when the gateway owns one.
func (g *Gateway) Close() {
	if g.closeFn != nil {
		g.closeFn()
	}
}

// Dial validates the configuration, connects to the RPC endpoint, and binds
// the game contract. Configuration errors are surfaced immediately.
func Dial(ctx context.Context, cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("ledger rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	gateway, err := New(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	gateway.closeFn = client.Close
	return gateway, nil
}

// New binds the game contract over an existing backend.
func New(backend Backend, cfg Config) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger backend is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger contract address %q is not a hex address", cfg.ContractAddress)
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("ledger signing key is required")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("ledger chain id is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger signing key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(cycleABI))
	if err != nil {
		return nil, fmt.Errorf("parse cycle abi: %w", err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, backend, backend, backend)

	return &Gateway{
		backend:  backend,
		contract: contract,
		opts:     opts,
	}, nil
}

// Submit sends one state-changing cycle action and returns its transaction
// hash.
func (g *Gateway) Submit(ctx context.Context, action ledger.Action) (ledger.TxHandle, error) {
	opts := *g.opts
	opts.Context = ctx
	tx, err := g.contract.Transact(&opts, string(action))
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", action, err)
	}
	return ledger.TxHandle(tx.Hash().Hex()), nil
}

// AwaitConfirmation polls for the transaction receipt until the transaction
// is mined or the context ends. A reverted transaction is an error.
func (g *Gateway) AwaitConfirmation(ctx context.Context, handle ledger.TxHandle) error {
	hash := common.HexToHash(string(handle))
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", handle)
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("read receipt for %s: %w", handle, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReadCycleRecord reads the per-day cycle record from the contract.
func (g *Gateway) ReadCycleRecord(ctx context.Context, day int64) (ledger.CycleRecord, error) {
	var out []any
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "dailyCycles", new(big.Int).SetInt64(day))
	if err != nil {
		return ledger.CycleRecord{}, fmt.Errorf("read cycle record for day %d: %w", day, err)
	}
	if len(out) != 7 {
		return ledger.CycleRecord{}, fmt.Errorf("cycle record for day %d has %d fields, want 7", day, len(out))
	}

	record := ledger.CycleRecord{
		Locked:         out[0].(bool),
		CoordinatesSet: out[1].(bool),
		Winning: game.Coordinate{
			X: int(out[2].(uint8)),
			Y: int(out[3].(uint8)),
			Z: int(out[4].(uint8)),
		},
		ParticipantCount: out[5].(*big.Int).Uint64(),
		TotalFees:        out[6].(*big.Int),
	}
	return record, nil
}
