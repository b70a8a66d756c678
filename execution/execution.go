// Package execution signs and sends the repeater's execute calls.
package execution

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"margin-repeater/contracts"
	"margin-repeater/execdata"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSubmissionInFlight is returned when Submit is called while an
	// earlier submission has not been mined yet.
	ErrSubmissionInFlight = errors.New("repeater submission already in flight")
	// ErrReverted is returned when the execute call was mined but reverted.
	ErrReverted = errors.New("execute transaction reverted")
)

// Executor sends batches to the repeater account.
type Executor interface {
	Submit(ctx context.Context, source common.Hash, codes []uint8, inputs [][]byte) (*Submission, error)
	Address() common.Address
	GetExecutionStats() ExecutionStatistics
}

type Config struct {
	PrivateKeyHex string         `json:"private_key_hex"`
	ChainID       *big.Int       `json:"chain_id"`
	Account       common.Address `json:"account"`
	Timeout       time.Duration  `json:"timeout"`
	DryRun        bool           `json:"dry_run"`
}

// Default configuration for Optimism mainnet
func DefaultConfig() *Config {
	return &Config{
		ChainID: big.NewInt(10),
		Timeout: 2 * time.Minute,
	}
}

// Backend is what the engine needs from a node connection. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type transactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type waitFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Engine submits execute calls one at a time.
type Engine struct {
	config     *Config
	privateKey *ecdsa.PrivateKey
	address    common.Address

	contract    transactor
	wait        waitFunc
	submissions *SubmissionManager

	inFlight atomic.Bool

	stats   ExecutionStatistics
	statsMu sync.Mutex

	logger *zap.Logger
}

// ParsePrivateKey decodes a hex private key, with or without 0x prefix.
func ParsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	privateKeyBytes, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return privateKey, nil
}

// NewEngine creates an engine sending to config.Account through backend.
func NewEngine(config *Config, backend Backend, logger *zap.Logger) (*Engine, error) {
	privateKey, err := ParsePrivateKey(config.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(config.Account, contracts.SmartMarginAccount, backend, backend, backend)
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, backend, tx)
	}
	return newEngine(config, privateKey, contract, wait, logger), nil
}

func newEngine(config *Config, privateKey *ecdsa.PrivateKey, contract transactor, wait waitFunc, logger *zap.Logger) *Engine {
	return &Engine{
		config:      config,
		privateKey:  privateKey,
		address:     crypto.PubkeyToAddress(privateKey.PublicKey),
		contract:    contract,
		wait:        wait,
		submissions: NewSubmissionManager(),
		logger:      logger,
	}
}

// Address is the executor address derived from the private key.
func (e *Engine) Address() common.Address {
	return e.address
}

// Submissions exposes the submissions made during this run.
func (e *Engine) Submissions() *SubmissionManager {
	return e.submissions
}

// Submit sends execute(codes, inputs) to the repeater account and waits for
// it to be mined, bounded by the configured timeout. Only one submission may
// be in flight; a concurrent call fails with ErrSubmissionInFlight.
func (e *Engine) Submit(ctx context.Context, source common.Hash, codes []uint8, inputs [][]byte) (*Submission, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.updateStats(func(s *ExecutionStatistics) { s.Rejected++ })
		return nil, ErrSubmissionInFlight
	}
	defer e.inFlight.Store(false)

	now := time.Now()
	sub := &Submission{
		ID:          uuid.New(),
		Source:      source,
		Codes:       codes,
		Inputs:      inputs,
		Status:      StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if e.config.DryRun {
		calldata, err := execdata.PackExecute(codes, inputs)
		if err != nil {
			return nil, fmt.Errorf("pack execute: %w", err)
		}
		sub.Status = StatusDryRun
		e.submissions.Add(sub)
		e.logger.Info("Dry run, execute not sent",
			zap.String("source", source.Hex()),
			zap.String("account", e.config.Account.Hex()),
			zap.String("calldata", hexutil.Encode(calldata)))
		return e.submissions.Get(sub.ID), nil
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	opts, err := bind.NewKeyedTransactorWithChainID(e.privateKey, e.config.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, "execute", codes, inputs)
	if err != nil {
		sub.Status = StatusFailed
		sub.Error = err.Error()
		e.submissions.Add(sub)
		e.updateStats(func(s *ExecutionStatistics) { s.Failed++ })
		return e.submissions.Get(sub.ID), fmt.Errorf("send execute: %w", err)
	}

	sub.TxHash = tx.Hash()
	e.submissions.Add(sub)
	e.updateStats(func(s *ExecutionStatistics) { s.Submitted++ })
	e.logger.Info("Execute sent",
		zap.String("source", source.Hex()),
		zap.String("tx", sub.TxHash.Hex()),
		zap.Int("commands", len(codes)))

	receipt, err := e.wait(ctx, tx)
	if err != nil {
		e.submissions.update(sub.ID, func(s *Submission) {
			s.Status = StatusFailed
			s.Error = err.Error()
		})
		e.updateStats(func(s *ExecutionStatistics) { s.Failed++ })
		return e.submissions.Get(sub.ID), fmt.Errorf("wait for %s: %w", sub.TxHash.Hex(), err)
	}

	status := StatusMined
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = StatusReverted
	}
	e.submissions.update(sub.ID, func(s *Submission) {
		s.Status = status
		s.GasUsed = receipt.GasUsed
		if receipt.BlockNumber != nil {
			s.Block = receipt.BlockNumber.Uint64()
		}
	})

	final := e.submissions.Get(sub.ID)
	if status == StatusReverted {
		e.updateStats(func(s *ExecutionStatistics) { s.Reverted++ })
		return final, fmt.Errorf("%w: %s", ErrReverted, final.TxHash.Hex())
	}
	e.updateStats(func(s *ExecutionStatistics) { s.Mined++ })
	e.logger.Info("Execute mined",
		zap.String("tx", final.TxHash.Hex()),
		zap.Uint64("block", final.Block),
		zap.Uint64("gas_used", final.GasUsed))
	return final, nil
}

func (e *Engine) updateStats(fn func(s *ExecutionStatistics)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	fn(&e.stats)
}

func (e *Engine) GetExecutionStats() ExecutionStatistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}
