// Package watcher follows the chain head and reports transactions sent to
// watched accounts, block by block and in transaction order.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Watcher defines the public interface of the block watcher
type Watcher interface {
	Start() error
	Stop() error
	Watch(accounts ...common.Address)
	SetTxCallback(callback TxCallback)
	GetStatus() Status
}

// ChainReader reads the chain head and blocks with their transactions.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}

// Transaction is a transaction sent to a watched account.
type Transaction struct {
	Hash  common.Hash
	Block uint64
	Index int
	To    common.Address
	Data  []byte
}

// TxCallback is called for every matching transaction. Calls are sequential:
// the next transaction is not reported until the callback returns.
type TxCallback func(ctx context.Context, tx Transaction)

// DefaultConfig polls at the original bot's 1.5s cadence.
var DefaultConfig = Config{
	PollInterval:     1500 * time.Millisecond,
	MaxBlocksPerPoll: 50,
}

type Config struct {
	PollInterval     time.Duration // head polling interval
	StartBlock       uint64        // first block to scan; 0 starts after the current head
	MaxBlocksPerPoll int           // cap on blocks walked in one poll
}

// Status reports the watcher's progress
type Status struct {
	IsRunning  bool
	LastBlock  uint64
	LastPoll   time.Time
	BlockCount uint64
	TxCount    uint64
	ErrorCount uint64
}

type blockWatcher struct {
	config   Config
	reader   ChainReader
	accounts map[common.Address]bool
	mu       sync.RWMutex
	callback TxCallback
	status   Status
	statusMu sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a watcher reading blocks from reader.
func New(config Config, reader ChainReader, logger *zap.Logger) Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig.PollInterval
	}
	if config.MaxBlocksPerPoll <= 0 {
		config.MaxBlocksPerPoll = DefaultConfig.MaxBlocksPerPoll
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &blockWatcher{
		config:   config,
		reader:   reader,
		accounts: make(map[common.Address]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

func (w *blockWatcher) Watch(accounts ...common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range accounts {
		w.accounts[a] = true
	}
}

func (w *blockWatcher) SetTxCallback(callback TxCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

func (w *blockWatcher) GetStatus() Status {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

// Start resolves the starting block and begins polling.
func (w *blockWatcher) Start() error {
	last := w.config.StartBlock
	if last > 0 {
		last--
	} else {
		head, err := w.reader.BlockNumber(w.ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain head: %w", err)
		}
		last = head
	}

	w.updateStatus(func(s *Status) {
		s.IsRunning = true
		s.LastBlock = last
	})
	w.logger.Info("Block watcher started",
		zap.Uint64("from_block", last+1),
		zap.Duration("poll_interval", w.config.PollInterval))

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop cancels polling and waits for an in-progress poll to return.
func (w *blockWatcher) Stop() error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.updateStatus(func(s *Status) { s.IsRunning = false })
		w.logger.Info("Block watcher stopped")
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout waiting for block watcher to stop")
	}
}

func (w *blockWatcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.updateStatus(func(s *Status) { s.ErrorCount++ })
				w.logger.Warn("Block poll failed", zap.Error(err))
			}
		}
	}
}

// poll walks every block after the last processed one up to the head. A
// failed block read stops the walk; it is retried on the next poll.
func (w *blockWatcher) poll(ctx context.Context) error {
	head, err := w.reader.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	w.updateStatus(func(s *Status) { s.LastPoll = time.Now() })

	last := w.GetStatus().LastBlock
	for n, walked := last+1, 0; n <= head && walked < w.config.MaxBlocksPerPoll; n, walked = n+1, walked+1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := w.reader.BlockByNumber(ctx, n)
		if err != nil {
			return fmt.Errorf("read block %d: %w", n, err)
		}
		w.processBlock(ctx, block)
		w.updateStatus(func(s *Status) {
			s.LastBlock = n
			s.BlockCount++
		})
	}
	return nil
}

func (w *blockWatcher) processBlock(ctx context.Context, block *Block) {
	w.mu.RLock()
	callback := w.callback
	w.mu.RUnlock()

	for i, tx := range block.Transactions {
		if tx.To == nil || !w.watching(*tx.To) {
			continue
		}
		w.updateStatus(func(s *Status) { s.TxCount++ })
		w.logger.Debug("Transaction to watched account",
			zap.String("tx", tx.Hash.Hex()),
			zap.Uint64("block", uint64(block.Number)),
			zap.String("to", tx.To.Hex()))
		if callback != nil {
			callback(ctx, Transaction{
				Hash:  tx.Hash,
				Block: uint64(block.Number),
				Index: i,
				To:    *tx.To,
				Data:  tx.Input,
			})
		}
	}
}

func (w *blockWatcher) watching(a common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[a]
}

func (w *blockWatcher) updateStatus(fn func(s *Status)) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	fn(&w.status)
}
