// Package mirror turns observed target transactions into repeater batches
// and submits them.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"margin-repeater/execdata"
	"margin-repeater/snapshot"
	"margin-repeater/trade"
	"margin-repeater/watcher"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrMalformedCalldata is returned for execute calldata whose arguments do not unpack.
var ErrMalformedCalldata = errors.New("malformed execute calldata")

// FetchError reports a failed chain read while preparing a batch.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch state: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ProviderAt returns a provider reading state as of the given block.
type ProviderAt func(block *big.Int) snapshot.Provider

// Result is a target batch rewritten for the repeater.
type Result struct {
	Details    *trade.OperationDetails
	Operations []execdata.Operation
	Codes      []uint8
	Inputs     [][]byte
}

// Pipeline decodes, classifies, rewrites and re-encodes one target transaction.
type Pipeline struct {
	targetAt   ProviderAt
	repeater   snapshot.Provider
	classifier *trade.Classifier
	rewriter   *trade.Rewriter
	account    common.Address
	logger     *zap.Logger

	mu   sync.Mutex
	seen map[common.Address]uint64
}

// NewPipeline creates a pipeline mirroring onto account. Target state is
// read through targetAt; repeater state through repeater at the latest block.
func NewPipeline(targetAt ProviderAt, repeater snapshot.Provider, minMargin *big.Int, account common.Address, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		targetAt:   targetAt,
		repeater:   repeater,
		classifier: trade.NewClassifier(logger),
		rewriter:   trade.NewRewriter(repeater, minMargin, logger),
		account:    account,
		logger:     logger,
		seen:       make(map[common.Address]uint64),
	}
}

// Process runs the pipeline for tx. The target's positions and orders are
// read at the parent block so they reflect the state the batch acted on.
// A second batch from the same account in one block is still read at the
// parent block and does not see the first batch's changes.
// Calldata that is not an execute call returns execdata.ErrNotExecute.
func (p *Pipeline) Process(ctx context.Context, tx watcher.Transaction) (*Result, error) {
	codes, inputs, err := execdata.UnpackExecute(tx.Data)
	if errors.Is(err, execdata.ErrNotExecute) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalldata, err)
	}
	ops, err := execdata.Decode(codes, inputs)
	if err != nil {
		return nil, err
	}
	if p.sameBlock(tx) {
		p.logger.Warn("Target state predates an earlier batch in the same block",
			zap.String("tx", tx.Hash.Hex()),
			zap.String("account", tx.To.Hex()),
			zap.Uint64("block", tx.Block))
	}

	var (
		target    *snapshot.Snapshot
		orders    []snapshot.ConditionalOrder
		repeater  *snapshot.Snapshot
		targetAt  = p.targetAt(parentBlock(tx.Block))
		needOrder = hasConditional(ops)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		target, err = targetAt.Snapshot(gctx, tx.To)
		return err
	})
	if needOrder {
		g.Go(func() error {
			var err error
			orders, err = targetAt.ConditionalOrders(gctx, tx.To)
			return err
		})
	}
	g.Go(func() error {
		var err error
		repeater, err = p.repeater.Snapshot(gctx, p.account)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &FetchError{Err: err}
	}

	details, err := p.classifier.Classify(trade.ClassifyInput{
		Operations:      ops,
		Positions:       target.Positions,
		Orders:          orders,
		Target:          tx.To,
		TargetBalance:   target.TotalBalance,
		RepeaterBalance: repeater.TotalBalance,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("Classified target batch",
		zap.String("tx", tx.Hash.Hex()),
		zap.Stringer("details", details))

	out, err := p.rewriter.Rewrite(ctx, details, ops, p.account)
	if err != nil {
		if trade.IsSkip(err) || errors.Is(err, trade.ErrOperationNotFound) {
			return nil, err
		}
		// the rewriter's only other failure is its repeater read
		return nil, &FetchError{Err: err}
	}

	outCodes, outInputs, err := execdata.Encode(out)
	if err != nil {
		return nil, fmt.Errorf("encode repeater batch: %w", err)
	}
	if len(outCodes) == 0 {
		return nil, &trade.SkipError{Reason: "rewritten batch is empty"}
	}

	return &Result{
		Details:    details,
		Operations: out,
		Codes:      outCodes,
		Inputs:     outInputs,
	}, nil
}

// sameBlock records tx and reports whether an earlier batch from the same
// account was already processed in its block.
func (p *Pipeline) sameBlock(tx watcher.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.seen[tx.To]
	p.seen[tx.To] = tx.Block
	return ok && last == tx.Block
}

func parentBlock(n uint64) *big.Int {
	if n == 0 {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(n - 1)
}

func hasConditional(ops []execdata.Operation) bool {
	for _, op := range ops {
		if op.Command.IsConditional() {
			return true
		}
	}
	return false
}
