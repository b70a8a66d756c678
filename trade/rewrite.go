package trade

import (
	"context"
	"fmt"
	"math/big"

	"margin-repeater/commands"
	"margin-repeater/execdata"
	"margin-repeater/snapshot"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// DefaultMinMargin is the protocol's minimum position margin, 50 sUSD.
	DefaultMinMargin = new(big.Int).Mul(big.NewInt(50), big.NewInt(1e18))
	// MaxInt256 sized reduce-only orders always close the whole position.
	MaxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

// Rewriter scales a classified target batch onto the repeater account. It
// holds no state between calls; every call reads the repeater afresh.
type Rewriter struct {
	provider  snapshot.Provider
	minMargin *big.Int
	logger    *zap.Logger
}

// NewRewriter creates a Rewriter. A nil minMargin uses DefaultMinMargin.
func NewRewriter(provider snapshot.Provider, minMargin *big.Int, logger *zap.Logger) *Rewriter {
	if minMargin == nil {
		minMargin = DefaultMinMargin
	}
	return &Rewriter{provider: provider, minMargin: minMargin, logger: logger}
}

// Rewrite returns the operations the repeater should execute. Business-rule
// rejections are reported as *SkipError.
func (r *Rewriter) Rewrite(ctx context.Context, details *OperationDetails, ops []execdata.Operation, repeater common.Address) ([]execdata.Operation, error) {
	snap, err := r.provider.Snapshot(ctx, repeater)
	if err != nil {
		return nil, fmt.Errorf("fetch repeater snapshot: %w", err)
	}

	var out []execdata.Operation
	switch {
	case details.Type.IsOpen():
		out, err = r.rewriteOpen(details, ops, snap)
	case details.Type.IsSize():
		out, err = r.rewriteSize(details, ops, snap)
	case details.Type.IsClose():
		out, err = r.rewriteClose(ctx, details, ops, snap, repeater)
	case details.Type.IsMargin():
		out, err = r.rewriteMargin(details, ops, snap)
	case details.Type == PlaceConditionalOrder:
		out, err = r.rewriteConditional(ctx, details, snap, repeater)
	default:
		return nil, fmt.Errorf("unknown operation type %q", details.Type)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("Rewrote batch for repeater",
		zap.String("repeater", repeater.Hex()),
		zap.String("type", string(details.Type)),
		zap.Int("operations", len(out)))
	return out, nil
}

func (r *Rewriter) rewriteOpen(d *OperationDetails, ops []execdata.Operation, snap *snapshot.Snapshot) ([]execdata.Operation, error) {
	open, ok := findSized(ops, d.Market)
	if !ok {
		return nil, notFound("open command for %s", d.Market.Hex())
	}

	margin := scale(d.MarginAmount, d.Proportion)
	size := scale(abs(open.Size()), d.Proportion.Mul(direction(d.Type == OpenLong)))

	if margin.Cmp(r.minMargin) < 0 {
		return nil, skip(fmt.Sprintf("margin %s below protocol minimum %s", margin, r.minMargin))
	}
	if margin.Cmp(snap.TotalBalance) > 0 {
		return nil, skip(fmt.Sprintf("margin %s exceeds repeater balance %s", margin, snap.TotalBalance))
	}

	withdrawals, marketIdle, err := r.fund(margin, d.Market, snap)
	if err != nil {
		return nil, err
	}

	out := withdrawals
	if marketIdle.Sign() > 0 {
		out = append(out, execdata.NewOperation(&commands.WithdrawAllMarginArgs{Market: d.Market}))
	}
	out = append(out,
		execdata.NewOperation(&commands.ModifyMarginArgs{Market: d.Market, Amount: margin}),
		execdata.NewOperation(open.WithSize(size)),
	)
	return out, nil
}

// fund plans the withdrawals needed so that free margin covers amount.
// Idle margin of market itself is reported separately and always counts
// toward the amount; the caller decides where its withdrawal goes.
func (r *Rewriter) fund(amount *big.Int, market common.Address, snap *snapshot.Snapshot) ([]execdata.Operation, *big.Int, error) {
	marketIdle := new(big.Int)
	var others []snapshot.IdlePosition
	for _, p := range snap.Idle.Positions {
		if p.Market == market {
			marketIdle.Add(marketIdle, p.IdleMargin)
			continue
		}
		others = append(others, p)
	}

	available := new(big.Int).Add(snap.SmartBalance, marketIdle)
	if amount.Cmp(available) <= 0 {
		return nil, marketIdle, nil
	}

	shortfall := new(big.Int).Sub(amount, available)
	selected, err := SelectForWithdraw(others, shortfall)
	if err != nil {
		return nil, nil, &SkipError{Reason: "not enough idle margin to fund repeater", Err: err}
	}

	out := make([]execdata.Operation, 0, len(selected))
	for _, p := range selected {
		out = append(out, execdata.NewOperation(&commands.WithdrawAllMarginArgs{Market: p.Market}))
	}
	r.logger.Debug("Withdrawing idle margin",
		zap.String("shortfall", shortfall.String()),
		zap.Int("markets", len(selected)))
	return out, marketIdle, nil
}

func (r *Rewriter) rewriteSize(d *OperationDetails, ops []execdata.Operation, snap *snapshot.Snapshot) ([]execdata.Operation, error) {
	pos, ok := snapshot.FindOpen(snap.Positions, d.Market)
	if !ok {
		return nil, skip("repeater has no open position in " + d.Market.Hex())
	}
	open, ok := findSized(ops, d.Market)
	if !ok {
		return nil, notFound("order command for %s", d.Market.Hex())
	}

	size := scale(pos.Size, d.Proportion.Mul(direction(d.Type == IncreaseSize)))
	if size.Sign() == 0 {
		return nil, skip("scaled size delta is zero")
	}
	return []execdata.Operation{execdata.NewOperation(open.WithSize(size))}, nil
}

func (r *Rewriter) rewriteClose(ctx context.Context, d *OperationDetails, ops []execdata.Operation, snap *snapshot.Snapshot, repeater common.Address) ([]execdata.Operation, error) {
	pos, ok := snapshot.FindOpen(snap.Positions, d.Market)
	if !ok {
		return nil, skip("repeater has no open position in " + d.Market.Hex())
	}
	orders, err := r.provider.ConditionalOrders(ctx, repeater)
	if err != nil {
		return nil, fmt.Errorf("fetch repeater conditional orders: %w", err)
	}

	var out []execdata.Operation
	for _, o := range orders {
		if o.MarketKey == pos.Market.Key && o.Live() {
			out = append(out, cancelOrder(o))
		}
	}

	closes := 0
	for _, op := range ops {
		if !op.Command.IsClose() {
			continue
		}
		if args, ok := op.Args.(commands.MarketArgs); ok && args.MarketAddress() == d.Market {
			out = append(out, op)
			closes++
		}
	}
	if closes == 0 {
		return nil, notFound("close command for %s", d.Market.Hex())
	}
	return out, nil
}

func (r *Rewriter) rewriteMargin(d *OperationDetails, ops []execdata.Operation, snap *snapshot.Snapshot) ([]execdata.Operation, error) {
	pos, ok := snapshot.FindOpen(snap.Positions, d.Market)
	if !ok {
		return nil, skip("repeater has no open position in " + d.Market.Hex())
	}

	var modify *commands.ModifyMarginArgs
	for _, op := range ops {
		if m, ok := op.Args.(*commands.ModifyMarginArgs); ok && m.Market == d.Market {
			modify = m
			break
		}
	}
	if modify == nil {
		return nil, notFound("margin command for %s", d.Market.Hex())
	}

	delta := scale(pos.Margin, d.Proportion.Mul(direction(d.Type == IncreaseMargin)))
	var out []execdata.Operation
	if d.Type == IncreaseMargin {
		if delta.Cmp(snap.TotalBalance) > 0 {
			return nil, skip(fmt.Sprintf("margin increase %s exceeds repeater balance %s", delta, snap.TotalBalance))
		}
		withdrawals, _, err := r.fund(delta, d.Market, snap)
		if err != nil {
			return nil, err
		}
		out = withdrawals
	} else {
		remaining := new(big.Int).Add(pos.Margin, delta)
		if remaining.Cmp(r.minMargin) < 0 {
			return nil, skip(fmt.Sprintf("remaining margin %s below protocol minimum %s", remaining, r.minMargin))
		}
	}

	return append(out, execdata.NewOperation(&commands.ModifyMarginArgs{Market: modify.Market, Amount: delta})), nil
}

func (r *Rewriter) rewriteConditional(ctx context.Context, d *OperationDetails, snap *snapshot.Snapshot, repeater common.Address) ([]execdata.Operation, error) {
	orders, err := r.provider.ConditionalOrders(ctx, repeater)
	if err != nil {
		return nil, fmt.Errorf("fetch repeater conditional orders: %w", err)
	}

	var pos *snapshot.Position
	for i := range snap.Positions {
		if snap.Positions[i].Market.Key == d.MarketKey && snap.Positions[i].IsOpen() {
			pos = &snap.Positions[i]
			break
		}
	}

	var out []execdata.Operation
	unprotected := false
	legs := []struct {
		leg *ConditionalLeg
		typ snapshot.OrderType
	}{
		{d.Conditional.TakeProfit, snapshot.OrderLimit},
		{d.Conditional.StopLoss, snapshot.OrderStop},
	}
	for _, l := range legs {
		if l.leg == nil {
			continue
		}
		for _, o := range orders {
			if o.MarketKey == d.MarketKey && o.Type == l.typ && o.Live() {
				out = append(out, cancelOrder(o))
			}
		}
		if l.leg.IsCancelled {
			continue
		}
		// stale same-side orders are still cancelled without a position
		if pos == nil {
			unprotected = true
			continue
		}
		out = append(out, execdata.NewOperation(exitOrder(*pos, l.typ, l.leg)))
	}

	if len(out) == 0 {
		if unprotected {
			return nil, skip(fmt.Sprintf("repeater has no open position in %s to protect", snapshot.KeyString(d.MarketKey)))
		}
		return nil, skip("repeater has no conditional orders to change")
	}
	if unprotected {
		r.logger.Info("Cancelling repeater orders without placing new ones",
			zap.String("market", snapshot.KeyString(d.MarketKey)),
			zap.Int("cancels", len(out)))
	}
	return out, nil
}

// exitOrder builds a reduce-only order that closes the whole position when triggered.
func exitOrder(pos snapshot.Position, typ snapshot.OrderType, leg *ConditionalLeg) *commands.PlaceConditionalOrderArgs {
	size := new(big.Int).Set(MaxInt256)
	if !pos.IsShort() {
		size.Neg(size)
	}
	return &commands.PlaceConditionalOrderArgs{
		MarketKey:            pos.Market.Key,
		MarginDelta:          new(big.Int),
		SizeDelta:            size,
		TargetPrice:          leg.Price,
		ConditionalOrderType: uint8(typ),
		DesiredFillPrice:     leg.DesiredFillPrice,
		ReduceOnly:           true,
	}
}

func cancelOrder(o snapshot.ConditionalOrder) execdata.Operation {
	return execdata.NewOperation(&commands.CancelConditionalOrderArgs{OrderID: new(big.Int).Set(o.Index)})
}

func findSized(ops []execdata.Operation, market common.Address) (commands.SizedArgs, bool) {
	for _, op := range ops {
		if !op.Command.IsOpen() {
			continue
		}
		if args, ok := op.Args.(commands.SizedArgs); ok && args.MarketAddress() == market {
			return args, true
		}
	}
	return nil, false
}
