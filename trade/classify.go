package trade

import (
	"math/big"

	"margin-repeater/commands"
	"margin-repeater/execdata"
	"margin-repeater/snapshot"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ClassifyInput is the target's batch and its state before the batch executed.
type ClassifyInput struct {
	Operations []execdata.Operation
	// Positions and Orders belong to the target account.
	Positions       []snapshot.Position
	Orders          []snapshot.ConditionalOrder
	Target          common.Address
	TargetBalance   *big.Int
	RepeaterBalance *big.Int
}

// Classifier derives OperationDetails from a decoded batch.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify returns exactly one OperationDetails for the batch, a *SkipError
// when the batch has nothing to mirror, or ErrOperationNotFound when the
// batch does not match the target's positions.
func (c *Classifier) Classify(in ClassifyInput) (*OperationDetails, error) {
	var (
		market   common.Address
		hasAddr  bool
		marketOp commands.MarketArgs
		marginOp *commands.ModifyMarginArgs
		name     commands.Name
	)

	for _, op := range in.Operations {
		if !op.Command.IsMarket() && op.Command != commands.ModifyMargin {
			continue
		}
		args, ok := op.Args.(commands.MarketArgs)
		if !ok {
			continue
		}
		if !hasAddr {
			market, hasAddr = args.MarketAddress(), true
		}
		if marketOp == nil && op.Command.IsMarket() {
			marketOp, name = args, op.Command
		}
		if m, ok := op.Args.(*commands.ModifyMarginArgs); ok && marginOp == nil {
			marginOp = m
		}
	}

	details := &OperationDetails{
		Type:       PlaceConditionalOrder,
		Market:     market,
		Amount:     new(big.Int),
		Proportion: one,
	}
	if marginOp != nil && marginOp.Amount != nil {
		details.MarginAmount = new(big.Int).Set(marginOp.Amount)
	}
	if p, ok := snapshot.FindByMarket(in.Positions, market); ok && hasAddr {
		details.MarketKey = p.Market.Key
	}

	var err error
	switch {
	case marketOp != nil:
		err = c.classifyMarket(in, details, marketOp, name)
	case marginOp != nil:
		err = c.classifyMargin(in, details)
	case hasConditional(in.Operations):
		err = c.classifyConditional(in, details)
	default:
		err = skip("batch has nothing to mirror")
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Classified batch",
		zap.String("target", in.Target.Hex()),
		zap.String("type", string(details.Type)),
		zap.String("market", details.Market.Hex()),
		zap.String("amount", details.Amount.String()),
		zap.String("proportion", details.Proportion.String()))
	return details, nil
}

func (c *Classifier) classifyMarket(in ClassifyInput, d *OperationDetails, op commands.MarketArgs, name commands.Name) error {
	if sized, ok := op.(commands.SizedArgs); ok && sized.Size() != nil {
		d.Amount = new(big.Int).Set(sized.Size())
	}

	existing, ok := snapshot.FindOpen(in.Positions, d.Market)
	if ok {
		if name.IsClose() {
			d.Proportion = one
			d.Amount = new(big.Int).Set(existing.Size)
			d.Type = CloseLong
			if existing.IsShort() {
				d.Type = CloseShort
			}
			return nil
		}

		d.Proportion = ratio(d.Amount, existing.Size)
		// A delta in the position's own direction grows it.
		if existing.IsShort() == (d.Amount.Sign() < 0) {
			d.Type = IncreaseSize
		} else {
			d.Type = DecreaseSize
		}
		return nil
	}

	if name.IsClose() {
		return notFound("close of %s without an open position", d.Market.Hex())
	}
	if in.TargetBalance == nil || in.TargetBalance.Sign() <= 0 {
		return skip("target total balance is zero")
	}
	repeater := in.RepeaterBalance
	if repeater == nil {
		repeater = new(big.Int)
	}

	d.Proportion = ratio(repeater, in.TargetBalance)
	d.Type = OpenLong
	if d.Amount.Sign() < 0 {
		d.Type = OpenShort
	}
	return nil
}

func (c *Classifier) classifyMargin(in ClassifyInput, d *OperationDetails) error {
	existing, ok := snapshot.FindOpen(in.Positions, d.Market)
	if !ok {
		return notFound("margin change on %s without an open position", d.Market.Hex())
	}
	if d.MarginAmount == nil {
		return notFound("margin change on %s without an amount", d.Market.Hex())
	}
	if existing.Margin == nil || existing.Margin.Sign() == 0 {
		return notFound("margin change on %s with zero position margin", d.Market.Hex())
	}

	d.MarketKey = existing.Market.Key
	d.Proportion = ratio(d.MarginAmount, existing.Margin)
	d.Type = IncreaseMargin
	if d.MarginAmount.Sign() < 0 {
		d.Type = DecreaseMargin
	}
	return nil
}

func (c *Classifier) classifyConditional(in ClassifyInput, d *OperationDetails) error {
	var (
		places  []*commands.PlaceConditionalOrderArgs
		cancels []*commands.CancelConditionalOrderArgs
	)
	for _, op := range in.Operations {
		switch args := op.Args.(type) {
		case *commands.PlaceConditionalOrderArgs:
			places = append(places, args)
		case *commands.CancelConditionalOrderArgs:
			cancels = append(cancels, args)
		}
	}

	d.Type = PlaceConditionalOrder
	d.Proportion = one

	var hasTakeProfit, hasStopLoss bool
	for _, p := range places {
		leg := &ConditionalLeg{Price: p.TargetPrice, DesiredFillPrice: p.DesiredFillPrice}
		switch snapshot.OrderType(p.ConditionalOrderType) {
		case snapshot.OrderLimit:
			if !hasTakeProfit {
				d.Conditional.TakeProfit, hasTakeProfit = leg, true
			}
		case snapshot.OrderStop:
			if !hasStopLoss {
				d.Conditional.StopLoss, hasStopLoss = leg, true
			}
		}
	}
	if len(places) > 0 {
		c.setMarketKey(in, d, places[0].MarketKey)
	}

	if len(cancels) > len(places) {
		for _, cancel := range cancels {
			order, ok := findOrder(in.Orders, cancel.OrderID)
			if !ok {
				return notFound("cancel of unknown conditional order %s", cancel.OrderID)
			}
			if len(places) == 0 && d.MarketKey == ([32]byte{}) {
				c.setMarketKey(in, d, order.MarketKey)
			}

			leg := &ConditionalLeg{
				Price:            order.TargetPrice,
				DesiredFillPrice: order.DesiredFillPrice,
				IsCancelled:      true,
			}
			// A place on the same side already supersedes the stored order.
			switch order.Type {
			case snapshot.OrderLimit:
				if d.Conditional.TakeProfit == nil {
					d.Conditional.TakeProfit = leg
				}
			case snapshot.OrderStop:
				if d.Conditional.StopLoss == nil {
					d.Conditional.StopLoss = leg
				}
			}
		}
	}

	if d.Conditional.Empty() {
		return skip("conditional batch changes no take-profit or stop-loss")
	}
	return nil
}

func (c *Classifier) setMarketKey(in ClassifyInput, d *OperationDetails, key [32]byte) {
	d.MarketKey = key
	if p, ok := snapshot.FindByKey(in.Positions, key); ok {
		d.Market = p.Market.Address
	}
}

func hasConditional(ops []execdata.Operation) bool {
	for _, op := range ops {
		if op.Command.IsConditional() {
			return true
		}
	}
	return false
}

func findOrder(orders []snapshot.ConditionalOrder, index *big.Int) (snapshot.ConditionalOrder, bool) {
	if index == nil {
		return snapshot.ConditionalOrder{}, false
	}
	for _, o := range orders {
		if o.Index != nil && o.Index.Cmp(index) == 0 {
			return o, true
		}
	}
	return snapshot.ConditionalOrder{}, false
}
