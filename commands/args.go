package commands

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Args is the typed argument set of one command. Every command has exactly one
// implementation, so a value of Args identifies its command.
type Args interface {
	Code() Code
	// Values returns the arguments in schema order, ready for ABI packing.
	Values() []interface{}
}

// MarketArgs is implemented by commands addressed to a PerpsV2 market.
type MarketArgs interface {
	Args
	MarketAddress() common.Address
}

// SizedArgs is implemented by commands that carry a signed size delta.
type SizedArgs interface {
	MarketArgs
	Size() *big.Int
	// WithSize returns a copy with the size delta replaced.
	WithSize(size *big.Int) SizedArgs
}

type AccountModifyMarginArgs struct {
	Amount *big.Int `abi:"amount"`
}

type AccountWithdrawEthArgs struct {
	Amount *big.Int `abi:"amount"`
}

type ModifyMarginArgs struct {
	Market common.Address `abi:"market"`
	Amount *big.Int       `abi:"amount"`
}

type WithdrawAllMarginArgs struct {
	Market common.Address `abi:"market"`
}

type SubmitAtomicOrderArgs struct {
	Market           common.Address `abi:"market"`
	SizeDelta        *big.Int       `abi:"sizeDelta"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type SubmitDelayedOrderArgs struct {
	Market           common.Address `abi:"market"`
	SizeDelta        *big.Int       `abi:"sizeDelta"`
	DesiredTimeDelta *big.Int       `abi:"desiredTimeDelta"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type SubmitOffchainDelayedOrderArgs struct {
	Market           common.Address `abi:"market"`
	SizeDelta        *big.Int       `abi:"sizeDelta"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type ClosePositionArgs struct {
	Market           common.Address `abi:"market"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type SubmitCloseDelayedOrderArgs struct {
	Market           common.Address `abi:"market"`
	DesiredTimeDelta *big.Int       `abi:"desiredTimeDelta"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type SubmitCloseOffchainDelayedOrderArgs struct {
	Market           common.Address `abi:"market"`
	DesiredFillPrice *big.Int       `abi:"desiredFillPrice"`
}

type CancelDelayedOrderArgs struct {
	Market common.Address `abi:"market"`
}

type CancelOffchainDelayedOrderArgs struct {
	Market common.Address `abi:"market"`
}

// PlaceConditionalOrderArgs places a Gelato-executed take-profit (LIMIT) or stop-loss (STOP).
type PlaceConditionalOrderArgs struct {
	MarketKey            [32]byte `abi:"marketKey"`
	MarginDelta          *big.Int `abi:"marginDelta"`
	SizeDelta            *big.Int `abi:"sizeDelta"`
	TargetPrice          *big.Int `abi:"targetPrice"`
	ConditionalOrderType uint8    `abi:"conditionalOrderType"`
	DesiredFillPrice     *big.Int `abi:"desiredFillPrice"`
	ReduceOnly           bool     `abi:"reduceOnly"`
}

type CancelConditionalOrderArgs struct {
	OrderID *big.Int `abi:"orderId"`
}

func (a *AccountModifyMarginArgs) Code() Code             { return CodeAccountModifyMargin }
func (a *AccountWithdrawEthArgs) Code() Code              { return CodeAccountWithdrawEth }
func (a *ModifyMarginArgs) Code() Code                    { return CodeModifyMargin }
func (a *WithdrawAllMarginArgs) Code() Code               { return CodeWithdrawAllMargin }
func (a *SubmitAtomicOrderArgs) Code() Code               { return CodeSubmitAtomicOrder }
func (a *SubmitDelayedOrderArgs) Code() Code              { return CodeSubmitDelayedOrder }
func (a *SubmitOffchainDelayedOrderArgs) Code() Code      { return CodeSubmitOffchainDelayedOrder }
func (a *ClosePositionArgs) Code() Code                   { return CodeClosePosition }
func (a *SubmitCloseDelayedOrderArgs) Code() Code         { return CodeSubmitCloseDelayedOrder }
func (a *SubmitCloseOffchainDelayedOrderArgs) Code() Code { return CodeSubmitCloseOffchainDelayedOrder }
func (a *CancelDelayedOrderArgs) Code() Code              { return CodeCancelDelayedOrder }
func (a *CancelOffchainDelayedOrderArgs) Code() Code      { return CodeCancelOffchainDelayedOrder }
func (a *PlaceConditionalOrderArgs) Code() Code           { return CodePlaceConditionalOrder }
func (a *CancelConditionalOrderArgs) Code() Code          { return CodeCancelConditionalOrder }

func (a *AccountModifyMarginArgs) Values() []interface{} { return []interface{}{a.Amount} }
func (a *AccountWithdrawEthArgs) Values() []interface{}  { return []interface{}{a.Amount} }
func (a *ModifyMarginArgs) Values() []interface{}        { return []interface{}{a.Market, a.Amount} }
func (a *WithdrawAllMarginArgs) Values() []interface{}   { return []interface{}{a.Market} }
func (a *SubmitAtomicOrderArgs) Values() []interface{} {
	return []interface{}{a.Market, a.SizeDelta, a.DesiredFillPrice}
}
func (a *SubmitDelayedOrderArgs) Values() []interface{} {
	return []interface{}{a.Market, a.SizeDelta, a.DesiredTimeDelta, a.DesiredFillPrice}
}
func (a *SubmitOffchainDelayedOrderArgs) Values() []interface{} {
	return []interface{}{a.Market, a.SizeDelta, a.DesiredFillPrice}
}
func (a *ClosePositionArgs) Values() []interface{} {
	return []interface{}{a.Market, a.DesiredFillPrice}
}
func (a *SubmitCloseDelayedOrderArgs) Values() []interface{} {
	return []interface{}{a.Market, a.DesiredTimeDelta, a.DesiredFillPrice}
}
func (a *SubmitCloseOffchainDelayedOrderArgs) Values() []interface{} {
	return []interface{}{a.Market, a.DesiredFillPrice}
}
func (a *CancelDelayedOrderArgs) Values() []interface{}         { return []interface{}{a.Market} }
func (a *CancelOffchainDelayedOrderArgs) Values() []interface{} { return []interface{}{a.Market} }
func (a *PlaceConditionalOrderArgs) Values() []interface{} {
	return []interface{}{
		a.MarketKey, a.MarginDelta, a.SizeDelta, a.TargetPrice,
		a.ConditionalOrderType, a.DesiredFillPrice, a.ReduceOnly,
	}
}
func (a *CancelConditionalOrderArgs) Values() []interface{} { return []interface{}{a.OrderID} }

func (a *ModifyMarginArgs) MarketAddress() common.Address               { return a.Market }
func (a *WithdrawAllMarginArgs) MarketAddress() common.Address          { return a.Market }
func (a *SubmitAtomicOrderArgs) MarketAddress() common.Address          { return a.Market }
func (a *SubmitDelayedOrderArgs) MarketAddress() common.Address         { return a.Market }
func (a *SubmitOffchainDelayedOrderArgs) MarketAddress() common.Address { return a.Market }
func (a *ClosePositionArgs) MarketAddress() common.Address              { return a.Market }
func (a *SubmitCloseDelayedOrderArgs) MarketAddress() common.Address    { return a.Market }
func (a *SubmitCloseOffchainDelayedOrderArgs) MarketAddress() common.Address {
	return a.Market
}
func (a *CancelDelayedOrderArgs) MarketAddress() common.Address         { return a.Market }
func (a *CancelOffchainDelayedOrderArgs) MarketAddress() common.Address { return a.Market }

func (a *SubmitAtomicOrderArgs) Size() *big.Int          { return a.SizeDelta }
func (a *SubmitDelayedOrderArgs) Size() *big.Int         { return a.SizeDelta }
func (a *SubmitOffchainDelayedOrderArgs) Size() *big.Int { return a.SizeDelta }

func (a *SubmitAtomicOrderArgs) WithSize(size *big.Int) SizedArgs {
	c := *a
	c.SizeDelta = size
	return &c
}

func (a *SubmitDelayedOrderArgs) WithSize(size *big.Int) SizedArgs {
	c := *a
	c.SizeDelta = size
	return &c
}

func (a *SubmitOffchainDelayedOrderArgs) WithSize(size *big.Int) SizedArgs {
	c := *a
	c.SizeDelta = size
	return &c
}

// newArgs returns an empty argument set for the given code.
func newArgs(code Code) (Args, error) {
	switch code {
	case CodeAccountModifyMargin:
		return &AccountModifyMarginArgs{}, nil
	case CodeAccountWithdrawEth:
		return &AccountWithdrawEthArgs{}, nil
	case CodeModifyMargin:
		return &ModifyMarginArgs{}, nil
	case CodeWithdrawAllMargin:
		return &WithdrawAllMarginArgs{}, nil
	case CodeSubmitAtomicOrder:
		return &SubmitAtomicOrderArgs{}, nil
	case CodeSubmitDelayedOrder:
		return &SubmitDelayedOrderArgs{}, nil
	case CodeSubmitOffchainDelayedOrder:
		return &SubmitOffchainDelayedOrderArgs{}, nil
	case CodeClosePosition:
		return &ClosePositionArgs{}, nil
	case CodeSubmitCloseDelayedOrder:
		return &SubmitCloseDelayedOrderArgs{}, nil
	case CodeSubmitCloseOffchainDelayedOrder:
		return &SubmitCloseOffchainDelayedOrderArgs{}, nil
	case CodeCancelDelayedOrder:
		return &CancelDelayedOrderArgs{}, nil
	case CodeCancelOffchainDelayedOrder:
		return &CancelOffchainDelayedOrderArgs{}, nil
	case CodePlaceConditionalOrder:
		return &PlaceConditionalOrderArgs{}, nil
	case CodeCancelConditionalOrder:
		return &CancelConditionalOrderArgs{}, nil
	}
	return nil, fmt.Errorf("unknown command code %d", code)
}

// Unpack ABI-decodes blob against the command's schema into its typed argument set.
func (c Command) Unpack(blob []byte) (Args, error) {
	values, err := c.arguments.Unpack(blob)
	if err != nil {
		return nil, err
	}
	args, err := newArgs(c.Code)
	if err != nil {
		return nil, err
	}
	if err := c.arguments.Copy(args, values); err != nil {
		return nil, err
	}
	return args, nil
}

// Pack ABI-encodes args against the command's schema.
func (c Command) Pack(args Args) ([]byte, error) {
	if args == nil {
		return nil, fmt.Errorf("%s: nil arguments", c.Name)
	}
	if args.Code() != c.Code {
		return nil, fmt.Errorf("%s: arguments belong to command %d", c.Name, args.Code())
	}
	return c.arguments.Pack(args.Values()...)
}
