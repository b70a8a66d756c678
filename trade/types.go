// Package trade turns a decoded target batch into the repeater's equivalent:
// it classifies what the target did, then rewrites the batch scaled to the
// repeater's capital.
package trade

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OperationType is the intent of a target batch.
type OperationType string

const (
	OpenLong              OperationType = "OPEN_LONG"
	OpenShort             OperationType = "OPEN_SHORT"
	CloseLong             OperationType = "CLOSE_LONG"
	CloseShort            OperationType = "CLOSE_SHORT"
	IncreaseSize          OperationType = "INCREASE_SIZE"
	DecreaseSize          OperationType = "DECREASE_SIZE"
	IncreaseMargin        OperationType = "INCREASE_MARGIN"
	DecreaseMargin        OperationType = "DECREASE_MARGIN"
	PlaceConditionalOrder OperationType = "PLACE_CONDITIONAL_ORDER"
)

func (t OperationType) IsOpen() bool   { return t == OpenLong || t == OpenShort }
func (t OperationType) IsClose() bool  { return t == CloseLong || t == CloseShort }
func (t OperationType) IsSize() bool   { return t == IncreaseSize || t == DecreaseSize }
func (t OperationType) IsMargin() bool { return t == IncreaseMargin || t == DecreaseMargin }

// ConditionalLeg is one side (take-profit or stop-loss) of a conditional
// order change. A cancelled leg carries the price of the order it removes.
type ConditionalLeg struct {
	Price            *big.Int
	DesiredFillPrice *big.Int
	IsCancelled      bool
}

// ConditionalParams holds the legs a batch touched; untouched legs are nil.
type ConditionalParams struct {
	TakeProfit *ConditionalLeg
	StopLoss   *ConditionalLeg
}

// Empty reports whether neither leg is set.
func (c ConditionalParams) Empty() bool {
	return c.TakeProfit == nil && c.StopLoss == nil
}

// OperationDetails is the classification of one target batch.
type OperationDetails struct {
	Type      OperationType
	Market    common.Address
	MarketKey [32]byte
	// Amount is the signed size delta; for closes the full existing size.
	Amount *big.Int
	// MarginAmount is the signed margin delta of the batch, nil when the
	// batch has no margin-modify command.
	MarginAmount *big.Int
	// Proportion maps the target's change onto the repeater. Never negative.
	Proportion  decimal.Decimal
	Conditional ConditionalParams
}

func (d *OperationDetails) String() string {
	margin := "<nil>"
	if d.MarginAmount != nil {
		margin = d.MarginAmount.String()
	}
	return fmt.Sprintf("%s market=%s amount=%s margin=%s proportion=%s",
		d.Type, d.Market.Hex(), d.Amount, margin, d.Proportion)
}
