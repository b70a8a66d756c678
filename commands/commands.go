package commands

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Code is the command identifier understood by the smart margin account's execute entrypoint.
type Code uint8

const (
	CodeAccountModifyMargin Code = iota
	CodeAccountWithdrawEth
	CodeModifyMargin
	CodeWithdrawAllMargin
	CodeSubmitAtomicOrder
	CodeSubmitDelayedOrder
	CodeSubmitOffchainDelayedOrder
	CodeClosePosition
	CodeSubmitCloseDelayedOrder
	CodeSubmitCloseOffchainDelayedOrder
	CodeCancelDelayedOrder
	CodeCancelOffchainDelayedOrder
	CodePlaceConditionalOrder
	CodeCancelConditionalOrder
)

// Name is the semantic name of a command.
type Name string

const (
	AccountModifyMargin             Name = "ACCOUNT_MODIFY_MARGIN"
	AccountWithdrawEth              Name = "ACCOUNT_WITHDRAW_ETH"
	ModifyMargin                    Name = "PERPS_V2_MODIFY_MARGIN"
	WithdrawAllMargin               Name = "PERPS_V2_WITHDRAW_ALL_MARGIN"
	SubmitAtomicOrder               Name = "PERPS_V2_SUBMIT_ATOMIC_ORDER"
	SubmitDelayedOrder              Name = "PERPS_V2_SUBMIT_DELAYED_ORDER"
	SubmitOffchainDelayedOrder      Name = "PERPS_V2_SUBMIT_OFFCHAIN_DELAYED_ORDER"
	ClosePosition                   Name = "PERPS_V2_CLOSE_POSITION"
	SubmitCloseDelayedOrder         Name = "PERPS_V2_SUBMIT_CLOSE_DELAYED_ORDER"
	SubmitCloseOffchainDelayedOrder Name = "PERPS_V2_SUBMIT_CLOSE_OFFCHAIN_DELAYED_ORDER"
	CancelDelayedOrder              Name = "PERPS_V2_CANCEL_DELAYED_ORDER"
	CancelOffchainDelayedOrder      Name = "PERPS_V2_CANCEL_OFFCHAIN_DELAYED_ORDER"
	PlaceConditionalOrder           Name = "GELATO_PLACE_CONDITIONAL_ORDER"
	CancelConditionalOrder          Name = "GELATO_CANCEL_CONDITIONAL_ORDER"
)

// Command binds a code to its argument schema and semantic name.
type Command struct {
	Code   Code
	Name   Name
	Schema string

	arguments abi.Arguments
}

// OwnerOnly reports whether the command may only be sent by the account owner.
// Such commands must never be replayed through a delegate.
func (c Command) OwnerOnly() bool {
	return c.Code <= CodeAccountWithdrawEth
}

// Arguments returns the ABI argument list described by Schema.
func (c Command) Arguments() abi.Arguments {
	return c.arguments
}

var table = []Command{
	{Code: CodeAccountModifyMargin, Name: AccountModifyMargin, Schema: "int256 amount"},
	{Code: CodeAccountWithdrawEth, Name: AccountWithdrawEth, Schema: "uint256 amount"},
	{Code: CodeModifyMargin, Name: ModifyMargin, Schema: "address market, int256 amount"},
	{Code: CodeWithdrawAllMargin, Name: WithdrawAllMargin, Schema: "address market"},
	{Code: CodeSubmitAtomicOrder, Name: SubmitAtomicOrder, Schema: "address market, int256 sizeDelta, uint256 desiredFillPrice"},
	{Code: CodeSubmitDelayedOrder, Name: SubmitDelayedOrder, Schema: "address market, int256 sizeDelta, uint256 desiredTimeDelta, uint256 desiredFillPrice"},
	{Code: CodeSubmitOffchainDelayedOrder, Name: SubmitOffchainDelayedOrder, Schema: "address market, int256 sizeDelta, uint256 desiredFillPrice"},
	{Code: CodeClosePosition, Name: ClosePosition, Schema: "address market, uint256 desiredFillPrice"},
	{Code: CodeSubmitCloseDelayedOrder, Name: SubmitCloseDelayedOrder, Schema: "address market, uint256 desiredTimeDelta, uint256 desiredFillPrice"},
	{Code: CodeSubmitCloseOffchainDelayedOrder, Name: SubmitCloseOffchainDelayedOrder, Schema: "address market, uint256 desiredFillPrice"},
	{Code: CodeCancelDelayedOrder, Name: CancelDelayedOrder, Schema: "address market"},
	{Code: CodeCancelOffchainDelayedOrder, Name: CancelOffchainDelayedOrder, Schema: "address market"},
	{Code: CodePlaceConditionalOrder, Name: PlaceConditionalOrder, Schema: "bytes32 marketKey, int256 marginDelta, int256 sizeDelta, uint256 targetPrice, uint8 conditionalOrderType, uint128 desiredFillPrice, bool reduceOnly"},
	{Code: CodeCancelConditionalOrder, Name: CancelConditionalOrder, Schema: "uint256 orderId"},
}

var byName = make(map[Name]int, len(table))

func init() {
	for i := range table {
		args, err := ParseSchema(table[i].Schema)
		if err != nil {
			panic(fmt.Sprintf("commands: bad schema for %s: %v", table[i].Name, err))
		}
		table[i].arguments = args
		byName[table[i].Name] = i
	}
}

// ByCode resolves a command by its code.
func ByCode(code Code) (Command, bool) {
	if int(code) >= len(table) {
		return Command{}, false
	}
	return table[code], true
}

// ByName resolves a command by its semantic name.
func ByName(name Name) (Command, bool) {
	i, ok := byName[name]
	if !ok {
		return Command{}, false
	}
	return table[i], true
}

// All returns a copy of the command table ordered by code.
func All() []Command {
	out := make([]Command, len(table))
	copy(out, table)
	return out
}

// ParseSchema turns a human readable parameter list such as
// "address market, int256 amount" into ABI arguments.
func ParseSchema(schema string) (abi.Arguments, error) {
	var args abi.Arguments
	for _, part := range strings.Split(schema, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed parameter %q", strings.TrimSpace(part))
		}
		typ, err := abi.NewType(fields[0], "", nil)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", fields[1], err)
		}
		args = append(args, abi.Argument{Name: fields[1], Type: typ})
	}
	return args, nil
}

// IsOpen reports whether the command opens or resizes a position.
func (n Name) IsOpen() bool {
	switch n {
	case SubmitAtomicOrder, SubmitDelayedOrder, SubmitOffchainDelayedOrder:
		return true
	}
	return false
}

// IsClose reports whether the command closes a position.
func (n Name) IsClose() bool {
	switch n {
	case ClosePosition, SubmitCloseDelayedOrder, SubmitCloseOffchainDelayedOrder:
		return true
	}
	return false
}

// IsMarket reports whether the command changes a position's size.
func (n Name) IsMarket() bool {
	return n.IsOpen() || n.IsClose()
}

// IsConditional reports whether the command places or cancels a conditional order.
func (n Name) IsConditional() bool {
	return n == PlaceConditionalOrder || n == CancelConditionalOrder
}
