// Package snapshot describes the on-chain state of a smart margin account
// (positions, idle margin, balances, conditional orders) and fetches it.
package snapshot

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provider fetches fresh account state. Implementations must not cache
// account data across calls.
type Provider interface {
	Snapshot(ctx context.Context, account common.Address) (*Snapshot, error)
	ConditionalOrders(ctx context.Context, account common.Address) ([]ConditionalOrder, error)
}

// Market identifies a PerpsV2 market by proxy address and key (e.g. "sETHPERP").
type Market struct {
	Address common.Address
	Key     [32]byte
	Asset   [32]byte
}

// KeyString renders a bytes32 market key without its zero padding.
func KeyString(key [32]byte) string {
	return string(bytes.TrimRight(key[:], "\x00"))
}

// Position is an account's state in one market. Size is signed, negative for shorts.
type Position struct {
	Market           Market
	Size             *big.Int
	Margin           *big.Int
	RemainingMargin  *big.Int
	AccessibleMargin *big.Int
	Notional         *big.Int
	PnL              *big.Int
	AccruedFunding   *big.Int
	LiquidationPrice *big.Int
	CanLiquidate     bool
}

// IsOpen reports whether the position has a non-zero size.
func (p Position) IsOpen() bool {
	return p.Size != nil && p.Size.Sign() != 0
}

// IsShort reports whether the position size is negative.
func (p Position) IsShort() bool {
	return p.Size != nil && p.Size.Sign() < 0
}

// IsIdle reports whether margin sits in the market without backing a position.
func (p Position) IsIdle() bool {
	return !p.IsOpen() && p.RemainingMargin != nil && p.RemainingMargin.Sign() > 0
}

// FindByMarket returns the position for the given market address.
func FindByMarket(positions []Position, market common.Address) (Position, bool) {
	for _, p := range positions {
		if p.Market.Address == market {
			return p, true
		}
	}
	return Position{}, false
}

// FindOpen returns the open position for the given market address.
func FindOpen(positions []Position, market common.Address) (Position, bool) {
	for _, p := range positions {
		if p.Market.Address == market && p.IsOpen() {
			return p, true
		}
	}
	return Position{}, false
}

// FindByKey returns the position for the given market key.
func FindByKey(positions []Position, key [32]byte) (Position, bool) {
	for _, p := range positions {
		if p.Market.Key == key {
			return p, true
		}
	}
	return Position{}, false
}

// OrderType is the Gelato conditional order flavour.
type OrderType uint8

const (
	// OrderLimit triggers when price moves in favour: take-profit.
	OrderLimit OrderType = 0
	// OrderStop triggers when price moves against: stop-loss.
	OrderStop OrderType = 1
)

func (t OrderType) String() string {
	switch t {
	case OrderLimit:
		return "LIMIT"
	case OrderStop:
		return "STOP"
	}
	return "UNKNOWN"
}

// ConditionalOrder is a stored conditional order of a smart margin account.
type ConditionalOrder struct {
	Index            *big.Int
	MarketKey        [32]byte
	MarginDelta      *big.Int
	SizeDelta        *big.Int
	TargetPrice      *big.Int
	GelatoTaskID     [32]byte
	Type             OrderType
	DesiredFillPrice *big.Int
	ReduceOnly       bool
}

// Live reports whether the order is still pending. Executed and cancelled
// orders are zeroed on chain.
func (o ConditionalOrder) Live() bool {
	return o.TargetPrice != nil && o.TargetPrice.Sign() > 0
}

// IdlePosition is margin parked in a market with no open position.
type IdlePosition struct {
	Market     common.Address
	IdleMargin *big.Int
}

// IdleMargin aggregates every idle position of an account.
type IdleMargin struct {
	Positions []IdlePosition
	Total     *big.Int
}

// Idle derives the idle positions from a position list.
func Idle(positions []Position) IdleMargin {
	idle := IdleMargin{Total: new(big.Int)}
	for _, p := range positions {
		if !p.IsIdle() {
			continue
		}
		idle.Positions = append(idle.Positions, IdlePosition{
			Market:     p.Market.Address,
			IdleMargin: new(big.Int).Set(p.RemainingMargin),
		})
		idle.Total.Add(idle.Total, p.RemainingMargin)
	}
	return idle
}

// Snapshot is an account's positions and balances at one point in time.
type Snapshot struct {
	Positions []Position
	Idle      IdleMargin
	// TotalBalance is free margin plus idle margin, plus the owner's sUSD when requested.
	TotalBalance *big.Int
	// SmartBalance is the free margin held by the account contract itself.
	SmartBalance *big.Int
}
