package market

import "strings"

// PositionSide is the direction of an open futures position.
type PositionSide string

const (
	None  PositionSide = "NONE"
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// OrderSide is the side of an order as the exchange understands it.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// EntrySide is the order side that opens a position in this direction.
func (s PositionSide) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// CloseSide is the order side that reduces a position in this direction.
func (s PositionSide) CloseSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// Sign is +1 for long, -1 for short and 0 for flat.
func (s PositionSide) Sign() float64 {
	switch s {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// SideFromAmount derives the side from a signed position amount.
func SideFromAmount(amt float64) PositionSide {
	switch {
	case amt > 0:
		return Long
	case amt < 0:
		return Short
	}
	return None
}

// ParseSide accepts LONG/SHORT as well as the BUY/SELL entry sides.
func ParseSide(s string) PositionSide {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long
	case "SHORT", "SELL":
		return Short
	}
	return None
}
