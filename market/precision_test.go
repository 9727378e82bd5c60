package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilQuantity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prec int
		in   float64
		want float64
	}{
		{"exact", 3, 1.2, 1.2},
		{"rounds up", 3, 1.2001, 1.201},
		{"integer instrument", 0, 4.01, 5},
		{"integer exact", 0, 4, 4},
		{"zero", 3, 0, 0},
		{"negative", 3, -1, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Precision{Quantity: tt.prec}.CeilQuantity(tt.in)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestRoundPrice(t *testing.T) {
	p := Precision{Quantity: 3, Price: 2}

	assert.InDelta(t, 99.6, p.RoundPrice(99.6000000001), 1e-12)
	assert.InDelta(t, 100.91, p.RoundPrice(100.905001), 1e-12)
	assert.InDelta(t, 12.0, Precision{}.RoundQuantity(12.4), 1e-12)
}

func TestSides(t *testing.T) {
	assert.Equal(t, Sell, Long.CloseSide())
	assert.Equal(t, Buy, Short.CloseSide())
	assert.Equal(t, Buy, Long.EntrySide())
	assert.Equal(t, Short, SideFromAmount(-0.5))
	assert.Equal(t, None, SideFromAmount(0))
	assert.Equal(t, Long, ParseSide("buy"))
	assert.Equal(t, "BTCUSDT", ExchangeSymbol("btc/usdt"))
}
