package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/perps/market"
)

// ADX implements Wilder's Average Directional Index (trend strength).
// Usage:
//
//	adx := indicators.NewADX(14)
//	for _, c := range candles {
//		adx.Update(c)
//	}
//	if adx.Ready() && adx.Value() >= 20 { ... }
type ADX struct {
	Period int

	prev     market.Candle
	havePrev bool

	// Wilder-smoothed values after warmup
	trS  float64
	pdmS float64
	mdmS float64

	adx   float64
	dxSum float64

	// candles processed, including the first seed
	count int
	ready bool
}

func NewADX(period int) *ADX {
	return &ADX{Period: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.Period) }

// Warmup is 2*Period candles after the initial seed.
func (a *ADX) Warmup() int { return 2*a.Period + 1 }

func (a *ADX) Value() float64 {
	return a.adx
}

func (a *ADX) Ready() bool {
	return a.ready
}

func (a *ADX) Reset() {
	*a = ADX{Period: a.Period}
}

// Update consumes the next candle.
func (a *ADX) Update(c market.Candle) {
	if !a.havePrev {
		a.prev = c
		a.havePrev = true
		a.count = 1
		return
	}

	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var pdm, mdm float64
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		mdm = downMove
	}

	tr := trueRange(c, a.prev)

	a.prev = c
	a.count++

	p := float64(a.Period)

	// Phase A: simple averages of the first Period TR/DM samples.
	if a.count <= a.Period+1 {
		a.trS += tr
		a.pdmS += pdm
		a.mdmS += mdm
		if a.count == a.Period+1 {
			a.trS /= p
			a.pdmS /= p
			a.mdmS /= p
		}
		return
	}

	a.trS = (a.trS*(p-1) + tr) / p
	a.pdmS = (a.pdmS*(p-1) + pdm) / p
	a.mdmS = (a.mdmS*(p-1) + mdm) / p

	if a.trS == 0 {
		return
	}

	pdi := 100 * a.pdmS / a.trS
	mdi := 100 * a.mdmS / a.trS
	den := pdi + mdi
	dx := 0.0
	if den > 0 {
		dx = 100 * math.Abs(pdi-mdi) / den
	}

	// Phase B: seed ADX with the mean of the first Period DX values.
	if !a.ready {
		a.dxSum += dx
		if a.count == 2*a.Period+1 {
			a.adx = a.dxSum / p
			a.ready = true
		}
		return
	}

	a.adx = (a.adx*(p-1) + dx) / p
}
