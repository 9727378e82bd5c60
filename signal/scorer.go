package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/perps/indicators"
	"github.com/rustyeddy/perps/market"
)

// Weights of the normalised features fed to the logistic.
type Weights struct {
	Bias  float64 `yaml:"bias" json:"bias"`
	Slope float64 `yaml:"slope" json:"slope"`
	RSI   float64 `yaml:"rsi" json:"rsi"`
	MACD  float64 `yaml:"macd" json:"macd"`
	PctB  float64 `yaml:"pct_b" json:"pct_b"`
	VWAP  float64 `yaml:"vwap" json:"vwap"`
	EMA   float64 `yaml:"ema" json:"ema"`
	// ATR damps conviction in volatile markets.
	ATR float64 `yaml:"atr" json:"atr"`
}

func DefaultWeights() Weights {
	return Weights{
		Slope: 0.8,
		RSI:   0.6,
		MACD:  1.2,
		PctB:  0.8,
		VWAP:  0.5,
		EMA:   0.6,
		ATR:   0.5,
	}
}

const (
	slopePeriod = 5
	emaPeriod   = 21
	rsiPeriod   = 14
	atrPeriod   = 14
	adxPeriod   = 14
	bbPeriod    = 20
	bbStdDev    = 2.0

	// ADX below this is a ranging market; conviction is halved.
	adxTrendFloor = 20.0

	// A slope steeper than this many per-mille per bar shifts the
	// probability by slopeBoost.
	slopeThreshold = 0.6
	slopeBoost     = 0.15
)

// MinCandles is the shortest series the scorer accepts.
const MinCandles = 26 + 9

// Features are the normalised inputs of one score.
type Features struct {
	Slope    float64 // per-mille of price per bar
	RSI      float64 // (rsi-50)/50
	MACD     float64 // histogram, percent of price
	PctB     float64 // %B - 0.5
	VWAPDist float64 // percent above VWAP
	Trend    float64 // percent above EMA(21)
	ATRPct   float64 // percent of price
	ADX      float64
}

// Scorer is an indicator-driven Source.
type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

func (s *Scorer) Score(ctx context.Context, candles []market.Candle) (float64, error) {
	if err := ctx.Err(); err != nil {
		return Neutral, err
	}
	f, err := Extract(candles)
	if err != nil {
		return Neutral, err
	}
	return s.Probability(f), nil
}

// Probability maps features through the weighted logistic.
func (s *Scorer) Probability(f Features) float64 {
	z := s.w.Bias +
		s.w.Slope*f.Slope +
		s.w.RSI*f.RSI +
		s.w.MACD*f.MACD +
		s.w.PctB*f.PctB +
		s.w.VWAP*f.VWAPDist +
		s.w.EMA*f.Trend

	z /= 1 + s.w.ATR*f.ATRPct
	if f.ADX > 0 && f.ADX < adxTrendFloor {
		z *= 0.5
	}

	p := 1 / (1 + math.Exp(-z))
	switch {
	case f.Slope > slopeThreshold:
		p += slopeBoost
	case f.Slope < -slopeThreshold:
		p -= slopeBoost
	}
	return Clamp(p)
}

// Extract computes the features from the series.
func Extract(candles []market.Candle) (Features, error) {
	if len(candles) < MinCandles {
		return Features{}, fmt.Errorf("%w: need %d, got %d", ErrInsufficientData, MinCandles, len(candles))
	}
	closes := market.Closes(candles)
	last := closes[len(closes)-1]
	if last <= 0 {
		return Features{}, fmt.Errorf("signal: non-positive close %v", last)
	}

	var f Features

	slope, err := indicators.Slope(closes, slopePeriod)
	if err != nil {
		return Features{}, err
	}
	f.Slope = slope / last * 1000

	rsi := indicators.NewRSI(rsiPeriod)
	f.RSI = (indicators.Feed(rsi, candles) - 50) / 50

	macd, err := indicators.MACD(closes, 12, 26, 9)
	if err != nil {
		return Features{}, err
	}
	f.MACD = macd.Histogram / last * 100

	pctB, err := indicators.BollingerPctB(closes, bbPeriod, bbStdDev)
	if err != nil {
		return Features{}, err
	}
	f.PctB = pctB - 0.5

	vwap, err := indicators.VWAP(candles)
	if err != nil {
		return Features{}, err
	}
	if vwap > 0 {
		f.VWAPDist = (last - vwap) / vwap * 100
	}

	if ema := indicators.Feed(indicators.NewEMA(emaPeriod), candles); ema > 0 {
		f.Trend = (last - ema) / ema * 100
	}

	f.ATRPct = indicators.Feed(indicators.NewATR(atrPeriod), candles) / last * 100

	adx := indicators.NewADX(adxPeriod)
	indicators.Feed(adx, candles)
	if adx.Ready() {
		f.ADX = adx.Value()
	}

	for _, v := range []float64{f.Slope, f.RSI, f.MACD, f.PctB, f.VWAPDist, f.Trend, f.ATRPct, f.ADX} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Features{}, fmt.Errorf("signal: degenerate series")
		}
	}
	return f, nil
}
