package indicators

import (
	"fmt"

	"github.com/rustyeddy/perps/market"
)

// RSI is Wilder's Relative Strength Index.
type RSI struct {
	period    int
	prevClose float64
	havePrev  bool
	count     int
	avgGain   float64
	avgLoss   float64
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }
func (r *RSI) Warmup() int  { return r.period + 1 }
func (r *RSI) Ready() bool  { return r.count >= r.period }

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func (r *RSI) Update(c market.Candle) {
	if !r.havePrev {
		r.prevClose = c.Close
		r.havePrev = true
		return
	}

	change := c.Close - r.prevClose
	r.prevClose = c.Close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	p := float64(r.period)
	if r.count < r.period {
		r.avgGain += gain / p
		r.avgLoss += loss / p
		r.count++
		return
	}
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

// Value is in [0,100]; a series with no losses reads 100 and a flat one 50.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the last values of the MACD line, its signal and the
// histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the classic fast/slow/signal MACD over closes.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return MACDResult{}, fmt.Errorf("invalid MACD periods %d/%d/%d", fast, slow, signal)
	}
	if len(closes) < slow+signal-1 {
		return MACDResult{}, fmt.Errorf("not enough values: need %d, got %d", slow+signal-1, len(closes))
	}

	fastS, err := EMASeries(closes, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowS, err := EMASeries(closes, slow)
	if err != nil {
		return MACDResult{}, err
	}

	// align: slowS[i] corresponds to closes[slow-1+i]
	offset := slow - fast
	line := make([]float64, len(slowS))
	for i := range slowS {
		line[i] = fastS[i+offset] - slowS[i]
	}

	sig, err := EMASeries(line, signal)
	if err != nil {
		return MACDResult{}, err
	}

	m := line[len(line)-1]
	s := sig[len(sig)-1]
	return MACDResult{MACD: m, Signal: s, Histogram: m - s}, nil
}
