package market

import "strings"

// ExchangeSymbol maps "BTC/USDT", "btc-usdt" or "BTCUSDT" to "BTCUSDT".
func ExchangeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
