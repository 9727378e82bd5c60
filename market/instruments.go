package market

// SymbolInfo is the per-symbol trading metadata the engine needs from the
// exchange. It is resolved once when a worker starts.
type SymbolInfo struct {
	Symbol      string
	Precision   Precision
	MinNotional float64
}

// FallbackPrecision is used when exchange metadata cannot be resolved.
// Three quantity decimals and two price decimals are accepted by the
// majority of USDT-margined perpetuals.
var FallbackPrecision = Precision{Quantity: 3, Price: 2}

// Fallback returns conservative metadata for a symbol.
func Fallback(symbol string) SymbolInfo {
	return SymbolInfo{
		Symbol:    ExchangeSymbol(symbol),
		Precision: FallbackPrecision,
	}
}
