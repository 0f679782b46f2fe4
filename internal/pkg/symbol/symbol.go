package symbol

import (
	"strings"
)

// 资产命名约定："EURUSD"、"EURUSD_otc"、"BTCUSD_otc"。
// OTC 后缀只影响路由与开市判断，不影响币对解析。

const otcSuffix = "_otc"

var cryptoBases = map[string]struct{}{
	"BTC": {}, "ETH": {}, "BNB": {}, "SOL": {}, "XRP": {},
	"ADA": {}, "DOGE": {}, "LTC": {}, "DOT": {}, "AVAX": {},
}

var fiatQuotes = []string{"USD", "EUR", "GBP", "JPY", "CHF", "CAD", "AUD", "NZD", "USDT"}

type Pair struct {
	Base  string
	Quote string
}

func (p Pair) Valid() bool { return p.Base != "" && p.Quote != "" }

// Clean 去掉 OTC 后缀并统一大写。
func Clean(asset string) string {
	asset = strings.TrimSpace(asset)
	if strings.HasSuffix(strings.ToLower(asset), otcSuffix) {
		asset = asset[:len(asset)-len(otcSuffix)]
	}
	return strings.ToUpper(strings.TrimSpace(asset))
}

// IsOTC 基于命名约定判断 OTC 资产。
func IsOTC(asset string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(asset)), otcSuffix)
}

// Parse 将资产名解析为币对。支持 "EUR/USD"、六位外汇代码与常见加密底仓。
func Parse(asset string) Pair {
	s := Clean(asset)
	if s == "" {
		return Pair{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Pair{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
	}
	for _, quote := range fiatQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Pair{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	if len(s) == 6 {
		return Pair{Base: s[:3], Quote: s[3:]}
	}
	return Pair{}
}

// IsCrypto 判断资产底仓是否为加密货币。
func IsCrypto(asset string) bool {
	p := Parse(asset)
	if !p.Valid() {
		return false
	}
	_, ok := cryptoBases[p.Base]
	return ok
}

// Binance 返回币安合约代码（加密资产统一报价到 USDT）。
func Binance(asset string) string {
	p := Parse(asset)
	if !p.Valid() {
		return ""
	}
	if _, ok := cryptoBases[p.Base]; !ok {
		return ""
	}
	quote := p.Quote
	if quote == "USD" {
		quote = "USDT"
	}
	return p.Base + quote
}

// ForexTick 返回外汇行情流订阅代码，如 "frxEURUSD"。
func ForexTick(asset string) string {
	p := Parse(asset)
	if !p.Valid() || IsCrypto(asset) {
		return ""
	}
	return "frx" + p.Base + p.Quote
}
