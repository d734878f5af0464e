package symbols

import "strings"

// quoteAssets is ordered longest first so USDT wins over USD.
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"USD", "EUR", "GBP", "JPY", "KRW", "TRY", "BRL", "BTC", "ETH", "BNB", "DAI",
}

var aliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// Canonical converts a vendor symbol into BASE<sep>QUOTE, upper case.
// Examples with sep "-":
//
//	btc_krw   -> BTC-KRW
//	XBT/USD   -> BTC-USD
//	XXBTZUSD  -> BTC-USD
//	ETHUSDT   -> ETH-USDT
//	BTC-USDT-SWAP -> BTC-USDT
//
// Symbols it cannot split are returned upper cased and otherwise unchanged.
func Canonical(sym, sep string) string {
	s := strings.ToUpper(strings.TrimSpace(sym))
	for _, suffix := range []string{"-SWAP", "-PERP", "_PERP"} {
		s = strings.TrimSuffix(s, suffix)
	}
	base, quote, ok := split(s)
	if !ok {
		return s
	}
	return alias(base) + sep + alias(quote)
}

// ForVendor applies vendor specific clean-up before Canonical: contract
// multipliers on binance and bybit, the futures "M" suffix on kucoin.
func ForVendor(vendor, sym, sep string) string {
	s := strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(vendor) {
	case "binance", "bybit":
		s = strings.TrimPrefix(s, "1000")
		s = strings.Replace(s, "1000USDT", "USDT", 1)
	case "kucoin":
		if strings.HasSuffix(s, "USDTM") || strings.HasSuffix(s, "USDM") {
			s = strings.TrimSuffix(s, "M")
		}
	}
	return Canonical(s, sep)
}

func split(s string) (string, string, bool) {
	// kraken legacy pairs: XXBTZUSD, XETHXXBT
	if len(s) == 8 && s[0] == 'X' && (s[4] == 'Z' || s[4] == 'X') {
		return s[1:4], s[5:], true
	}
	if i := strings.IndexAny(s, "-_/:"); i > 0 && i < len(s)-1 {
		return s[:i], strings.NewReplacer("-", "", "_", "", "/", "", ":", "").Replace(s[i+1:]), true
	}
	for _, q := range quoteAssets {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

func alias(asset string) string {
	if a, ok := aliases[asset]; ok {
		return a
	}
	return asset
}
