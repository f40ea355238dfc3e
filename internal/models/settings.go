package models

// Settings is the per-user general settings document.
type Settings struct {
	Currency string `json:"currency"`
}

var currencySymbols = map[string]string{
	"USD": "$",
	"AUD": "A$ ",
	"PHP": "₱",
	"PKR": "Rs ",
	"EUR": "€",
	"GBP": "£",
}

// CurrencySymbol returns the display symbol for a currency code, falling back
// to the code itself for unmapped currencies.
func CurrencySymbol(code string) string {
	if s, ok := currencySymbols[code]; ok {
		return s
	}
	return code
}
