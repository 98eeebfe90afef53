package analytics

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// brl renders monetary values with Brazilian-Portuguese number formatting,
// matching the CRM account's local currency presentation.
var brl = message.NewPrinter(language.BrazilianPortuguese)

// Percent renders part/total as a percentage with one decimal place. An
// empty total yields "0.0%", never a division fault.
func Percent(part, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}

// Currency renders v in the account's local currency formatting.
func Currency(v float64) string {
	return brl.Sprintf("R$ %.2f", v)
}
