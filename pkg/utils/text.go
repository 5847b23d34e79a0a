package utils

import (
	"regexp"
	"strings"
)

var (
	spaceRegex    = regexp.MustCompile(`\s+`)
	currencyRegex = regexp.MustCompile(`[-\d.,]+`)
)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(text string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(text, " "))
}

// StripCurrency pulls the numeric portion out of a price string like
// "£19.99" or "$1,204.00 USD". Thousands separators are removed. Returns the
// input unchanged when no numeric run is found.
func StripCurrency(text string) string {
	match := currencyRegex.FindString(CleanText(text))
	if match == "" {
		return text
	}
	return strings.ReplaceAll(match, ",", "")
}
