package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDisplayName prepares a member name for output: NFC form, control
// characters dropped, whitespace collapsed (e.g., "Jiří \n Novák" -> "Jiří Novák").
func NormalizeDisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	result, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return result
}
