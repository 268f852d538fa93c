// Package address canonicalizes free-text French addresses against the BAN.
package address

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// abbreviations maps common street type and title abbreviations to their
// full form.
var abbreviations = map[string]string{
	"all":  "allee",
	"av":   "avenue",
	"ave":  "avenue",
	"bd":   "boulevard",
	"bld":  "boulevard",
	"bvd":  "boulevard",
	"chem": "chemin",
	"ch":   "chemin",
	"crs":  "cours",
	"fg":   "faubourg",
	"fbg":  "faubourg",
	"imp":  "impasse",
	"pl":   "place",
	"qu":   "quai",
	"r":    "rue",
	"rte":  "route",
	"sq":   "square",
	"st":   "saint",
	"ste":  "sainte",
	"res":  "residence",
	"lot":  "lotissement",
}

// stopwords are ignored when comparing street names.
var stopwords = map[string]bool{
	"de": true, "du": true, "des": true, "le": true, "la": true,
	"les": true, "l": true, "d": true, "et": true, "en": true, "sur": true,
}

var numberSuffixes = map[string]bool{"bis": true, "ter": true, "quater": true}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lower-cases s, strips accents, folds punctuation to spaces and
// expands abbreviations. The result is stable under repeated application.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		if full, ok := abbreviations[w]; ok {
			words[i] = full
		}
	}
	return strings.Join(words, " ")
}

// Parts is a normalized address split into house number and street.
type Parts struct {
	Number string
	Street string
}

// Split separates the leading house number (with a bis/ter suffix or a
// letter) from the street of a normalized address.
func Split(normalized string) Parts {
	words := strings.Fields(normalized)
	if len(words) == 0 || !startsWithDigit(words[0]) {
		return Parts{Street: normalized}
	}

	number := words[0]
	rest := words[1:]
	if len(rest) > 0 && numberSuffixes[rest[0]] {
		number += rest[0]
		rest = rest[1:]
	}
	return Parts{Number: number, Street: strings.Join(rest, " ")}
}

// compact drops stopwords and spaces.
func compact(normalized string) string {
	var b strings.Builder
	for _, w := range strings.Fields(normalized) {
		if !stopwords[w] {
			b.WriteString(w)
		}
	}
	return b.String()
}

// leadingDigits returns up to n digits at the start of s.
func leadingDigits(s string, n int) string {
	end := 0
	for end < len(s) && end < n && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// cityName drops arrondissement details ("paris 2e arrondissement" -> "paris").
func cityName(normalized string) string {
	words := strings.Fields(normalized)
	for i, w := range words {
		if startsWithDigit(w) {
			return strings.Join(words[:i], " ")
		}
	}
	return normalized
}
