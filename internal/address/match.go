package address

import "strings"

// Matches reports whether candidate, an address published by another
// dataset, designates the same dwelling as the given house number, street
// and city. The number must be equal, the street (stopwords ignored) must
// appear in the candidate, and so must the city when one is given.
func Matches(candidate, number, street, city string) bool {
	c := Normalize(candidate)
	cc := compact(c)

	if city != "" {
		name := compact(cityName(Normalize(city)))
		if name != "" && !strings.Contains(cc, name) {
			return false
		}
	}

	want := leadingDigits(Normalize(number), 3)
	got := leadingDigits(Split(c).Number, 3)
	if want == "" || got == "" || want != got {
		return false
	}

	s := compact(Normalize(street))
	return s != "" && strings.Contains(cc, s)
}

// SameCity compares two city names ignoring case, accents, punctuation and
// arrondissement details: "Paris" matches "PARIS 11E ARRONDISSEMENT".
func SameCity(a, b string) bool {
	x := compact(cityName(Normalize(a)))
	return x != "" && x == compact(cityName(Normalize(b)))
}
