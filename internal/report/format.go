package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatPrice renders euros with space-grouped thousands: "300 000 €".
// An unset price renders empty.
func FormatPrice(v *int64) string {
	if v == nil {
		return ""
	}
	return groupThousands(*v) + " €"
}

// FormatSignedPrice is FormatPrice with an explicit sign for gains.
func FormatSignedPrice(v *int64) string {
	if v == nil {
		return ""
	}
	if *v > 0 {
		return "+" + FormatPrice(v)
	}
	return FormatPrice(v)
}

// FormatSurface truncates the surface to whole square meters.
func FormatSurface(v *float64) string {
	if v == nil || *v <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}

// FormatDate renders dd/mm/yyyy, or empty for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

// FormatOptionalInt renders an optional integer, empty when unset.
func FormatOptionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// FormatOptionalFloat renders an optional number without trailing zeros.
func FormatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FormatOptionalString trims s; blank values render empty.
func FormatOptionalString(s string) string {
	return strings.TrimSpace(s)
}

var months = [...]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

// FormatMonth renders "Mars 2024".
func FormatMonth(t time.Time) string {
	return fmt.Sprintf("%s %d", months[t.Month()-1], t.Year())
}

// Subject returns the report email subject for the month of t.
func Subject(t time.Time) string {
	return "Rapport Immo - " + FormatMonth(t)
}

func groupThousands(n int64) string {
	sign := ""
	u := uint64(n)
	if n < 0 {
		sign = "-"
		u = -u
	}
	s := strconv.FormatUint(u, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return sign + strings.Join(parts, " ")
}
