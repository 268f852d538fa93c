// Package report selects the properties a customer has not seen yet, ranks
// them by estimated profit and renders the monthly email.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/evcraddock/trackimmo/internal/address"
	"github.com/evcraddock/trackimmo/internal/customer"
	"github.com/evcraddock/trackimmo/internal/property"
	"github.com/evcraddock/trackimmo/internal/source"
)

// Skip reasons counted by Build.
const (
	SkipBeforeLastReport = "before_last_report"
	SkipAlreadySent      = "already_sent"
	SkipOutsideArea      = "outside_area"
	SkipPropertyType     = "property_type"
	SkipIncomplete       = "incomplete"
	SkipOverLimit        = "over_limit"
)

// History is what the builder needs to know about past sendings.
type History struct {
	LastReport time.Time
	Sent       map[string]bool
}

// Report is the ranked selection for one customer.
type Report struct {
	Recipient  customer.Customer
	Properties []*property.Property
	Skipped    map[string]int
}

// SkippedTotal returns the number of candidate properties left out.
func (r Report) SkippedTotal() int {
	return lo.Sum(lo.Values(r.Skipped))
}

// UUIDs returns the UUIDs of the selected properties, in report order.
func (r Report) UUIDs() []string {
	return lo.Map(r.Properties, func(p *property.Property, _ int) string { return p.UUID })
}

// Build selects the properties enriched since the recipient's last report
// that were never sent to them, lie in their areas, match their property
// types and are complete enough to display. The selection is ordered by
// profit and cut to the recipient's limit.
func Build(recipient customer.Customer, properties []*property.Property, h History) Report {
	r := Report{Recipient: recipient, Skipped: map[string]int{}}

	types := lo.Map(recipient.PropertyTypes, func(t string, _ int) string { return canonicalType(t) })

	selected := lo.Filter(properties, func(p *property.Property, _ int) bool {
		reason := ""
		switch {
		case !h.LastReport.IsZero() && !p.EnrichedAt.After(h.LastReport):
			reason = SkipBeforeLastReport
		case h.Sent[p.UUID]:
			reason = SkipAlreadySent
		case !InAreas(p, recipient.Cities):
			reason = SkipOutsideArea
		case len(types) > 0 && !lo.Contains(types, canonicalType(p.Type)):
			reason = SkipPropertyType
		case !p.Complete():
			reason = SkipIncomplete
		}
		if reason != "" {
			r.Skipped[reason]++
			return false
		}
		return true
	})

	Rank(selected)

	if limit := recipient.Limit(); len(selected) > limit {
		r.Skipped[SkipOverLimit] += len(selected) - limit
		selected = selected[:limit]
	}
	r.Properties = selected
	return r
}

// Rank orders properties by descending profit. Properties without a profit
// go last. Ties keep their input order.
func Rank(properties []*property.Property) {
	sort.SliceStable(properties, func(i, j int) bool {
		a, b := properties[i].Profit(), properties[j].Profit()
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

// InAreas reports whether p lies in one of areas. An area is a commune INSEE
// code, a postal code, a two or three character department code or a city
// name. No areas means everywhere.
func InAreas(p *property.Property, areas []string) bool {
	if len(areas) == 0 {
		return true
	}
	return lo.SomeBy(areas, func(a string) bool {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			return false
		case a == p.CommuneCode || a == p.PostalCode:
			return true
		case isDepartment(a):
			return strings.HasPrefix(p.CommuneCode, strings.ToUpper(a))
		default:
			return address.SameCity(a, p.City)
		}
	})
}

func isDepartment(s string) bool {
	if len(s) != 2 && len(s) != 3 {
		return false
	}
	if strings.EqualFold(s, "2a") || strings.EqualFold(s, "2b") {
		return true
	}
	return strings.Trim(s, "0123456789") == ""
}

// canonicalType maps customer spellings onto the DVF property types.
func canonicalType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "appartement", "apartment", "appart", "flat":
		return source.TypeApartment
	case "maison", "house":
		return source.TypeHouse
	default:
		return strings.TrimSpace(t)
	}
}
