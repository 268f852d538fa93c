// Package source defines the records and errors shared by the upstream data
// source clients (DVF, BAN, DPE, reference prices).
package source

import (
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable means the upstream could not be reached or answered
	// with a non-success status. Transient occurrences are retried.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrParse means the upstream payload did not match the expected schema.
	// It is never retried.
	ErrParse = errors.New("unexpected payload")
)

// Filter restricts a fetch to a commune and/or a sale date range.
// Zero From/To leave that side of the range open.
type Filter struct {
	CommuneCode string
	From        time.Time
	To          time.Time
	Cursor      string
}

// Contains reports whether t falls inside the date range (inclusive).
func (f Filter) Contains(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.After(f.To) {
		return false
	}
	return true
}

// Years returns every calendar year touched by the range. An open range
// starts at minYear and ends at the current year.
func (f Filter) Years(minYear int, now time.Time) []int {
	from, to := minYear, now.Year()
	if !f.From.IsZero() && f.From.Year() > from {
		from = f.From.Year()
	}
	if !f.To.IsZero() && f.To.Year() < to {
		to = f.To.Year()
	}
	var years []int
	for y := from; y <= to; y++ {
		years = append(years, y)
	}
	return years
}

// Property types kept from DVF.
const (
	TypeApartment = "Appartement"
	TypeHouse     = "Maison"

	// TypeAll marks a reference price valid for every property type.
	TypeAll = "all"
)

// Reference price levels, most specific first.
const (
	LevelStreet     = "street"
	LevelCommune    = "commune"
	LevelDepartment = "department"
)

// ReferencePrice is a price per square meter for an area.
// Area is a normalized street key, a commune (INSEE code or postal code)
// or a department code depending on Level.
type ReferencePrice struct {
	Level        string    `json:"level"`
	Area         string    `json:"area"`
	PropertyType string    `json:"property_type"`
	PricePerSqm  float64   `json:"price_per_m2"`
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// TransactionRecord is one normalized DVF sale.
type TransactionRecord struct {
	Source      string    `json:"source"`
	MutationID  string    `json:"mutation_id"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	PostalCode  string    `json:"postal_code"`
	CommuneCode string    `json:"commune_code"`
	Price       *int64    `json:"price,omitempty"`
	SaleDate    time.Time `json:"sale_date"`
	Surface     *float64  `json:"surface,omitempty"`
	Rooms       *int      `json:"rooms,omitempty"`
	Type        string    `json:"type"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
}

// EnergyRecord is a DPE diagnostic normalized across ADEME dataset versions.
type EnergyRecord struct {
	Dataset      string    `json:"dataset"`
	Address      string    `json:"address"`
	PostalCode   string    `json:"postal_code"`
	EnergyClass  string    `json:"energy_class"`
	GESClass     string    `json:"ges_class"`
	EnergyValue  *float64  `json:"energy_value,omitempty"`
	GESValue     *float64  `json:"ges_value,omitempty"`
	BuildingType string    `json:"building_type"`
	Date         time.Time `json:"date"`
}
