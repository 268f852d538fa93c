// Package refprice loads reference prices per square meter, either from a
// CSV file or by scraping MeilleursAgents commune pages.
package refprice

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/evcraddock/trackimmo/internal/source"
)

var (
	header       = []string{"level", "area", "property_type", "price_per_m2"}
	legacyHeader = []string{"city_name", "zipcode", "property_type", "price_per_m2"}
)

// LoadFile reads reference prices from a CSV file.
func LoadFile(path string) ([]source.ReferencePrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening reference prices: %w", err)
	}
	defer f.Close()

	prices, err := Load(f, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prices, nil
}

// Load parses reference prices. The header is either
// level,area,property_type,price_per_m2 or the legacy
// city_name,zipcode,property_type,price_per_m2 (commune level by postal code).
func Load(r io.Reader, now time.Time) ([]source.ReferencePrice, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", source.ErrParse)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrParse, err)
	}
	for i := range head {
		head[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(head[i], "\ufeff")))
	}

	legacy := false
	switch {
	case equal(head, header):
	case equal(head, legacyHeader):
		legacy = true
	default:
		return nil, fmt.Errorf("%w: unexpected header %v", source.ErrParse, head)
	}

	var prices []source.ReferencePrice
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrParse, err)
		}

		p, err := parseLine(rec, legacy)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", source.ErrParse, line, err)
		}
		p.Source = "csv"
		p.FetchedAt = now
		prices = append(prices, p)
	}

	return prices, nil
}

func parseLine(rec []string, legacy bool) (source.ReferencePrice, error) {
	var p source.ReferencePrice

	value, err := ParsePriceText(rec[3])
	if err != nil {
		return p, err
	}
	if value <= 0 {
		return p, fmt.Errorf("price_per_m2 must be positive, got %v", value)
	}
	p.PricePerSqm = value

	ptype, err := normalizeType(rec[2])
	if err != nil {
		return p, err
	}
	p.PropertyType = ptype

	if legacy {
		p.Level = source.LevelCommune
		p.Area = strings.TrimSpace(rec[1])
	} else {
		p.Level = strings.ToLower(strings.TrimSpace(rec[0]))
		p.Area = strings.TrimSpace(rec[1])
		switch p.Level {
		case source.LevelStreet, source.LevelCommune, source.LevelDepartment:
		default:
			return p, fmt.Errorf("unknown level %q", rec[0])
		}
	}
	if p.Area == "" {
		return p, errors.New("area is empty")
	}

	return p, nil
}

func normalizeType(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "appartement", "apartment":
		return source.TypeApartment, nil
	case "maison", "house":
		return source.TypeHouse, nil
	case "", "all", "tous":
		return source.TypeAll, nil
	}
	return "", fmt.Errorf("unknown property type %q", s)
}

// ParsePriceText converts a displayed price such as "10 250 €" or
// "4 312,5 €/m²" to a number.
func ParsePriceText(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/m²")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '€', ' ', '\u00a0', '\u202f', '\t':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return v, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
