// Package reference stores price-per-square-meter references and resolves
// the most specific one available for a property.
package reference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evcraddock/trackimmo/internal/address"
	"github.com/evcraddock/trackimmo/internal/source"
)

type priceSchema struct {
	Level        string    `db:"level"`
	Area         string    `db:"area"`
	PropertyType string    `db:"property_type"`
	PricePerSqm  float64   `db:"price_per_sqm"`
	Source       string    `db:"source"`
	FetchedAt    time.Time `db:"fetched_at"`
}

func (s priceSchema) toDomain() source.ReferencePrice {
	return source.ReferencePrice{
		Level:        s.Level,
		Area:         s.Area,
		PropertyType: s.PropertyType,
		PricePerSqm:  s.PricePerSqm,
		Source:       s.Source,
		FetchedAt:    s.FetchedAt,
	}
}

// Repository stores reference prices.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a reference price repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// NormalizeArea canonicalizes an area so lookups are independent of how the
// reference was written. Street areas are "<commune>:<street>".
func NormalizeArea(level, area string) string {
	area = strings.TrimSpace(area)
	if level != source.LevelStreet {
		return area
	}
	commune, street, ok := strings.Cut(area, ":")
	if !ok {
		return address.Normalize(area)
	}
	return address.StreetArea(strings.TrimSpace(commune), street)
}

// Upsert stores prices, replacing any existing price for the same level,
// area and property type.
func (r *Repository) Upsert(ctx context.Context, prices []source.ReferencePrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO reference_prices (level, area, property_type, price_per_sqm, source, fetched_at)
		VALUES (:level, :area, :property_type, :price_per_sqm, :source, :fetched_at)
		ON CONFLICT (level, area, property_type) DO UPDATE SET
			price_per_sqm = excluded.price_per_sqm,
			source = excluded.source,
			fetched_at = excluded.fetched_at`

	for _, p := range prices {
		if p.PricePerSqm <= 0 {
			return 0, fmt.Errorf("reference %s %s: price must be positive", p.Level, p.Area)
		}
		ptype := p.PropertyType
		if ptype == "" {
			ptype = source.TypeAll
		}
		s := priceSchema{
			Level:        p.Level,
			Area:         NormalizeArea(p.Level, p.Area),
			PropertyType: ptype,
			PricePerSqm:  p.PricePerSqm,
			Source:       p.Source,
			FetchedAt:    p.FetchedAt.UTC(),
		}
		if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
			return 0, fmt.Errorf("storing reference %s %s: %w", s.Level, s.Area, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing references: %w", err)
	}
	return len(prices), nil
}

// List returns all references ordered by level, area and type.
func (r *Repository) List(ctx context.Context) ([]source.ReferencePrice, error) {
	var schemas []priceSchema
	err := r.db.SelectContext(ctx, &schemas, `SELECT level, area, property_type, price_per_sqm, source, fetched_at
		FROM reference_prices ORDER BY level, area, property_type`)
	if err != nil {
		return nil, fmt.Errorf("listing reference prices: %w", err)
	}

	out := make([]source.ReferencePrice, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.toDomain())
	}
	return out, nil
}

// Snapshot loads every reference into an immutable in-memory index.
func (r *Repository) Snapshot(ctx context.Context) (*Snapshot, error) {
	prices, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(prices), nil
}

type indexKey struct {
	level, area, ptype string
}

// Snapshot is a read-only set of references, safe for concurrent use.
type Snapshot struct {
	prices map[indexKey]float64
}

// NewSnapshot indexes prices. Later entries win on duplicates.
func NewSnapshot(prices []source.ReferencePrice) *Snapshot {
	s := &Snapshot{prices: make(map[indexKey]float64, len(prices))}
	for _, p := range prices {
		ptype := p.PropertyType
		if ptype == "" {
			ptype = source.TypeAll
		}
		s.prices[indexKey{p.Level, NormalizeArea(p.Level, p.Area), ptype}] = p.PricePerSqm
	}
	return s
}

// Len returns the number of references.
func (s *Snapshot) Len() int {
	return len(s.prices)
}

// Query describes a property for a reference lookup. Empty fields skip
// the corresponding level.
type Query struct {
	StreetArea   string
	CommuneCode  string
	PostalCode   string
	Department   string
	PropertyType string
}

// Match is the reference applied to a property.
type Match struct {
	Level        string
	Area         string
	PropertyType string
	PricePerSqm  float64
}

// Lookup returns the most specific reference for q: street, then commune
// (INSEE code, then postal code), then department. At each level a price for
// the property type is preferred over one for all types.
func (s *Snapshot) Lookup(q Query) (Match, bool) {
	levels := []struct {
		level string
		areas []string
	}{
		{source.LevelStreet, []string{q.StreetArea}},
		{source.LevelCommune, []string{q.CommuneCode, q.PostalCode}},
		{source.LevelDepartment, []string{q.Department}},
	}

	types := []string{q.PropertyType, source.TypeAll}
	if q.PropertyType == "" || q.PropertyType == source.TypeAll {
		types = []string{source.TypeAll}
	}

	for _, l := range levels {
		for _, area := range l.areas {
			if area == "" {
				continue
			}
			for _, ptype := range types {
				if v, ok := s.prices[indexKey{l.level, area, ptype}]; ok {
					return Match{Level: l.level, Area: area, PropertyType: ptype, PricePerSqm: v}, true
				}
			}
		}
	}
	return Match{}, false
}
