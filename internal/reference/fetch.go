package reference

import (
	"context"
	"log/slog"

	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/source"
)

// Fetcher returns commune-level prices for a city, stored under area.
type Fetcher interface {
	Fetch(ctx context.Context, city, postalCode, area string) ([]source.ReferencePrice, error)
}

// Commune is a commune sales were seen in.
type Commune struct {
	Code       string
	City       string
	PostalCode string
}

func (c Commune) area() string {
	if c.Code != "" {
		return c.Code
	}
	return c.PostalCode
}

// FetchStats counts the communes handled by FetchMissing.
type FetchStats struct {
	Missing int `json:"missing"`
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
}

// HasCommune reports whether a commune-level price of any type exists for
// the INSEE code or the postal code.
func (s *Snapshot) HasCommune(code, postalCode string) bool {
	for _, area := range []string{code, postalCode} {
		if area == "" {
			continue
		}
		for _, ptype := range []string{source.TypeApartment, source.TypeHouse, source.TypeAll} {
			if _, ok := s.prices[indexKey{source.LevelCommune, area, ptype}]; ok {
				return true
			}
		}
	}
	return false
}

// FetchMissing fetches and stores prices for the communes that have no
// commune-level reference yet. A commune that cannot be fetched is logged
// and counted; only a cancelled context or a storage error stops the run.
func (r *Repository) FetchMissing(ctx context.Context, f Fetcher, communes []Commune, logger *slog.Logger) (FetchStats, error) {
	var stats FetchStats
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		return stats, err
	}

	seen := map[string]bool{}
	for _, c := range communes {
		area := c.area()
		if area == "" || c.City == "" || seen[area] {
			continue
		}
		seen[area] = true
		if snap.HasCommune(c.Code, c.PostalCode) {
			continue
		}
		stats.Missing++

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		prices, err := f.Fetch(ctx, c.City, c.PostalCode, area)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			logger.Warn("fetching reference prices failed", "city", c.City, "area", area, logging.Err(err))
			continue
		}
		if _, err := r.Upsert(ctx, prices); err != nil {
			return stats, err
		}
		stats.Fetched++
	}
	return stats, nil
}
