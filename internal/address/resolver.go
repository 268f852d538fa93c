package address

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/patrickmn/go-cache"

	"github.com/evcraddock/trackimmo/internal/config"
	"github.com/evcraddock/trackimmo/internal/source/ban"
)

// Geocode is a WGS84 position.
type Geocode struct {
	Lat float64
	Lon float64
}

// Key is a canonical address used to join records from different sources.
type Key struct {
	Number     string
	Street     string
	PostalCode string
	Commune    string
	CityCode   string
	Geocode    *Geocode
	Confidence float64
}

// String returns the join key: number|street|postcode|citycode.
func (k Key) String() string {
	return strings.Join([]string{k.Number, k.Street, k.PostalCode, k.CityCode}, "|")
}

// StreetArea returns the key of the street for street-level reference prices.
func (k Key) StreetArea() string {
	return StreetArea(k.CityCode, k.Street)
}

// StreetArea builds a street-level area key from a commune code and a street.
func StreetArea(cityCode, street string) string {
	return cityCode + ":" + Normalize(street)
}

// Searcher looks up address candidates.
type Searcher interface {
	Search(ctx context.Context, query string, opts ban.SearchOptions) ([]ban.Candidate, error)
}

type resolution struct {
	key Key
	ok  bool
}

// Resolver resolves raw addresses to Keys. Results are memoized for the
// lifetime of the Resolver so identical input always gives the same Key.
type Resolver struct {
	search        Searcher
	minConfidence float64
	candidates    int
	memo          *cache.Cache
	logger        *slog.Logger
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s Searcher, cfg config.Resolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		search:        s,
		minConfidence: cfg.MinConfidence,
		candidates:    cfg.Candidates,
		memo:          cache.New(cache.NoExpiration, 0),
		logger:        logger,
	}
}

// Resolve resolves raw in city. ok is false when no candidate reaches the
// confidence threshold; that is not an error.
func (r *Resolver) Resolve(ctx context.Context, raw, city string) (Key, bool, error) {
	return r.ResolveIn(ctx, raw, city, "")
}

// ResolveIn is Resolve restricted to a postal code.
func (r *Resolver) ResolveIn(ctx context.Context, raw, city, postalCode string) (Key, bool, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return Key{}, false, nil
	}

	memoKey := strings.Join([]string{normalized, Normalize(city), postalCode}, "|")
	if v, found := r.memo.Get(memoKey); found {
		res := v.(resolution)
		return res.key, res.ok, nil
	}

	query := strings.TrimSpace(raw + " " + city)
	cands, err := r.search.Search(ctx, query, ban.SearchOptions{Limit: r.candidates, PostCode: postalCode})
	if err != nil {
		return Key{}, false, fmt.Errorf("resolving %q: %w", raw, err)
	}

	res := r.pick(Split(normalized), cands)
	r.memo.Set(memoKey, res, cache.NoExpiration)
	if !res.ok {
		r.logger.Debug("address unresolved", "address", raw, "city", city, "candidates", len(cands))
	}
	return res.key, res.ok, nil
}

// Len returns the number of memoized resolutions.
func (r *Resolver) Len() int {
	return r.memo.ItemCount()
}

func (r *Resolver) pick(parts Parts, cands []ban.Candidate) resolution {
	var (
		best      ban.Candidate
		bestConf  = -1.0
		bestFound bool
	)
	for _, c := range cands {
		if c.Type != "housenumber" && c.Type != "street" {
			continue
		}
		conf := Confidence(parts.Street, c)
		if conf > bestConf || (conf == bestConf && c.Label < best.Label) {
			best, bestConf, bestFound = c, conf, true
		}
	}

	if !bestFound || bestConf < r.minConfidence {
		return resolution{}
	}

	number := strings.ReplaceAll(Normalize(best.HouseNumber), " ", "")
	if number == "" {
		number = parts.Number
	}
	return resolution{
		ok: true,
		key: Key{
			Number:     number,
			Street:     Normalize(best.Street),
			PostalCode: best.PostCode,
			Commune:    best.City,
			CityCode:   best.CityCode,
			Geocode:    &Geocode{Lat: best.Latitude, Lon: best.Longitude},
			Confidence: bestConf,
		},
	}
}

// Confidence is the mean of the BAN score and the similarity between the
// normalized input street and the candidate street.
func Confidence(street string, c ban.Candidate) float64 {
	if street == "" {
		return c.Score
	}
	sim := levenshtein.Similarity(street, Normalize(c.Street), nil)
	return (c.Score + sim) / 2
}
