package property

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evcraddock/trackimmo/internal/address"
	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source"
	"github.com/evcraddock/trackimmo/internal/source/dpe"
	"github.com/evcraddock/trackimmo/internal/source/dvf"
)

// ErrIncompleteRecord is returned for transactions lacking the minimum
// fields to become a property.
var ErrIncompleteRecord = errors.New("incomplete record")

// Skip reasons reported for incomplete records.
const (
	ReasonNoPrice       = "no price"
	ReasonNegativePrice = "negative price"
	ReasonNoAddress     = "no address"
)

// IncompleteError carries the reason a record was dropped.
type IncompleteError struct {
	Reason string
}

func (e *IncompleteError) Error() string {
	return "incomplete record: " + e.Reason
}

// Is makes IncompleteError match ErrIncompleteRecord.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncompleteRecord
}

// AddressResolver resolves raw addresses; see address.Resolver.
type AddressResolver interface {
	ResolveIn(ctx context.Context, raw, city, postalCode string) (address.Key, bool, error)
}

// EnergyFinder finds the energy diagnostic of a dwelling; see dpe.Client.
type EnergyFinder interface {
	Find(ctx context.Context, q dpe.Query, match func(source.EnergyRecord) bool) (*source.EnergyRecord, error)
}

// Enricher turns transactions into properties. It is safe for concurrent use
// as long as its collaborators are.
type Enricher struct {
	resolver AddressResolver
	energy   EnergyFinder
	refs     *reference.Snapshot
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnricher creates an Enricher. energy may be nil to skip DPE lookups.
func NewEnricher(resolver AddressResolver, energy EnergyFinder, refs *reference.Snapshot, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if refs == nil {
		refs = reference.NewSnapshot(nil)
	}
	return &Enricher{
		resolver: resolver,
		energy:   energy,
		refs:     refs,
		logger:   logger,
		now:      time.Now,
	}
}

// outcome records how each step of an enrichment went.
type outcome struct {
	property   *Property
	resolveErr error
	energyErr  error
}

// Enrich builds the property for tx. The only error is an *IncompleteError
// (matching ErrIncompleteRecord); missing inputs otherwise reduce how much
// of the property is filled in.
func (e *Enricher) Enrich(ctx context.Context, tx source.TransactionRecord) (*Property, error) {
	out, err := e.enrich(ctx, tx)
	if err != nil {
		return nil, err
	}
	return out.property, nil
}

func (e *Enricher) enrich(ctx context.Context, tx source.TransactionRecord) (outcome, error) {
	var out outcome

	switch {
	case tx.Price == nil:
		return out, &IncompleteError{Reason: ReasonNoPrice}
	case *tx.Price < 0:
		return out, &IncompleteError{Reason: ReasonNegativePrice}
	}

	normalized := address.Normalize(tx.Address)
	if normalized == "" {
		return out, &IncompleteError{Reason: ReasonNoAddress}
	}

	p := &Property{
		Address:     tx.Address,
		City:        tx.City,
		PostalCode:  tx.PostalCode,
		CommuneCode: tx.CommuneCode,
		Type:        tx.Type,
		Rooms:       tx.Rooms,
		Surface:     tx.Surface,
		Price:       tx.Price,
		SaleDate:    tx.SaleDate.UTC(),
		Latitude:    tx.Latitude,
		Longitude:   tx.Longitude,
		EnrichedAt:  e.now().UTC(),
	}

	// 1. Address.
	key, resolved, err := e.resolver.ResolveIn(ctx, tx.Address, tx.City, tx.PostalCode)
	if err != nil {
		out.resolveErr = err
		resolved = false
		e.logger.Warn("address resolution failed", "address", tx.Address, logging.Err(err))
	}

	parts := address.Split(normalized)
	number, street, city := parts.Number, parts.Street, tx.City
	if resolved {
		p.AddressKey = key.String()
		conf := key.Confidence
		p.AddressConfidence = &conf
		if key.PostalCode != "" {
			p.PostalCode = key.PostalCode
		}
		if key.CityCode != "" {
			p.CommuneCode = key.CityCode
		}
		if key.Geocode != nil {
			lat, lon := key.Geocode.Lat, key.Geocode.Lon
			p.Latitude, p.Longitude = &lat, &lon
		}
		number, street = key.Number, key.Street
		if key.Commune != "" {
			city = key.Commune
		}
	}

	// 2. Energy diagnostic.
	if e.energy != nil && number != "" && street != "" {
		q := dpe.Query{
			Address:    number + " " + street,
			City:       city,
			PostalCode: p.PostalCode,
			SaleDate:   p.SaleDate,
		}
		rec, err := e.energy.Find(ctx, q, func(r source.EnergyRecord) bool {
			return address.Matches(r.Address, number, street, city)
		})
		if err != nil {
			out.energyErr = err
			e.logger.Debug("energy lookup failed", "address", tx.Address, logging.Err(err))
		}
		if rec != nil {
			p.EnergyClass = rec.EnergyClass
			p.GESClass = rec.GESClass
			p.EnergyValue = rec.EnergyValue
			p.GESValue = rec.GESValue
			if !rec.Date.IsZero() {
				d := rec.Date
				p.EnergyDate = &d
			}
		}
	}

	// 3. Estimated price.
	q := reference.Query{
		CommuneCode:  p.CommuneCode,
		PostalCode:   p.PostalCode,
		PropertyType: p.Type,
	}
	if p.CommuneCode != "" {
		q.Department = dvf.Department(p.CommuneCode)
	}
	if resolved {
		q.StreetArea = key.StreetArea()
	}
	if m, ok := e.refs.Lookup(q); ok {
		if est := Estimate(p.Surface, m.PricePerSqm); est != nil {
			ppsqm := m.PricePerSqm
			p.EstimatedPrice = est
			p.PricePerSqm = &ppsqm
			p.ReferenceLevel = m.Level
		}
	}

	p.DedupKey = DedupKey(p.AddressKey, tx.Address, p.SaleDate, p.Price)
	p.UUID = NewUUID(p.DedupKey)
	out.property = p
	return out, nil
}
