// Package property provides the unified property model, its storage and the
// enrichment pipeline that builds it from raw transactions.
package property

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evcraddock/trackimmo/internal/address"
)

// namespace seeds the deterministic property UUIDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("trackimmo"))

// Property is a transaction joined with its resolved address, energy
// diagnostic and estimated current value.
type Property struct {
	ID                int64      `json:"id"`
	UUID              string     `json:"uuid"`
	DedupKey          string     `json:"dedup_key"`
	TransactionID     *int64     `json:"transaction_id,omitempty"`
	Address           string     `json:"address"`
	City              string     `json:"city"`
	PostalCode        string     `json:"postal_code"`
	CommuneCode       string     `json:"commune_code"`
	AddressKey        string     `json:"address_key,omitempty"`
	AddressConfidence *float64   `json:"address_confidence,omitempty"`
	Type              string     `json:"type"`
	Rooms             *int       `json:"rooms,omitempty"`
	Surface           *float64   `json:"surface,omitempty"`
	Price             *int64     `json:"price,omitempty"`
	SaleDate          time.Time  `json:"sale_date"`
	EstimatedPrice    *int64     `json:"estimated_price,omitempty"`
	PricePerSqm       *float64   `json:"price_per_sqm,omitempty"`
	ReferenceLevel    string     `json:"reference_level,omitempty"`
	EnergyClass       string     `json:"dpe_energy_class,omitempty"`
	GESClass          string     `json:"dpe_ges_class,omitempty"`
	EnergyValue       *float64   `json:"dpe_energy_value,omitempty"`
	GESValue          *float64   `json:"dpe_ges_value,omitempty"`
	EnergyDate        *time.Time `json:"dpe_date,omitempty"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	EnrichedAt        time.Time  `json:"enriched_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Profit returns EstimatedPrice - Price, or nil unless both are set.
func (p *Property) Profit() *int64 {
	if p.Price == nil || p.EstimatedPrice == nil {
		return nil
	}
	v := *p.EstimatedPrice - *p.Price
	return &v
}

// Resolved reports whether the address was matched in the BAN.
func (p *Property) Resolved() bool {
	return p.AddressKey != ""
}

// Complete reports whether the property has what a report row needs:
// an address, a type and a price.
func (p *Property) Complete() bool {
	return strings.TrimSpace(p.Address) != "" && p.Type != "" && p.Price != nil
}

// DedupKey identifies a sale: the address key (or the normalized raw
// address when unresolved), the sale date and the price.
func DedupKey(addressKey, rawAddress string, saleDate time.Time, price *int64) string {
	addr := addressKey
	if addr == "" {
		addr = address.Normalize(rawAddress)
	}
	p := ""
	if price != nil {
		p = fmt.Sprint(*price)
	}
	return strings.Join([]string{addr, saleDate.UTC().Format("2006-01-02"), p}, "#")
}

// NewUUID derives a stable UUID from a dedup key.
func NewUUID(dedupKey string) string {
	return uuid.NewSHA1(namespace, []byte(dedupKey)).String()
}

// Estimate returns surface × pricePerSqm rounded to the euro. It returns nil
// when the surface is unknown or not positive, or the price is not positive.
func Estimate(surface *float64, pricePerSqm float64) *int64 {
	if surface == nil || *surface <= 0 || pricePerSqm <= 0 {
		return nil
	}
	v := decimal.NewFromFloat(*surface).
		Mul(decimal.NewFromFloat(pricePerSqm)).
		Round(0).
		IntPart()
	return &v
}

// scanProperty scans a property from a database row.
func scanProperty(row interface{ Scan(...interface{}) error }) (*Property, error) {
	var p Property
	var transactionID, price, estimated, rooms sql.NullInt64
	var confidence, surface, ppsqm, energyValue, gesValue, lat, lon sql.NullFloat64
	var energyDate sql.NullTime

	err := row.Scan(
		&p.ID, &p.UUID, &p.DedupKey, &transactionID,
		&p.Address, &p.City, &p.PostalCode, &p.CommuneCode,
		&p.AddressKey, &confidence, &p.Type, &rooms, &surface, &price, &p.SaleDate,
		&estimated, &ppsqm, &p.ReferenceLevel,
		&p.EnergyClass, &p.GESClass, &energyValue, &gesValue, &energyDate,
		&lat, &lon, &p.EnrichedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if transactionID.Valid {
		p.TransactionID = &transactionID.Int64
	}
	if confidence.Valid {
		p.AddressConfidence = &confidence.Float64
	}
	if rooms.Valid {
		r := int(rooms.Int64)
		p.Rooms = &r
	}
	if surface.Valid {
		p.Surface = &surface.Float64
	}
	if price.Valid {
		p.Price = &price.Int64
	}
	if estimated.Valid {
		p.EstimatedPrice = &estimated.Int64
	}
	if ppsqm.Valid {
		p.PricePerSqm = &ppsqm.Float64
	}
	if energyValue.Valid {
		p.EnergyValue = &energyValue.Float64
	}
	if gesValue.Valid {
		p.GESValue = &gesValue.Float64
	}
	if energyDate.Valid {
		d := energyDate.Time.UTC()
		p.EnergyDate = &d
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lon.Valid {
		p.Longitude = &lon.Float64
	}
	p.SaleDate = p.SaleDate.UTC()

	return &p, nil
}
