package property

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a property does not exist.
var ErrNotFound = errors.New("property not found")

// Repository stores properties. Writes are idempotent per dedup key.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a property repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `id, uuid, dedup_key, transaction_id, address, city, postal_code, commune_code,
	address_key, address_confidence, type, rooms, surface, price, sale_date,
	estimated_price, price_per_sqm, reference_level,
	dpe_energy_class, dpe_ges_class, dpe_energy_value, dpe_ges_value, dpe_date,
	latitude, longitude, enriched_at, created_at, updated_at`

const upsertSQL = `INSERT INTO properties
	(uuid, dedup_key, transaction_id, address, city, postal_code, commune_code,
	 address_key, address_confidence, type, rooms, surface, price, sale_date,
	 estimated_price, price_per_sqm, reference_level,
	 dpe_energy_class, dpe_ges_class, dpe_energy_value, dpe_ges_value, dpe_date,
	 latitude, longitude, enriched_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dedup_key) DO UPDATE SET
		transaction_id = excluded.transaction_id,
		address = excluded.address,
		city = excluded.city,
		postal_code = excluded.postal_code,
		commune_code = excluded.commune_code,
		address_key = excluded.address_key,
		address_confidence = excluded.address_confidence,
		type = excluded.type,
		rooms = excluded.rooms,
		surface = excluded.surface,
		estimated_price = excluded.estimated_price,
		price_per_sqm = excluded.price_per_sqm,
		reference_level = excluded.reference_level,
		dpe_energy_class = excluded.dpe_energy_class,
		dpe_ges_class = excluded.dpe_ges_class,
		dpe_energy_value = excluded.dpe_energy_value,
		dpe_ges_value = excluded.dpe_ges_value,
		dpe_date = excluded.dpe_date,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		enriched_at = excluded.enriched_at,
		updated_at = excluded.updated_at`

// Upsert inserts p or updates the property with the same dedup key, and
// returns the stored row. When p carries a transaction id, any row left by an
// earlier enrichment of that transaction under another dedup key is replaced,
// and its sent history moves to the new UUID.
func (r *Repository) Upsert(ctx context.Context, p *Property) (*Property, error) {
	if p.DedupKey == "" {
		return nil, errors.New("property has no dedup key")
	}
	if p.UUID == "" {
		p.UUID = NewUUID(p.DedupKey)
	}

	now := time.Now().UTC()
	enrichedAt := p.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = now
	}

	var energyDate *time.Time
	if p.EnergyDate != nil {
		d := p.EnergyDate.UTC()
		energyDate = &d
	}

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if p.TransactionID != nil {
			if err := replaceStale(ctx, tx, *p.TransactionID, p.DedupKey, p.UUID); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(upsertSQL),
			p.UUID, p.DedupKey, p.TransactionID, p.Address, p.City, p.PostalCode, p.CommuneCode,
			p.AddressKey, p.AddressConfidence, p.Type, p.Rooms, p.Surface, p.Price, p.SaleDate.UTC(),
			p.EstimatedPrice, p.PricePerSqm, p.ReferenceLevel,
			p.EnergyClass, p.GESClass, p.EnergyValue, p.GESValue, energyDate,
			p.Latitude, p.Longitude, enrichedAt.UTC(), now, now,
		)
		if err != nil {
			return fmt.Errorf("upserting property: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetByUUID(ctx, p.UUID)
}

// replaceStale deletes the property a transaction produced under a different
// dedup key. Customers who already received the old row keep it marked as
// sent under newUUID.
func replaceStale(ctx context.Context, tx *sqlx.Tx, transactionID int64, dedupKey, newUUID string) error {
	var stale []string
	err := tx.SelectContext(ctx, &stale, tx.Rebind(
		`SELECT uuid FROM properties WHERE transaction_id = ? AND dedup_key <> ?`), transactionID, dedupKey)
	if err != nil {
		return fmt.Errorf("querying stale properties: %w", err)
	}

	for _, old := range stale {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO sent_properties (customer_id, property_uuid, sent_at)
			SELECT customer_id, ?, sent_at FROM sent_properties WHERE property_uuid = ?
			ON CONFLICT (customer_id, property_uuid) DO NOTHING`), newUUID, old)
		if err != nil {
			return fmt.Errorf("moving sent history of %s: %w", old, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sent_properties WHERE property_uuid = ?`), old); err != nil {
			return fmt.Errorf("moving sent history of %s: %w", old, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM properties WHERE uuid = ?`), old); err != nil {
			return fmt.Errorf("deleting stale property %s: %w", old, err)
		}
	}
	return nil
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByUUID returns a property by its UUID.
func (r *Repository) GetByUUID(ctx context.Context, id string) (*Property, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM properties WHERE uuid = ?", selectColumns))
	p, err := scanProperty(r.db.QueryRowxContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying property %s: %w", id, err)
	}
	return p, nil
}

// ListOptions controls filtering for List.
type ListOptions struct {
	CommuneCodes []string
	Types        []string
	Limit        int
}

// List returns properties, most recently enriched first.
func (r *Repository) List(ctx context.Context, opts ListOptions) (properties []*Property, err error) {
	query := fmt.Sprintf("SELECT %s FROM properties", selectColumns)
	var args []interface{}
	var conditions []string

	if len(opts.CommuneCodes) > 0 {
		conditions = append(conditions, "commune_code IN (?)")
		args = append(args, opts.CommuneCodes)
	}
	if len(opts.Types) > 0 {
		conditions = append(conditions, "type IN (?)")
		args = append(args, opts.Types)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY enriched_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	if len(args) > 0 {
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("building query: %w", err)
		}
	}

	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		properties = append(properties, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}

	return properties, nil
}

// Count returns the number of stored properties.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM properties"); err != nil {
		return 0, fmt.Errorf("counting properties: %w", err)
	}
	return n, nil
}
