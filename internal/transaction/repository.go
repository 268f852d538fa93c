// Package transaction stores raw sale records fetched from the sources.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evcraddock/trackimmo/internal/source"
)

// Transaction is a stored source record with its processing state.
type Transaction struct {
	ID int64
	source.TransactionRecord
	FetchedAt  time.Time
	EnrichedAt *time.Time
	SkipReason string
}

// UpsertStats counts what Upsert did.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Total is the number of records handled.
func (s UpsertStats) Total() int {
	return s.Inserted + s.Updated + s.Unchanged
}

type transactionSchema struct {
	ID          int64      `db:"id"`
	Source      string     `db:"source"`
	MutationID  string     `db:"mutation_id"`
	Address     string     `db:"address"`
	City        string     `db:"city"`
	PostalCode  string     `db:"postal_code"`
	CommuneCode string     `db:"commune_code"`
	Price       *int64     `db:"price"`
	SaleDate    time.Time  `db:"sale_date"`
	Surface     *float64   `db:"surface"`
	Rooms       *int       `db:"rooms"`
	Type        string     `db:"type"`
	Longitude   *float64   `db:"longitude"`
	Latitude    *float64   `db:"latitude"`
	FetchedAt   time.Time  `db:"fetched_at"`
	EnrichedAt  *time.Time `db:"enriched_at"`
	SkipReason  string     `db:"skip_reason"`
}

func (s transactionSchema) toDomain() *Transaction {
	return &Transaction{
		ID: s.ID,
		TransactionRecord: source.TransactionRecord{
			Source:      s.Source,
			MutationID:  s.MutationID,
			Address:     s.Address,
			City:        s.City,
			PostalCode:  s.PostalCode,
			CommuneCode: s.CommuneCode,
			Price:       s.Price,
			SaleDate:    s.SaleDate.UTC(),
			Surface:     s.Surface,
			Rooms:       s.Rooms,
			Type:        s.Type,
			Longitude:   s.Longitude,
			Latitude:    s.Latitude,
		},
		FetchedAt:  s.FetchedAt,
		EnrichedAt: s.EnrichedAt,
		SkipReason: s.SkipReason,
	}
}

func newSchema(r source.TransactionRecord, fetchedAt time.Time) transactionSchema {
	return transactionSchema{
		Source:      r.Source,
		MutationID:  r.MutationID,
		Address:     r.Address,
		City:        r.City,
		PostalCode:  r.PostalCode,
		CommuneCode: r.CommuneCode,
		Price:       r.Price,
		SaleDate:    r.SaleDate.UTC(),
		Surface:     r.Surface,
		Rooms:       r.Rooms,
		Type:        r.Type,
		Longitude:   r.Longitude,
		Latitude:    r.Latitude,
		FetchedAt:   fetchedAt.UTC(),
	}
}

const selectColumns = `id, source, mutation_id, address, city, postal_code, commune_code, price, sale_date,
	surface, rooms, type, longitude, latitude, fetched_at, enriched_at, skip_reason`

// Repository stores transactions.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a transaction repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w; rollback: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Upsert stores records keyed by (source, mutation id). A record whose
// content changed replaces the stored one and is queued for enrichment
// again; identical records are left untouched.
func (r *Repository) Upsert(ctx context.Context, recs []source.TransactionRecord, fetchedAt time.Time) (UpsertStats, error) {
	var stats UpsertStats
	if len(recs) == 0 {
		return stats, nil
	}

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, rec := range recs {
			if rec.Source == "" || rec.MutationID == "" {
				return fmt.Errorf("record %q has no source or mutation id", rec.Address)
			}

			var existing transactionSchema
			err := tx.GetContext(ctx, &existing, tx.Rebind(
				"SELECT "+selectColumns+" FROM transactions WHERE source = ? AND mutation_id = ?"),
				rec.Source, rec.MutationID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if err := insertTx(ctx, tx, newSchema(rec, fetchedAt)); err != nil {
					return err
				}
				stats.Inserted++
			case err != nil:
				return fmt.Errorf("looking up %s/%s: %w", rec.Source, rec.MutationID, err)
			case sameRecord(existing.toDomain().TransactionRecord, rec):
				stats.Unchanged++
			default:
				s := newSchema(rec, fetchedAt)
				s.ID = existing.ID
				if err := updateTx(ctx, tx, s); err != nil {
					return err
				}
				stats.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return UpsertStats{}, fmt.Errorf("upserting transactions: %w", err)
	}
	return stats, nil
}

func insertTx(ctx context.Context, tx *sqlx.Tx, s transactionSchema) error {
	query := `INSERT INTO transactions
		(source, mutation_id, address, city, postal_code, commune_code, price, sale_date,
		 surface, rooms, type, longitude, latitude, fetched_at)
		VALUES (:source, :mutation_id, :address, :city, :postal_code, :commune_code, :price, :sale_date,
		 :surface, :rooms, :type, :longitude, :latitude, :fetched_at)`
	if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("inserting %s/%s: %w", s.Source, s.MutationID, err)
	}
	return nil
}

func updateTx(ctx context.Context, tx *sqlx.Tx, s transactionSchema) error {
	query := `UPDATE transactions SET
		address = :address, city = :city, postal_code = :postal_code, commune_code = :commune_code,
		price = :price, sale_date = :sale_date, surface = :surface, rooms = :rooms, type = :type,
		longitude = :longitude, latitude = :latitude, fetched_at = :fetched_at,
		enriched_at = NULL, skip_reason = ''
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("updating %s/%s: %w", s.Source, s.MutationID, err)
	}
	return nil
}

// PendingOptions controls which transactions Pending returns.
type PendingOptions struct {
	All         bool // include already enriched transactions
	CommuneCode string
	Limit       int
}

// Pending returns transactions waiting for enrichment, oldest sale first.
func (r *Repository) Pending(ctx context.Context, opts PendingOptions) ([]*Transaction, error) {
	query := "SELECT " + selectColumns + " FROM transactions"
	var conditions []string
	var args []any

	if !opts.All {
		conditions = append(conditions, "enriched_at IS NULL")
	}
	if opts.CommuneCode != "" {
		conditions = append(conditions, "commune_code = ?")
		args = append(args, opts.CommuneCode)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY sale_date, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	var schemas []transactionSchema
	if err := r.db.SelectContext(ctx, &schemas, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}

	out := make([]*Transaction, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.toDomain())
	}
	return out, nil
}

// MarkEnriched records that a transaction has been processed. A non-empty
// reason marks it as skipped.
func (r *Repository) MarkEnriched(ctx context.Context, id int64, at time.Time, reason string) error {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind("UPDATE transactions SET enriched_at = ?, skip_reason = ? WHERE id = ?"),
		at.UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("marking transaction %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transaction %d not found", id)
	}
	return nil
}

// Count returns the number of stored transactions.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM transactions"); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return n, nil
}

func sameRecord(a, b source.TransactionRecord) bool {
	return a.Address == b.Address &&
		a.City == b.City &&
		a.PostalCode == b.PostalCode &&
		a.CommuneCode == b.CommuneCode &&
		eq(a.Price, b.Price) &&
		a.SaleDate.Equal(b.SaleDate) &&
		eq(a.Surface, b.Surface) &&
		eq(a.Rooms, b.Rooms) &&
		a.Type == b.Type &&
		eq(a.Longitude, b.Longitude) &&
		eq(a.Latitude, b.Latitude)
}

func eq[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
