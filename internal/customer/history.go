package customer

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Sending describes a delivered report.
type Sending struct {
	CustomerID    string
	Email         string
	Subject       string
	PropertyUUIDs []string
	SentAt        time.Time
	Test          bool
}

// History stores report sendings and the properties they contained.
type History struct {
	db *sqlx.DB
}

// NewHistory creates a send history repository.
func NewHistory(db *sqlx.DB) *History {
	return &History{db: db}
}

// LastReport returns when the customer last received a real (non-test)
// report, or the zero time.
func (h *History) LastReport(ctx context.Context, customerID string) (time.Time, error) {
	var last []time.Time
	err := h.db.SelectContext(ctx, &last, h.db.Rebind(
		`SELECT sent_at FROM report_history WHERE customer_id = ? AND test = 0 ORDER BY sent_at DESC LIMIT 1`),
		customerID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last report of %s: %w", customerID, err)
	}
	if len(last) == 0 {
		return time.Time{}, nil
	}
	return last[0].UTC(), nil
}

// Sent returns the UUIDs of properties already sent to the customer.
func (h *History) Sent(ctx context.Context, customerID string) (map[string]bool, error) {
	var uuids []string
	err := h.db.SelectContext(ctx, &uuids, h.db.Rebind(
		`SELECT property_uuid FROM sent_properties WHERE customer_id = ?`), customerID)
	if err != nil {
		return nil, fmt.Errorf("reading sent properties of %s: %w", customerID, err)
	}

	out := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		out[u] = true
	}
	return out, nil
}

// Record stores a sending. Test sendings are logged but do not mark
// properties as sent.
func (h *History) Record(ctx context.Context, s Sending) error {
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	test := 0
	if s.Test {
		test = 1
	}
	sentAt := s.SentAt.UTC()

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO report_history (customer_id, email, subject, property_count, sent_at, test) VALUES (?, ?, ?, ?, ?, ?)`),
		s.CustomerID, s.Email, s.Subject, len(s.PropertyUUIDs), sentAt, test)
	if err != nil {
		return fmt.Errorf("recording report: %w", err)
	}

	if !s.Test {
		insert := tx.Rebind(`INSERT INTO sent_properties (customer_id, property_uuid, sent_at) VALUES (?, ?, ?)
			ON CONFLICT (customer_id, property_uuid) DO NOTHING`)
		for _, u := range s.PropertyUUIDs {
			if _, err := tx.ExecContext(ctx, insert, s.CustomerID, u, sentAt); err != nil {
				return fmt.Errorf("recording sent property %s: %w", u, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report history: %w", err)
	}
	return nil
}
