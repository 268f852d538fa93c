package property

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/transaction"
)

// ErrBatchFailed is returned when no record of a non-empty batch could be
// stored.
var ErrBatchFailed = errors.New("every record failed")

// BatchStats summarizes an enrichment batch.
type BatchStats struct {
	Total        int
	Enriched     int
	Skipped      int
	Failed       int
	Unresolved   int
	WithEnergy   int
	Estimated    int
	EnergyErrors int
	SkipReasons  map[string]int

	// Set when missing reference prices were fetched before the batch.
	ReferencesFetched int
	ReferenceFailures int
}

func (s *BatchStats) add(out outcome) {
	s.Enriched++
	p := out.property
	if !p.Resolved() {
		s.Unresolved++
	}
	if p.EnergyClass != "" || p.GESClass != "" {
		s.WithEnergy++
	}
	if p.EstimatedPrice != nil {
		s.Estimated++
	}
	if out.energyErr != nil {
		s.EnergyErrors++
	}
}

func (s *BatchStats) skip(reason string) {
	s.Skipped++
	if s.SkipReasons == nil {
		s.SkipReasons = map[string]int{}
	}
	s.SkipReasons[reason]++
}

// Service runs enrichment over stored transactions.
type Service struct {
	transactions *transaction.Repository
	properties   *Repository
	enricher     *Enricher
	workers      int
	logger       *slog.Logger
}

// NewService creates a property service.
func NewService(transactions *transaction.Repository, properties *Repository, enricher *Enricher, workers int, logger *slog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		transactions: transactions,
		properties:   properties,
		enricher:     enricher,
		workers:      workers,
		logger:       logger,
	}
}

// EnrichAll enriches the transactions selected by opts with a bounded pool
// of workers and stores the resulting properties. Per-record problems are
// counted, never returned; the error is reserved for the batch as a whole.
func (s *Service) EnrichAll(ctx context.Context, opts transaction.PendingOptions) (BatchStats, error) {
	pending, err := s.transactions.Pending(ctx, opts)
	if err != nil {
		return BatchStats{}, fmt.Errorf("loading transactions: %w", err)
	}

	stats := BatchStats{Total: len(pending)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, t := range pending {
		t := t
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			reason, out, err := s.enrichOne(gctx, t)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
			case reason != "":
				stats.skip(reason)
			default:
				stats.add(out)
			}
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.logger.Info("enrichment finished",
		"total", stats.Total,
		"enriched", stats.Enriched,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"unresolved", stats.Unresolved,
		"with_energy", stats.WithEnergy,
		"estimated", stats.Estimated,
	)

	if stats.Total > 0 && stats.Failed == stats.Total {
		return stats, ErrBatchFailed
	}
	return stats, nil
}

// enrichOne enriches and stores one transaction. It returns the skip reason
// for incomplete records.
func (s *Service) enrichOne(ctx context.Context, t *transaction.Transaction) (string, outcome, error) {
	out, err := s.enricher.enrich(ctx, t.TransactionRecord)

	var incomplete *IncompleteError
	if errors.As(err, &incomplete) {
		s.logger.Debug("transaction skipped", "id", t.ID, "reason", incomplete.Reason)
		if err := s.transactions.MarkEnriched(ctx, t.ID, time.Now(), incomplete.Reason); err != nil {
			s.logger.Error("marking skipped transaction", "id", t.ID, logging.Err(err))
			return "", out, err
		}
		return incomplete.Reason, out, nil
	}
	if err != nil {
		return "", out, err
	}

	id := t.ID
	out.property.TransactionID = &id
	if _, err := s.properties.Upsert(ctx, out.property); err != nil {
		s.logger.Error("storing property", "transaction", t.ID, logging.Err(err))
		return "", out, err
	}

	if err := s.transactions.MarkEnriched(ctx, t.ID, out.property.EnrichedAt, ""); err != nil {
		s.logger.Error("marking transaction", "id", t.ID, logging.Err(err))
		return "", out, err
	}
	return "", out, nil
}
