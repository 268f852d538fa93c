package cli

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/address"
	"github.com/evcraddock/trackimmo/internal/property"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source/ban"
	"github.com/evcraddock/trackimmo/internal/source/dpe"
	"github.com/evcraddock/trackimmo/internal/transaction"
)

// processOptions selects the sales to enrich.
type processOptions struct {
	transaction.PendingOptions
	FetchMissing bool
}

func newProcessCmd() *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Enrich stored sales into properties",
		Long: `Resolve the address of each stored sale in the BAN, look up its DPE rating,
estimate its current value from the reference prices and store the property.

Only sales not enriched yet are processed unless --all is given. With
--fetch-missing, commune prices are first scraped from MeilleursAgents for
the communes of those sales that have no commune-level reference.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.process(cmd.Context(), opts)
			if perr := printProcess(cmd, stats); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "re-enrich every stored sale")
	cmd.Flags().StringVar(&opts.CommuneCode, "commune", "", "only sales of this INSEE commune code")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of sales to process")
	cmd.Flags().BoolVar(&opts.FetchMissing, "fetch-missing", false, "scrape commune prices missing for the selected sales first")

	return cmd
}

// process enriches pending transactions. Reference prices are loaded once
// and stay fixed for the whole run.
func (e *env) process(ctx context.Context, opts processOptions) (property.BatchStats, error) {
	refRepo := reference.NewRepository(e.db)
	txRepo := transaction.NewRepository(e.db)

	var fetched reference.FetchStats
	if opts.FetchMissing || e.cfg.Enrich.FetchMissing {
		var err error
		fetched, err = e.fetchMissingReferences(ctx, txRepo, refRepo, opts.PendingOptions)
		if err != nil {
			return property.BatchStats{}, err
		}
	}

	refs, err := refRepo.Snapshot(ctx)
	if err != nil {
		return property.BatchStats{}, err
	}
	if refs.Len() == 0 {
		e.logger.Warn("no reference prices loaded, estimates will be empty; run 'trackimmo references import'")
	}

	hc := e.httpClient()
	resolver := address.NewResolver(ban.NewClient(hc, e.cfg.Sources.BANURL), e.cfg.Resolver, e.logger)

	var energy property.EnergyFinder
	if !e.cfg.Enrich.SkipEnergy {
		energy = dpe.NewClient(hc, e.cfg.Sources.DPEURL, e.logger)
	}

	svc := property.NewService(
		txRepo,
		property.NewRepository(e.db),
		property.NewEnricher(resolver, energy, refs, e.logger),
		e.cfg.Enrich.Workers,
		e.logger,
	)
	stats, err := svc.EnrichAll(ctx, opts.PendingOptions)
	stats.ReferencesFetched = fetched.Fetched
	stats.ReferenceFailures = fetched.Failed
	return stats, err
}

// fetchMissingReferences scrapes commune prices for the communes of the
// selected sales that have none.
func (e *env) fetchMissingReferences(ctx context.Context, txRepo *transaction.Repository, refRepo *reference.Repository,
	opts transaction.PendingOptions) (reference.FetchStats, error) {
	pending, err := txRepo.Pending(ctx, opts)
	if err != nil {
		return reference.FetchStats{}, err
	}
	communes := lo.Map(pending, func(t *transaction.Transaction, _ int) reference.Commune {
		return reference.Commune{Code: t.CommuneCode, City: t.City, PostalCode: t.PostalCode}
	})

	stats, err := refRepo.FetchMissing(ctx, newReferenceFetcher(e.cfg.Sources, e.logger), communes, e.logger)
	if err != nil {
		return stats, err
	}
	e.logger.Info("missing reference prices fetched",
		"missing", stats.Missing, "fetched", stats.Fetched, "failed", stats.Failed)
	return stats, nil
}

func printProcess(cmd *cobra.Command, s property.BatchStats) error {
	w := cmd.OutOrStdout()
	if isJSON() {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "Transactions: %d\n", s.Total)
	fmt.Fprintf(w, "Enriched:     %d\n", s.Enriched)
	fmt.Fprintf(w, "  estimated:  %d\n", s.Estimated)
	fmt.Fprintf(w, "  with DPE:   %d\n", s.WithEnergy)
	fmt.Fprintf(w, "  unresolved: %d\n", s.Unresolved)
	fmt.Fprintf(w, "Skipped:      %d (%s)\n", s.Skipped, formatCounts(s.SkipReasons))
	fmt.Fprintf(w, "Failed:       %d\n", s.Failed)
	if s.EnergyErrors > 0 {
		fmt.Fprintf(w, "DPE errors:   %d\n", s.EnergyErrors)
	}
	if s.ReferencesFetched > 0 || s.ReferenceFailures > 0 {
		fmt.Fprintf(w, "References:   %d fetched, %d failed\n", s.ReferencesFetched, s.ReferenceFailures)
	}
	return nil
}

func newAnalyzeCmd() *cobra.Command {
	var opts collectOptions
	var fetchMissing bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Collect then process",
		Long:  "Fetch DVF sales like 'collect', then enrich the new ones like 'process'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			cstats, err := e.collect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			pstats, err := e.process(cmd.Context(), processOptions{FetchMissing: fetchMissing})
			if isJSON() {
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{"collect": cstats, "process": pstats}); perr != nil {
					return perr
				}
				return err
			}
			if perr := printCollect(cmd, cstats); perr != nil {
				return perr
			}
			if perr := printProcess(cmd, pstats); perr != nil {
				return perr
			}
			return err
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&fetchMissing, "fetch-missing", false, "scrape commune prices missing for the new sales before enriching")
	return cmd
}
