package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/source"
	"github.com/evcraddock/trackimmo/internal/source/dvf"
	"github.com/evcraddock/trackimmo/internal/transaction"
)

// collectOptions selects what to fetch from DVF.
type collectOptions struct {
	communes []string
	from     string
	to       string
	months   int
}

func (o *collectOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.communes, "commune", nil, "INSEE commune code (repeatable, default: collect.communes)")
	cmd.Flags().StringVar(&o.from, "from", "", "first sale date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&o.to, "to", "", "last sale date (YYYY-MM-DD, default: today)")
	cmd.Flags().IntVar(&o.months, "months", 0, "months back from --to when --from is not set (default: collect.months_back)")
}

// window returns the fetch date range.
func (o *collectOptions) window(now time.Time, defaultMonths int) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(24 * time.Hour)
	if o.to != "" {
		t, err := time.Parse(time.DateOnly, o.to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", o.to, err)
		}
		to = t
	}

	months := o.months
	if months <= 0 {
		months = defaultMonths
	}
	from := to.AddDate(0, -months, 0)
	if o.from != "" {
		t, err := time.Parse(time.DateOnly, o.from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", o.from, err)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}

// collectStats sums the per-commune results of a collect run.
type collectStats struct {
	Communes  int               `json:"communes"`
	Failed    int               `json:"failed"`
	Fetched   int               `json:"fetched"`
	Inserted  int               `json:"inserted"`
	Updated   int               `json:"updated"`
	Unchanged int               `json:"unchanged"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// errCollectFailed is returned when no commune could be collected.
var errCollectFailed = errors.New("collect failed for every commune")

func newCollectCmd() *cobra.Command {
	var opts collectOptions

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch DVF sales into the database",
		Long:  "Download DVF sales for each commune and date range and store them. Re-running a window does not duplicate sales.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.collect(cmd.Context(), opts)
			if stats.Communes == 0 {
				return err
			}
			if perr := printCollect(cmd, stats); perr != nil {
				return perr
			}
			return err
		},
	}

	opts.register(cmd)
	return cmd
}

// collect fetches every commune in parallel and stores the sales. A failing
// commune is counted and does not stop the others.
func (e *env) collect(ctx context.Context, opts collectOptions) (collectStats, error) {
	communes := opts.communes
	if len(communes) == 0 {
		communes = e.cfg.Collect.Communes
	}
	if len(communes) == 0 {
		return collectStats{}, fmt.Errorf("no commune to collect: pass --commune or set collect.communes")
	}

	from, to, err := opts.window(time.Now(), e.cfg.Collect.MonthsBack)
	if err != nil {
		return collectStats{}, err
	}

	client := dvf.NewClient(e.httpClient(), e.cfg.Sources.DVFURL, e.logger)
	repo := transaction.NewRepository(e.db)

	var (
		mu    sync.Mutex
		stats = collectStats{Communes: len(communes)}
	)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Collect.Parallelism)

	for _, commune := range communes {
		commune := commune
		g.Go(func() error {
			recs, err := client.Fetch(ctx, source.Filter{CommuneCode: commune, From: from, To: to})
			var up transaction.UpsertStats
			if err == nil {
				up, err = repo.Upsert(ctx, recs, time.Now())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Error("collect failed", "commune", commune, logging.Err(err))
				stats.Failed++
				if stats.Errors == nil {
					stats.Errors = map[string]string{}
				}
				stats.Errors[commune] = err.Error()
				return nil
			}
			e.logger.Info("collected", "commune", commune, "fetched", len(recs),
				"inserted", up.Inserted, "updated", up.Updated, "unchanged", up.Unchanged)
			stats.Fetched += len(recs)
			stats.Inserted += up.Inserted
			stats.Updated += up.Updated
			stats.Unchanged += up.Unchanged
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Failed == stats.Communes {
		return stats, errCollectFailed
	}
	return stats, nil
}

func printCollect(cmd *cobra.Command, s collectStats) error {
	w := cmd.OutOrStdout()
	if isJSON() {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "Communes:  %d (%d failed)\n", s.Communes, s.Failed)
	fmt.Fprintf(w, "Fetched:   %d\n", s.Fetched)
	fmt.Fprintf(w, "Inserted:  %d\n", s.Inserted)
	fmt.Fprintf(w, "Updated:   %d\n", s.Updated)
	fmt.Fprintf(w, "Unchanged: %d\n", s.Unchanged)
	communes := lo.Keys(s.Errors)
	sort.Strings(communes)
	for _, c := range communes {
		fmt.Fprintf(w, "  %s: %s\n", c, s.Errors[c])
	}
	return nil
}
