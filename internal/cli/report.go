package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/customer"
	"github.com/evcraddock/trackimmo/internal/email"
	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/property"
	"github.com/evcraddock/trackimmo/internal/report"
)

type sendOptions struct {
	customer string
	dryRun   bool
	test     bool
}

// sendResult describes what happened for one customer.
type sendResult struct {
	Customer   string         `json:"customer"`
	To         string         `json:"to,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Properties int            `json:"properties"`
	Skipped    map[string]int `json:"skipped,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// Send statuses.
const (
	statusSent   = "sent"
	statusDryRun = "dry-run"
	statusEmpty  = "empty"
	statusFailed = "failed"
)

var errSendFailed = errors.New("some reports could not be sent")

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build and send monthly reports",
	}
	cmd.AddCommand(newReportSendCmd())
	return cmd
}

func newReportSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the monthly report to active customers",
		Long: `Build each active customer's report from the properties enriched since their
last report, rank them by estimated profit and email it.

Use --dry-run to print the HTML instead of sending, and --test to send to the
configured test address without marking properties as sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			var html io.Writer
			if opts.dryRun && !isJSON() {
				html = cmd.OutOrStdout()
			}

			results, err := e.sendReports(cmd.Context(), opts, html, time.Now())
			if results == nil && err != nil {
				return err
			}
			if perr := printSendResults(cmd, results); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.customer, "customer", "", "only this customer id")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the report instead of sending it")
	cmd.Flags().BoolVar(&opts.test, "test", false, "send to report.test_email and do not record properties as sent")

	return cmd
}

// sendReports builds, renders and sends the report of each selected
// customer. A failure for one customer does not stop the others. In dry-run
// mode the HTML is written to html and nothing is recorded.
func (e *env) sendReports(ctx context.Context, opts sendOptions, html io.Writer, now time.Time) ([]sendResult, error) {
	if opts.test && e.cfg.Report.TestEmail == "" {
		return nil, fmt.Errorf("--test needs report.test_email (TEST_EMAIL)")
	}
	if !opts.dryRun && !e.cfg.SMTPConfigured() {
		return nil, fmt.Errorf("SMTP not configured: set smtp.host and smtp.from (SMTP_SERVER, SMTP_FROM)")
	}

	customers, err := e.selectCustomers(opts.customer)
	if err != nil {
		return nil, err
	}

	props, err := property.NewRepository(e.db).List(ctx, property.ListOptions{})
	if err != nil {
		return nil, err
	}

	history := customer.NewHistory(e.db)
	var sender email.Sender
	if !opts.dryRun {
		sender = newSender(e.cfg)
	}

	results := make([]sendResult, 0, len(customers))
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := e.sendReport(ctx, c, props, history, sender, opts, html, now)
		results = append(results, res)
	}

	if lo.SomeBy(results, func(r sendResult) bool { return r.Status == statusFailed }) {
		return results, errSendFailed
	}
	return results, nil
}

func (e *env) selectCustomers(id string) ([]customer.Customer, error) {
	store := customer.NewStore(e.cfg.Report.CustomersDir, e.logger)
	if id != "" {
		c, err := store.Load(id)
		if err != nil {
			return nil, err
		}
		return []customer.Customer{c}, nil
	}

	all, err := store.List()
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(c customer.Customer, _ int) bool { return c.Active() }), nil
}

func (e *env) sendReport(ctx context.Context, c customer.Customer, props []*property.Property,
	history *customer.History, sender email.Sender, opts sendOptions, html io.Writer, now time.Time) sendResult {
	res := sendResult{Customer: c.ID, To: c.Email}
	if opts.test {
		res.To = e.cfg.Report.TestEmail
	}
	fail := func(err error) sendResult {
		e.logger.Error("report failed", "customer", c.ID, logging.Err(err))
		res.Status = statusFailed
		res.Error = err.Error()
		return res
	}

	last, err := history.LastReport(ctx, c.ID)
	if err != nil {
		return fail(err)
	}
	sent, err := history.Sent(ctx, c.ID)
	if err != nil {
		return fail(err)
	}

	r := report.Build(c, props, report.History{LastReport: last, Sent: sent})
	res.Properties = len(r.Properties)
	res.Skipped = r.Skipped
	if len(r.Properties) == 0 {
		e.logger.Info("no new properties", "customer", c.ID, "skipped", r.SkippedTotal())
		res.Status = statusEmpty
		return res
	}

	body, err := report.Render(r, e.cfg.Report.LogoURL, now)
	if err != nil {
		return fail(err)
	}
	res.Subject = report.Subject(now)

	if opts.dryRun {
		if html != nil {
			fmt.Fprintf(html, "To: %s\nSubject: %s\n\n%s\n", res.To, res.Subject, body)
		}
		res.Status = statusDryRun
		return res
	}

	if err := sender.Send(email.Message{To: []string{res.To}, Subject: res.Subject, HTML: body}); err != nil {
		return fail(err)
	}

	err = history.Record(ctx, customer.Sending{
		CustomerID:    c.ID,
		Email:         res.To,
		Subject:       res.Subject,
		PropertyUUIDs: r.UUIDs(),
		SentAt:        now,
		Test:          opts.test,
	})
	if err != nil {
		return fail(fmt.Errorf("report sent but not recorded: %w", err))
	}

	e.logger.Info("report sent", "customer", c.ID, "to", res.To, "properties", res.Properties, "skipped", r.SkippedTotal())
	res.Status = statusSent
	return res
}

func printSendResults(cmd *cobra.Command, results []sendResult) error {
	w := cmd.OutOrStdout()
	if isJSON() {
		return printJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No active customer.")
		return nil
	}
	rows := lo.Map(results, func(r sendResult, _ int) []string {
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		return []string{r.Customer, r.To, fmt.Sprint(r.Properties), formatCounts(r.Skipped), status}
	})
	return printTable(w, []string{"CUSTOMER", "TO", "PROPERTIES", "SKIPPED", "STATUS"}, rows)
}
