package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/customer"
	"github.com/evcraddock/trackimmo/internal/property"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/transaction"
)

// statusInfo summarizes the database and configuration.
type statusInfo struct {
	Database     string `json:"database"`
	Transactions int    `json:"transactions"`
	Properties   int    `json:"properties"`
	References   int    `json:"references"`
	Customers    int    `json:"customers"`
	SMTP         bool   `json:"smtp_configured"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database counts and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			info, err := e.status(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if isJSON() {
				return printJSON(w, info)
			}
			smtp := "not configured"
			if info.SMTP {
				smtp = "configured"
			}
			fmt.Fprintf(w, "Database:     %s (%s)\n", info.Database, e.cfg.Database.Driver)
			fmt.Fprintf(w, "Transactions: %d\n", info.Transactions)
			fmt.Fprintf(w, "Properties:   %d\n", info.Properties)
			fmt.Fprintf(w, "References:   %d\n", info.References)
			fmt.Fprintf(w, "Customers:    %d\n", info.Customers)
			fmt.Fprintf(w, "SMTP:         %s\n", smtp)
			return nil
		},
	}
}

func (e *env) status(ctx context.Context) (statusInfo, error) {
	info := statusInfo{Database: e.cfg.Database.DSN, SMTP: e.cfg.SMTPConfigured()}
	if e.cfg.Database.Driver != "sqlite3" {
		info.Database = e.cfg.Database.Driver
	}

	var err error
	if info.Transactions, err = transaction.NewRepository(e.db).Count(ctx); err != nil {
		return info, err
	}
	if info.Properties, err = property.NewRepository(e.db).Count(ctx); err != nil {
		return info, err
	}
	refs, err := reference.NewRepository(e.db).List(ctx)
	if err != nil {
		return info, err
	}
	info.References = len(refs)

	customers, err := customer.NewStore(e.cfg.Report.CustomersDir, e.logger).List()
	if err != nil {
		return info, err
	}
	info.Customers = len(customers)
	return info, nil
}
