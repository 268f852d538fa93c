package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/customer"
)

func newCustomersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Inspect report recipients",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List customers with a valid config.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			customers, err := customer.NewStore(cfg.Report.CustomersDir, nil).List()
			if err != nil {
				return err
			}
			return printCustomers(cmd, customers)
		},
	})
	return cmd
}

func printCustomers(cmd *cobra.Command, customers []customer.Customer) error {
	w := cmd.OutOrStdout()
	if isJSON() {
		type row struct {
			ID string `json:"id"`
			customer.Customer
		}
		return printJSON(w, lo.Map(customers, func(c customer.Customer, _ int) row { return row{c.ID, c} }))
	}
	if len(customers) == 0 {
		fmt.Fprintln(w, "No customers.")
		return nil
	}
	rows := lo.Map(customers, func(c customer.Customer, _ int) []string {
		return []string{c.ID, c.Name(), c.Email, c.Status, strings.Join(c.Cities, ","), strconv.Itoa(c.Limit())}
	})
	return printTable(w, []string{"ID", "NAME", "EMAIL", "STATUS", "AREAS", "LIMIT"}, rows)
}
