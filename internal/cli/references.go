package cli

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source"
	"github.com/evcraddock/trackimmo/internal/source/refprice"
)

func newReferencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "references",
		Aliases: []string{"refs"},
		Short:   "Manage reference prices per square meter",
	}
	cmd.AddCommand(
		newReferencesImportCmd(),
		newReferencesFetchCmd(),
		newReferencesListCmd(),
	)
	return cmd
}

func newReferencesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import reference prices from a CSV file",
		Long: `Import reference prices from a CSV file with the header
level,area,property_type,price_per_m2 (level: street, commune or department).
Street areas are written "<insee>:<street name>". The older header
city_name,zipcode,property_type,price_per_m2 is read as commune prices.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prices, err := refprice.LoadFile(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			n, err := reference.NewRepository(e.db).Upsert(cmd.Context(), prices)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d reference prices\n", n)
			return nil
		},
	}
}

func newReferencesFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <insee> <city> <postal code>",
		Short: "Scrape commune prices from MeilleursAgents",
		Long:  "Open the commune's MeilleursAgents price page in headless Chrome and store its apartment and house prices per square meter.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			insee, city, postal := args[0], args[1], args[2]

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			prices, err := refprice.NewScraper(e.cfg.Sources, e.logger).Fetch(cmd.Context(), city, postal, insee)
			if err != nil {
				return err
			}
			if _, err := reference.NewRepository(e.db).Upsert(cmd.Context(), prices); err != nil {
				return err
			}
			return printReferences(cmd, prices)
		},
	}
}

func newReferencesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reference prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			prices, err := reference.NewRepository(e.db).List(cmd.Context())
			if err != nil {
				return err
			}
			return printReferences(cmd, prices)
		},
	}
}

func printReferences(cmd *cobra.Command, prices []source.ReferencePrice) error {
	w := cmd.OutOrStdout()
	if isJSON() {
		return printJSON(w, prices)
	}
	if len(prices) == 0 {
		fmt.Fprintln(w, "No reference prices.")
		return nil
	}
	rows := lo.Map(prices, func(p source.ReferencePrice, _ int) []string {
		return []string{p.Level, p.Area, p.PropertyType, strconv.FormatFloat(p.PricePerSqm, 'f', -1, 64), p.Source}
	})
	return printTable(w, []string{"LEVEL", "AREA", "TYPE", "PRICE/M2", "SOURCE"}, rows)
}
