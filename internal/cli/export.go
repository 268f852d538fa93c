package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/trackimmo/internal/export"
	"github.com/evcraddock/trackimmo/internal/property"
)

func newExportCmd() *cobra.Command {
	var opts property.ListOptions

	cmd := &cobra.Command{
		Use:   "export <file.xlsx|file.csv>",
		Short: "Export stored properties",
		Long:  "Write stored properties to an XLSX or CSV file, chosen by the file extension.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			n, err := export.NewService(property.NewRepository(e.db), e.logger).ToFile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d properties to %s\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.CommuneCodes, "commune", nil, "only these INSEE commune codes (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "only these property types (Appartement, Maison)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of properties")

	return cmd
}
