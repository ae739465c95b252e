package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/micloud/internal/cli/output"
	"github.com/marmos91/micloud/pkg/micloud"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List supported Mi Cloud regions",
	Long:  `List the Mi Cloud regions a session can be pointed at with --region.`,
	Args:  cobra.NoArgs,
	RunE:  runRegions,
}

func runRegions(cmd *cobra.Command, args []string) error {
	regions := micloud.Regions()

	if printer.Format() == output.FormatTable {
		table := output.NewTableData("Tag", "Name")
		for _, r := range regions {
			table.AddRow(r.Tag, r.Name)
		}
		return printer.Print(table)
	}
	return printer.Print(regions)
}
