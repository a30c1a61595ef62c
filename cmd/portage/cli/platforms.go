package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/platform"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported platforms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		type platformInfo struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		}
		var list []platformInfo
		for _, p := range platform.All() {
			list = append(list, platformInfo{Name: p.String(), DisplayName: p.DisplayName()})
		}
		if jsonOut {
			return printJSON(os.Stdout, list)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDISPLAY NAME")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.DisplayName)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}
