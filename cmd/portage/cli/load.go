package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/ui"
)

var loadCredentials string

var loadCmd = &cobra.Command{
	Use:   "load <platform>",
	Short: "Load a platform's records and print them grouped by type",
	Long: `Load a platform's records through the integrations backend using the
credential in --credentials and print them grouped by type.

Examples:
  portage load hubspot --credentials hubspot.json
  portage load notion --credentials notion.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadCredentials, "credentials", "", "credential JSON file (required)")
	_ = loadCmd.MarkFlagRequired("credentials")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	p, err := platform.Parse(args[0])
	if err != nil {
		return err
	}
	cred, err := readCredentialFile(loadCredentials)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Select(p, cred); err != nil {
		return err
	}
	set, err := a.session.Load(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(os.Stdout, set)
	}
	ui.Success(fmt.Sprintf("Loaded %d records from %s.", set.Len(), p.DisplayName()))
	_, groups, _ := a.session.Records()
	ui.Groups(groups)
	return nil
}
