package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/ui"
)

var (
	syncFrom        string
	syncTo          string
	syncCredentials string
	syncTarget      string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load one platform and transfer its data to another",
	Long: `Load the source platform's records, connect the destination platform and
transfer the data into it.

The destination is authorized in a browser window unless --target-credentials
names a credential file for it.

Examples:
  portage sync --from hubspot --credentials hubspot.json --to notion
  portage sync --from hubspot --credentials hubspot.json --to airtable --target-credentials airtable.json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", string(platform.HubSpot), "source platform")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "destination platform (required)")
	syncCmd.Flags().StringVar(&syncCredentials, "credentials", "", "source credential JSON file (required)")
	syncCmd.Flags().StringVar(&syncTarget, "target-credentials", "", "destination credential JSON file (skips the browser)")
	_ = syncCmd.MarkFlagRequired("to")
	_ = syncCmd.MarkFlagRequired("credentials")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	src, err := platform.Parse(syncFrom)
	if err != nil {
		return err
	}
	dest, err := platform.Parse(syncTo)
	if err != nil {
		return err
	}
	if src == dest {
		return fmt.Errorf("source and destination are both %s", src.DisplayName())
	}
	cred, err := readCredentialFile(syncCredentials)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(cfg, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Select(src, cred); err != nil {
		return err
	}
	set, err := a.session.Load(ctx)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Loaded %d records from %s.", set.Len(), src.DisplayName()))

	if syncTarget != "" {
		target, err := readCredentialFile(syncTarget)
		if err != nil {
			return err
		}
		a.session.Credentials().Set(dest, target)
	} else {
		ui.Infof("Connecting to %s...", dest.DisplayName())
		if err := a.session.Connect(ctx, dest); err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("Connected to %s.", dest.DisplayName()))
	}

	res, err := a.session.Transfer(ctx, dest)
	if err != nil {
		return err
	}
	log.Info("sync complete", "from", src, "to", dest, "records", set.Len())
	if jsonOut {
		return printJSON(os.Stdout, map[string]any{
			"from":    src,
			"to":      dest,
			"records": set.Len(),
			"message": res.Message,
		})
	}
	ui.Success(res.Message)
	return nil
}
