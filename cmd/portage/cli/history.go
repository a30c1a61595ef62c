package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/ui"
)

var (
	historyLimit  int
	historyVerify bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent diagnostics journal entries",
	Long: `Show the most recent connect, load and transfer outcomes recorded in the
diagnostics journal. With --verify the journal's hash chain is checked
first.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	historyCmd.Flags().BoolVar(&historyVerify, "verify", false, "verify the journal hash chain")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Audit.Path == "" {
		return errors.New("the diagnostics journal is disabled (audit.path is empty)")
	}
	store, err := audit.OpenStore(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if historyVerify {
		if err := store.Verify(ctx); err != nil {
			return err
		}
		ui.Success("Journal hash chain verified.")
	}

	events, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(os.Stdout, events)
	}
	ui.Events(events)
	return nil
}
