package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/secrets"
	"github.com/majorcontext/portage/internal/ui"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage OAuth client secrets in the OS keyring",
	Long: `Manage the OAuth client secrets "portage serve" uses, stored in the OS
keyring. Reference a stored secret from the config file with
"client_secret: keyring://<platform>".`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <platform>",
	Short: "Store a platform's OAuth client secret",
	Long: `Store a platform's OAuth client secret in the OS keyring. The secret is
read from the terminal without echo, or from stdin when it is not a
terminal.

Examples:
  portage secret set notion
  echo "$SECRET" | portage secret set airtable`,
	Args: cobra.ExactArgs(1),
	RunE: runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <platform>",
	Short: "Remove a platform's OAuth client secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	p, err := platform.Parse(args[0])
	if err != nil {
		return err
	}
	secret, err := readSecret(fmt.Sprintf("%s client secret: ", p.DisplayName()))
	if err != nil {
		return err
	}
	if err := secrets.StoreClientSecret(p, secret); err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Stored %s client secret. Reference it as keyring://%s.", p.DisplayName(), p))
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	p, err := platform.Parse(args[0])
	if err != nil {
		return err
	}
	if err := secrets.DeleteClientSecret(p); err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Removed %s client secret.", p.DisplayName()))
	return nil
}

func readSecret(prompt string) (string, error) {
	var secret string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		secret = string(b)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		secret = line
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	return secret, nil
}
