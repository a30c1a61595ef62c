package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/browser"
	"github.com/majorcontext/portage/internal/connect"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/session"
	"github.com/majorcontext/portage/internal/ui"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session",
	Long: `Start an interactive session. The session keeps the current identity,
the selected platform, connected credentials and loaded records until you
quit. Type "help" inside the shell for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: runShellCmd,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShellCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	log.SetSessionID(uuid.NewString()[:8])

	// With the system browser the shell owns stdin, so confirmations are
	// forwarded through a pipe.
	confirmR, confirmW := io.Pipe()
	defer confirmW.Close()

	a, err := newApp(cfg, confirmR, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	sh := newShell(a.session, a.journal, os.Stdout)
	if mode, _ := browser.ParseMode(cfg.Browser.Mode); mode == browser.ModeSystem {
		sh.confirm = confirmW
	}
	return sh.run(ctx, os.Stdin)
}

const shellHelp = `Commands:
  user [name]               show or set the user
  org [name]                show or set the organization
  use <platform> [file]     select a platform, optionally with a credential file
  load                      load records from the selected platform
  show                      print the loaded records
  clear                     discard the loaded records
  connect <platform>        authorize a platform in a browser window
  cancel <platform>         stop a running connect
  done [platform]           confirm a system browser window is closed
  transfer <platform>       send the selected platform's data to <platform>
  status                    show the session state
  history [n]               show recent journal entries
  help                      show this help
  quit                      leave the shell`

// shell is the interactive command loop.
type shell struct {
	session *session.Session
	journal *audit.Store
	out     io.Writer
	// confirm receives confirmation lines while a connect waits on the
	// system browser.
	confirm io.Writer

	wg sync.WaitGroup
}

func newShell(s *session.Session, journal *audit.Store, out io.Writer) *shell {
	return &shell{session: s, journal: journal, out: out}
}

// run reads commands from in until quit, EOF or ctx is done. Connects still
// running at that point are canceled and waited for.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		sh.wg.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(sh.out, `portage shell. Type "help" for commands.`)
	for {
		sh.prompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(sh.out)
				return nil
			}
			if sh.exec(ctx, line) {
				return nil
			}
		}
	}
}

func (sh *shell) prompt() {
	id := sh.session.Identity()
	fmt.Fprintf(sh.out, "%s> ", ui.Cyan(id.User+"@"+id.Org))
}

// exec runs one command line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		sh.confirmWindow("")
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
	case "user":
		sh.identity(args, true)
	case "org":
		sh.identity(args, false)
	case "use":
		err = sh.use(args)
	case "load":
		err = sh.load(ctx)
	case "show":
		sh.show()
	case "clear":
		sh.session.Clear()
		ui.Info("Cleared loaded records.")
	case "connect":
		err = sh.connect(ctx, args)
	case "cancel":
		err = sh.cancel(args)
	case "done":
		err = sh.done(args)
	case "transfer":
		err = sh.transfer(ctx, args)
	case "status":
		ui.Status(sh.session.Status())
	case "history":
		err = sh.history(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q (type \"help\")", name)
	}
	if err != nil {
		ui.Error(err.Error())
	}
	return false
}

// confirmWindow forwards a confirmation line to the system browser opener
// when a connect is waiting on it. The write blocks until the opener reads
// it, so it must not hold up the prompt.
func (sh *shell) confirmWindow(line string) bool {
	if sh.confirm == nil || len(sh.session.Status().Connecting) == 0 {
		return false
	}
	go fmt.Fprintln(sh.confirm, line)
	return true
}

func (sh *shell) done(args []string) error {
	if len(args) > 1 {
		return errors.New("usage: done [platform]")
	}
	line := "done"
	if len(args) == 1 {
		p, err := platform.Parse(args[0])
		if err != nil {
			return err
		}
		line += " " + string(p)
	}
	if !sh.confirmWindow(line) {
		return errors.New("no authorization window is waiting")
	}
	return nil
}

func (sh *shell) identity(args []string, user bool) {
	if len(args) > 0 {
		value := strings.Join(args, " ")
		if user {
			sh.session.SetIdentity(value, "")
		} else {
			sh.session.SetIdentity("", value)
		}
	}
	id := sh.session.Identity()
	if user {
		fmt.Fprintf(sh.out, "User: %s\n", id.User)
	} else {
		fmt.Fprintf(sh.out, "Org: %s\n", id.Org)
	}
}

func (sh *shell) use(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: use <platform> [credentials.json]")
	}
	p, err := platform.Parse(args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		cred, err := readCredentialFile(args[1])
		if err != nil {
			return err
		}
		if err := sh.session.Select(p, cred); err != nil {
			return err
		}
		ui.Infof("Using %s with credentials from %s.", p.DisplayName(), args[1])
		return nil
	}
	if err := sh.session.Select(p, nil); err != nil {
		return err
	}
	if !sh.session.Credentials().Has(p) {
		ui.Warnf("%s is not connected yet; run \"connect %s\" or pass a credential file.", p.DisplayName(), p)
		return nil
	}
	ui.Infof("Using %s.", p.DisplayName())
	return nil
}

func (sh *shell) load(ctx context.Context) error {
	set, err := sh.session.Load(ctx)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Loaded %d records from %s.", set.Len(), set.Platform.DisplayName()))
	sh.show()
	return nil
}

func (sh *shell) show() {
	_, groups, ok := sh.session.Records()
	if !ok {
		ui.Info("Nothing loaded.")
		return
	}
	ui.Groups(groups)
}

func (sh *shell) connect(ctx context.Context, args []string) error {
	p, err := oneplatform("connect", args)
	if err != nil {
		return err
	}
	if sh.session.Connecting(p) {
		return connect.ErrAlreadyConnecting
	}

	ui.Infof("Connecting to %s...", p.DisplayName())
	sh.wg.Add(1)
	go func() {
		defer sh.wg.Done()
		if err := sh.session.Connect(ctx, p); err != nil {
			if errors.Is(err, connect.ErrCanceled) || errors.Is(err, context.Canceled) {
				ui.Infof("Connect to %s canceled.", p.DisplayName())
				return
			}
			ui.Error(err.Error())
			return
		}
		ui.Success(fmt.Sprintf("Connected to %s.", p.DisplayName()))
	}()
	return nil
}

func (sh *shell) cancel(args []string) error {
	p, err := oneplatform("cancel", args)
	if err != nil {
		return err
	}
	if !sh.session.CancelConnect(p) {
		return fmt.Errorf("no connect to %s is running", p.DisplayName())
	}
	return nil
}

func (sh *shell) transfer(ctx context.Context, args []string) error {
	dest, err := oneplatform("transfer", args)
	if err != nil {
		return err
	}
	res, err := sh.session.Transfer(ctx, dest)
	if err != nil {
		return err
	}
	ui.Success(res.Message)
	return nil
}

func (sh *shell) history(ctx context.Context, args []string) error {
	if sh.journal == nil {
		return errors.New("the diagnostics journal is disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}
	events, err := sh.journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	ui.Events(events)
	return nil
}

func oneplatform(cmd string, args []string) (platform.Platform, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <platform>", cmd)
	}
	return platform.Parse(args[0])
}
