package browser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	pkgbrowser "github.com/pkg/browser"

	"github.com/majorcontext/portage/internal/log"
)

// SystemOpener opens URLs in the operator's default browser. A system
// browser tab gives no signal when it closes, so the window counts as closed
// once the operator confirms it on Confirm.
//
// Each line of Confirm confirms at most one waiting window. An empty line
// confirms the only waiting window and is ignored when several wait. A line
// naming a platform, optionally prefixed with "done", confirms the window
// whose title starts with that name. Lines that match no waiting window are
// dropped, so a stray Enter never closes a window opened later.
type SystemOpener struct {
	// Confirm is read for the operator's confirmation lines. Usually os.Stdin.
	Confirm io.Reader
	// Prompt receives the instructions shown to the operator.
	Prompt io.Writer
	// open launches the browser; replaced in tests.
	open func(url string) error

	mu      sync.Mutex
	waiting []*systemWindow
	eof     bool
	reader  sync.Once
}

// NewSystemOpener creates a SystemOpener reading confirmations from confirm
// and printing instructions to prompt.
func NewSystemOpener(confirm io.Reader, prompt io.Writer) *SystemOpener {
	return &SystemOpener{
		Confirm: confirm,
		Prompt:  prompt,
		open:    pkgbrowser.OpenURL,
	}
}

// startReader hands each line of Confirm to ConfirmWindow. One reader serves
// every window so concurrent attempts do not race on the input.
func (o *SystemOpener) startReader() {
	o.reader.Do(func() {
		if o.Confirm == nil {
			return
		}
		go func() {
			scanner := bufio.NewScanner(o.Confirm)
			for scanner.Scan() {
				o.ConfirmWindow(scanner.Text())
			}
			o.closeAll()
		}()
	})
}

// ConfirmWindow marks the waiting window selected by line as closed and
// reports whether one matched.
func (o *SystemOpener) ConfirmWindow(line string) bool {
	name := strings.ToLower(strings.TrimSpace(line))
	if rest, ok := strings.CutPrefix(name, "done"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
		name = strings.TrimSpace(rest)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	i := -1
	switch {
	case name == "" && len(o.waiting) == 1:
		i = 0
	case name != "":
		for j, w := range o.waiting {
			if strings.HasPrefix(strings.ToLower(w.title), name) {
				i = j
				break
			}
		}
	}
	if i < 0 {
		log.Debug("confirmation matched no waiting window", "line", name, "waiting", len(o.waiting))
		return false
	}
	w := o.waiting[i]
	o.waiting = append(o.waiting[:i], o.waiting[i+1:]...)
	w.closed.Store(true)
	return true
}

// closeAll ends every wait once Confirm is exhausted; nobody is left to
// confirm.
func (o *SystemOpener) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.waiting {
		w.closed.Store(true)
	}
	o.waiting = nil
	o.eof = true
}

func (o *SystemOpener) remove(w *systemWindow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, other := range o.waiting {
		if other == w {
			o.waiting = append(o.waiting[:i], o.waiting[i+1:]...)
			return
		}
	}
}

// Open launches the default browser. If that fails the URL is still printed
// so the operator can open it by hand.
func (o *SystemOpener) Open(ctx context.Context, url, title string) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.startReader()

	w := &systemWindow{title: title, owner: o}
	o.mu.Lock()
	if o.eof || o.Confirm == nil {
		w.closed.Store(true)
	} else {
		o.waiting = append(o.waiting, w)
	}
	o.mu.Unlock()

	if err := o.open(url); err != nil {
		log.Debug("could not launch system browser", "error", err)
	}
	name := title
	if fields := strings.Fields(title); len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}
	fmt.Fprintf(o.Prompt, "\n%s: open this URL to authorize:\n\n  %s\n\nPress Enter here once the authorization window is closed, or type \"done %s\" when several are open.\n", title, url, name)
	return w, nil
}

type systemWindow struct {
	title  string
	owner  *SystemOpener
	closed atomic.Bool
}

func (w *systemWindow) Closed() bool {
	return w.closed.Load()
}

func (w *systemWindow) Close() error {
	w.closed.Store(true)
	w.owner.remove(w)
	return nil
}
