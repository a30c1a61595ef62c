package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/majorcontext/portage/internal/log"
)

// ChromeConfig configures ChromeOpener.
type ChromeConfig struct {
	// ExecPath overrides the Chrome/Chromium binary. Empty uses chromedp's lookup.
	ExecPath string
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL string
	// Width and Height of the window. Default 600x600.
	Width, Height int
	// NoSandbox runs Chrome without its sandbox (needed as root in containers).
	NoSandbox bool
}

// ChromeOpener opens each authorization URL in its own Chrome window and
// watches the DevTools target to learn when that window goes away.
type ChromeOpener struct {
	cfg ChromeConfig
}

// NewChromeOpener creates a ChromeOpener.
func NewChromeOpener(cfg ChromeConfig) *ChromeOpener {
	if cfg.Width == 0 {
		cfg.Width = 600
	}
	if cfg.Height == 0 {
		cfg.Height = 600
	}
	return &ChromeOpener{cfg: cfg}
}

func (o *ChromeOpener) allocator() (context.Context, context.CancelFunc) {
	// The window outlives the Open call, so it is rooted in Background and
	// torn down by chromeWindow.Close.
	if o.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(context.Background(), o.cfg.RemoteURL)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("hide-scrollbars", false),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(o.cfg.Width, o.cfg.Height),
	)
	if o.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.cfg.ExecPath))
	}
	if o.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

// Open launches a window on url. ctx bounds only the launch and the initial
// navigation.
func (o *ChromeOpener) Open(ctx context.Context, url, title string) (Window, error) {
	allocCtx, allocCancel := o.allocator()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...), "window", title)
		}),
	)

	w := &chromeWindow{
		title:  title,
		tabCtx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// Run with no actions starts the browser and creates the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		w.cancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	tabID := chromedp.FromContext(tabCtx).Target.TargetID
	chromedp.ListenBrowser(tabCtx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == tabID {
			w.closed.Store(true)
		}
	})
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			w.closed.Store(true)
		}
	})

	navDone := make(chan error, 1)
	go func() {
		navDone <- chromedp.Run(tabCtx, chromedp.Navigate(url))
	}()
	select {
	case err := <-navDone:
		if err != nil && !w.Closed() {
			w.Close()
			return nil, fmt.Errorf("opening %s: %w", title, err)
		}
	case <-ctx.Done():
		w.Close()
		return nil, ctx.Err()
	}

	log.Debug("authorization window opened", "window", title, "target", tabID)
	return w, nil
}

type chromeWindow struct {
	title  string
	tabCtx context.Context
	closed atomic.Bool

	once   sync.Once
	cancel context.CancelFunc
}

// Closed reports true once the tab is destroyed, detached, or the browser
// connection is gone.
func (w *chromeWindow) Closed() bool {
	if w.closed.Load() {
		return true
	}
	if err := w.tabCtx.Err(); err != nil {
		w.closed.Store(true)
		return true
	}
	return false
}

func (w *chromeWindow) Close() error {
	var err error
	w.once.Do(func() {
		if !w.closed.Load() {
			err = chromedp.Cancel(w.tabCtx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		}
		w.closed.Store(true)
		w.cancel()
	})
	return err
}
