package browser

import (
	"context"
	"errors"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/resilience"
)

// hideWebdriver runs before every document so the site's bot check sees a
// regular browser.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// ChromeOptions configures the chromedp launcher.
type ChromeOptions struct {
	Headless     bool
	ExecPath     string
	RemoteURL    string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

// ChromeLauncher returns a Launcher backed by chromedp. With RemoteURL set
// it attaches to a running browser's DevTools endpoint instead of starting
// a local process.
func ChromeLauncher(opts ChromeOptions) Launcher {
	return func(ctx context.Context) (Page, func(), error) {
		// The session outlives any single request, so it hangs off Background.
		var (
			allocCtx    context.Context
			allocCancel context.CancelFunc
		)
		if opts.RemoteURL != "" {
			allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
		} else {
			allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOptions(opts)...)
		}

		log := zap.L().Sugar()
		tabCtx, tabCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(log.Debugf),
			chromedp.WithErrorf(log.Debugf),
		)
		teardown := func() {
			tabCancel()
			allocCancel()
		}

		// The first Run allocates the browser and must use the tab context
		// itself; a derived context would kill the browser when it ends.
		errc := make(chan error, 1)
		go func() {
			errc <- chromedp.Run(tabCtx,
				chromedp.ActionFunc(func(ctx context.Context) error {
					_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
					return err
				}),
				chromedp.Navigate("about:blank"),
			)
		}()

		var err error
		select {
		case err = <-errc:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			teardown()
			return nil, nil, classify(ctx, "launch", err)
		}
		return &chromePage{ctx: tabCtx}, teardown, nil
	}
}

func execOptions(opts ChromeOptions) []chromedp.ExecAllocatorOption {
	w, h := opts.WindowWidth, opts.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "zh-TW"),
		chromedp.WindowSize(w, h),
	)
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// chromePage drives one chromedp tab.
type chromePage struct {
	ctx context.Context
}

// run executes actions on the tab, bounded by the caller's ctx as well as
// the tab's lifetime.
func (p *chromePage) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	return classify(ctx, op, err)
}

// classify maps a chromedp error to a failure kind. An expired caller
// deadline is a navigation timeout; a cancelled caller is passed through;
// anything else is a driver fault.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return resilience.Mark(resilience.KindNavigationTimeout, eris.Wrapf(err, "browser: %s timed out", op))
	case ctx.Err() != nil:
		return eris.Wrapf(ctx.Err(), "browser: %s cancelled", op)
	default:
		return resilience.Mark(resilience.KindDriverFault, eris.Wrapf(err, "browser: %s", op))
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, "navigate", chromedp.Navigate(url))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, "fill "+selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, "click "+selector, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, "read html", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// PrintPDF renders the current page with Page.printToPDF.
func (p *chromePage) PrintPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, "print pdf", chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			Do(ctx)
		buf = data
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
