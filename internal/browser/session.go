package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/IliaW/chapter-scrape-worker/internal/extract"
	"github.com/IliaW/chapter-scrape-worker/internal/reveal"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const metricsScript = `(() => {
	window.scrollBy(0, %d);
	const doc = document.documentElement;
	return {
		scrollY: window.scrollY,
		innerHeight: window.innerHeight,
		scrollHeight: Math.max(doc.scrollHeight, document.body ? document.body.scrollHeight : 0),
		images: Array.from(document.images).filter(i => i.complete && i.naturalWidth > 0).length
	};
})()`

var annotateScript = fmt.Sprintf(`(() => {
	const imgs = document.querySelectorAll('img');
	imgs.forEach(img => {
		const r = img.getBoundingClientRect();
		img.setAttribute('%s', Math.round(r.width));
		img.setAttribute('%s', Math.round(r.height));
	});
	return imgs.length;
})()`, extract.WidthAttr, extract.HeightAttr)

const hoverTargetsScript = `(() => Array.from(document.querySelectorAll('a, button, div, span'))
	.map(e => e.getBoundingClientRect())
	.filter(r => r.width > 0 && r.height > 0 && r.top >= 0 && r.left >= 0 &&
		r.bottom <= window.innerHeight && r.right <= window.innerWidth)
	.slice(0, 200)
	.map(r => ({x: r.left + r.width / 2, y: r.top + r.height / 2})))()`

// Installed before any page script runs; popups and modal dialogs would otherwise steal the tab.
const popupScript = `window.open = () => null;
window.alert = () => {};
window.confirm = () => false;
window.prompt = () => null;`

// Session is one browser with one tab showing the chapter page.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	cfg         *config.BrowserConfig
	log         *slog.Logger
	closeOnce   *sync.Once
}

// ScrollBy implements reveal.Viewport.
func (s *Session) ScrollBy(ctx context.Context, dy int) (reveal.Metrics, error) {
	var m reveal.Metrics
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(metricsScript, dy), &m))
	return m, err
}

func (s *Session) Measure(ctx context.Context) (reveal.Metrics, error) {
	return s.ScrollBy(ctx, 0)
}

// HoverTargets implements reveal.Hoverer.
func (s *Session) HoverTargets(ctx context.Context) ([]reveal.Point, error) {
	var points []reveal.Point
	err := s.run(ctx, chromedp.Evaluate(hoverTargetsScript, &points))
	return points, err
}

func (s *Session) Hover(ctx context.Context, p reveal.Point) error {
	return s.run(ctx, chromedp.MouseEvent(input.MouseMoved, p.X, p.Y))
}

// Snapshot returns the outer HTML of the document with every image annotated with its rendered size.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var (
		count int
		html  string
	)
	err := s.run(ctx,
		chromedp.Evaluate(annotateScript, &count),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	s.log.Debug("page snapshot taken.", slog.Int("images", count), slog.Int("bytes", len(html)))
	return html, nil
}

// Close shuts the tab and the browser process down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("failed to close browser gracefully.", slog.String("err", err.Error()))
		}
		s.cancelTab()
		s.cancelAlloc()
		s.log.Debug("browser closed.")
	})
}

// run executes actions on the tab, bounded by the action timeout and by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, s.cfg.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) navigate(target string) error {
	nctx, cancel := context.WithTimeout(s.ctx, s.cfg.NavigationTimeout)
	defer cancel()

	status := 0
	tasks := chromedp.Tasks{network.Enable()}
	if len(s.cfg.BlockedURLs) > 0 {
		tasks = append(tasks, network.SetBlockedURLS(s.cfg.BlockedURLs))
	}
	tasks = append(tasks, enableLifeCycleEvents(), suppressPopups(),
		navigateAndWaitFor(target, s.cfg.WaitUntil, &status))

	err := chromedp.Run(nctx, tasks)
	switch {
	case err != nil && errors.Is(nctx.Err(), context.DeadlineExceeded):
		return &LoadError{URL: target, Err: fmt.Errorf("timed out after %s waiting for %s",
			s.cfg.NavigationTimeout, s.cfg.WaitUntil)}
	case err != nil:
		return &LoadError{URL: target, Err: err}
	case status >= 400:
		return &LoadError{URL: target, Status: status}
	}
	s.log.Debug("page loaded.", slog.String("url", target), slog.Int("status", status))
	return nil
}

func (s *Session) waitFor(selector string) error {
	wctx, cancel := context.WithTimeout(s.ctx, s.cfg.SelectorTimeout)
	defer cancel()
	return chromedp.Run(wctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

func suppressPopups() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(popupScript).Do(ctx)
		return err
	}
}

// navigateAndWaitFor navigates and blocks until the lifecycle event eventName fires for the new document.
// The listener is attached before navigating so an early event is not lost.
func navigateAndWaitFor(url string, eventName string, status *int) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var (
			mu       sync.Mutex
			loader   cdp.LoaderID
			fired    = make(map[cdp.LoaderID]bool)
			statuses = make(map[cdp.LoaderID]int)
			ch       = make(chan struct{}, 1)
		)
		chromedp.ListenTarget(lctx, func(ev interface{}) {
			mu.Lock()
			defer mu.Unlock()
			switch e := ev.(type) {
			case *page.EventLifecycleEvent:
				if e.Name != eventName {
					return
				}
				fired[e.LoaderID] = true
				if loader != "" && e.LoaderID == loader {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case *network.EventResponseReceived:
				if e.Type == network.ResourceTypeDocument && e.Response != nil {
					statuses[e.LoaderID] = int(e.Response.Status)
				}
			}
		})

		_, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return errors.New(errorText)
		}

		mu.Lock()
		loader = loaderID
		done := fired[loaderID]
		mu.Unlock()
		if !done {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		mu.Lock()
		*status = statuses[loaderID]
		mu.Unlock()
		return nil
	}
}
