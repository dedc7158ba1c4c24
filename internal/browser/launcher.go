package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/chromedp/chromedp"
)

// LoadError is returned when the chapter page could not be opened.
type LoadError struct {
	URL    string
	Status int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("failed to load %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(v string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid viewport %q", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("invalid viewport width %q", v)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("invalid viewport height %q", v)
	}
	return Size{Width: width, Height: height}, nil
}

// Launcher starts one isolated browser per chapter.
type Launcher struct {
	cfg       *config.BrowserConfig
	log       *slog.Logger
	viewports []Size
	pick      func(n int) int
}

func NewLauncher(cfg *config.BrowserConfig, log *slog.Logger) (*Launcher, error) {
	l := &Launcher{cfg: cfg, log: log, pick: rand.IntN}
	for _, v := range cfg.Viewports {
		s, err := ParseSize(v)
		if err != nil {
			return nil, err
		}
		l.viewports = append(l.viewports, s)
	}
	if len(l.viewports) == 0 {
		l.viewports = []Size{{Width: 1366, Height: 768}}
	}
	return l, nil
}

// fingerprint picks a random user agent and viewport for the next session.
func (l *Launcher) fingerprint() (string, Size) {
	ua := ""
	if n := len(l.cfg.UserAgents); n > 0 {
		ua = l.cfg.UserAgents[l.pick(n)]
	}
	return ua, l.viewports[l.pick(len(l.viewports))]
}

func (l *Launcher) allocatorOptions(ua string, vp Size) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", l.cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Open starts a fresh browser with its own profile, navigates to target and waits for the page to settle.
// The returned session must be closed by the caller. On failure nothing is left running.
func (l *Launcher) Open(ctx context.Context, target, waitSelector string) (*Session, error) {
	ua, vp := l.fingerprint()
	l.log.Info("starting browser.", slog.String("user_agent", ua), slog.String("viewport", vp.String()))

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, l.allocatorOptions(ua, vp)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		cfg:         l.cfg,
		log:         l.log,
		closeOnce:   &sync.Once{},
	}
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if err := s.navigate(target); err != nil {
		s.Close()
		return nil, err
	}
	if waitSelector != "" {
		if err := s.waitFor(waitSelector); err != nil {
			l.log.Warn("content selector did not appear.", slog.String("selector", waitSelector),
				slog.String("err", err.Error()))
		}
	}
	return s, nil
}
