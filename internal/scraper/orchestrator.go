package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/IliaW/chapter-scrape-worker/internal/browser"
	"github.com/IliaW/chapter-scrape-worker/internal/extract"
	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/normalize"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/IliaW/chapter-scrape-worker/internal/reveal"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrUnhandled wraps failures that are not load errors, including recovered panics.
var ErrUnhandled = errors.New("unhandled failure")

// Page is an opened chapter page.
type Page interface {
	reveal.Viewport
	Snapshot(ctx context.Context) (string, error)
	Close()
}

type Loader interface {
	Open(ctx context.Context, target, waitSelector string) (Page, error)
}

type LoaderFunc func(ctx context.Context, target, waitSelector string) (Page, error)

func (f LoaderFunc) Open(ctx context.Context, target, waitSelector string) (Page, error) {
	return f(ctx, target, waitSelector)
}

// BrowserLoader opens pages in a fresh headless browser each time.
func BrowserLoader(l *browser.Launcher) Loader {
	return LoaderFunc(func(ctx context.Context, target, waitSelector string) (Page, error) {
		s, err := l.Open(ctx, target, waitSelector)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

type State int

const (
	Idle State = iota
	Loading
	Revealing
	Extracting
	Reporting
	Succeeded
	Failed
)

func (s State) String() string {
	return [...]string{"idle", "loading", "revealing", "extracting", "reporting", "succeeded", "failed"}[s]
}

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

type Orchestrator struct {
	loader    Loader
	rules     *extract.RuleSet
	extractor *extract.Extractor
	revealCfg reveal.Config
	log       *slog.Logger
	version   string
	onState   func(State)
}

type Option func(*Orchestrator)

func WithVersion(v string) Option {
	return func(o *Orchestrator) { o.version = v }
}

// WithStateHook observes every state transition of a run.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func New(loader Loader, rules *extract.RuleSet, extractor *extract.Extractor, revealCfg reveal.Config,
	log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:    loader,
		rules:     rules,
		extractor: extractor,
		revealCfg: revealCfg,
		log:       log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run scrapes one chapter and streams its images to rep. Exactly one terminal event is written.
// The returned error is non-nil when the run ended in Failed.
func (o *Orchestrator) Run(ctx context.Context, req model.ScrapeRequest, rep *progress.Reporter) (
	res *model.ChapterScrape, err error) {
	start := time.Now()
	res = o.newResult(req, model.HeadlessBrowser)
	var page Page

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("PANIC!", slog.Any("err", r), slog.String("stack", string(debug.Stack())))
			err = o.fail(rep, res, fmt.Errorf("%w: %v", ErrUnhandled, r))
		}
		res.TimeToScrape = time.Since(start).Milliseconds()
	}()
	defer func() {
		if page != nil {
			page.Close()
		}
	}()

	o.transition(Idle)
	rule := o.rules.Lookup(req.TargetURL)
	norm, err := normalize.New(req.TargetURL, req.PrependBase)
	if err != nil {
		return res, o.fail(rep, res, &browser.LoadError{URL: req.TargetURL, Err: err})
	}

	o.transition(Loading)
	rep.Log("[*] Navigating to URL: %s", req.TargetURL)
	page, err = o.loader.Open(ctx, req.TargetURL, rule.WaitSelector)
	if err != nil {
		return res, o.fail(rep, res, err)
	}
	if rule.Generic() {
		rep.Log("[*] Using generic extraction rules")
	} else {
		rep.Log("[*] Using extraction rules for %s", rule.Domain)
	}
	if err = ctx.Err(); err != nil {
		return res, o.fail(rep, res, err)
	}

	o.transition(Revealing)
	if err = o.reveal(ctx, page, rule.EffectiveLazy(req.LazyMode), rep, res); err != nil {
		return res, o.fail(rep, res, err)
	}
	if err = ctx.Err(); err != nil {
		return res, o.fail(rep, res, err)
	}

	o.transition(Extracting)
	html, err := page.Snapshot(ctx)
	if err != nil {
		return res, o.fail(rep, res, err)
	}
	if err = ctx.Err(); err != nil {
		return res, o.fail(rep, res, err)
	}

	return res, o.report(html, rule, norm, rep, res)
}

// ExtractHTML runs the extraction and reporting phases on HTML obtained elsewhere, such as an archived capture.
func (o *Orchestrator) ExtractHTML(req model.ScrapeRequest, html string, rep *progress.Reporter) (
	*model.ChapterScrape, error) {
	start := time.Now()
	res := o.newResult(req, model.CommonCrawl)
	defer func() { res.TimeToScrape = time.Since(start).Milliseconds() }()

	norm, err := normalize.New(req.TargetURL, req.PrependBase)
	if err != nil {
		return res, o.fail(rep, res, err)
	}
	o.transition(Extracting)
	return res, o.report(html, o.rules.Lookup(req.TargetURL), norm, rep, res)
}

func (o *Orchestrator) reveal(ctx context.Context, page Page, lazy bool, rep *progress.Reporter,
	res *model.ChapterScrape) error {
	driver := reveal.NewDriver(o.revealCfg, reveal.WithStepHook(func(st reveal.State) {
		rep.Log("[*] Step %d: scrollY=%.0f, height=%.0f, images=%d", st.Iterations, st.Offset,
			st.Last.ScrollHeight, st.Last.Images)
	}))

	if !lazy {
		rep.Log("[*] Lazy reveal disabled")
		if err := driver.Warmup(ctx, page); err != nil {
			o.log.Warn("warmup scroll failed.", slog.String("err", err.Error()))
		}
		return nil
	}

	rep.Log("[*] Slowly scrolling to reveal lazy images...")
	result, err := driver.Reveal(ctx, page)
	if err != nil {
		return err
	}
	res.RevealOutcome = result.Outcome.String()
	if result.Outcome.Timeout() {
		rep.Log("[!] Reveal stopped by %s after %d step(s) and %s; extracting what has loaded",
			result.Outcome, result.State.Iterations, result.State.Elapsed.Round(time.Millisecond))
	} else {
		rep.Log("[*] Page settled after %d step(s)", result.State.Iterations)
	}
	return nil
}

func (o *Orchestrator) report(html string, rule extract.Rule, norm *normalize.Normalizer,
	rep *progress.Reporter, res *model.ChapterScrape) error {
	scan, err := o.extractor.Scan(html, rule)
	if err != nil {
		return o.fail(rep, res, err)
	}
	candidates := scan.Candidates
	rep.Log("[*] Found %d candidate image(s)", len(candidates))
	if scan.Excluded > 0 {
		rep.Log("[!] Dropped %d image(s) by exclusion rules", scan.Excluded)
	}

	o.transition(Reporting)
	for _, c := range candidates {
		img, verdict := norm.Normalize(c)
		switch verdict {
		case normalize.Accepted:
			if err := rep.ImageFound(img.URL); err != nil {
				o.log.Warn("failed to write progress.", slog.String("err", err.Error()))
			}
			res.Images = append(res.Images, img.URL)
		case normalize.Duplicate:
			o.log.Debug("duplicate image skipped.", slog.String("url", c.RawURL))
		default:
			rep.Log("[!] Skipping image #%d (%s): %s", c.DOMIndex+1, verdict, c.RawURL)
		}
	}
	res.ImageCount = len(res.Images)
	res.Status = StatusSuccess
	if err := rep.Done(); err != nil {
		o.log.Warn("failed to write progress.", slog.String("err", err.Error()))
	}
	o.transition(Succeeded)
	return nil
}

func (o *Orchestrator) fail(rep *progress.Reporter, res *model.ChapterScrape, err error) error {
	var le *browser.LoadError
	if !errors.As(err, &le) && !errors.Is(err, ErrUnhandled) {
		err = fmt.Errorf("%w: %w", ErrUnhandled, err)
	}
	o.log.Error("scrape failed.", slog.String("url", res.URL), slog.String("err", err.Error()))
	if rerr := rep.Error(err.Error()); rerr != nil && !errors.Is(rerr, progress.ErrTerminated) {
		o.log.Warn("failed to write progress.", slog.String("err", rerr.Error()))
	}
	res.Status = StatusFailed
	res.Images = nil
	res.ImageCount = 0
	o.transition(Failed)
	return err
}

func (o *Orchestrator) newResult(req model.ScrapeRequest, m model.ScrapeMechanism) *model.ChapterScrape {
	return &model.ChapterScrape{
		URL:                 req.TargetURL,
		Images:              []string{},
		ScrapeMechanism:     m.String(),
		ScrapeWorkerVersion: o.version,
	}
}

func (o *Orchestrator) transition(s State) {
	o.log.Debug("scrape state.", slog.String("state", s.String()))
	if o.onState != nil {
		o.onState(s)
	}
}
