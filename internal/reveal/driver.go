package reveal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Metrics is what the page reports after each scroll.
type Metrics struct {
	ScrollY      float64 `json:"scrollY"`
	InnerHeight  float64 `json:"innerHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
	Images       int     `json:"images"`
}

func (m Metrics) AtBottom(tolerance float64) bool {
	return m.ScrollY+m.InnerHeight >= m.ScrollHeight-tolerance
}

// Viewport is the scrollable page under reveal.
type Viewport interface {
	// ScrollBy scrolls vertically by dy pixels and returns the page metrics right after.
	ScrollBy(ctx context.Context, dy int) (Metrics, error)
	// Measure returns the current page metrics without scrolling.
	Measure(ctx context.Context) (Metrics, error)
}

// Point is a position in viewport coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hoverer is implemented by viewports that can move the mouse pointer. Warmup hovers a few visible
// elements first when the viewport supports it.
type Hoverer interface {
	// HoverTargets returns the centers of the visible links, buttons, divs and spans.
	HoverTargets(ctx context.Context) ([]Point, error)
	Hover(ctx context.Context, p Point) error
}

const (
	minHovers      = 1
	maxHovers      = 5
	minHoverPause  = 300 * time.Millisecond
	hoverPauseSpan = 700 * time.Millisecond
)

type Outcome int

const (
	Settled Outcome = iota
	IterationLimit
	TimeLimit
)

func (o Outcome) String() string {
	return [...]string{"settled", "iteration limit", "time limit"}[o]
}

// Timeout reports whether the safety valve stopped the reveal.
func (o Outcome) Timeout() bool {
	return o != Settled
}

type Config struct {
	Step            int
	Pause           time.Duration
	PauseJitter     time.Duration
	SettleRounds    int
	MaxIterations   int
	MaxDuration     time.Duration
	BottomTolerance float64
	Nudge           int
	WarmupScrolls   int
}

// State is the mutable progress of one reveal.
type State struct {
	Offset     float64
	Stalled    int
	Stuck      int
	Iterations int
	Elapsed    time.Duration
	Last       Metrics
}

type Result struct {
	Outcome Outcome
	State   State
}

// Driver scrolls a page until its lazy images stop appearing or a bound is hit.
type Driver struct {
	cfg    Config
	onStep func(State)
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Driver)

// WithStepHook registers a callback invoked after each measured iteration.
func WithStepHook(fn func(State)) Option {
	return func(d *Driver) { d.onStep = fn }
}

func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) {
		d.now = now
		d.sleep = sleep
	}
}

func NewDriver(cfg Config, opts ...Option) *Driver {
	if cfg.Step <= 0 {
		cfg.Step = 300
	}
	if cfg.SettleRounds <= 0 {
		cfg.SettleRounds = 3
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 90 * time.Second
	}
	d := &Driver{cfg: cfg, now: time.Now, sleep: sleepCtx}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Reveal scrolls down one step at a time, pausing after each step, until the page bottom is reached and
// no new images or height appeared for SettleRounds iterations. MaxIterations and MaxDuration bound the loop;
// hitting them is reported through the outcome, not as an error.
func (d *Driver) Reveal(ctx context.Context, vp Viewport) (Result, error) {
	start := d.now()
	rctx, cancel := context.WithTimeout(ctx, d.cfg.MaxDuration)
	defer cancel()

	st := State{}
	m, err := vp.Measure(rctx)
	if err != nil {
		return d.stopped(ctx, st, start, err)
	}
	st.Last = m
	st.Offset = m.ScrollY

	for {
		st.Elapsed = d.now().Sub(start)
		if st.Iterations >= d.cfg.MaxIterations {
			return Result{Outcome: IterationLimit, State: st}, nil
		}
		if st.Elapsed >= d.cfg.MaxDuration {
			return Result{Outcome: TimeLimit, State: st}, nil
		}

		if _, err = vp.ScrollBy(rctx, d.cfg.Step); err != nil {
			return d.stopped(ctx, st, start, err)
		}
		if err = d.sleep(rctx, d.pause()); err != nil {
			return d.stopped(ctx, st, start, err)
		}
		m, err = vp.Measure(rctx)
		if err != nil {
			return d.stopped(ctx, st, start, err)
		}
		st.Iterations++
		d.advance(&st, m)
		st.Elapsed = d.now().Sub(start)
		if d.onStep != nil {
			d.onStep(st)
		}

		bottom := m.AtBottom(d.cfg.BottomTolerance) || st.Stuck >= d.cfg.SettleRounds
		if bottom && st.Stalled >= d.cfg.SettleRounds {
			if err = d.nudge(rctx, vp); err != nil {
				return d.stopped(ctx, st, start, err)
			}
			return Result{Outcome: Settled, State: st}, nil
		}
	}
}

// Warmup hovers a few random elements and performs a few small scrolls, so pages that wait for the
// first user interaction start rendering.
func (d *Driver) Warmup(ctx context.Context, vp Viewport) error {
	if h, ok := vp.(Hoverer); ok {
		if err := d.hover(ctx, h); err != nil {
			return err
		}
	}
	for i := 0; i < d.cfg.WarmupScrolls; i++ {
		if _, err := vp.ScrollBy(ctx, 10+rand.IntN(11)); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.pause()/2); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) hover(ctx context.Context, h Hoverer) error {
	targets, err := h.HoverTargets(ctx)
	if err != nil || len(targets) == 0 {
		return err
	}
	n := min(minHovers+rand.IntN(maxHovers-minHovers+1), len(targets))
	for _, i := range rand.Perm(len(targets))[:n] {
		if err = h.Hover(ctx, targets[i]); err != nil {
			return err
		}
		if err = d.sleep(ctx, minHoverPause+rand.N(hoverPauseSpan)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) advance(st *State, m Metrics) {
	grew := m.Images > st.Last.Images || m.ScrollHeight > st.Last.ScrollHeight
	if grew {
		st.Stalled = 0
	} else {
		st.Stalled++
	}
	if m.ScrollY == st.Last.ScrollY {
		st.Stuck++
	} else {
		st.Stuck = 0
	}
	st.Offset = m.ScrollY
	st.Last = m
}

// nudge scrolls up and back down once; some readers only load on direction change.
func (d *Driver) nudge(ctx context.Context, vp Viewport) error {
	if d.cfg.Nudge <= 0 {
		return nil
	}
	for _, dy := range []int{-d.cfg.Nudge, d.cfg.Nudge} {
		if _, err := vp.ScrollBy(ctx, dy); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.pause()); err != nil {
			return err
		}
	}
	return nil
}

// stopped maps an interrupted step to a result. Only the reveal's own deadline counts as a time limit;
// cancellation of the caller's context and viewport failures are returned as errors.
func (d *Driver) stopped(parent context.Context, st State, start time.Time, err error) (Result, error) {
	st.Elapsed = d.now().Sub(start)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return Result{Outcome: TimeLimit, State: st}, nil
	}
	return Result{State: st}, fmt.Errorf("reveal: %w", err)
}

func (d *Driver) pause() time.Duration {
	p := d.cfg.Pause
	if d.cfg.PauseJitter > 0 {
		p += rand.N(d.cfg.PauseJitter)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
