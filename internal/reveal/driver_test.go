package reveal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lazyPage reveals one image each time the viewport passes another multiple of reveal px.
type lazyPage struct {
	y, inner, height float64
	reveal           float64
	total            int
	scrolls          []int
}

func (p *lazyPage) metrics() Metrics {
	loaded := int((p.y + p.inner) / p.reveal)
	if loaded > p.total {
		loaded = p.total
	}
	return Metrics{ScrollY: p.y, InnerHeight: p.inner, ScrollHeight: p.height, Images: loaded}
}

func (p *lazyPage) ScrollBy(_ context.Context, dy int) (Metrics, error) {
	p.scrolls = append(p.scrolls, dy)
	p.y += float64(dy)
	if p.y < 0 {
		p.y = 0
	}
	if limit := p.height - p.inner; p.y > limit {
		p.y = limit
	}
	return p.metrics(), nil
}

func (p *lazyPage) Measure(context.Context) (Metrics, error) {
	return p.metrics(), nil
}

// endlessPage grows whenever the viewport nears its bottom, like an infinite feed.
type endlessPage struct {
	y, height float64
}

func (p *endlessPage) ScrollBy(_ context.Context, dy int) (Metrics, error) {
	p.y += float64(dy)
	if p.y+800 >= p.height-100 {
		p.height += 2000
	}
	return p.Measure(context.Background())
}

func (p *endlessPage) Measure(context.Context) (Metrics, error) {
	return Metrics{ScrollY: p.y, InnerHeight: 800, ScrollHeight: p.height, Images: int(p.height / 1000)}, nil
}

type brokenPage struct{ endlessPage }

func (p *brokenPage) ScrollBy(context.Context, int) (Metrics, error) {
	return Metrics{}, errors.New("target closed")
}

func TestRevealSettlesAtBottom(t *testing.T) {
	page := &lazyPage{inner: 800, height: 3200, reveal: 900, total: 3}
	var steps int
	d := NewDriver(Config{Step: 800, SettleRounds: 2, MaxIterations: 50, MaxDuration: time.Minute, Nudge: 200},
		WithStepHook(func(State) { steps++ }))

	res, err := d.Reveal(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, Settled, res.Outcome)
	assert.False(t, res.Outcome.Timeout())
	assert.Equal(t, 3, res.State.Last.Images)
	assert.True(t, res.State.Last.AtBottom(0))
	assert.Equal(t, res.State.Iterations, steps)
	assert.Less(t, res.State.Iterations, 50)
	assert.Equal(t, []int{-200, 200}, page.scrolls[len(page.scrolls)-2:])
}

func TestRevealIterationBoundOnEndlessPage(t *testing.T) {
	page := &endlessPage{height: 3000}
	d := NewDriver(Config{Step: 500, MaxIterations: 25, MaxDuration: time.Minute})

	res, err := d.Reveal(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, IterationLimit, res.Outcome)
	assert.True(t, res.Outcome.Timeout())
	assert.Equal(t, 25, res.State.Iterations)
}

func TestRevealTimeBoundOnEndlessPage(t *testing.T) {
	page := &endlessPage{height: 3000}
	d := NewDriver(Config{Step: 500, Pause: 5 * time.Millisecond, MaxIterations: 1 << 30,
		MaxDuration: 60 * time.Millisecond})

	done := make(chan Result, 1)
	go func() {
		res, err := d.Reveal(context.Background(), page)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, TimeLimit, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("reveal did not stop within its time bound")
	}
}

func TestRevealWithFakeClock(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	sleep := func(_ context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}
	d := NewDriver(Config{Step: 500, Pause: time.Second, MaxIterations: 1000, MaxDuration: 10 * time.Second},
		WithClock(clock, sleep))

	res, err := d.Reveal(context.Background(), &endlessPage{height: 3000})
	require.NoError(t, err)
	assert.Equal(t, TimeLimit, res.Outcome)
	assert.Equal(t, 10, res.State.Iterations)
}

func TestRevealViewportFailureIsAnError(t *testing.T) {
	d := NewDriver(Config{MaxDuration: time.Minute})
	_, err := d.Reveal(context.Background(), &brokenPage{endlessPage{height: 3000}})
	assert.ErrorContains(t, err, "target closed")
}

func TestRevealCallerCancellationIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDriver(Config{Pause: time.Second, MaxDuration: time.Minute})

	_, err := d.Reveal(ctx, &endlessPage{height: 3000})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRevealStuckScrollCountsAsBottom(t *testing.T) {
	// Body does not scroll at all, height never changes.
	page := &lazyPage{inner: 800, height: 800, reveal: 10000, total: 0}
	d := NewDriver(Config{Step: 300, SettleRounds: 3, MaxIterations: 100, MaxDuration: time.Minute})

	res, err := d.Reveal(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Settled, res.Outcome)
	assert.Equal(t, 3, res.State.Iterations)
}

func TestWarmup(t *testing.T) {
	page := &lazyPage{inner: 800, height: 5000, reveal: 900, total: 5}
	d := NewDriver(Config{WarmupScrolls: 4})

	require.NoError(t, d.Warmup(context.Background(), page))
	require.Len(t, page.scrolls, 4)
	for _, dy := range page.scrolls {
		assert.GreaterOrEqual(t, dy, 10)
		assert.LessOrEqual(t, dy, 20)
	}
}

type hoverPage struct {
	lazyPage
	targets []Point
	hovered []Point
}

func (p *hoverPage) HoverTargets(context.Context) ([]Point, error) {
	return p.targets, nil
}

func (p *hoverPage) Hover(_ context.Context, pt Point) error {
	p.hovered = append(p.hovered, pt)
	return nil
}

func TestWarmupHoversBeforeScrolling(t *testing.T) {
	page := &hoverPage{
		lazyPage: lazyPage{inner: 800, height: 5000, reveal: 900, total: 5},
		targets:  []Point{{10, 10}, {20, 40}, {300, 90}, {50, 500}, {70, 700}, {5, 5}, {8, 9}},
	}
	var pauses []time.Duration
	d := NewDriver(Config{WarmupScrolls: 2}, WithClock(time.Now, func(_ context.Context, p time.Duration) error {
		pauses = append(pauses, p)
		return nil
	}))

	require.NoError(t, d.Warmup(context.Background(), page))
	require.GreaterOrEqual(t, len(page.hovered), 1)
	require.LessOrEqual(t, len(page.hovered), 5)
	seen := map[Point]bool{}
	for _, pt := range page.hovered {
		assert.Contains(t, page.targets, pt)
		assert.False(t, seen[pt], "each element is hovered once")
		seen[pt] = true
	}
	for _, p := range pauses[:len(page.hovered)] {
		assert.GreaterOrEqual(t, p, 300*time.Millisecond)
		assert.Less(t, p, time.Second)
	}
	assert.Len(t, page.scrolls, 2)
}

func TestWarmupWithoutHoverTargets(t *testing.T) {
	page := &hoverPage{lazyPage: lazyPage{inner: 800, height: 5000, reveal: 900, total: 5}}
	d := NewDriver(Config{WarmupScrolls: 1})

	require.NoError(t, d.Warmup(context.Background(), page))
	assert.Empty(t, page.hovered)
	assert.Len(t, page.scrolls, 1)
}
