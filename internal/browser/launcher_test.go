package browser

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadError(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	err := error(&LoadError{URL: "https://nowhere.invalid/ch1", Err: cause})

	assert.Equal(t, "failed to load https://nowhere.invalid/ch1: net::ERR_NAME_NOT_RESOLVED", err.Error())
	assert.ErrorIs(t, err, cause)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "https://nowhere.invalid/ch1", le.URL)

	assert.Equal(t, "failed to load https://site.com/ch1: HTTP 404",
		(&LoadError{URL: "https://site.com/ch1", Status: 404}).Error())
}

func TestParseSize(t *testing.T) {
	s, err := ParseSize(" 1920X1080 ")
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 1920, Height: 1080}, s)
	assert.Equal(t, "1920x1080", s.String())

	for _, bad := range []string{"", "1920", "ax1080", "1920x0", "-1x5"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestFingerprintRotation(t *testing.T) {
	cfg := &config.BrowserConfig{
		UserAgents: []string{"ua-1", "ua-2"},
		Viewports:  []string{"1366x768", "1440x900"},
	}
	l, err := NewLauncher(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	l.pick = func(n int) int { return n - 1 }
	ua, vp := l.fingerprint()
	assert.Equal(t, "ua-2", ua)
	assert.Equal(t, Size{Width: 1440, Height: 900}, vp)

	assert.Len(t, l.allocatorOptions(ua, vp), len(l.allocatorOptions("", vp))+1)
}

func TestLauncherRejectsBadViewport(t *testing.T) {
	_, err := NewLauncher(&config.BrowserConfig{Viewports: []string{"wide"}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestLauncherDefaultViewport(t *testing.T) {
	l, err := NewLauncher(&config.BrowserConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ua, vp := l.fingerprint()
	assert.Empty(t, ua)
	assert.Equal(t, Size{Width: 1366, Height: 768}, vp)
}
