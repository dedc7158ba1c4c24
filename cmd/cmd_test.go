package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadURLsSkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapters.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"# series\nhttps://example.com/ch-1\n\n  https://example.com/ch-2  \n#https://example.com/ch-3\n"), 0o644))

	urls, err := readURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/ch-1", "https://example.com/ch-2"}, urls)

	_, err = readURLs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestScrapeRequestFlagsOverrideConfig(t *testing.T) {
	cfg = &config.Config{Scrape: &config.ScrapeConfig{UseLazy: true, PrependBaseURL: false}}

	c := &cobra.Command{Use: "test"}
	addScrapeFlags(c)
	req := scrapeRequest(c, "https://example.com/ch-1")
	assert.True(t, req.LazyMode)
	assert.False(t, req.PrependBase)

	require.NoError(t, c.Flags().Set("lazy", "false"))
	require.NoError(t, c.Flags().Set("prepend-base", "true"))
	req = scrapeRequest(c, "https://example.com/ch-1")
	assert.False(t, req.LazyMode)
	assert.True(t, req.PrependBase)
	assert.Equal(t, "https://example.com/ch-1", req.TargetURL)
}

func TestRevealConfigCopiesEveryBound(t *testing.T) {
	rc := revealConfig(&config.RevealConfig{
		Step:          250,
		Pause:         time.Second,
		SettleRounds:  4,
		MaxIterations: 50,
		MaxDuration:   time.Minute,
		Nudge:         120,
	})
	assert.Equal(t, 250, rc.Step)
	assert.Equal(t, 4, rc.SettleRounds)
	assert.Equal(t, 50, rc.MaxIterations)
	assert.Equal(t, time.Minute, rc.MaxDuration)
	assert.Equal(t, 120, rc.Nudge)
}

type fakeScraper struct{ seen []string }

func (s *fakeScraper) Run(_ context.Context, req model.ScrapeRequest, rep *progress.Reporter) (
	*model.ChapterScrape, error) {
	s.seen = append(s.seen, req.TargetURL)
	if strings.Contains(req.TargetURL, "broken") {
		_ = rep.Error("failed to load " + req.TargetURL)
		return nil, errors.New("failed to load")
	}
	_ = rep.ImageFound(req.TargetURL + "/1.jpg")
	_ = rep.Done()
	return &model.ChapterScrape{URL: req.TargetURL, ImageCount: 1}, nil
}

func batchCommand(t *testing.T, s chapterScraper) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cfg = &config.Config{Scrape: &config.ScrapeConfig{}}
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
	prev := newScraper
	newScraper = func() (chapterScraper, error) { return s, nil }
	t.Cleanup(func() { newScraper = prev })

	var out bytes.Buffer
	c := &cobra.Command{Use: "batch"}
	c.Flags().StringP("file", "f", "", "")
	addScrapeFlags(c)
	c.SetOut(&out)
	c.SetContext(context.Background())
	return c, &out
}

func TestBatchTagsEveryLineWithItsChapter(t *testing.T) {
	s := &fakeScraper{}
	c, out := batchCommand(t, s)

	require.NoError(t, runBatch(c, []string{"https://example.com/ch-1", "https://example.com/ch-2"}))

	assert.Equal(t, []string{
		"[Chapter 1] Starting scrape: https://example.com/ch-1",
		"[Chapter 1] Grabbed 1 picture(s): https://example.com/ch-1/1.jpg",
		"[Chapter 1] [*] Scrape finished, 1 image(s) found.",
		"[Chapter 1] Finished scraping.",
		"[Chapter 2] Starting scrape: https://example.com/ch-2",
		"[Chapter 2] Grabbed 1 picture(s): https://example.com/ch-2/1.jpg",
		"[Chapter 2] [*] Scrape finished, 1 image(s) found.",
		"[Chapter 2] Finished scraping.",
	}, strings.Split(strings.TrimSpace(out.String()), "\n"))
}

func TestBatchContinuesAfterFailedChapter(t *testing.T) {
	s := &fakeScraper{}
	c, out := batchCommand(t, s)
	path := filepath.Join(t.TempDir(), "chapters.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://example.com/ch-3\n"), 0o644))
	require.NoError(t, c.Flags().Set("file", path))

	err := runBatch(c, []string{"https://example.com/ch-1", "https://example.com/broken"})
	assert.ErrorIs(t, err, errReported)

	assert.Equal(t, []string{"https://example.com/ch-1", "https://example.com/broken", "https://example.com/ch-3"}, s.seen)
	assert.Contains(t, out.String(), "[Chapter 2] Error: failed to load https://example.com/broken\n"+
		"[Chapter 2] Finished scraping.\n")
	assert.Contains(t, out.String(), "[Chapter 3] Grabbed 1 picture(s): https://example.com/ch-3/1.jpg")
}

func TestBatchWithoutURLs(t *testing.T) {
	c, _ := batchCommand(t, &fakeScraper{})
	assert.Error(t, runBatch(c, nil))
}
