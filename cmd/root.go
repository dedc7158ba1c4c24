package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/IliaW/chapter-scrape-worker/internal/browser"
	"github.com/IliaW/chapter-scrape-worker/internal/extract"
	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/IliaW/chapter-scrape-worker/internal/reveal"
	"github.com/IliaW/chapter-scrape-worker/internal/scraper"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// errReported marks failures already written to stdout as an Error: line.
var errReported = errors.New("failure reported")

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
	log     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chapter-scrape-worker [chapter-url]",
	Short: "Collect the ordered page images of a manga or manhwa chapter",
	Long: "Loads a chapter page in a headless browser, optionally scrolls it until lazy images settle, " +
		"and prints one \"Grabbed <n> picture(s): <url>\" line per image in reading order.",
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runScrape,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	addScrapeFlags(rootCmd)
	rootCmd.AddCommand(scrapeCmd, linksCmd, batchCmd, workerCmd, versionCmd)
}

// Execute runs the command line and exits with 1 on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func setup(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	log = setupLogger()
	return nil
}

// setupLogger logs to stderr, stdout carries the progress lines.
func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "warn":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func revealConfig(c *config.RevealConfig) reveal.Config {
	return reveal.Config{
		Step:            c.Step,
		Pause:           c.Pause,
		PauseJitter:     c.PauseJitter,
		SettleRounds:    c.SettleRounds,
		MaxIterations:   c.MaxIterations,
		MaxDuration:     c.MaxDuration,
		BottomTolerance: c.BottomTolerance,
		Nudge:           c.Nudge,
		WarmupScrolls:   c.WarmupScrolls,
	}
}

// chapterScraper is the part of the orchestrator the scrape and batch commands drive.
type chapterScraper interface {
	Run(ctx context.Context, req model.ScrapeRequest, rep *progress.Reporter) (*model.ChapterScrape, error)
}

// newScraper is replaced in tests.
var newScraper = func() (chapterScraper, error) {
	o, err := newOrchestrator()
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newOrchestrator() (*scraper.Orchestrator, error) {
	launcher, err := browser.NewLauncher(cfg.Browser, log)
	if err != nil {
		return nil, fmt.Errorf("browser config: %w", err)
	}
	rules, err := extract.LoadRules(cfg.Extract.SitesFile)
	if err != nil {
		return nil, err
	}
	log.Debug("site rules loaded.", slog.Int("count", rules.Len()))

	return scraper.New(
		scraper.BrowserLoader(launcher),
		rules,
		extract.New(cfg.Extract.MinWidth, cfg.Extract.MinHeight),
		revealConfig(cfg.Reveal),
		log,
		scraper.WithVersion(cfg.Version),
	), nil
}
