package cmd

import (
	"errors"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [chapter-url]",
	Short: "Scrape the images of one chapter (default command)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScrape,
}

func init() {
	addScrapeFlags(scrapeCmd)
}

func addScrapeFlags(c *cobra.Command) {
	c.Flags().Bool("lazy", false, "scroll the page until lazy images settle (overrides USE_LAZY)")
	c.Flags().Bool("prepend-base", false, "resolve relative image URLs against the page (overrides PREPEND_BASE_URL)")
}

// scrapeRequest merges the configured request with the flags set on the command line.
func scrapeRequest(c *cobra.Command, target string) model.ScrapeRequest {
	req := model.ScrapeRequest{
		TargetURL:   target,
		LazyMode:    cfg.Scrape.UseLazy,
		PrependBase: cfg.Scrape.PrependBaseURL,
	}
	if f := c.Flags().Lookup("lazy"); f != nil && f.Changed {
		req.LazyMode, _ = c.Flags().GetBool("lazy")
	}
	if f := c.Flags().Lookup("prepend-base"); f != nil && f.Changed {
		req.PrependBase, _ = c.Flags().GetBool("prepend-base")
	}
	return req
}

func runScrape(c *cobra.Command, args []string) error {
	rep := progress.NewReporter(c.OutOrStdout())
	target := cfg.Scrape.TargetURL
	if len(args) == 1 {
		target = args[0]
	}
	if target == "" {
		var err error
		if target, err = promptTarget("Chapter URL"); err != nil {
			_ = rep.Error("TARGET_URL is not set")
			return errReported
		}
	}

	orch, err := newScraper()
	if err != nil {
		_ = rep.Error(err.Error())
		return errReported
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err = orch.Run(ctx, scrapeRequest(c, target), rep); err != nil {
		return errReported
	}
	return nil
}

// promptTarget asks for a URL when stdin is a terminal.
func promptTarget(label string) (string, error) {
	if fi, err := os.Stdin.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return "", errors.New("no terminal to prompt on")
	}
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			u, err := url.Parse(s)
			if err != nil || u.Host == "" {
				return errors.New("enter an absolute URL")
			}
			return nil
		},
	}
	return prompt.Run()
}
