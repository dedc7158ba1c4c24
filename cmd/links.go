package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/IliaW/chapter-scrape-worker/internal/links"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links [series-url]",
	Short: "List the chapter links of a series page",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLinks,
}

func init() {
	linksCmd.Flags().String("keyword", "", "substring a chapter href must contain (default from config)")
	linksCmd.Flags().Bool("prepend-base", true, "resolve relative links against the page")
}

func runLinks(c *cobra.Command, args []string) error {
	rep := progress.NewLinkReporter(c.OutOrStdout())
	target := cfg.Scrape.TargetURL
	if len(args) == 1 {
		target = args[0]
	}
	if target == "" {
		var err error
		if target, err = promptTarget("Series URL"); err != nil {
			_ = rep.Error("TARGET_URL is not set")
			return errReported
		}
	}

	prependBase := true
	if cfg.Scrape.PrependBaseSet {
		prependBase = cfg.Scrape.PrependBaseURL
	}
	if c.Flags().Changed("prepend-base") {
		prependBase, _ = c.Flags().GetBool("prepend-base")
	}
	linksCfg := *cfg.Links
	if kw, _ := c.Flags().GetString("keyword"); kw != "" {
		linksCfg.Keyword = kw
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := links.NewCollector(&linksCfg, log).Collect(ctx, target, prependBase, rep); err != nil {
		return errReported
	}
	return nil
}
