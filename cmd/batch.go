package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch [chapter-url...]",
	Short: "Scrape several chapters in order",
	Long: "Scrapes each chapter with its own browser, one after another. Output lines are prefixed with " +
		"\"[Chapter k]\" where k is the position of the chapter in the list. A failing chapter does not stop the batch.",
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringP("file", "f", "", "file with one chapter URL per line")
	addScrapeFlags(batchCmd)
}

func runBatch(c *cobra.Command, args []string) error {
	urls := args
	if file, _ := c.Flags().GetString("file"); file != "" {
		fromFile, err := readURLs(file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no chapter urls given")
	}

	orch, err := newScraper()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for i, target := range urls {
		if ctx.Err() != nil {
			log.Warn("batch interrupted.", slog.Int("remaining", len(urls)-i))
			failed += len(urls) - i
			break
		}
		pw := progress.NewPrefixWriter(c.OutOrStdout(), fmt.Sprintf("[Chapter %d] ", i+1))
		rep := progress.NewReporter(pw)
		_ = rep.Log("Starting scrape: %s", target)
		if _, err := orch.Run(ctx, scrapeRequest(c, target), rep); err != nil {
			failed++
		}
		if _, err := io.WriteString(pw, "Finished scraping.\n"); err != nil {
			return err
		}
		if err := pw.Flush(); err != nil {
			return err
		}
	}
	log.Info("batch finished.", slog.Int("chapters", len(urls)), slog.Int("failed", failed))
	if failed > 0 {
		return errReported
	}
	return nil
}

// readURLs reads one URL per line, skipping blank lines and # comments.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
