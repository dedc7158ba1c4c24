package links

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/IliaW/chapter-scrape-worker/internal/browser"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly"
)

// Collector finds the chapter links of a series page.
type Collector struct {
	cfg *config.LinksConfig
	log *slog.Logger
}

func NewCollector(cfg *config.LinksConfig, log *slog.Logger) *Collector {
	return &Collector{cfg: cfg, log: log}
}

func (lc *Collector) transport() http.RoundTripper {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if lc.cfg.CloudflareBypass {
		return cloudflarebp.AddCloudFlareByPass(t)
	}
	return t
}

// Collect fetches seriesURL and reports every distinct anchor whose href contains the configured keyword,
// in page order. Relative links are resolved against the page when prependBase is set.
func (lc *Collector) Collect(ctx context.Context, seriesURL string, prependBase bool,
	rep *progress.Reporter) ([]string, error) {
	keyword := strings.ToLower(lc.cfg.Keyword)
	if keyword == "" {
		keyword = "chapter"
	}

	c := colly.NewCollector()
	c.SetRequestTimeout(lc.cfg.RequestTimeout)
	c.UserAgent = lc.cfg.UserAgent
	c.WithTransport(lc.transport())

	var (
		found   []string
		seen    = make(map[string]struct{})
		status  int
		visitEr error
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" || !strings.Contains(strings.ToLower(href), keyword) {
			return
		}
		if prependBase {
			href = e.Request.AbsoluteURL(href)
			if href == "" {
				return
			}
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		found = append(found, href)
		rep.LinkFound(href)
	})
	c.OnError(func(r *colly.Response, err error) {
		status = r.StatusCode
		visitEr = err
	})

	rep.Log("[*] Navigating to URL: %s", seriesURL)
	err := c.Visit(seriesURL)
	if err == nil {
		err = visitEr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		le := &browser.LoadError{URL: seriesURL, Err: err}
		if status >= 400 {
			le.Status = status
		}
		lc.log.Error("failed to collect chapter links.", slog.String("url", seriesURL),
			slog.String("err", le.Error()))
		rep.Error(le.Error())
		return nil, le
	}

	rep.Done()
	lc.log.Debug("chapter links collected.", slog.Int("count", len(found)), slog.String("url", seriesURL))
	return found, nil
}
