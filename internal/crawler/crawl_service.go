package crawler

import (
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/IliaW/chapter-scrape-worker/config"
	jsoniter "github.com/json-iterator/go"
	"github.com/karust/gogetcrawl/common"
	"github.com/karust/gogetcrawl/commoncrawl"
	"github.com/patrickmn/go-cache"
)

const indexListUrl = "https://index.commoncrawl.org/collinfo.json"

var (
	ErrNoCapture = errors.New("no archived capture found")
	htmlPattern  = regexp.MustCompile(`(?si)<!doctype html.*?</html>|<html.*?</html>`)
)

type Index struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Timegate string `json:"timegate"`
	CdxAPI   string `json:"cdx-api"`
}

// CommonCrawlerService serves archived chapter pages for sites that must not be scraped live.
type CommonCrawlerService struct {
	crawler    *commoncrawl.CommonCrawl
	cfg        *config.CrawlerConfig
	log        *slog.Logger
	localCache *cache.Cache
}

func NewCrawlService(cfg *config.CrawlerConfig, log *slog.Logger) *CommonCrawlerService {
	c, err := commoncrawl.New(cfg.RequestTimeout, cfg.Retries)
	if err != nil {
		log.Error("failed to create common crawl client", slog.String("err", err.Error()))
	}
	return &CommonCrawlerService{
		crawler:    c,
		cfg:        cfg,
		log:        log,
		localCache: cache.New(72*time.Hour, 72*time.Hour), // indexes update every month
	}
}

// GetArchivedHTML returns the HTML of the most recent capture of url found in the last indexes.
func (c *CommonCrawlerService) GetArchivedHTML(url string) (string, error) {
	if c.crawler == nil { // due to request limitations, the crawler may not be initialized when the application starts
		c.log.Info("connection retry to common crawl.")
		var err error
		c.crawler, err = commoncrawl.New(c.cfg.RequestTimeout, c.cfg.Retries)
		if err != nil {
			c.log.Error("failed to create common crawl client", slog.String("err", err.Error()))
			return "", errors.New("connection to common crawl failed")
		}
	}

	indexList, err := c.getIndexes()
	if err != nil {
		return "", err
	}
	requestCfg := common.RequestConfig{
		URL:     url,
		Filters: []string{"statuscode:200", "mimetype:text/html"},
	}

	for i := 0; i < c.cfg.LastCrawlIndexes && i < len(indexList); i++ {
		p, err := c.crawler.GetPagesIndex(requestCfg, indexList[i].Id)
		if err != nil {
			c.log.Debug("failed to query crawl index", slog.String("index", indexList[i].Id),
				slog.String("err", err.Error()))
		}
		if len(p) == 0 {
			c.log.Debug("no captures found", slog.String("url", url), slog.String("index", indexList[i].Id))
			continue
		}
		resp, err := c.crawler.GetFile(p[len(p)-1]) // last one is the most recent
		if err != nil {
			c.log.Error("failed to get file", slog.String("err", err.Error()))
			return "", err
		}
		if html := ExtractHTML(string(resp)); html != "" {
			c.log.Debug("archived capture found", slog.String("url", url), slog.String("index", indexList[i].Id))
			return html, nil
		}
	}
	c.log.Info("no captures found", slog.String("url", url))
	return "", ErrNoCapture
}

func (c *CommonCrawlerService) getIndexes() ([]Index, error) {
	if i, ok := c.localCache.Get("indexes"); ok {
		return i.([]Index), nil
	}

	response, err := common.Get(indexListUrl, c.crawler.MaxTimeout, c.crawler.MaxRetries)
	if err != nil {
		return nil, err
	}

	var indexes []Index
	err = jsoniter.Unmarshal(response, &indexes)
	if err != nil {
		return indexes, err
	}
	c.localCache.Set("indexes", indexes, cache.DefaultExpiration)

	return indexes, nil
}

// ExtractHTML cuts the HTML document out of a WARC record.
func ExtractHTML(body string) string {
	return htmlPattern.FindString(body)
}
