package model

type ScrapeMechanism int

const (
	HeadlessBrowser ScrapeMechanism = iota
	CommonCrawl
)

func (sm ScrapeMechanism) String() string {
	return [...]string{"headless browser", "common crawl"}[sm]
}

// ScrapeRequest holds the parameters of one chapter scrape. It is not modified after the run starts.
type ScrapeRequest struct {
	TargetURL   string `json:"target_url"`
	LazyMode    bool   `json:"use_lazy"`
	PrependBase bool   `json:"prepend_base"`
}

// ImageCandidate is a raw image reference found in the page, DOMIndex is its position in document order.
type ImageCandidate struct {
	RawURL   string
	DOMIndex int
}

type NormalizedImage struct {
	URL string `json:"url"`
}

// ChapterScrape is the summary of one finished run.
type ChapterScrape struct {
	URL                 string   `json:"url"`
	Images              []string `json:"images"`
	ImageCount          int      `json:"image_count"`
	RevealOutcome       string   `json:"reveal_outcome,omitempty"`
	TimeToScrape        int64    `json:"time_to_scrape"` // in milliseconds
	Status              string   `json:"status"`
	ScrapeMechanism     string   `json:"scrape_mechanism"`
	ScrapeWorkerVersion string   `json:"scrape_worker_version"`
	ManifestLink        string   `json:"manifest_link,omitempty"`
}

// ChapterTask is a unit of work read from the task topic.
type ChapterTask struct {
	URL               string `json:"url"`
	UseLazy           bool   `json:"use_lazy"`
	PrependBase       bool   `json:"prepend_base"`
	IsAllowedToScrape bool   `json:"allowed_to_scrape"`
}

func (t *ChapterTask) Request() ScrapeRequest {
	return ScrapeRequest{
		TargetURL:   t.URL,
		LazyMode:    t.UseLazy,
		PrependBase: t.PrependBase,
	}
}
