package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/IliaW/chapter-scrape-worker/internal/aws_s3"
	"github.com/IliaW/chapter-scrape-worker/internal/cache"
	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/persistence"
	"github.com/IliaW/chapter-scrape-worker/internal/progress"
	"github.com/IliaW/chapter-scrape-worker/internal/scraper"
	goCache "github.com/patrickmn/go-cache"
)

// Scraper runs the chapter pipeline, live or on archived HTML.
type Scraper interface {
	Run(ctx context.Context, req model.ScrapeRequest, rep *progress.Reporter) (*model.ChapterScrape, error)
	ExtractHTML(req model.ScrapeRequest, html string, rep *progress.Reporter) (*model.ChapterScrape, error)
}

type Archive interface {
	GetArchivedHTML(url string) (string, error)
}

type ChapterWorker struct {
	InputChan  <-chan *model.ChapterTask
	OutputChan chan<- *model.ChapterScrape
	PanicChan  chan struct{}
	Scraper    Scraper
	Archive    Archive
	Cfg        *config.Config
	Log        *slog.Logger
	Db         persistence.MetadataStorage
	S3         aws_s3.BucketClient
	Cache      cache.CachedClient
	Wg         *sync.WaitGroup

	recentOnce sync.Once
	recent     *goCache.Cache
}

// Run handles tasks one at a time until InputChan is closed. On panic the replacement worker is added
// to Wg before PanicChan is signalled, so Wg never drops to zero while a restart is pending.
func (w *ChapterWorker) Run() {
	defer w.Wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			w.Wg.Add(1)
			w.PanicChan <- struct{}{}
		}
	}()
	w.Log.Debug("starting chapter worker.")

	for task := range w.InputChan {
		w.Handle(task)
	}
	w.Log.Debug("chapter worker stopped.")
}

// Handle scrapes one task and stores the result. Tasks seen within the dedupe window, or with a cached
// manifest, are skipped.
func (w *ChapterWorker) Handle(task *model.ChapterTask) {
	log := w.Log.With(slog.String("url", task.URL))
	if err := w.recentTasks().Add(task.URL, struct{}{}, goCache.DefaultExpiration); err != nil {
		log.Debug("task was handled recently. Skip.")
		return
	}
	if link, ok := w.Cache.ManifestLink(task.URL); ok {
		log.Info("chapter manifest is cached. Skip.", slog.String("manifest", link))
		return
	}

	scrape, err := w.scrape(task, log)
	if err != nil {
		log.Error("scraping failed.", slog.String("err", err.Error()))
		w.recentTasks().Delete(task.URL) // a failed chapter may be retried
	}
	if scrape == nil {
		return
	}
	w.saveScrape(scrape)
}

func (w *ChapterWorker) scrape(task *model.ChapterTask, log *slog.Logger) (*model.ChapterScrape, error) {
	rep := progress.NewReporter(io.Discard, func(e progress.Event) {
		log.Debug("progress.", slog.String("kind", e.Kind.String()), slog.String("message", e.Message))
	})
	req := task.Request()

	if task.IsAllowedToScrape {
		ctx, cancel := context.WithTimeout(context.Background(), w.Cfg.WorkerSettings.ScrapeTimeout)
		defer cancel()
		return w.Scraper.Run(ctx, req, rep)
	}

	html, err := w.Archive.GetArchivedHTML(task.URL)
	if err != nil {
		log.Warn("no archived capture to extract from.", slog.String("err", err.Error()))
		return nil, err
	}
	return w.Scraper.ExtractHTML(req, html, rep)
}

// saveScrape writes the manifest of a successful scrape and records every scrape.
func (w *ChapterWorker) saveScrape(scrape *model.ChapterScrape) {
	ctx, cancel := context.WithTimeout(context.Background(), w.Cfg.WorkerSettings.ScrapeTimeout)
	defer cancel()

	if scrape.Status == scraper.StatusSuccess {
		scrape.ManifestLink = w.S3.WriteManifest(ctx, scrape)   // Save to S3
		w.Cache.SaveManifestLink(scrape.URL, scrape.ManifestLink) // Save the S3 link to Cache
	}
	w.Db.Save(ctx, scrape)  // Save metadata to database
	w.OutputChan <- scrape // Send the scrape to kafka producer
}

func (w *ChapterWorker) recentTasks() *goCache.Cache {
	w.recentOnce.Do(func() {
		window := w.Cfg.WorkerSettings.DedupeWindow
		w.recent = goCache.New(window, 2*window)
	})
	return w.recent
}
