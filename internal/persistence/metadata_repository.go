package persistence

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
)

type MetadataStorage interface {
	Save(context.Context, *model.ChapterScrape)
}

type MetadataRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMetadataRepository(db *sql.DB, log *slog.Logger) *MetadataRepository {
	return &MetadataRepository{db: db, log: log}
}

const insertChapterScrape = `INSERT INTO chapter_scrape_metadata
	(url, image_count, reveal_outcome, time_to_scrape, status, scrape_mechanism, scrape_worker_version, manifest_link)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (mr *MetadataRepository) Save(ctx context.Context, scrape *model.ChapterScrape) {
	_, err := mr.db.ExecContext(ctx, insertChapterScrape,
		scrape.URL,
		scrape.ImageCount,
		scrape.RevealOutcome,
		scrape.TimeToScrape,
		scrape.Status,
		scrape.ScrapeMechanism,
		scrape.ScrapeWorkerVersion,
		scrape.ManifestLink)
	if err != nil {
		mr.log.Error("failed to save chapter metadata to database.", slog.String("err", err.Error()))
		return
	}
	mr.log.Debug("chapter metadata saved to db.")
}
