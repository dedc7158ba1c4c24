package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/chapter-scrape-worker/internal/aws_s3"
	"github.com/IliaW/chapter-scrape-worker/internal/broker"
	cacheClient "github.com/IliaW/chapter-scrape-worker/internal/cache"
	"github.com/IliaW/chapter-scrape-worker/internal/crawler"
	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/IliaW/chapter-scrape-worker/internal/persistence"
	"github.com/IliaW/chapter-scrape-worker/internal/worker"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume chapter tasks from kafka and store the scraped manifests",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func runWorker(c *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	db := setupDatabase()
	defer closeDatabase(db)
	s3 := aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	cache := cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
	defer cache.Close()
	crawl := crawler.NewCrawlService(cfg.CrawlerSettings, log)
	metadataRepo := persistence.NewMetadataRepository(db, log)
	log.Info("starting chapter worker.", slog.String("env", cfg.Env), slog.String("version", cfg.Version))

	taskChan := make(chan *model.ChapterTask, cfg.WorkerSettings.TaskBuffer)
	scrapeChan := make(chan *model.ChapterScrape, cfg.WorkerSettings.TaskBuffer)
	panicChan := make(chan struct{}, 1)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	go broker.NewKafkaConsumer(taskChan, cfg.KafkaSettings.Consumer, log, kafkaWg).Run(ctx)

	workerWg := &sync.WaitGroup{}
	chapterWorker := &worker.ChapterWorker{
		InputChan:  taskChan,
		OutputChan: scrapeChan,
		PanicChan:  panicChan,
		Scraper:    orch,
		Archive:    crawl,
		Cfg:        cfg,
		Log:        log,
		Db:         metadataRepo,
		S3:         s3,
		Cache:      cache,
		Wg:         workerWg,
	}
	// One worker. Chapters are scraped one at a time.
	workerWg.Add(1)
	go chapterWorker.Run()
	// Restart the worker if it panics. The replacement is already counted in workerWg.
	go func() {
		for range panicChan {
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Second): // avoid polluting logs if something unrecoverable happened
			}
			go chapterWorker.Run()
		}
	}()

	kafkaWg.Add(1)
	go broker.NewKafkaProducer(scrapeChan, cfg.KafkaSettings.Producer, log, kafkaWg).Run()

	// Graceful shutdown.
	// 1. Stop Kafka Consumer by system call. Close taskChan
	// 2. Wait till the Worker processed all messages from taskChan. Close scrapeChan
	// 3. Wait till Producer process all messages from scrapeChan and write to kafka
	// 4. Stop Kafka Producer. Close database and memcached connections
	<-ctx.Done()
	log.Info("stopping worker...")
	workerWg.Wait()
	close(scrapeChan)
	log.Info("close scrapeChan.")
	close(panicChan)
	log.Info("close panicChan.")
	kafkaWg.Wait()

	return nil
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr == nil {
			break
		}
		log.Error("not responding.", slog.String("err", pingErr.Error()))
		if i == maxRetry {
			log.Error("failed to establish database connection.")
			os.Exit(1)
		}
		log.Info(fmt.Sprintf("wait %d seconds", 5*i))
		time.Sleep(time.Duration(5*i) * time.Second)
	}
	log.Info("connected to the database!")

	return database
}

func closeDatabase(db *sql.DB) {
	log.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		log.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}
