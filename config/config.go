package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string          `mapstructure:"env"`
	LogLevel        string          `mapstructure:"log_level"`
	LogType         string          `mapstructure:"log_type"`
	ServiceName     string          `mapstructure:"service_name"`
	Version         string          `mapstructure:"version"`
	Scrape          *ScrapeConfig   `mapstructure:"scrape"`
	Browser         *BrowserConfig  `mapstructure:"browser"`
	Reveal          *RevealConfig   `mapstructure:"reveal"`
	Extract         *ExtractConfig  `mapstructure:"extract"`
	Links           *LinksConfig    `mapstructure:"links"`
	WorkerSettings  *WorkerConfig   `mapstructure:"worker"`
	CacheSettings   *CacheConfig    `mapstructure:"cache"`
	DbSettings      *DatabaseConfig `mapstructure:"database"`
	KafkaSettings   *KafkaConfig    `mapstructure:"kafka"`
	S3Settings      *S3Config       `mapstructure:"s3"`
	CrawlerSettings *CrawlerConfig  `mapstructure:"crawler"`
}

// ScrapeConfig carries the per-invocation parameters, usually from TARGET_URL, USE_LAZY and PREPEND_BASE_URL.
type ScrapeConfig struct {
	TargetURL      string `mapstructure:"target_url"`
	UseLazy        bool   `mapstructure:"use_lazy"`
	PrependBaseURL bool   `mapstructure:"prepend_base_url"`
	// PrependBaseSet is true when PrependBaseURL came from the environment or a config file.
	PrependBaseSet bool `mapstructure:"-"`
}

type BrowserConfig struct {
	ExecPath          string        `mapstructure:"exec_path"`
	Headless          bool          `mapstructure:"headless"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	WaitUntil         string        `mapstructure:"wait_until"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	UserAgents        []string      `mapstructure:"user_agents"`
	Viewports         []string      `mapstructure:"viewports"`
	BlockedURLs       []string      `mapstructure:"blocked_urls"`
}

type RevealConfig struct {
	Step            int           `mapstructure:"step"`
	Pause           time.Duration `mapstructure:"pause"`
	PauseJitter     time.Duration `mapstructure:"pause_jitter"`
	SettleRounds    int           `mapstructure:"settle_rounds"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	BottomTolerance float64       `mapstructure:"bottom_tolerance"`
	Nudge           int           `mapstructure:"nudge"`
	WarmupScrolls   int           `mapstructure:"warmup_scrolls"`
}

type ExtractConfig struct {
	SitesFile string `mapstructure:"sites_file"`
	MinWidth  int    `mapstructure:"min_width"`
	MinHeight int    `mapstructure:"min_height"`
}

type LinksConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Keyword          string        `mapstructure:"keyword"`
	CloudflareBypass bool          `mapstructure:"cloudflare_bypass"`
}

type WorkerConfig struct {
	ScrapeTimeout time.Duration `mapstructure:"scrape_timeout"`
	DedupeWindow  time.Duration `mapstructure:"dedupe_window"`
	TaskBuffer    int           `mapstructure:"task_buffer"`
}

type CacheConfig struct {
	Servers        string        `mapstructure:"servers"`
	TtlForManifest time.Duration `mapstructure:"ttl_for_manifest"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type S3Config struct {
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type CrawlerConfig struct {
	RequestTimeout   int `mapstructure:"request_timeout"`
	Retries          int `mapstructure:"retries"`
	LastCrawlIndexes int `mapstructure:"last_crawl_indexes"`
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "chapter-scrape-worker")
	v.SetDefault("version", "dev")

	v.SetDefault("scrape.target_url", "")
	v.SetDefault("scrape.use_lazy", false)

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.wait_until", "DOMContentLoaded")
	v.SetDefault("browser.navigation_timeout", 15*time.Second)
	v.SetDefault("browser.selector_timeout", 10*time.Second)
	v.SetDefault("browser.action_timeout", 10*time.Second)
	v.SetDefault("browser.user_agents", defaultUserAgents)
	v.SetDefault("browser.viewports", []string{"1366x768", "1920x1080", "1440x900", "1536x864"})
	v.SetDefault("browser.blocked_urls", []string{})

	v.SetDefault("reveal.step", 300)
	v.SetDefault("reveal.pause", 1500*time.Millisecond)
	v.SetDefault("reveal.pause_jitter", 1500*time.Millisecond)
	v.SetDefault("reveal.settle_rounds", 3)
	v.SetDefault("reveal.max_iterations", 200)
	v.SetDefault("reveal.max_duration", 2*time.Minute)
	v.SetDefault("reveal.bottom_tolerance", 50)
	v.SetDefault("reveal.nudge", 200)
	v.SetDefault("reveal.warmup_scrolls", 3)

	v.SetDefault("extract.sites_file", "")
	v.SetDefault("extract.min_width", 150)
	v.SetDefault("extract.min_height", 150)

	v.SetDefault("links.request_timeout", 30*time.Second)
	v.SetDefault("links.user_agent", defaultUserAgents[0])
	v.SetDefault("links.keyword", "chapter")
	v.SetDefault("links.cloudflare_bypass", true)

	v.SetDefault("worker.scrape_timeout", 5*time.Minute)
	v.SetDefault("worker.dedupe_window", 10*time.Minute)
	v.SetDefault("worker.task_buffer", 10)

	v.SetDefault("cache.servers", "localhost:11211")
	v.SetDefault("cache.ttl_for_manifest", 24*time.Hour)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "chapters")
	v.SetDefault("database.conn_max_lifetime", 3*time.Minute)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("kafka.producer.addr", "localhost:9092")
	v.SetDefault("kafka.producer.write_topic_name", "chapter-scrapes")
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 10)
	v.SetDefault("kafka.producer.batch_timeout", 2*time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("kafka.producer.async", false)
	v.SetDefault("kafka.consumer.read_topic_name", "chapter-tasks")
	v.SetDefault("kafka.consumer.brokers", "localhost:9092")
	v.SetDefault("kafka.consumer.group_id", "chapter-scrape-worker")
	v.SetDefault("kafka.consumer.max_wait", 5*time.Second)
	v.SetDefault("kafka.consumer.read_batch_timeout", 10*time.Second)

	v.SetDefault("s3.aws_access_key", "")
	v.SetDefault("s3.aws_secret_key", "")
	v.SetDefault("s3.aws_base_endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket_name", "chapter-manifests")
	v.SetDefault("s3.key_prefix", "chapters")

	v.SetDefault("crawler.request_timeout", 30)
	v.SetDefault("crawler.retries", 3)
	v.SetDefault("crawler.last_crawl_indexes", 3)
}

// Load reads config.yaml from the working directory, or file when it is not empty, and overlays the
// environment. A missing config.yaml in the working directory is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(path.Join("."))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, env := range map[string]string{
		"scrape.target_url":       "TARGET_URL",
		"scrape.use_lazy":         "USE_LAZY",
		"scrape.prepend_base_url": "PREPEND_BASE_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("can't read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling viper config: %w", err)
	}
	cfg.Scrape.PrependBaseSet = v.IsSet("scrape.prepend_base_url")

	return &cfg, nil
}
