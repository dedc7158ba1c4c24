package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/IliaW/chapter-scrape-worker/config"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

type CachedClient interface {
	ManifestLink(string) (string, bool)
	SaveManifestLink(string, string)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

// ManifestLink returns the stored manifest link of a chapter scraped recently.
func (mc *MemcachedClient) ManifestLink(url string) (string, bool) {
	key := ManifestKey(url)
	item, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to read manifest link from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return "", false
	}
	var link string
	if err = jsoniter.Unmarshal(item.Value, &link); err != nil || link == "" {
		return "", false
	}
	return link, true
}

func (mc *MemcachedClient) SaveManifestLink(url string, link string) {
	if link == "" {
		mc.log.Warn("manifest link is empty. Skip saving to cache.")
		return
	}
	key := ManifestKey(url)
	if err := mc.set(key, link, int32((mc.cfg.TtlForManifest).Seconds())); err != nil {
		mc.log.Error("failed to save manifest link to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	mc.log.Debug("manifest link saved to cache.")
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, expiration int32) error {
	byteValue, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: expiration,
	}

	return mc.client.Set(item)
}

// ManifestKey is the cache key of a chapter URL. Memcached keys are limited to 250 bytes, so the URL is hashed.
func ManifestKey(url string) string {
	return hashURL(url) + "-chapter-manifest"
}

func hashURL(url string) string {
	hash := sha256.New()
	hash.Write([]byte(url))
	return hex.EncodeToString(hash.Sum(nil))
}
