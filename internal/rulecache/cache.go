// Package rulecache implements C3: a URL-keyed, validator-based content
// store for downloaded rule-set bodies, grounded on
// mihomo_sync/modules/rule_downloader.py's RuleDownloader.
package rulecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"routesync/internal/atomicfile"
	"routesync/internal/config"
	"routesync/internal/healthz"
	"routesync/internal/retry"
)

type meta struct {
	ETag string `json:"etag"`
}

// Cache is a content store rooted at a single cache directory.
type Cache struct {
	dir   string
	retry config.RetryConfig
	http  *http.Client
	log   *zap.Logger
}

// New builds a Cache rooted at cfg.CacheDir(). The directory is created if
// missing.
func New(cfg *config.Config, log *zap.Logger) (*Cache, error) {
	dir := cfg.CacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &Cache{
		dir:   dir,
		retry: cfg.RetryConfig,
		http:  &http.Client{Timeout: cfg.Timeout()},
		log:   log.Named("rulecache"),
	}, nil
}

// PathFor returns the content file path for url. Pure, no I/O (spec.md §4.3).
func (c *Cache) PathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".list")
}

func (c *Cache) metaPathFor(url string) string {
	contentPath := c.PathFor(url)
	return contentPath[:len(contentPath)-len(".list")] + ".meta.json"
}

// EnsureUpdated concurrently refreshes the content file for each url,
// performing a conditional GET with the previously stored ETag if any. A
// 304 leaves the cache untouched; a 2xx body is written atomically and the
// new validator persisted (or the meta file removed if the response
// carries none). Failures after retry are logged and leave the previous
// cache entry intact — one URL's failure never aborts the others.
func (c *Cache) EnsureUpdated(ctx context.Context, urls []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			c.ensureOne(ctx, u)
			return nil
		})
	}
	return g.Wait()
}

func (c *Cache) ensureOne(ctx context.Context, url string) {
	contentPath := c.PathFor(url)
	metaPath := c.metaPathFor(url)
	etag := c.readETag(metaPath)

	shouldRetry := func(err error) bool {
		var perm *permanentStatusError
		return !errors.As(err, &perm)
	}

	result, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*fetchResult, error) {
		return c.fetch(ctx, url, etag)
	}, shouldRetry)
	if err != nil {
		healthz.IncCacheResult("stale")
		c.log.Warn("failed to refresh rule-set after retries, keeping previous cache",
			zap.String("url", url), zap.Error(err))
		return
	}

	if result.notModified {
		healthz.IncCacheResult("hit")
		c.log.Debug("rule-set cache hit (304)", zap.String("url", url))
		return
	}
	healthz.IncCacheResult("miss")

	if err := atomicfile.Write(contentPath, result.body); err != nil {
		c.log.Warn("failed to write rule-set cache", zap.String("url", url), zap.Error(err))
		return
	}

	if result.etag != "" {
		if err := c.writeETag(metaPath, result.etag); err != nil {
			c.log.Warn("failed to persist cache validator", zap.String("url", url), zap.Error(err))
		}
	} else if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		c.log.Warn("failed to remove stale cache validator", zap.String("url", url), zap.Error(err))
	}

	c.log.Info("updated rule-set cache", zap.String("url", url))
}

func (c *Cache) readETag(metaPath string) string {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return ""
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		c.log.Warn("unreadable cache metadata, ignoring", zap.String("path", metaPath))
		return ""
	}
	return m.ETag
}

func (c *Cache) writeETag(metaPath, etag string) error {
	data, err := json.Marshal(meta{ETag: etag})
	if err != nil {
		return err
	}
	return atomicfile.Write(metaPath, data)
}

type fetchResult struct {
	notModified bool
	body        []byte
	etag        string
}

// permanentStatusError marks a response status that retrying will never
// fix (any 4xx other than what conditional GET already handles via 304).
type permanentStatusError struct {
	StatusCode int
}

func (e *permanentStatusError) Error() string {
	return fmt.Sprintf("rule-set server returned status %d", e.StatusCode)
}

func (c *Cache) fetch(ctx context.Context, url, etag string) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &fetchResult{notModified: true}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body from %s: %w", url, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &permanentStatusError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rule-set server error %d from %s", resp.StatusCode, url)
	}

	return &fetchResult{body: body, etag: resp.Header.Get("ETag")}, nil
}
