package pdfbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

const (
	// MaxChunkBytes is the per-call ceiling on a range read. The server
	// clamps every request to it regardless of what the caller asked for.
	MaxChunkBytes = 512 << 10

	// MaxCachePDFBytes caps the size of a full document body the cache
	// will hold for an origin that cannot serve ranges.
	MaxCachePDFBytes = 50 << 20

	DefaultInactivityTimeout = 5 * time.Minute
	DefaultMaxLifetime       = 30 * time.Minute
)

type CacheConfig struct {
	InactivityTimeout time.Duration
	MaxLifetime       time.Duration
	MaxCacheBytes     int64
	Client            *http.Client
	Logger            *slog.Logger
}

// キャッシュ対象はレンジ非対応オリジンの全文ボディのみ
type cacheEntry struct {
	data       []byte
	createdAt  time.Time
	lastAccess time.Time
	timer      *time.Timer
}

// expiry is the single recomputed deadline: whichever of the inactivity
// window and the absolute lifetime runs out first.
func (e *cacheEntry) expiry(inactivity, lifetime time.Duration) time.Time {
	d := e.lastAccess.Add(inactivity)
	if hard := e.createdAt.Add(lifetime); hard.Before(d) {
		d = hard
	}
	return d
}

// RangeCache resolves a logical document URL to bytes for an arbitrary
// [offset, offset+length) window. Local paths are read directly; remote
// origins are asked for the range, and an origin that ignores the range
// header gets its whole body cached once so follow-up reads are sliced
// from memory.
type RangeCache struct {
	cfg    CacheConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewRangeCache(cfg CacheConfig) *RangeCache {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = DefaultMaxLifetime
	}
	if cfg.MaxCacheBytes <= 0 {
		cfg.MaxCacheBytes = MaxCachePDFBytes
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RangeCache{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// ReadRange returns up to length bytes at offset and the authoritative
// total document size. length is clamped to MaxChunkBytes. A read past the
// end returns zero bytes, not an error.
func (c *RangeCache) ReadRange(ctx context.Context, rawURL string, offset, length int64) ([]byte, int64, error) {
	if length <= 0 {
		return nil, 0, ErrRangeLength
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("negative offset %d", offset)
	}
	if length > MaxChunkBytes {
		length = MaxChunkBytes
	}

	if !isRemoteURL(rawURL) {
		return readLocalRange(rawURL, offset, length)
	}

	if data, total, ok := c.readCached(rawURL, offset, length); ok {
		return data, total, nil
	}
	return c.fetchRemote(ctx, rawURL, offset, length)
}

// Clear drops every cached body and stops its timer.
func (c *RangeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, url)
	}
}

// Len reports the number of cached full bodies.
func (c *RangeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func isRemoteURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func readLocalRange(path string, offset, length int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()

	if offset >= size {
		return nil, size, nil
	}
	if offset+length > size {
		length = size - offset
	}
	data := make([]byte, length)
	if _, err := f.ReadAt(data, offset); err != nil {
		return nil, 0, err
	}
	return data, size, nil
}

// readCached slices the window out of an already-downloaded body and
// refreshes the entry's expiry.
func (c *RangeCache) readCached(url string, offset, length int64) ([]byte, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok {
		return nil, 0, false
	}
	e.lastAccess = time.Now()
	e.timer.Reset(time.Until(e.expiry(c.cfg.InactivityTimeout, c.cfg.MaxLifetime)))
	return sliceBody(e.data, offset, length), int64(len(e.data)), true
}

// sliceBody copies the clamped window out of body; callers own the result,
// so a mutation cannot reach a cached full body.
func sliceBody(body []byte, offset, length int64) []byte {
	size := int64(len(body))
	if offset >= size {
		return nil
	}
	end := offset + length
	if end > size {
		end = size
	}
	return append([]byte(nil), body[offset:end]...)
}

func (c *RangeCache) fetchRemote(ctx context.Context, url string, offset, length int64) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Origin does efficient random access; no memory retained.
		total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, 0, err
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		return data, total, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Full body despite the range header: origin cannot serve ranges.
		return c.cacheFullBody(url, resp, offset, length)

	default:
		// レンジ未対応ステータス。一度だけ全文リクエストで再試行
		resp.Body.Close()
		c.logger.Debug("ranged request refused, retrying without range",
			"url", url, "status", resp.StatusCode)
		return c.fetchFullBody(ctx, url, offset, length)
	}
}

// fetchFullBody is the one-shot fallback after the origin refused a ranged
// request outright. A failure here is a hard error.
func (c *RangeCache) fetchFullBody(ctx context.Context, url string, offset, length int64) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("origin returned status %d for %s", resp.StatusCode, url)
	}
	return c.cacheFullBody(url, resp, offset, length)
}

func (c *RangeCache) cacheFullBody(url string, resp *http.Response, offset, length int64) ([]byte, int64, error) {
	// Declared size may be absent or wrong; check it first to avoid the
	// download, then re-check the real size.
	if resp.ContentLength > c.cfg.MaxCacheBytes {
		return nil, 0, fmt.Errorf("%w: %s declares %d bytes, cap is %d",
			ErrTooLargeToCache, url, resp.ContentLength, c.cfg.MaxCacheBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxCacheBytes+1))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(body)) > c.cfg.MaxCacheBytes {
		return nil, 0, fmt.Errorf("%w: %s body exceeds cap of %d bytes",
			ErrTooLargeToCache, url, c.cfg.MaxCacheBytes)
	}

	now := time.Now()
	e := &cacheEntry{data: body, createdAt: now, lastAccess: now}

	c.mu.Lock()
	if stale, ok := c.entries[url]; ok {
		stale.timer.Stop()
	}
	c.entries[url] = e
	e.timer = time.AfterFunc(time.Until(e.expiry(c.cfg.InactivityTimeout, c.cfg.MaxLifetime)), func() {
		c.expire(url, e)
	})
	c.mu.Unlock()

	c.logger.Info("cached full document body", "url", url, "bytes", len(body))
	return sliceBody(body, offset, length), int64(len(body)), nil
}

// expire removes the entry when its deadline has truly passed. An access
// racing the timer fire re-arms instead of deleting.
func (c *RangeCache) expire(url string, e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[url]
	if !ok || cur != e {
		return
	}
	deadline := e.expiry(c.cfg.InactivityTimeout, c.cfg.MaxLifetime)
	if remaining := time.Until(deadline); remaining > 0 {
		e.timer.Reset(remaining)
		return
	}
	e.timer.Stop()
	delete(c.entries, url)
	c.logger.Debug("evicted cached body", "url", url)
}

// parseContentRange extracts the total size from "bytes <start>-<end>/<total>".
func parseContentRange(header string) (int64, error) {
	var start, end, total int64
	if _, err := fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	return total, nil
}
