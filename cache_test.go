package pdfbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testBody(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// fullBodyOrigin ignores the Range header and always answers 200 with the
// whole body.
func fullBodyOrigin(body []byte, hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

// rangeOrigin honors Range requests with 206 and a Content-Range header.
func rangeOrigin(body []byte, hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "expected a range", http.StatusBadRequest)
			return
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

// refusingOrigin answers 501 to ranged requests and 200 full body otherwise.
func refusingOrigin(body []byte, rangedHits, fullHits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			rangedHits.Add(1)
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		fullHits.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

func TestReadRangeFullBodyOriginIsCached(t *testing.T) {
	body := testBody(4096)
	var hits atomic.Int64
	origin := fullBodyOrigin(body, &hits)
	defer origin.Close()

	cache := NewRangeCache(CacheConfig{})
	defer cache.Clear()

	data, total, err := cache.ReadRange(context.Background(), origin.URL, 100, 200)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if total != int64(len(body)) {
		t.Errorf("total = %d, want %d", total, len(body))
	}
	if !bytes.Equal(data, body[100:300]) {
		t.Error("first slice mismatch")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", cache.Len())
	}

	// Any sub-range of the same url must come from the cached body.
	data, total, err = cache.ReadRange(context.Background(), origin.URL, 4000, 500)
	if err != nil {
		t.Fatalf("second ReadRange: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("origin hits = %d, want 1", got)
	}
	if total != int64(len(body)) {
		t.Errorf("total = %d, want %d", total, len(body))
	}
	if !bytes.Equal(data, body[4000:]) {
		t.Error("tail slice mismatch")
	}
}

func TestReadRangePartialContentIsNeverCached(t *testing.T) {
	body := testBody(8192)
	var hits atomic.Int64
	origin := rangeOrigin(body, &hits)
	defer origin.Close()

	cache := NewRangeCache(CacheConfig{})
	for i := 0; i < 3; i++ {
		data, total, err := cache.ReadRange(context.Background(), origin.URL, 1000, 100)
		if err != nil {
			t.Fatalf("ReadRange %d: %v", i, err)
		}
		if total != int64(len(body)) {
			t.Errorf("total = %d, want %d", total, len(body))
		}
		if !bytes.Equal(data, body[1000:1100]) {
			t.Error("slice mismatch")
		}
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("origin hits = %d, want 3", got)
	}
	if cache.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", cache.Len())
	}
}

func TestReadRangeUnsupportedStatusFallsBackOnce(t *testing.T) {
	body := testBody(2048)
	var ranged, full atomic.Int64
	origin := refusingOrigin(body, &ranged, &full)
	defer origin.Close()

	cache := NewRangeCache(CacheConfig{})
	data, total, err := cache.ReadRange(context.Background(), origin.URL, 512, 256)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if ranged.Load() != 1 || full.Load() != 1 {
		t.Errorf("hits = %d ranged / %d full, want 1/1", ranged.Load(), full.Load())
	}
	if total != int64(len(body)) || !bytes.Equal(data, body[512:768]) {
		t.Error("fallback slice mismatch")
	}

	// The fallback body is cached like any other full body.
	if _, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 64); err != nil {
		t.Fatalf("second ReadRange: %v", err)
	}
	if ranged.Load() != 1 || full.Load() != 1 {
		t.Errorf("cached read hit the origin again: %d/%d", ranged.Load(), full.Load())
	}
}

func TestReadRangeHardErrorWhenFallbackFails(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer origin.Close()

	cache := NewRangeCache(CacheConfig{})
	if _, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 1); err == nil {
		t.Fatal("expected an error after the failed fallback")
	}
	if cache.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", cache.Len())
	}
}

func TestReadRangeRejectsOversizedBody(t *testing.T) {
	const sizeCap = 1024

	t.Run("declared size over cap", func(t *testing.T) {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "4096")
			w.WriteHeader(http.StatusOK)
			w.Write(testBody(4096))
		}))
		defer origin.Close()

		cache := NewRangeCache(CacheConfig{MaxCacheBytes: sizeCap})
		_, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 10)
		if !errors.Is(err, ErrTooLargeToCache) {
			t.Fatalf("err = %v, want ErrTooLargeToCache", err)
		}
		if cache.Len() != 0 {
			t.Errorf("cache entries = %d, want 0", cache.Len())
		}
	})

	t.Run("real size over cap without declared length", func(t *testing.T) {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// No Content-Length: stream so the client sees chunked encoding.
			f := w.(http.Flusher)
			w.WriteHeader(http.StatusOK)
			w.Write(testBody(512))
			f.Flush()
			w.Write(testBody(1024))
		}))
		defer origin.Close()

		cache := NewRangeCache(CacheConfig{MaxCacheBytes: sizeCap})
		_, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 10)
		if !errors.Is(err, ErrTooLargeToCache) {
			t.Fatalf("err = %v, want ErrTooLargeToCache", err)
		}
		if cache.Len() != 0 {
			t.Errorf("cache entries = %d, want 0", cache.Len())
		}
	})
}

func TestCacheEntryEviction(t *testing.T) {
	body := testBody(256)
	var hits atomic.Int64
	origin := fullBodyOrigin(body, &hits)
	defer origin.Close()

	t.Run("inactivity timeout", func(t *testing.T) {
		cache := NewRangeCache(CacheConfig{
			InactivityTimeout: 150 * time.Millisecond,
			MaxLifetime:       time.Minute,
		})
		if _, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 16); err != nil {
			t.Fatal(err)
		}

		// Accesses inside the window keep resetting the countdown.
		for i := 0; i < 4; i++ {
			time.Sleep(50 * time.Millisecond)
			if _, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 16); err != nil {
				t.Fatal(err)
			}
		}
		if cache.Len() != 1 {
			t.Fatal("entry evicted despite steady access")
		}

		time.Sleep(400 * time.Millisecond)
		if cache.Len() != 0 {
			t.Error("entry survived the inactivity timeout")
		}
	})

	t.Run("max lifetime wins over access", func(t *testing.T) {
		cache := NewRangeCache(CacheConfig{
			InactivityTimeout: 150 * time.Millisecond,
			MaxLifetime:       250 * time.Millisecond,
		})
		if _, _, err := cache.ReadRange(context.Background(), origin.URL, 0, 16); err != nil {
			t.Fatal(err)
		}

		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			time.Sleep(40 * time.Millisecond)
			cache.readCached(origin.URL, 0, 16)
		}
		if cache.Len() != 0 {
			t.Error("entry outlived its max lifetime")
		}
	})
}

func TestReadLocalRangeClamping(t *testing.T) {
	body := testBody(1000)
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cache := NewRangeCache(CacheConfig{})

	t.Run("offset past end returns zero bytes", func(t *testing.T) {
		data, total, err := cache.ReadRange(context.Background(), path, 1000, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 0 || total != 1000 {
			t.Errorf("got %d bytes / total %d, want 0 / 1000", len(data), total)
		}
	})

	t.Run("tail read is clamped", func(t *testing.T) {
		data, total, err := cache.ReadRange(context.Background(), path, 900, 500)
		if err != nil {
			t.Fatal(err)
		}
		if total != 1000 || !bytes.Equal(data, body[900:]) {
			t.Errorf("got %d bytes / total %d, want exact tail / 1000", len(data), total)
		}
	})

	t.Run("local reads are never cached", func(t *testing.T) {
		if cache.Len() != 0 {
			t.Errorf("cache entries = %d, want 0", cache.Len())
		}
	})
}

func TestReadRangeResultIsCallerOwned(t *testing.T) {
	body := testBody(1024)
	var hits atomic.Int64
	origin := fullBodyOrigin(body, &hits)
	defer origin.Close()

	cache := NewRangeCache(CacheConfig{})
	data, _, err := cache.ReadRange(context.Background(), origin.URL, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		data[i] = 0xFF
	}

	again, _, err := cache.ReadRange(context.Background(), origin.URL, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, body[10:30]) {
		t.Error("caller mutation reached the cached body")
	}
	if hits.Load() != 1 {
		t.Errorf("origin hits = %d, want 1", hits.Load())
	}
}

func TestReadRangeValidation(t *testing.T) {
	cache := NewRangeCache(CacheConfig{})
	if _, _, err := cache.ReadRange(context.Background(), "whatever", 0, 0); !errors.Is(err, ErrRangeLength) {
		t.Errorf("zero length: err = %v, want ErrRangeLength", err)
	}
	if _, _, err := cache.ReadRange(context.Background(), "whatever", -1, 10); err == nil {
		t.Error("negative offset accepted")
	}
}
