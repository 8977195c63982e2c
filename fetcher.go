package pdfbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RangeResult is the outcome of one range fetch.
type RangeResult struct {
	Bytes      []byte
	TotalBytes int64
}

type rangeKey struct {
	url        string
	begin, end int64
}

func (k rangeKey) String() string {
	return fmt.Sprintf("%s#%d-%d", k.url, k.begin, k.end)
}

// Fetcher resolves byte ranges through the bridge. Oversized ranges are
// split into chunks fetched concurrently; completed chunks are cached for
// the fetcher's lifetime and identical in-flight chunk requests are
// coalesced into one physical call. One Fetcher serves one loaded document
// and is discarded with it.
type Fetcher struct {
	caller   Caller
	maxChunk int64
	logger   *slog.Logger

	mu   sync.Mutex
	done map[rangeKey]RangeResult

	flight singleflight.Group
}

func NewFetcher(caller Caller, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		caller:   caller,
		maxChunk: MaxChunkBytes,
		logger:   logger,
		done:     make(map[rangeKey]RangeResult),
	}
}

// FetchRange returns the bytes of [begin, end) and the total document size.
// The returned slice may be shorter than requested at end of document.
func (f *Fetcher) FetchRange(ctx context.Context, url string, begin, end int64) (RangeResult, error) {
	if end-begin <= 0 {
		return RangeResult{}, ErrRangeLength
	}
	if end-begin <= f.maxChunk {
		return f.fetchChunk(ctx, url, begin, end)
	}

	// Partition into contiguous chunks and fetch them together; results
	// are reassembled by position, independent of arrival order.
	var keys []rangeKey
	for at := begin; at < end; at += f.maxChunk {
		stop := at + f.maxChunk
		if stop > end {
			stop = end
		}
		keys = append(keys, rangeKey{url, at, stop})
	}

	parts := make([]RangeResult, len(keys))
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k rangeKey) {
			defer wg.Done()
			parts[i], errs[i] = f.fetchChunk(ctx, k.url, k.begin, k.end)
		}(i, k)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return RangeResult{}, err
		}
	}

	total := parts[0].TotalBytes
	size := 0
	for _, p := range parts {
		if p.TotalBytes != total {
			// Racing document change; not reconciled.
			f.logger.Warn("sub-chunks disagree on document size",
				"url", url, "got", p.TotalBytes, "using", total)
		}
		size += len(p.Bytes)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p.Bytes...)
	}
	return RangeResult{Bytes: buf, TotalBytes: total}, nil
}

// fetchChunk resolves a single chunk-sized range: completed cache first,
// then coalesced with any identical in-flight request, then one bridge call.
func (f *Fetcher) fetchChunk(ctx context.Context, url string, begin, end int64) (RangeResult, error) {
	key := rangeKey{url, begin, end}

	f.mu.Lock()
	if res, ok := f.done[key]; ok {
		f.mu.Unlock()
		return res, nil
	}
	f.mu.Unlock()

	// singleflight drops the in-flight entry on completion whether the
	// call succeeded or failed, so a failure is never cached.
	v, err, _ := f.flight.Do(key.String(), func() (any, error) {
		f.mu.Lock()
		if res, ok := f.done[key]; ok {
			f.mu.Unlock()
			return res, nil
		}
		f.mu.Unlock()

		var result ReadRangeResult
		err := f.caller.Call(ctx, OpReadRange, &ReadRangeParams{
			URL:       url,
			Offset:    begin,
			ByteCount: end - begin,
		}, &result)
		if err != nil {
			return RangeResult{}, err
		}
		res := RangeResult{Bytes: result.Bytes, TotalBytes: result.TotalBytes}

		f.mu.Lock()
		f.done[key] = res
		f.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return RangeResult{}, err
	}
	return v.(RangeResult), nil
}
