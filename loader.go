package pdfbridge

import (
	"context"
	"log/slog"
	"sync"
)

// IRangeReceiver is the push half of the engine's range-transport contract.
// The engine tolerates out-of-order delivery; ranges are matched by begin
// offset.
type IRangeReceiver interface {
	OnDataRange(begin int64, data []byte)
}

// IDocumentEngine is the boundary to the opaque rendering engine: it can
// render a page given bytes and report the text content of a page.
type IDocumentEngine interface {
	IRangeReceiver
	NumPages() int
	PageText(ctx context.Context, page int) (string, []string, error)
	RenderPage(ctx context.Context, page int) error
}

// RangeTransport adapts the Fetcher to the engine's pull contract: the
// engine calls RequestDataRange whenever it needs bytes and expects the
// data pushed back through OnDataRange later. The engine is constructed
// with the total size and no initial data, so every first byte comes
// through here.
type RangeTransport struct {
	url     string
	total   int64
	fetcher *Fetcher
	engine  IRangeReceiver
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewRangeTransport(url string, totalBytes int64, fetcher *Fetcher, engine IRangeReceiver, logger *slog.Logger) *RangeTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &RangeTransport{
		url:     url,
		total:   totalBytes,
		fetcher: fetcher,
		engine:  engine,
		logger:  logger,
	}
}

func (t *RangeTransport) TotalBytes() int64 {
	return t.total
}

// RequestDataRange is fire-and-forget. Multiple calls may be outstanding
// for different ranges; their completions are unordered. The contract has
// no failure callback, so a failed fetch is logged and the engine is not
// notified.
func (t *RangeTransport) RequestDataRange(begin, end int64) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		res, err := t.fetcher.FetchRange(context.Background(), t.url, begin, end)
		if err != nil {
			t.logger.Error("range fetch failed",
				"url", t.url, "begin", begin, "end", end, "error", err)
			return
		}
		t.engine.OnDataRange(begin, res.Bytes)
	}()
}

// Wait blocks until every outstanding range request has completed. Used on
// teardown and in tests.
func (t *RangeTransport) Wait() {
	t.wg.Wait()
}
