package pdfbridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SearchRefreshDebounce is the minimum quiet period before a preload-driven
// search re-run.
const SearchRefreshDebounce = 500 * time.Millisecond

// PageTextCache holds extracted text per page, plus the raw text items used
// for layout-based highlighting. Monotonically filled for one document,
// replaced wholesale on the next load.
type PageTextCache struct {
	mu    sync.Mutex
	text  map[int]string
	items map[int][]string
}

func NewPageTextCache() *PageTextCache {
	return &PageTextCache{
		text:  make(map[int]string),
		items: make(map[int][]string),
	}
}

func (c *PageTextCache) Get(page int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.text[page]
	return s, ok
}

func (c *PageTextCache) Items(page int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[page]
}

func (c *PageTextCache) Set(page int, text string, items []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text[page] = text
	c.items[page] = items
}

func (c *PageTextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.text)
}

// RenderGate gives interactive navigation strict priority over background
// work: the render path pauses the gate while a page render is pending and
// resumes it on completion. Waiters block instead of polling.
type RenderGate struct {
	mu   sync.Mutex
	open chan struct{}
}

func NewRenderGate() *RenderGate {
	open := make(chan struct{})
	close(open)
	return &RenderGate{open: open}
}

func (g *RenderGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already paused
	}
}

func (g *RenderGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

// Wait blocks until the gate is open or the context ends.
func (g *RenderGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		open := g.open
		g.mu.Unlock()
		select {
		case <-open:
			// A Pause between our read and the close swaps the channel;
			// re-check so a waiter cannot slip through a closed gate.
			g.mu.Lock()
			cur := g.open
			g.mu.Unlock()
			if cur == open {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// debouncer coalesces triggers into one fn call after a quiet period.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// PageError records a non-fatal per-page extraction failure.
type PageError struct {
	Page int
	Err  error
}

type PreloaderConfig struct {
	Engine IDocumentEngine
	Cache  *PageTextCache
	Gate   *RenderGate
	Logger *slog.Logger

	// OnProgress reports loaded pages out of total after each processed page.
	OnProgress func(loaded, total int)
	// OnComplete finalizes the progress indicator; errs lists failed pages.
	OnComplete func(errs []PageError)
	// SearchOpen reports whether a text search is currently open.
	SearchOpen func() bool
	// RefreshSearch re-runs the open search; called debounced.
	RefreshSearch func()
}

// Preloader walks every page of a loaded document in the background,
// extracting text for full-document search. It always yields to
// interactive navigation via the render gate.
type Preloader struct {
	cfg     PreloaderConfig
	logger  *slog.Logger
	refresh *debouncer

	mu     sync.Mutex
	loaded int
	errs   []PageError
}

func NewPreloader(cfg PreloaderConfig) *Preloader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preloader{cfg: cfg, logger: logger}
	if cfg.RefreshSearch != nil {
		p.refresh = newDebouncer(SearchRefreshDebounce, cfg.RefreshSearch)
	}
	return p
}

// Run processes pages 1..NumPages once. Page errors are recorded and the
// walk continues; canceling ctx (a new document load) stops it early.
func (p *Preloader) Run(ctx context.Context) {
	total := p.cfg.Engine.NumPages()
	for page := 1; page <= total; page++ {
		if ctx.Err() != nil {
			p.stopRefresh()
			return
		}
		if _, ok := p.cfg.Cache.Get(page); ok {
			// Already extracted by the per-page renderer.
			p.advance(page, total, nil)
			continue
		}
		if err := p.cfg.Gate.Wait(ctx); err != nil {
			p.stopRefresh()
			return
		}
		text, items, err := p.cfg.Engine.PageText(ctx, page)
		if err != nil {
			p.logger.Warn("page text extraction failed", "page", page, "error", err)
			p.advance(page, total, err)
			continue
		}
		p.cfg.Cache.Set(page, text, items)
		p.advance(page, total, nil)
	}
	p.finish()
}

func (p *Preloader) advance(page, total int, err error) {
	p.mu.Lock()
	if err != nil {
		p.errs = append(p.errs, PageError{Page: page, Err: err})
	} else {
		p.loaded++
	}
	loaded := p.loaded
	p.mu.Unlock()

	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(loaded, total)
	}
	if err == nil && p.refresh != nil && p.cfg.SearchOpen != nil && p.cfg.SearchOpen() {
		p.refresh.trigger()
	}
}

// stopRefresh drops any armed search-refresh timer so a superseded run
// cannot re-run the search against the next document's caches.
func (p *Preloader) stopRefresh() {
	if p.refresh != nil {
		p.refresh.stop()
	}
}

func (p *Preloader) finish() {
	p.mu.Lock()
	errs := p.errs
	p.mu.Unlock()
	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete(errs)
	}
}

// Progress reports pages loaded so far and the recorded errors.
func (p *Preloader) Progress() (loaded int, errs []PageError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded, p.errs
}
