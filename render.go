package pdfbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// RenderScheduler serializes page renders: one render active at a time, a
// navigation arriving mid-render cancels it (best effort, honored
// cooperatively by the engine) and the newest requested page renders next.
// Requesting the active page again re-renders it, which is how zoom changes
// arrive. The gate is paused while anything is pending so the preloader
// never starves the visible page.
type RenderScheduler struct {
	engine IDocumentEngine
	gate   *RenderGate
	logger *slog.Logger
	// OnRendered runs after a page render completes without error.
	OnRendered func(page int)

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	pending int // 0 = none
}

func NewRenderScheduler(engine IDocumentEngine, gate *RenderGate, logger *slog.Logger) *RenderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderScheduler{engine: engine, gate: gate, logger: logger}
}

// Request asks for page to be shown. Safe to call from any goroutine.
func (s *RenderScheduler) Request(page int) {
	s.gate.Pause()
	s.mu.Lock()
	if s.active {
		s.pending = page
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		return
	}
	s.start(page)
	s.mu.Unlock()
}

// start launches the render goroutine. Caller holds s.mu.
func (s *RenderScheduler) start(page int) {
	ctx, cancel := context.WithCancel(context.Background())
	s.active = true
	s.cancel = cancel

	go func() {
		err := s.engine.RenderPage(ctx, page)
		cancel()

		s.mu.Lock()
		s.active = false
		s.cancel = nil
		next := s.pending
		s.pending = 0
		if next != 0 {
			s.start(next)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		switch {
		case errors.Is(err, context.Canceled):
			// Superseded by navigation; not a failure.
		case err != nil:
			s.logger.Error("page render failed", "page", page, "error", err)
		default:
			if s.OnRendered != nil {
				s.OnRendered(page)
			}
		}

		// OnRendered (or a racing navigation) may have started another
		// render; its completion owns the resume then. Re-check under the
		// lock so a stale resume cannot reopen the gate mid-render.
		s.mu.Lock()
		if !s.active && s.pending == 0 {
			s.gate.Resume()
		}
		s.mu.Unlock()
	}()
}
