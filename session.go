package pdfbridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PageStore persists the last-viewed page per view session. Failures are
// non-fatal; the viewer logs and moves on.
type PageStore interface {
	LoadPage(viewSessionID string) (page int64, ok bool, err error)
	SavePage(viewSessionID string, page int64) error
}

// MemoryPageStore is the in-process PageStore.
type MemoryPageStore struct {
	mu    sync.Mutex
	pages map[string]int64
}

func NewMemoryPageStore() *MemoryPageStore {
	return &MemoryPageStore{pages: make(map[string]int64)}
}

func (s *MemoryPageStore) LoadPage(id string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	return page, ok, nil
}

func (s *MemoryPageStore) SavePage(id string, page int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[id] = page
	return nil
}

// ViewerSession is the per-document state arena: fetcher, page text cache
// and render gate are constructed per load and discarded on replacement, so
// nothing leaks across documents.
type ViewerSession struct {
	ID         string
	URL        string
	Page       int64
	TotalBytes int64
	Fetcher    *Fetcher
	Texts      *PageTextCache
	Gate       *RenderGate

	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// Generation identifies which document load this session belongs to; a
// stale background loop compares it against Viewer.Generation.
func (s *ViewerSession) Generation() uint64 {
	return s.generation
}

// Context returns the session's lifetime context, ended when the session is
// superseded.
func (s *ViewerSession) Context() context.Context {
	return s.ctx
}

// Viewer owns the currently loaded document. Opening a new document bumps
// the generation so a stale preload loop exits at its next check.
type Viewer struct {
	bridge *Bridge
	store  PageStore
	logger *slog.Logger

	gen     atomic.Uint64
	mu      sync.Mutex
	current *ViewerSession
}

func NewViewer(bridge *Bridge, store PageStore, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryPageStore()
	}
	return &Viewer{bridge: bridge, store: store, logger: logger}
}

// OpenDocument opens url on the host, replacing any current session. The
// returned session carries a fresh fetcher, empty caches and the restored
// last-viewed page when the store has one.
func (v *Viewer) OpenDocument(ctx context.Context, url string, page int64) (*ViewerSession, error) {
	var result OpenDocumentResult
	err := v.bridge.CallIntent(ctx, OpOpenDocument, &OpenDocumentParams{URL: url, Page: page}, &result)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	session := &ViewerSession{
		ID:         result.ViewSessionID,
		URL:        url,
		Page:       result.InitialPage,
		TotalBytes: result.TotalBytes,
		Fetcher:    NewFetcher(v.bridge, v.logger),
		Texts:      NewPageTextCache(),
		Gate:       NewRenderGate(),
		generation: v.gen.Add(1),
		cancel:     cancel,
		ctx:        sctx,
	}

	if saved, ok, err := v.store.LoadPage(session.ID); err != nil {
		v.logger.Warn("failed to read persisted page", "session", session.ID, "error", err)
	} else if ok {
		session.Page = saved
	}

	v.mu.Lock()
	if v.current != nil {
		v.current.cancel()
	}
	v.current = session
	v.mu.Unlock()
	return session, nil
}

// SetPage records a page change and persists it. Persistence failures are
// logged and ignored.
func (v *Viewer) SetPage(session *ViewerSession, page int64) {
	session.Page = page
	if err := v.store.SavePage(session.ID, page); err != nil {
		v.logger.Warn("failed to persist page", "session", session.ID, "error", err)
	}
}

// ListDocuments asks the host for known local paths and allowed directories.
func (v *Viewer) ListDocuments(ctx context.Context) (*ListDocumentsResult, error) {
	var result ListDocumentsResult
	if err := v.bridge.CallIntent(ctx, OpListDocuments, struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Current returns the active session, nil before the first open.
func (v *Viewer) Current() *ViewerSession {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Generation returns the current load generation.
func (v *Viewer) Generation() uint64 {
	return v.gen.Load()
}
