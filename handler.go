package pdfbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	CompressionMethod CompressionMethod
	// ResolveLocalPath maps a logical url to a local filesystem path.
	// Returning ok=false means the url is not a local document.
	ResolveLocalPath   func(url string) (path string, ok bool)
	AllowedDirectories []string
	// AllowRemoteURL gates which remote origins may be fetched. Nil allows
	// http(s) urls unconditionally.
	AllowRemoteURL func(url string) bool
	Cache          CacheConfig
	Logger         *slog.Logger
}

// NewBridgeHandler serves the bridge operations over HTTP: one POSTed
// request frame per call, one response frame back, optionally stream-
// compressed. The byte-range cache is scoped to the handler, matching the
// one-viewer-per-companion-server deployment of the examples.
func NewBridgeHandler(config Config) http.HandlerFunc {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheCfg := config.Cache
	if cacheCfg.Logger == nil {
		cacheCfg.Logger = logger
	}
	cache := NewRangeCache(cacheCfg)

	return func(w http.ResponseWriter, r *http.Request) {
		fw, flusher, err := CompressionMiddleware(w, r, config.CompressionMethod)
		if err != nil {
			logger.Error("Compression error", "error", err)
			return
		}
		defer fw.Close()

		typ, env, err := DecodeFrame(r.Body)
		if err != nil {
			logger.Warn("Invalid request: undecodable frame", "error", err)
			return
		}
		if typ != FrameTypeRequest || env.Op == "" {
			logger.Warn("Invalid request: not a request frame", "type", typ)
			reply := &Envelope{ID: env.ID, Error: &WireError{
				Code:    codeValidation,
				Message: "not a request frame",
			}}
			if err := SendFrame(fw, flusher, FrameTypeError, reply); err != nil {
				logger.Error("SendFrame error", "error", err)
			}
			return
		}

		result, opErr := dispatch(r.Context(), &config, cache, env)
		reply := &Envelope{ID: env.ID, Op: env.Op}
		replyType := FrameTypeResponse
		if opErr != nil {
			logger.Error("Operation error", "op", env.Op, "error", opErr)
			reply.Error = &WireError{Code: errorCode(opErr), Message: opErr.Error()}
			replyType = FrameTypeError
		} else {
			body, err := json.Marshal(result)
			if err != nil {
				logger.Error("Result encoding error", "op", env.Op, "error", err)
				return
			}
			reply.Result = body
		}
		if err := SendFrame(fw, flusher, replyType, reply); err != nil {
			logger.Error("SendFrame error", "op", env.Op, "error", err)
		}
	}
}

const (
	codeValidation = 400
	codeTooLarge   = 413
	codeInternal   = 500
)

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrTooLargeToCache):
		return codeTooLarge
	case errors.Is(err, ErrRangeLength), errors.Is(err, ErrUnknownDocument):
		return codeValidation
	default:
		return codeInternal
	}
}

func dispatch(ctx context.Context, config *Config, cache *RangeCache, env *Envelope) (any, error) {
	switch env.Op {
	case OpReadRange:
		var p ReadRangeParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, err
		}
		return handleReadRange(ctx, config, cache, p)

	case OpOpenDocument:
		var p OpenDocumentParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, err
		}
		return handleOpenDocument(ctx, config, cache, p)

	case OpListDocuments:
		return handleListDocuments(config)

	default:
		return nil, &ProtocolError{Code: codeValidation, Message: "unknown op " + env.Op}
	}
}

// resolveURL applies the allow-list: local urls map to a vetted path,
// remote urls pass the gate or are rejected.
func resolveURL(config *Config, rawURL string) (string, error) {
	if config.ResolveLocalPath != nil {
		if path, ok := config.ResolveLocalPath(rawURL); ok {
			if !pathAllowed(path, config.AllowedDirectories) {
				return "", ErrUnknownDocument
			}
			return path, nil
		}
	}
	if !isRemoteURL(rawURL) {
		return "", ErrUnknownDocument
	}
	if config.AllowRemoteURL != nil && !config.AllowRemoteURL(rawURL) {
		return "", ErrUnknownDocument
	}
	return rawURL, nil
}

func pathAllowed(path string, dirs []string) bool {
	if len(dirs) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == absDir || strings.HasPrefix(abs, absDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func handleReadRange(ctx context.Context, config *Config, cache *RangeCache, p ReadRangeParams) (*ReadRangeResult, error) {
	target, err := resolveURL(config, p.URL)
	if err != nil {
		return nil, err
	}
	data, total, err := cache.ReadRange(ctx, target, p.Offset, p.ByteCount)
	if err != nil {
		return nil, err
	}
	count := p.ByteCount
	if count > MaxChunkBytes {
		count = MaxChunkBytes
	}
	return &ReadRangeResult{
		URL:        p.URL,
		Bytes:      data,
		Offset:     p.Offset,
		ByteCount:  count,
		TotalBytes: total,
		HasMore:    p.Offset+count < total,
	}, nil
}

// handleOpenDocument probes the document with a 1-byte read so the viewer
// knows the total size before any real range lands.
func handleOpenDocument(ctx context.Context, config *Config, cache *RangeCache, p OpenDocumentParams) (*OpenDocumentResult, error) {
	target, err := resolveURL(config, p.URL)
	if err != nil {
		return nil, err
	}
	_, total, err := cache.ReadRange(ctx, target, 0, 1)
	if err != nil {
		return nil, err
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	// Stable per document url so the client can restore its last-viewed
	// page on the next open.
	sessionID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.URL))
	return &OpenDocumentResult{
		URL:           p.URL,
		InitialPage:   page,
		TotalBytes:    total,
		ViewSessionID: sessionID.String(),
	}, nil
}

func handleListDocuments(config *Config) (*ListDocumentsResult, error) {
	result := &ListDocumentsResult{AllowedDirectories: config.AllowedDirectories}
	for _, dir := range config.AllowedDirectories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
				continue
			}
			result.Paths = append(result.Paths, filepath.Join(dir, entry.Name()))
		}
	}
	return result, nil
}
