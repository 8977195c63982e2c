package pdfbridge

import (
	"io"
	"net/http"
)

type CompressionMethod interface {
	Name() string
	Writer(w http.ResponseWriter) (FlusherWriter, error)
	Reader(r io.Reader) (io.ReadCloser, error)
}

// FlusherWriterはWrite, Flush, Closeを持つインターフェイス
type FlusherWriter interface {
	io.Writer
	Flush() error
	Close() error
}

func CompressionMiddleware(w http.ResponseWriter, r *http.Request, comp CompressionMethod) (FlusherWriter, http.Flusher, error) {
	// 共通ヘッダ
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")

	if comp == nil {
		comp = NoCompression{}
	}

	fw, err := comp.Writer(w)
	if err != nil {
		http.Error(w, "Failed to initialize compression", http.StatusInternalServerError)
		return nil, nil, err
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return nil, nil, ErrStreamingUnsupported
	}

	return fw, flusher, nil
}

// DecodeBody wraps a response body according to its Content-Encoding header.
func DecodeBody(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "zstd":
		return ZstdCompression{}.Reader(body)
	case "gzip":
		return GzipCompression{}.Reader(body)
	default:
		return NoCompression{}.Reader(body)
	}
}

type NoCompression struct{}

func (n NoCompression) Name() string {
	return "identity"
}

func (n NoCompression) Writer(w http.ResponseWriter) (FlusherWriter, error) {
	hf, _ := w.(http.Flusher)
	return &plainFlusherWriter{w: w, hf: hf}, nil
}

func (n NoCompression) Reader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type plainFlusherWriter struct {
	w  io.Writer
	hf http.Flusher
}

func (p *plainFlusherWriter) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

func (p *plainFlusherWriter) Flush() error {
	if p.hf != nil {
		p.hf.Flush()
	}
	return nil
}

func (p *plainFlusherWriter) Close() error {
	return nil
}
