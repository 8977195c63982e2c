package pdfbridge

import (
	"io"
	"net/http"

	"github.com/klauspost/compress/zstd"
)

type ZstdFlusherWriter struct {
	zw *zstd.Encoder
	hf http.Flusher
}

func (z *ZstdFlusherWriter) Write(p []byte) (int, error) {
	return z.zw.Write(p)
}

func (z *ZstdFlusherWriter) Flush() error {
	if err := z.zw.Flush(); err != nil {
		return err
	}
	z.hf.Flush()
	return nil
}

func (z *ZstdFlusherWriter) Close() error {
	return z.zw.Close()
}

func (z ZstdCompression) Writer(w http.ResponseWriter) (FlusherWriter, error) {
	w.Header().Set("Content-Encoding", "zstd")
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	hf, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &ZstdFlusherWriter{zw: zw, hf: hf}, nil
}

func (z ZstdCompression) Reader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr.IOReadCloser(), nil
}

type ZstdCompression struct{}

func (z ZstdCompression) Name() string {
	return "zstd"
}
