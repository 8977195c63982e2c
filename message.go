package pdfbridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	FrameTypeRequest  = byte(0x00)
	FrameTypeResponse = byte(0x01)
	FrameTypeError    = byte(0xFF)
)

// 1フレーム = type(1) + length(4, BigEndian) + JSON body
const frameHeaderSize = 5

// maxFrameBytes bounds a single decoded frame. A range payload is at most
// MaxChunkBytes of base64 plus the envelope.
const maxFrameBytes = 2 * MaxChunkBytes

// Envelope is the JSON body every bridge frame carries.
type Envelope struct {
	ID     string          `json:"id"`
	Op     string          `json:"op,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is the error shape inside an error envelope.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func EncodeFrame(typ byte, env *Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameHeaderSize+len(body))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:frameHeaderSize], uint32(len(body)))
	copy(buf[frameHeaderSize:], body)
	return buf, nil
}

func DecodeFrame(r io.Reader) (byte, *Envelope, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameBytes {
		return 0, nil, fmt.Errorf("frame body of %d bytes exceeds limit", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, nil, err
	}
	return header[0], &env, nil
}

// SendFrame writes one frame through the compressed stream and flushes both
// the compressor and the underlying response writer.
func SendFrame(w FlusherWriter, flusher http.Flusher, typ byte, env *Envelope) error {
	buf, err := EncodeFrame(typ, env)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// --------------------------
// read_range
// --------------------------

type ReadRangeParams struct {
	URL       string `json:"url"`
	Offset    int64  `json:"offset"`
	ByteCount int64  `json:"byteCount"`
}

type ReadRangeResult struct {
	URL        string `json:"url"`
	Bytes      []byte `json:"bytes"` // base64 on the wire
	Offset     int64  `json:"offset"`
	ByteCount  int64  `json:"byteCount"`
	TotalBytes int64  `json:"totalBytes"`
	HasMore    bool   `json:"hasMore"`
}

// --------------------------
// open_document
// --------------------------

type OpenDocumentParams struct {
	URL  string `json:"url"`
	Page int64  `json:"page"`
}

type OpenDocumentResult struct {
	URL           string `json:"url"`
	InitialPage   int64  `json:"initialPage"`
	TotalBytes    int64  `json:"totalBytes"`
	ViewSessionID string `json:"viewSessionId"`
}

// --------------------------
// list_documents
// --------------------------

type ListDocumentsResult struct {
	Paths              []string `json:"paths"`
	AllowedDirectories []string `json:"allowedDirectories"`
}

const (
	OpReadRange     = "read_range"
	OpOpenDocument  = "open_document"
	OpListDocuments = "list_documents"
)
