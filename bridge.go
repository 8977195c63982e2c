package pdfbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// IntentTimeout bounds interactive host requests. Range fetches are not
// subject to it.
const IntentTimeout = 5 * time.Second

// Caller issues bridge operations against the host side.
type Caller interface {
	Call(ctx context.Context, op string, params, result any) error
}

// Transport carries one encoded request frame to the host and returns the
// encoded reply. HTTP is the reference implementation; a postMessage-style
// transport fits the same shape with correlation done by envelope ID.
type Transport interface {
	RoundTrip(ctx context.Context, frame []byte) ([]byte, error)
}

// Bridge is the viewer side of the plugin protocol.
type Bridge struct {
	transport Transport
	logger    *slog.Logger
}

func NewBridge(transport Transport, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{transport: transport, logger: logger}
}

// Call performs one operation round trip. It imposes no timeout of its own;
// the caller's context governs.
func (b *Bridge) Call(ctx context.Context, op string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	env := &Envelope{ID: uuid.NewString(), Op: op, Params: raw}
	frame, err := EncodeFrame(FrameTypeRequest, env)
	if err != nil {
		return err
	}

	replyFrame, err := b.transport.RoundTrip(ctx, frame)
	if err != nil {
		return err
	}
	typ, reply, err := DecodeFrame(bytes.NewReader(replyFrame))
	if err != nil {
		return err
	}
	if reply.ID != env.ID {
		return fmt.Errorf("reply id %q does not match request id %q", reply.ID, env.ID)
	}
	if typ == FrameTypeError || reply.Error != nil {
		if reply.Error == nil {
			return &ProtocolError{Code: codeInternal, Message: "error frame without error body"}
		}
		return &ProtocolError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(reply.Result, result)
}

// CallIntent is Call with the fixed interactive timeout; a deadline hit
// surfaces as ErrCallTimeout.
func (b *Bridge) CallIntent(ctx context.Context, op string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, IntentTimeout)
	defer cancel()
	err := b.Call(ctx, op, params, result)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrCallTimeout, op)
	}
	return err
}

// HTTPTransport posts each frame to a bridge handler endpoint.
type HTTPTransport struct {
	URL    string
	Client *http.Client
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge endpoint returned status %d", resp.StatusCode)
	}
	body, err := DecodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
