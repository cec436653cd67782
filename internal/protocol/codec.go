package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmavdeev/jimchat/internal/errs"
)

// MaxFrameSize bounds a single encoded frame. A peer announcing a larger
// frame is treated as malformed and dropped.
const MaxFrameSize = 8 * 1024

// Encode serializes a frame to its JSON payload without the length prefix.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("encode: %w: nil frame", errs.ErrMalformedFrame)
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("encode: %w: %d bytes", errs.ErrFrameTooLarge, len(b))
	}
	return b, nil
}

// Decode parses a JSON payload into a frame. Payloads that are not valid
// JSON objects fail with ErrMalformedFrame.
func Decode(b []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", errs.ErrMalformedFrame, err)
	}
	f := Frame(raw)
	normalizeNumbers(f)
	return f, nil
}

// normalizeNumbers rewrites json.Number values to float64 so accessors and
// tests see one numeric type regardless of the decode path.
func normalizeNumbers(f Frame) {
	for k, v := range f {
		switch n := v.(type) {
		case json.Number:
			if fv, err := n.Float64(); err == nil {
				f[k] = fv
			}
		case map[string]any:
			normalizeNumbers(Frame(n))
		}
	}
}

// Writer frames outbound messages with a uint32 big-endian length prefix.
// TCP gives no message boundaries; the prefix makes frames survive short
// reads and coalesced writes.
type Writer struct {
	w io.Writer
}

// NewWriter wraps an io.Writer.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame encodes and writes one frame, prefix included, in a single Write.
func (w *Writer) WriteFrame(f Frame) error {
	payload, err := Encode(f)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Reader reads length-prefixed frames from a byte stream, tolerating frames
// split across short reads and multiple frames arriving back to back.
type Reader struct {
	r io.Reader
}

// NewReader wraps an io.Reader.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// ReadFrame reads exactly one frame. It returns io.EOF unwrapped when the
// stream ends cleanly between frames, so callers can distinguish a peer
// hanging up from a torn frame.
func (r *Reader) ReadFrame() (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("read frame: %w: announced %d bytes", errs.ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return Decode(payload)
}
