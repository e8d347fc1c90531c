package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single streamed frame, guarding against a runaway
// length prefix turning into an unbounded allocation. Batches are capped at
// 128 items server-side (see streamBatchSize in internal/serverapi), so this is generous
// headroom, not a tight limit.
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned by Decoder.Next when a frame's declared
// length exceeds MaxFrameSize. It is an integrity failure, not retried.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// streamFrame mirrors Result<Option<Vec<T>>, String> from spec.md §6 as a
// discriminated struct, since msgpack has no native tagged-union encoding.
// Variant is one of "items", "end", "err".
type streamFrame[T any] struct {
	Variant string `msgpack:"variant"`
	Items   []T    `msgpack:"items,omitempty"`
	Err     string `msgpack:"err,omitempty"`
}

const (
	variantItems = "items"
	variantEnd   = "end"
	variantErr   = "err"
)

// Encoder writes a sequence of streamFrame[T] values as
// length-prefixed msgpack frames: a u32 little-endian byte count followed by
// that many bytes of msgpack payload.
type Encoder[T any] struct {
	w io.Writer
}

// NewEncoder wraps w for frame-at-a-time writes.
func NewEncoder[T any](w io.Writer) *Encoder[T] {
	return &Encoder[T]{w: w}
}

// WriteBatch writes one non-terminal frame carrying items. An empty or nil
// slice is a legal (if wasteful) batch; callers normally avoid writing one.
func (e *Encoder[T]) WriteBatch(items []T) error {
	return e.writeFrame(streamFrame[T]{Variant: variantItems, Items: items})
}

// WriteEnd writes the terminal Ok(None) marker. No further frames may
// follow.
func (e *Encoder[T]) WriteEnd() error {
	return e.writeFrame(streamFrame[T]{Variant: variantEnd})
}

// WriteErr writes the terminal Err(msg) marker, surfaced to the caller as an
// ApplicationError. No further frames may follow.
func (e *Encoder[T]) WriteErr(msg string) error {
	return e.writeFrame(streamFrame[T]{Variant: variantErr, Err: msg})
}

func (e *Encoder[T]) writeFrame(f streamFrame[T]) error {
	payload, err := Marshal(f)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := e.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: writing frame length: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}

// Decoder reads the frame sequence an Encoder[T] produces.
type Decoder[T any] struct {
	r    io.Reader
	done bool
}

// NewDecoder wraps r for frame-at-a-time reads.
func NewDecoder[T any](r io.Reader) *Decoder[T] {
	return &Decoder[T]{r: r}
}

// Next reads and decodes the next frame. It returns done=true once the
// terminal Ok(None) frame has been consumed; calling Next again after that
// returns (nil, true, nil). An Err(msg) frame surfaces as an
// *ApplicationError.
func (d *Decoder[T]) Next() (items []T, done bool, err error) {
	if d.done {
		return nil, true, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("wire: stream ended without terminal frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, false, fmt.Errorf("wire: reading frame length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, false, ErrFrameTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, false, fmt.Errorf("wire: reading frame payload: %w", err)
	}

	var f streamFrame[T]
	if err := Unmarshal(payload, &f); err != nil {
		return nil, false, err
	}

	switch f.Variant {
	case variantItems:
		return f.Items, false, nil
	case variantEnd:
		d.done = true
		return nil, true, nil
	case variantErr:
		d.done = true
		return nil, true, &ApplicationError{Message: f.Err}
	default:
		return nil, false, fmt.Errorf("wire: unknown frame variant %q", f.Variant)
	}
}

// ApplicationError is a server-reported logical failure surfaced through a
// streamed Err(msg) frame or a non-2xx ErrorBody. spec.md §7 classifies it
// as "Application": never retried by transport, always returned to the
// caller.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string { return "wire: application error: " + e.Message }
