package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Magic is the fixed sentinel prefixing every encoded file stream. Streams
// that don't start with it are rejected outright.
const Magic uint32 = 0xBB0F6868

// Stream framing constants, matching the on-disk/on-wire encrypted blob
// format.
const (
	BlockSize           = 1 << 20 // 1 MiB cap on the deflated data sealed per block
	NonceSize           = 16
	sivTagOverhead      = 16
	MaxEncodedBlockSize = BlockSize + NonceSize + sivTagOverhead

	// plainChunkSize is the plaintext read per block. It stays below
	// BlockSize so that DEFLATE's expansion of incompressible input still
	// keeps the deflated block within BlockSize.
	plainChunkSize = BlockSize - 4096
)

// Sentinel kinds a CodecError can carry. These map directly onto the
// "integrity" error class: none of them are retried.
var (
	ErrMagicMismatch   = errors.New("codec: magic mismatch")
	ErrTruncatedFrame  = errors.New("codec: truncated frame")
	ErrOversizedFrame  = errors.New("codec: frame exceeds maximum encoded block size")
	ErrDeflateFailure  = errors.New("codec: deflate failure")
	ErrTrailingBytes   = errors.New("codec: trailing bytes after last frame")
)

// CodecError wraps a stream decode/encode failure with the sentinel kind
// that classifies it, so callers can distinguish "bad input" from
// transport errors without string matching.
type CodecError struct {
	Kind error
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Kind }

func codecErr(kind error, cause error) *CodecError {
	return &CodecError{Kind: kind, Err: cause}
}

// EncryptedFileHead is the result of streaming a plaintext file through the
// content codec: the encrypted bytes live in spool (ready for BlobStore
// upload), alongside the hash and sizes the caller must reconcile against
// the local/remote entry metadata.
type EncryptedFileHead struct {
	spool *spooledFile

	PlaintextHash [32]byte
	OriginalSize  uint64
	EncryptedSize uint64
}

// Reader returns a fresh reader positioned at the start of the encrypted
// stream. Calling it repeatedly is safe.
func (h *EncryptedFileHead) Reader() (io.Reader, error) {
	if err := h.spool.SeekStart(); err != nil {
		return nil, fmt.Errorf("codec: rewinding spool: %w", err)
	}
	return h.spool, nil
}

// Close releases the backing spool (and any temp file it spilled to).
func (h *EncryptedFileHead) Close() error {
	return h.spool.Close()
}

// EncryptFile streams plaintext from r through DEFLATE compression and
// per-block AES-SIV encryption into a spooled file, rooted at spoolDir.
func (c *Codec) EncryptFile(r io.Reader, spoolDir string) (*EncryptedFileHead, error) {
	spool := newSpooledFile(spoolDir)

	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], Magic)
	if _, err := spool.Write(magicBuf[:]); err != nil {
		spool.Close()
		return nil, fmt.Errorf("codec: writing magic: %w", err)
	}

	hasher := sha256.New()
	var originalSize uint64

	buf := make([]byte, plainChunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			hasher.Write(buf[:n])
			originalSize += uint64(n)

			deflated, err := deflateBlock(buf[:n])
			if err != nil {
				spool.Close()
				return nil, codecErr(ErrDeflateFailure, err)
			}

			nonce := make([]byte, NonceSize)
			if _, err := rand.Read(nonce); err != nil {
				spool.Close()
				return nil, fmt.Errorf("codec: generating block nonce: %w", err)
			}

			ciphertext := c.blockSIV().Seal(nil, nonce, deflated)
			if len(ciphertext)+NonceSize > MaxEncodedBlockSize {
				spool.Close()
				return nil, codecErr(ErrOversizedFrame, nil)
			}

			var sizeBuf [4]byte
			binary.LittleEndian.PutUint32(sizeBuf[:], uint32(NonceSize+len(ciphertext)))
			if _, err := spool.Write(sizeBuf[:]); err != nil {
				spool.Close()
				return nil, fmt.Errorf("codec: writing block size: %w", err)
			}
			if _, err := spool.Write(nonce); err != nil {
				spool.Close()
				return nil, fmt.Errorf("codec: writing block nonce: %w", err)
			}
			if _, err := spool.Write(ciphertext); err != nil {
				spool.Close()
				return nil, fmt.Errorf("codec: writing block ciphertext: %w", err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			spool.Close()
			return nil, fmt.Errorf("codec: reading plaintext: %w", readErr)
		}
	}

	encryptedSize, err := spool.Size()
	if err != nil {
		spool.Close()
		return nil, fmt.Errorf("codec: measuring spool size: %w", err)
	}

	var head EncryptedFileHead
	copy(head.PlaintextHash[:], hasher.Sum(nil))
	head.OriginalSize = originalSize
	head.EncryptedSize = uint64(encryptedSize)
	head.spool = spool
	return &head, nil
}

// DecryptFile reads an encrypted stream from r, writing decrypted
// plaintext to w and returning the plaintext hash and size it observed.
// The caller is responsible for comparing those against the expected
// values from the entry's metadata.
func (c *Codec) DecryptFile(r io.Reader, w io.Writer) (plaintextHash [32]byte, plaintextSize uint64, err error) {
	var magicBuf [4]byte
	if _, readErr := io.ReadFull(r, magicBuf[:]); readErr != nil {
		return plaintextHash, 0, codecErr(ErrMagicMismatch, readErr)
	}
	if binary.LittleEndian.Uint32(magicBuf[:]) != Magic {
		return plaintextHash, 0, codecErr(ErrMagicMismatch, nil)
	}

	hasher := sha256.New()
	var size uint64

	for {
		var sizeBuf [4]byte
		n, readErr := io.ReadFull(r, sizeBuf[:])
		if readErr == io.EOF && n == 0 {
			break
		}
		if readErr != nil {
			return plaintextHash, 0, codecErr(ErrTruncatedFrame, readErr)
		}

		blockLen := binary.LittleEndian.Uint32(sizeBuf[:])
		if blockLen < NonceSize+sivTagOverhead || int(blockLen) > MaxEncodedBlockSize {
			return plaintextHash, 0, codecErr(ErrOversizedFrame, nil)
		}

		frame := make([]byte, blockLen)
		if _, readErr := io.ReadFull(r, frame); readErr != nil {
			return plaintextHash, 0, codecErr(ErrTruncatedFrame, readErr)
		}
		nonce := frame[:NonceSize]
		ciphertext := frame[NonceSize:]

		deflated, openErr := c.blockSIV().Open(nil, nonce, ciphertext)
		if openErr != nil {
			return plaintextHash, 0, codecErr(ErrAuthFailed, openErr)
		}

		plaintext, err := inflateBlock(deflated)
		if err != nil {
			return plaintextHash, 0, codecErr(ErrDeflateFailure, err)
		}

		if _, err := w.Write(plaintext); err != nil {
			return plaintextHash, 0, fmt.Errorf("codec: writing plaintext sink: %w", err)
		}
		hasher.Write(plaintext)
		size += uint64(len(plaintext))
	}

	if extra, _ := io.ReadFull(r, make([]byte, 1)); extra == 1 {
		return plaintextHash, 0, codecErr(ErrTrailingBytes, nil)
	}

	copy(plaintextHash[:], hasher.Sum(nil))
	return plaintextHash, size, nil
}

// blockSIV lazily derives the file-content SIV cipher, distinct from the
// metadata sub-ciphers so a compromise of one contract never touches the
// other.
func (c *Codec) blockSIV() *SIV {
	if c.fileSIV == nil {
		// fileSIV is derived once, on first use, from the same master key.
		siv, err := deriveSIV(c.masterKey, "archivesync-file-content-v1")
		if err != nil {
			// masterKey was already validated in New; HKDF over a fixed-size
			// key cannot fail here.
			panic(err)
		}
		c.fileSIV = siv
	}
	return c.fileSIV
}

func deflateBlock(data []byte) ([]byte, error) {
	var buf writerBuffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func inflateBlock(data []byte) ([]byte, error) {
	fr := flate.NewReader(&byteReader{b: data})
	defer fr.Close()
	return io.ReadAll(fr)
}

// writerBuffer is a minimal io.Writer sink, avoiding a bytes.Buffer import
// purely for the two call sites above.
type writerBuffer struct{ b []byte }

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
