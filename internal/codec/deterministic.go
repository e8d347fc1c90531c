package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the size of the shared secret every source in an archive
// is configured with.
const MasterKeySize = SIVKeySize

// hkdfInfo namespaces per-purpose subkeys derived from the master key with
// HKDF-SHA256 (no salt; the info string alone separates the purposes).
const (
	hkdfInfoString      = "archivesync-metadata-string-v1"
	hkdfInfoContentHash = "archivesync-content-hash-v1"
	hkdfInfoSize        = "archivesync-size-v1"
)

// zeroNonce is the fixed, empty nonce used for every deterministic
// metadata operation: paths, content hashes and sizes must encrypt to the
// same ciphertext every time so the server can perform equality lookups.
var zeroNonce []byte

// Codec provides the deterministic AES-SIV metadata primitives and the
// streaming file content codec over a single 64-byte master key shared by
// every source in an archive.
type Codec struct {
	masterKey []byte

	strSIV  *SIV
	hashSIV *SIV
	sizeSIV *SIV
	fileSIV *SIV
}

// New derives the per-purpose SIV sub-ciphers from masterKey.
func New(masterKey []byte) (*Codec, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("codec: master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	keyCopy := make([]byte, MasterKeySize)
	copy(keyCopy, masterKey)

	strSIV, err := deriveSIV(keyCopy, hkdfInfoString)
	if err != nil {
		return nil, err
	}
	hashSIV, err := deriveSIV(keyCopy, hkdfInfoContentHash)
	if err != nil {
		return nil, err
	}
	sizeSIV, err := deriveSIV(keyCopy, hkdfInfoSize)
	if err != nil {
		return nil, err
	}

	return &Codec{masterKey: keyCopy, strSIV: strSIV, hashSIV: hashSIV, sizeSIV: sizeSIV}, nil
}

func deriveSIV(masterKey []byte, info string) (*SIV, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, SIVKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("codec: deriving subkey for %q: %w", info, err)
	}
	return NewSIV(key)
}

// base64Enc is URL-safe, unpadded base64, matching the "url-safe-base64"
// contract shared by encrypted strings and blob shard names.
var base64Enc = base64.RawURLEncoding

// EncryptStr deterministically encrypts an arbitrary string, returning a
// URL-safe base64 (no padding) ciphertext.
func (c *Codec) EncryptStr(s string) string {
	ct := c.strSIV.Seal(nil, zeroNonce, []byte(s))
	return base64Enc.EncodeToString(ct)
}

// DecryptStr reverses EncryptStr.
func (c *Codec) DecryptStr(s string) (string, error) {
	ct, err := base64Enc.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("codec: decoding base64: %w", err)
	}
	pt, err := c.strSIV.Open(nil, zeroNonce, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// EncryptPath deterministically encrypts every non-empty component of a
// POSIX path, preserving the "/" separators and thus the prefix/parent
// relationships of the plaintext (P3).
func (c *Codec) EncryptPath(p string) string {
	if p == "/" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = c.EncryptStr(part)
	}
	return strings.Join(parts, "/")
}

// DecryptPath reverses EncryptPath.
func (c *Codec) DecryptPath(p string) (string, error) {
	if p == "/" {
		return "/", nil
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		pt, err := c.DecryptStr(part)
		if err != nil {
			return "", fmt.Errorf("codec: decrypting path component %d: %w", i, err)
		}
		parts[i] = pt
	}
	return strings.Join(parts, "/"), nil
}

// EncryptContentHash deterministically encrypts a 32-byte SHA-256 content
// hash.
func (c *Codec) EncryptContentHash(hash [32]byte) []byte {
	return c.hashSIV.Seal(nil, zeroNonce, hash[:])
}

// DecryptContentHash reverses EncryptContentHash.
func (c *Codec) DecryptContentHash(ct []byte) ([32]byte, error) {
	var out [32]byte
	pt, err := c.hashSIV.Open(nil, zeroNonce, ct)
	if err != nil {
		return out, err
	}
	if len(pt) != 32 {
		return out, fmt.Errorf("codec: decrypted content hash has length %d, want 32", len(pt))
	}
	copy(out[:], pt)
	return out, nil
}

// EncryptSize deterministically encrypts a little-endian u64 size.
func (c *Codec) EncryptSize(size uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, size)
	return c.sizeSIV.Seal(nil, zeroNonce, buf)
}

// DecryptSize reverses EncryptSize, validating the decrypted length.
func (c *Codec) DecryptSize(ct []byte) (uint64, error) {
	pt, err := c.sizeSIV.Open(nil, zeroNonce, ct)
	if err != nil {
		return 0, err
	}
	if len(pt) != 8 {
		return 0, fmt.Errorf("codec: decrypted size has length %d, want 8", len(pt))
	}
	return binary.LittleEndian.Uint64(pt), nil
}

// SHA256 computes the plaintext ContentHash of the given bytes.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
