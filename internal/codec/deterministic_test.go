package codec

import (
	"bytes"
	"testing"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key := make([]byte, MasterKeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	c, err := New(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEncryptStrRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	for _, s := range []string{"", "hello", "weird/chars:ok", "日本語"} {
		ct := c.EncryptStr(s)
		pt, err := c.DecryptStr(ct)
		if err != nil {
			t.Fatalf("DecryptStr(%q): %v", s, err)
		}
		if pt != s {
			t.Fatalf("round trip mismatch: got %q want %q", pt, s)
		}
	}
}

func TestEncryptStrDeterministic(t *testing.T) {
	c := newTestCodec(t)
	if c.EncryptStr("repeat") != c.EncryptStr("repeat") {
		t.Fatal("EncryptStr must be deterministic")
	}
}

func TestEncryptPathRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	paths := []string{"/", "/a", "/a/b/c", "/documents/2024/report.docx"}
	for _, p := range paths {
		ct := c.EncryptPath(p)
		pt, err := c.DecryptPath(ct)
		if err != nil {
			t.Fatalf("DecryptPath(%q): %v", p, err)
		}
		if pt != p {
			t.Fatalf("path round trip mismatch: got %q want %q", pt, p)
		}
	}
}

func TestEncryptPathPrefixPreservation(t *testing.T) {
	c := newTestCodec(t)
	a := "/a"
	b := "/a/b"
	ea := c.EncryptPath(a)
	eb := c.EncryptPath(b)
	if !bytes.HasPrefix([]byte(eb), []byte(ea+"/")) {
		t.Fatalf("encrypted prefix relation broken: %q is not a prefix of %q", ea, eb)
	}
}

func TestEncryptContentHashRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	hash := SHA256([]byte("some file contents"))
	ct := c.EncryptContentHash(hash)
	pt, err := c.DecryptContentHash(ct)
	if err != nil {
		t.Fatal(err)
	}
	if pt != hash {
		t.Fatal("content hash round trip mismatch")
	}
}

func TestEncryptSizeRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	for _, size := range []uint64{0, 1, 1 << 20, 1 << 40} {
		ct := c.EncryptSize(size)
		pt, err := c.DecryptSize(ct)
		if err != nil {
			t.Fatal(err)
		}
		if pt != size {
			t.Fatalf("size round trip mismatch: got %d want %d", pt, size)
		}
	}
}

func TestDecryptSizeRejectsWrongLength(t *testing.T) {
	c := newTestCodec(t)
	// A ciphertext that authenticates under the size subkey but carries a
	// 32-byte plaintext must be rejected by DecryptSize (8 bytes expected).
	ct := c.sizeSIV.Seal(nil, zeroNonce, make([]byte, 32))
	if _, err := c.DecryptSize(ct); err == nil {
		t.Fatal("expected DecryptSize to reject a 32-byte plaintext")
	}
}

func TestNewRejectsBadMasterKeyLength(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short master key")
	}
}
