package domain

import "testing"

func TestEntryKindExists(t *testing.T) {
	if KindNotExists.Exists() {
		t.Fatal("NotExists must not report Exists")
	}
	if !KindFile.Exists() || !KindDirectory.Exists() {
		t.Fatal("File and Directory must report Exists")
	}
}

func TestMateriallyEquivalent(t *testing.T) {
	mode := uint32(0o644)
	e := &Entry{
		Kind: KindFile,
		File: &FileMetadata{
			ContentHash: []byte("hash-a"),
			UnixMode:    &mode,
		},
	}

	if !e.MateriallyEquivalent(KindFile, []byte("hash-a"), &mode) {
		t.Fatal("identical state should be materially equivalent")
	}
	if e.MateriallyEquivalent(KindFile, []byte("hash-b"), &mode) {
		t.Fatal("different content hash must not be equivalent")
	}
	if e.MateriallyEquivalent(KindDirectory, []byte("hash-a"), &mode) {
		t.Fatal("different kind must not be equivalent")
	}

	// unix_mode only compared when both sides present
	if !e.MateriallyEquivalent(KindFile, []byte("hash-a"), nil) {
		t.Fatal("missing candidate unix_mode should not break equivalence")
	}
}

func TestSourceRevoked(t *testing.T) {
	s := &Source{}
	if s.Revoked() {
		t.Fatal("fresh source should not be revoked")
	}
}
