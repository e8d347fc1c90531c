package archivepath

import "testing"

func TestNewValidation(t *testing.T) {
	cases := []struct {
		in      string
		wantErr error
	}{
		{"", ErrEmptyPath},
		{"foo/bar", ErrNoLeadingSlash},
		{"/foo//bar", ErrDoubleSlash},
		{"/foo/", ErrTrailingSlash},
		{"/", nil},
		{"/foo/bar", nil},
	}
	for _, c := range cases {
		_, err := New(c.in)
		if err != c.wantErr {
			t.Errorf("New(%q) = %v, want %v", c.in, err, c.wantErr)
		}
	}
}

func TestParentAndLastName(t *testing.T) {
	p := MustNew("/a/b/c")
	parent, ok := p.Parent()
	if !ok || parent.String() != "/a/b" {
		t.Fatalf("Parent() = %v, %v", parent, ok)
	}
	if p.LastName() != "c" {
		t.Fatalf("LastName() = %q", p.LastName())
	}

	root := MustNew("/")
	if _, ok := root.Parent(); ok {
		t.Fatal("root.Parent() should report false")
	}
	if root.LastName() != "" {
		t.Fatalf("root.LastName() = %q, want empty", root.LastName())
	}

	top := MustNew("/a")
	topParent, ok := top.Parent()
	if !ok || !topParent.IsRoot() {
		t.Fatalf("top.Parent() = %v, %v, want root", topParent, ok)
	}
}

func TestStripPrefix(t *testing.T) {
	base := MustNew("/a/b")
	child := MustNew("/a/b/c/d")

	rest, ok := child.StripPrefix(base)
	if !ok || rest != "/c/d" {
		t.Fatalf("StripPrefix = %q, %v", rest, ok)
	}

	other := MustNew("/x/y")
	if _, ok := child.StripPrefix(other); ok {
		t.Fatal("StripPrefix should fail for unrelated prefix")
	}

	rest, ok = base.StripPrefix(base)
	if !ok || rest != "" {
		t.Fatalf("self StripPrefix = %q, %v", rest, ok)
	}

	rest, ok = child.StripPrefix(MustNew("/"))
	if !ok || rest != "/a/b/c/d" {
		t.Fatalf("root StripPrefix = %q, %v", rest, ok)
	}
}

func TestJoinOneAndMultiple(t *testing.T) {
	root := MustNew("/")
	p, err := root.JoinOne("foo")
	if err != nil || p.String() != "/foo" {
		t.Fatalf("JoinOne from root = %v, %v", p, err)
	}

	p2, err := p.JoinMultiple("bar/baz")
	if err != nil || p2.String() != "/foo/bar/baz" {
		t.Fatalf("JoinMultiple = %v, %v", p2, err)
	}

	if _, err := p.JoinOne("a/b"); err != ErrNameHasSlash {
		t.Fatalf("JoinOne with slash should fail, got %v", err)
	}
	if _, err := p.JoinOne(""); err != ErrEmptyName {
		t.Fatalf("JoinOne empty should fail, got %v", err)
	}
}

func TestIsAncestorOf(t *testing.T) {
	root := MustNew("/")
	a := MustNew("/a")
	ab := MustNew("/a/b")

	if !root.IsAncestorOf(a) {
		t.Fatal("root should be ancestor of /a")
	}
	if !a.IsAncestorOf(ab) {
		t.Fatal("/a should be ancestor of /a/b")
	}
	if a.IsAncestorOf(a) {
		t.Fatal("path should not be its own strict ancestor")
	}
	if ab.IsAncestorOf(a) {
		t.Fatal("/a/b should not be ancestor of /a")
	}
	// prefix-but-not-boundary case: /ab should not be considered descendant of /a
	abName := MustNew("/ab")
	if a.IsAncestorOf(abName) {
		t.Fatal("/a should not be ancestor of /ab (no separator boundary)")
	}
}

func TestAncestors(t *testing.T) {
	p := MustNew("/a/b/c")
	anc := p.Ancestors()
	want := []string{"/", "/a", "/a/b"}
	if len(anc) != len(want) {
		t.Fatalf("Ancestors() len = %d, want %d", len(anc), len(want))
	}
	for i, w := range want {
		if anc[i].String() != w {
			t.Errorf("Ancestors()[%d] = %q, want %q", i, anc[i].String(), w)
		}
	}
}

func TestLess(t *testing.T) {
	a := MustNew("/a")
	b := MustNew("/b")
	if !a.Less(b) {
		t.Fatal("/a should sort before /b")
	}
}
