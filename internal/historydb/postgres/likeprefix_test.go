package postgres

import "testing"

func TestLikeEscape(t *testing.T) {
	cases := map[string]string{
		"plain":     "plain",
		`a\b`:       `a\\b`,
		"50%_off":   `50\%\_off`,
		`\%_mixed`:  `\\\%\_mixed`,
	}
	for in, want := range cases {
		if got := likeEscape(in); got != want {
			t.Errorf("likeEscape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescendantPattern(t *testing.T) {
	if got := descendantPattern("/"); got != "/%" {
		t.Errorf("root pattern = %q, want /%%", got)
	}
	if got := descendantPattern("/foo/bar"); got != `/foo/bar/%` {
		t.Errorf("pattern = %q, want /foo/bar/%%", got)
	}
	if got := descendantPattern("/50%"); got != `/50\%/%` {
		t.Errorf("pattern = %q, want /50\\%%/%%", got)
	}
}
