package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRules_ExactName(t *testing.T) {
	r := NewRules([]Rule{ExactNameRule("node_modules")})
	require.True(t, r.Excluded("/home/user/project/node_modules"))
	require.False(t, r.Excluded("/home/user/project/src"))
}

func TestRules_RegexName(t *testing.T) {
	rule, err := RegexNameRule(`^\..*\.swp$`)
	require.NoError(t, err)
	r := NewRules([]Rule{rule})
	require.True(t, r.Excluded("/project/.foo.swp"))
	require.False(t, r.Excluded("/project/foo.txt"))
}

func TestRules_ExactPath(t *testing.T) {
	r := NewRules([]Rule{ExactPathRule("/home/user/project/secrets.env")})
	require.True(t, r.Excluded("/home/user/project/secrets.env"))
	require.False(t, r.Excluded("/home/user/project/other.env"))
}

func TestRules_DirectSubdirsExcept(t *testing.T) {
	r := NewRules([]Rule{DirectSubdirsExceptRule("/home/user/project", []string{"src", "docs"})})
	require.True(t, r.Excluded("/home/user/project/build"))
	require.False(t, r.Excluded("/home/user/project/src"))
	require.False(t, r.Excluded("/home/user/project/docs"))
	// A grandchild isn't a direct subdirectory of the rule's target, so it's
	// unaffected either way.
	require.False(t, r.Excluded("/home/user/project/build/nested"))
}

func TestRules_PartSuffixAlwaysExcluded(t *testing.T) {
	r := NewRules(nil)
	require.True(t, r.Excluded("/home/user/project/.abcd1234.rammingen.part"))
}

func TestRules_Memoization(t *testing.T) {
	calls := 0
	rule := Rule{Kind: RuleExactName, Name: "x"}
	r := NewRules([]Rule{rule})

	require.False(t, r.Excluded("/a/b/y"))
	require.False(t, r.Excluded("/a/b/y"))
	_, ok := r.memo["/a/b/y"]
	require.True(t, ok)
	require.Equal(t, 0, calls)
}

func TestRules_ExcludedUnder(t *testing.T) {
	r := NewRules([]Rule{ExactNameRule("node_modules")})
	root := "/home/user/project"
	require.True(t, r.ExcludedUnder("/home/user/project/node_modules/pkg/index.js", root))
	require.False(t, r.ExcludedUnder("/home/user/project/src/main.go", root))
}
