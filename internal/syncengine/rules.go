package syncengine

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// partSuffix is the temp-file suffix the download-apply pipeline uses for
// in-flight writes; paths ending in it are always excluded so a sync never
// races against its own temp file.
const partSuffix = ".rammingen.part"

// RuleKind discriminates the five ways a Rule can match a local path.
type RuleKind int

const (
	RuleExactName RuleKind = iota
	RuleRegexName
	RuleExactPath
	RuleRegexPath
	RuleDirectSubdirsExcept
)

// Rule is one filter entry. Only the fields relevant to Kind are set.
type Rule struct {
	Kind      RuleKind
	Name      string
	NameRegex *regexp.Regexp
	Path      string
	PathRegex *regexp.Regexp
	Except    map[string]struct{}
}

// ExactNameRule excludes every path whose base name equals name.
func ExactNameRule(name string) Rule { return Rule{Kind: RuleExactName, Name: name} }

// RegexNameRule excludes every path whose base name matches pattern.
func RegexNameRule(pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: RuleRegexName, NameRegex: re}, nil
}

// ExactPathRule excludes exactly one local path.
func ExactPathRule(path string) Rule { return Rule{Kind: RuleExactPath, Path: path} }

// RegexPathRule excludes every local path matching pattern.
func RegexPathRule(pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: RuleRegexPath, PathRegex: re}, nil
}

// DirectSubdirsExceptRule excludes every direct child of dir except the
// names listed in except.
func DirectSubdirsExceptRule(dir string, except []string) Rule {
	ex := make(map[string]struct{}, len(except))
	for _, n := range except {
		ex[n] = struct{}{}
	}
	return Rule{Kind: RuleDirectSubdirsExcept, Path: dir, Except: ex}
}

func (r Rule) matches(path, name string) bool {
	switch r.Kind {
	case RuleExactName:
		return name == r.Name
	case RuleRegexName:
		return r.NameRegex.MatchString(name)
	case RuleExactPath:
		return path == r.Path
	case RuleRegexPath:
		return r.PathRegex.MatchString(path)
	case RuleDirectSubdirsExcept:
		if filepath.Dir(path) != r.Path {
			return false
		}
		_, skip := r.Except[name]
		return !skip
	default:
		return false
	}
}

// Rules is an ordered filter list with per-path memoization, per spec.md
// §4.4: Excluded reports a path excluded if any rule matches it or its
// name ends in the temp suffix, without looking at ancestors; ExcludedUnder
// adds the ancestor check. Safe for concurrent use, since the upload scan
// and local-deletion detection both consult it.
type Rules struct {
	rules []Rule

	mu   sync.Mutex
	memo map[string]bool
}

// NewRules builds a Rules filter from an ordered rule list.
func NewRules(rules []Rule) *Rules {
	return &Rules{rules: rules, memo: make(map[string]bool)}
}

// Excluded reports whether path should be skipped. Callers must never call
// this on a mount's own root: the root is never excluded regardless of what
// rules say, so the scan simply doesn't ask.
func (r *Rules) Excluded(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.excludedLocked(path)
}

func (r *Rules) excludedLocked(path string) bool {
	if v, ok := r.memo[path]; ok {
		return v
	}

	name := filepath.Base(path)
	excluded := strings.HasSuffix(name, partSuffix)

	if !excluded {
		for _, rule := range r.rules {
			if rule.matches(path, name) {
				excluded = true
				break
			}
		}
	}

	r.memo[path] = excluded
	return excluded
}

// ExcludedUnder reports whether path, or any of its ancestors up to (but
// not including) root, is excluded. Local-deletion detection walks a flat
// list of cached paths rather than recursing top-down, so it needs this
// instead of relying on the upload scan's natural "skip subtree" recursion.
func (r *Rules) ExcludedUnder(path, root string) bool {
	for cur := path; cur != root && cur != "." && cur != string(filepath.Separator); cur = filepath.Dir(cur) {
		if r.Excluded(cur) {
			return true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
	}
	return false
}
