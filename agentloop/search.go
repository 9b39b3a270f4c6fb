package agentloop

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	defaultSearchResults = 50
	maxSearchResults     = 500
	binarySniffBytes     = 4096
	patternMatchTimeout  = 2 * time.Second
)

// searchIgnoredDirs are never descended into.
var searchIgnoredDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	".pytest_cache": true,
	"node_modules":  true,
	"dist":          true,
	"build":         true,
}

// compilePattern compiles a backtracking regular expression with a match
// timeout so a pathological pattern cannot hang a tool call.
func compilePattern(pattern string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = patternMatchTimeout
	return re, nil
}

func countMatches(re *regexp2.Regexp, s string) (int, error) {
	count := 0
	m, err := re.FindStringMatch(s)
	for m != nil && err == nil {
		count++
		m, err = re.FindNextMatch(m)
	}
	return count, err
}

// SearchOptions configures SearchText.
type SearchOptions struct {
	// Include is a comma-separated list of file name globs; empty or "*"
	// matches every file.
	Include       string
	MaxResults    int
	CaseSensitive bool
	// Literal disables regular expression syntax in the pattern.
	Literal bool
}

// SearchResult is the outcome of SearchText.
type SearchResult struct {
	Matches   []string // "rel/path:line: text"
	Truncated bool
}

// SearchText walks root (a file or directory) and returns lines matching
// pattern. Binary files and common dependency or build directories are
// skipped.
func SearchText(ctx context.Context, root, pattern string, opts SearchOptions) (*SearchResult, error) {
	if pattern == "" {
		return nil, errors.New("'pattern' is required")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	maxResults = min(maxResults, maxSearchResults)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %s", root)
	}

	expr := pattern
	if opts.Literal {
		expr = regexp2.Escape(pattern)
	}
	reOpts := regexp2.None
	if !opts.CaseSensitive {
		reOpts |= regexp2.IgnoreCase
	}
	re, err := compilePattern(expr, reOpts)
	if err != nil {
		return nil, err
	}

	globs := splitGlobs(opts.Include)
	base := root
	if !info.IsDir() {
		base = filepath.Dir(root)
	}

	result := &SearchResult{}
	errStop := errors.New("stop")

	searchFile := func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			rel = path
		}
		matches, err := searchFileLines(path, rel, re, maxResults-len(result.Matches))
		if err != nil {
			return nil
		}
		result.Matches = append(result.Matches, matches...)
		if len(result.Matches) >= maxResults {
			result.Truncated = true
			return errStop
		}
		return nil
	}

	if !info.IsDir() {
		err = searchFile(root)
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && searchIgnoredDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !matchesGlobs(d.Name(), globs) {
				return nil
			}
			return searchFile(path)
		})
	}
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return result, nil
}

// searchFileLines returns up to limit matching lines of one file. Files
// with a NUL byte in their first 4096 bytes are treated as binary and
// skipped.
func searchFileLines(path, rel string, re *regexp2.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	head, _ := r.Peek(binarySniffBytes)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	var matches []string
	for lineNum := 1; len(matches) < limit; lineNum++ {
		line, readErr := r.ReadString('\n')
		if line != "" {
			text := strings.TrimRight(line, "\r\n")
			ok, err := re.MatchString(text)
			if err != nil {
				return matches, err
			}
			if ok {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", filepath.ToSlash(rel), lineNum, text))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return matches, readErr
		}
	}
	return matches, nil
}

func splitGlobs(include string) []string {
	var globs []string
	for _, g := range strings.Split(include, ",") {
		if g = strings.TrimSpace(g); g != "" {
			globs = append(globs, g)
		}
	}
	return globs
}

func matchesGlobs(name string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}

type searchTextArgs struct {
	Pattern       string `json:"pattern" validate:"required" jsonschema_description:"Regex (default) or literal pattern to search for."`
	Path          string `json:"path,omitempty" jsonschema_description:"Root directory or file path to search (default: '.')."`
	Include       string `json:"include,omitempty" jsonschema_description:"Comma-separated filename globs to include (default: '*'). Example: '*.py,*.md'"`
	MaxResults    int    `json:"max_results,omitempty" jsonschema_description:"Maximum number of matches to return (default: 50; max: 500)."`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema_description:"Case-sensitive search (default: false)."`
	Regex         *bool  `json:"regex,omitempty" jsonschema_description:"Treat pattern as regex (default: true)."`
}

func newSearchTextTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("search_text",
		"Search for a text/regex pattern in files (grep-like). Returns matching file:line results.",
		func(ctx context.Context, args searchTextArgs) (string, error) {
			path := args.Path
			if path == "" {
				path = "."
			}
			res, err := SearchText(ctx, env.ResolvePath(path), args.Pattern, SearchOptions{
				Include:       args.Include,
				MaxResults:    args.MaxResults,
				CaseSensitive: args.CaseSensitive,
				Literal:       args.Regex != nil && !*args.Regex,
			})
			if err != nil {
				return "", err
			}

			header := fmt.Sprintf("[search_text] pattern='%s' path='%s' results=%d truncated=%t",
				args.Pattern, path, len(res.Matches), res.Truncated)
			if len(res.Matches) == 0 {
				return header + "\n(No matches found.)", nil
			}
			return header + "\n" + strings.Join(res.Matches, "\n"), nil
		})
}
