package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"warden/internal/boundary"
)

const DefaultGrepResults = 100

// GrepOptions narrows a content search.
type GrepOptions struct {
	// Glob filters files by their path relative to the search directory.
	Glob            string
	CaseInsensitive bool
	MaxResults      int
}

// GrepMatch is one matching line.
type GrepMatch struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepResult lists matches in walk order.
type GrepResult struct {
	Matches   []GrepMatch `json:"matches"`
	Truncated bool        `json:"truncated,omitempty"`
}

var errGrepLimit = errors.New("grep result limit reached")

// Grep searches text files below dir for a regular expression. Symlinks
// are not followed and binary files are skipped.
func (b *Bridge) Grep(ctx context.Context, pattern, dir string, opts GrepOptions) (GrepResult, error) {
	if strings.TrimSpace(pattern) == "" {
		return GrepResult{}, errors.New("pattern is required")
	}
	if opts.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return GrepResult{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	if opts.Glob != "" && !doublestar.ValidatePattern(filepath.ToSlash(opts.Glob)) {
		return GrepResult{}, fmt.Errorf("invalid glob pattern %q", opts.Glob)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultGrepResults
	}
	base, err := boundary.Validate(dir, b.root, boundary.Options{})
	if err != nil {
		return GrepResult{}, err
	}

	res := GrepResult{Matches: make([]GrepMatch, 0)}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if opts.Glob != "" {
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return nil
			}
			if ok, _ := doublestar.Match(filepath.ToSlash(opts.Glob), filepath.ToSlash(rel)); !ok {
				return nil
			}
		}
		return b.grepFile(path, re, opts.MaxResults, &res)
	})
	if errors.Is(err, errGrepLimit) {
		res.Truncated = true
		return res, nil
	}
	return res, err
}

func (b *Bridge) grepFile(path string, re *regexp.Regexp, limit int, res *GrepResult) error {
	data, err := os.ReadFile(path)
	if err != nil || isBinary(data) {
		return nil
	}
	rel := b.rel(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(res.Matches) >= limit {
			return errGrepLimit
		}
		content, _ := truncateLine(text)
		res.Matches = append(res.Matches, GrepMatch{Path: rel, Line: line, Content: content})
	}
	return nil
}
