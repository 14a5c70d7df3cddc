package bridge

import (
	"errors"
	"fmt"
	"strings"

	"warden/internal/boundary"
)

// EditResult reports an exact-match replacement.
type EditResult struct {
	Path     string `json:"path"`
	Replaced int    `json:"replaced"`
}

// Edit replaces oldString with newString in a text file. Without
// replaceAll, oldString must occur exactly once.
func (b *Bridge) Edit(path, oldString, newString string, replaceAll bool) (EditResult, error) {
	if oldString == "" {
		return EditResult{}, errors.New("old_string must not be empty")
	}
	if oldString == newString {
		return EditResult{}, errors.New("old_string and new_string must be different")
	}
	data, _, err := boundary.AtomicRead(path, b.root)
	if err != nil {
		return EditResult{}, err
	}
	if isBinary(data) {
		return EditResult{}, fmt.Errorf("%s appears to be a binary file", path)
	}

	content := string(data)
	count := strings.Count(content, oldString)
	if count == 0 {
		snippet := oldString
		const maxPreview = 80
		if len(snippet) > maxPreview {
			snippet = snippet[:maxPreview] + "..."
		}
		return EditResult{}, fmt.Errorf("old_string not found. Double-check whitespace/indentation. Preview: %q", snippet)
	}
	if !replaceAll && count > 1 {
		return EditResult{}, fmt.Errorf("old_string appears %d times in the file. Use replace_all=true or provide a larger unique string", count)
	}

	replaced := 1
	if replaceAll {
		content = strings.ReplaceAll(content, oldString, newString)
		replaced = count
	} else {
		content = strings.Replace(content, oldString, newString, 1)
	}

	res, err := b.Write(path, content)
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Path: res.Path, Replaced: replaced}, nil
}
