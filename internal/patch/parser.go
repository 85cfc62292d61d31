package patch

import (
	"errors"
	"strings"
)

// ErrNoCodeBlocks is returned when a proposal contains no fenced code blocks.
var ErrNoCodeBlocks = errors.New("proposal contains no code blocks")

// Edit is one file-level change extracted from a proposal.
type Edit struct {
	Path    string
	Content string
}

// languages are fence info-string tokens that name a language, not a file.
var languages = map[string]bool{
	"c": true, "cpp": true, "h": true, "go": true, "python": true, "py": true,
	"sh": true, "bash": true, "shell": true, "js": true, "javascript": true,
	"ts": true, "rust": true, "make": true, "makefile": true, "diff": true,
	"patch": true, "text": true, "yaml": true, "json": true, "asm": true,
}

// Parse extracts fenced code blocks from proposal text. Each block becomes an
// Edit; the target path is taken from the fence info string (a path-looking
// token or a path= attribute), from the line immediately preceding the fence,
// or falls back to defaultTarget. Returns ErrNoCodeBlocks if the text has no
// complete fenced block.
func Parse(text string, defaultTarget string) ([]Edit, error) {
	lines := strings.Split(text, "\n")
	var edits []Edit

	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			i++
			continue
		}

		info := strings.TrimPrefix(strings.TrimSpace(line), "```")
		var body []string
		closed := false
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				closed = true
				break
			}
			body = append(body, lines[j])
		}
		if !closed {
			// Dangling fence; nothing more to parse.
			break
		}

		path := pathFromInfo(info)
		if path == "" {
			path = pathFromContext(lines, i)
		}
		if path == "" {
			path = defaultTarget
		}
		if path != "" {
			edits = append(edits, Edit{
				Path:    path,
				Content: strings.Join(body, "\n") + "\n",
			})
		}

		i = j + 1
	}

	if len(edits) == 0 {
		return nil, ErrNoCodeBlocks
	}
	return edits, nil
}

// pathFromInfo extracts a file path from a fence info string like
// "c path=src/main.c" or "src/main.c".
func pathFromInfo(info string) string {
	for _, tok := range strings.Fields(info) {
		if v, ok := strings.CutPrefix(tok, "path="); ok {
			return strings.Trim(v, `"'`)
		}
		if looksLikePath(tok) {
			return tok
		}
	}
	return ""
}

// pathFromContext looks at the non-empty line immediately before the fence
// for a path-looking token, e.g. "In `src/main.c`:" or "**src/main.c**".
func pathFromContext(lines []string, fenceIdx int) string {
	for k := fenceIdx - 1; k >= 0 && k >= fenceIdx-3; k-- {
		line := strings.TrimSpace(lines[k])
		if line == "" {
			continue
		}
		cleaned := strings.NewReplacer("`", " ", "*", " ", "(", " ", ")", " ", ",", " ").Replace(line)
		for _, tok := range strings.Fields(cleaned) {
			tok = strings.TrimSuffix(tok, ":")
			if looksLikePath(tok) {
				return tok
			}
		}
		return ""
	}
	return ""
}

// looksLikePath reports whether a token plausibly names a file: it has a
// path separator or extension, and is not a bare language name.
func looksLikePath(tok string) bool {
	if tok == "" || languages[strings.ToLower(tok)] {
		return false
	}
	if strings.ContainsAny(tok, "<>|;{}") || strings.HasPrefix(tok, "http") {
		return false
	}
	if strings.Contains(tok, "/") {
		return true
	}
	dot := strings.LastIndex(tok, ".")
	return dot > 0 && dot < len(tok)-1
}

// Summarize derives a short commit summary from proposal text: the first
// non-empty line that is neither a comment nor a fence, clipped to 72 chars.
func Summarize(text string) string {
	for _, line := range strings.Split(text, "\n") {
		clean := strings.TrimSpace(line)
		if clean == "" || strings.HasPrefix(clean, "#") || strings.HasPrefix(clean, "//") || strings.HasPrefix(clean, "```") {
			continue
		}
		if len(clean) > 72 {
			clean = clean[:72]
		}
		return clean
	}
	return "apply proposed fix"
}
