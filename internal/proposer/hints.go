package proposer

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Hints is the non-interactive fallback used when the real backend is
// unavailable: it greps a local hints directory for lines matching the
// failure and returns whatever it finds. It never errors and is not
// guaranteed to fix anything — a hint without code blocks simply fails to
// parse and the loop moves on.
type Hints struct {
	dir        string
	maxMatches int
}

// NewHints creates a hints searcher over the given directory. An empty
// directory yields empty proposals.
func NewHints(dir string) *Hints {
	return &Hints{dir: dir, maxMatches: 10}
}

// Propose scans the hints directory for lines containing the failure's key
// tokens.
func (h *Hints) Propose(ctx context.Context, req Request) (*Proposal, error) {
	p := &Proposal{Backend: "hints"}
	if h.dir == "" {
		return p, nil
	}

	query := keyTokens(req.FailureTail)
	if len(query) == 0 {
		return p, nil
	}

	var matches []string
	_ = filepath.WalkDir(h.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(matches) >= h.maxMatches {
			return filepath.SkipAll
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		matches = append(matches, scanFile(path, query, h.maxMatches-len(matches))...)
		return nil
	})

	if len(matches) > 0 {
		p.Raw = strings.Join(matches, "\n")
	}
	return p, nil
}

// keyTokens extracts searchable tokens from the first line of the failure
// that mentions an error.
func keyTokens(failure string) []string {
	for _, line := range strings.Split(strings.ToLower(failure), "\n") {
		if !strings.Contains(line, "error") && !strings.Contains(line, "fatal") {
			continue
		}
		var tokens []string
		for _, tok := range strings.Fields(line) {
			tok = strings.Trim(tok, `:;'"()[]`)
			if len(tok) >= 4 && tok != "error" && tok != "fatal" {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) > 0 {
			return tokens
		}
	}
	return nil
}

// scanFile returns up to limit matching lines from one hints file.
func scanFile(path string, query []string, limit int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(out) < limit {
		line := scanner.Text()
		lower := strings.ToLower(line)
		for _, q := range query {
			if strings.Contains(lower, q) {
				out = append(out, fmt.Sprintf("[hint %s] %s", filepath.Base(path), strings.TrimSpace(line)))
				break
			}
		}
	}
	return out
}
