package proposer

import (
	"os"
	"path/filepath"
	"sort"

	"buildmedic/internal/failure"
)

const maxListing = 30

// Listing returns the repo-relative files in the target's directory (the repo
// root for whole-run failures), filtered by the ignore globs and capped. It
// gives the backend a picture of the area under repair without walking the
// whole tree.
func Listing(repoDir, target string, ignore []string) []string {
	area := "."
	if target != "" && target != failure.WholeRun {
		area = filepath.Dir(target)
	}

	entries, err := os.ReadDir(filepath.Join(repoDir, area))
	if err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(area, e.Name()))
		if failure.Ignored(rel, ignore) {
			continue
		}
		out = append(out, rel)
		if len(out) >= maxListing {
			break
		}
	}
	sort.Strings(out)
	return out
}
