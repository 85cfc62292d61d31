package failure

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// diagnosticRe matches compiler-style "path:line:" diagnostics.
var diagnosticRe = regexp.MustCompile(`(?m)^([\w./+-]+\.[A-Za-z0-9]+):\d+(:\d+)?:`)

// AttributeTarget scans build output for a file diagnostic naming a file that
// exists under repoDir and is not matched by an ignore glob. The first such
// file (repo-relative) becomes the failure target; if none is found the
// failure belongs to the whole run.
func AttributeTarget(output string, repoDir string, ignore []string) string {
	for _, m := range diagnosticRe.FindAllStringSubmatch(output, 20) {
		rel := filepath.ToSlash(strings.TrimPrefix(m[1], "./"))
		if Ignored(rel, ignore) {
			continue
		}
		if info, err := os.Stat(filepath.Join(repoDir, rel)); err == nil && !info.IsDir() {
			return rel
		}
	}
	return WholeRun
}

// Ignored reports whether a repo-relative path matches any ignore glob.
func Ignored(rel string, ignore []string) bool {
	for _, pat := range ignore {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}
