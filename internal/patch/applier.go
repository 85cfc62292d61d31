package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// backup is the pre-edit snapshot of one file. The content lives in a .bak
// file next to the original so a crashed run leaves it on disk.
type backup struct {
	bakPath string
	existed bool // false when the edit created a new file
	clean   int  // clean iterations survived since creation
}

// Result reports what an Apply changed.
type Result struct {
	Changed []string // paths written, with backups created
	NoOps   []string // paths whose proposed content was byte-identical
	Skipped []string // paths that could not be read or written (permissions)
}

// Applier writes proposal edits to the working tree with rollback support.
type Applier struct {
	repoDir string
	backups map[string]*backup
}

// NewApplier creates an Applier rooted at the repo directory.
func NewApplier(repoDir string) *Applier {
	return &Applier{repoDir: repoDir, backups: make(map[string]*backup)}
}

// Apply writes each edit whose content differs from the current file,
// snapshotting the original to <path>.bak first. Byte-identical content is a
// no-op: no backup, no write. Unreadable or unwritable files are skipped so
// one bad path does not sink the rest of the proposal.
func (a *Applier) Apply(edits []Edit) (*Result, error) {
	res := &Result{}

	for _, e := range edits {
		abs := filepath.Join(a.repoDir, e.Path)

		current, readErr := os.ReadFile(abs)
		existed := true
		if readErr != nil {
			if errors.Is(readErr, fs.ErrNotExist) {
				existed = false
				current = nil
			} else {
				res.Skipped = append(res.Skipped, e.Path)
				continue
			}
		}

		if existed && string(current) == e.Content {
			res.NoOps = append(res.NoOps, e.Path)
			continue
		}

		bakPath := abs + ".bak"
		if existed {
			if err := os.WriteFile(bakPath, current, 0o644); err != nil {
				res.Skipped = append(res.Skipped, e.Path)
				continue
			}
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			res.Skipped = append(res.Skipped, e.Path)
			continue
		}
		if err := os.WriteFile(abs, []byte(e.Content), 0o644); err != nil {
			if existed {
				os.Remove(bakPath)
			}
			res.Skipped = append(res.Skipped, e.Path)
			continue
		}

		a.backups[e.Path] = &backup{bakPath: bakPath, existed: existed}
		res.Changed = append(res.Changed, e.Path)
	}

	sort.Strings(res.Changed)
	return res, nil
}

// Rollback restores the most recent backup for a path and removes the backup
// entry. A path with no backup is a no-op, not an error, so calling rollback
// twice is safe.
func (a *Applier) Rollback(path string) error {
	b, ok := a.backups[path]
	if !ok {
		return nil
	}
	abs := filepath.Join(a.repoDir, path)

	if b.existed {
		content, err := os.ReadFile(b.bakPath)
		if err != nil {
			return fmt.Errorf("read backup for %s: %w", path, err)
		}
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
		os.Remove(b.bakPath)
	} else {
		os.Remove(abs)
	}

	delete(a.backups, path)
	return nil
}

// RollbackAll rolls back every live backup. Used for whole-run targets.
func (a *Applier) RollbackAll() error {
	for _, path := range a.Pending() {
		if err := a.Rollback(path); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the paths that currently have live backups, sorted.
func (a *Applier) Pending() []string {
	paths := make([]string, 0, len(a.backups))
	for p := range a.backups {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// NoteCleanIteration ages every live backup by one clean iteration and
// garbage-collects those that have survived retention clean iterations,
// deleting their .bak files.
func (a *Applier) NoteCleanIteration(retention int) {
	for path, b := range a.backups {
		b.clean++
		if b.clean >= retention {
			if b.existed {
				os.Remove(b.bakPath)
			}
			delete(a.backups, path)
		}
	}
}
