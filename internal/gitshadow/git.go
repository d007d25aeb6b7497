// Package gitshadow adapts a git working tree as the reconciliation
// engine's shadow repo: reading HEAD's tree, querying working-tree status,
// and staging index changes — all by shelling out to the git binary, the
// same way the rest of this codebase's lineage talks to git (no CGo
// libgit2 binding).
package gitshadow

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kilnforge/care/internal/careerr"
)

// CommandError wraps a failed git invocation with its args and captured
// stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, error) {
	// Disable Git's background auto-maintenance (a default in newer Git
	// versions) to keep reconciliation runs deterministic and avoid
	// spawning extra helper processes mid-run.
	base := []string{"-C", dir, "-c", "maintenance.auto=0", "-c", "gc.auto=0"}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Repo is a git working tree rooted at Dir, used as the reconciliation
// mirror. Commits, branches and remotes are managed by the operator
// outside this system; the engine only reads HEAD's tree, reads/writes
// the working tree, and stages the index.
type Repo struct {
	Dir string
}

// Open opens dir as an existing git repository. Fails with a RepoError if
// dir is not inside a git working tree.
func Open(dir string) (*Repo, error) {
	out, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, careerr.Wrap(careerr.KindRepo, fmt.Sprintf("%q is not a git working tree", dir), err)
	}
	if strings.TrimSpace(out) != "true" {
		return nil, careerr.New(careerr.KindRepo, fmt.Sprintf("%q is not a git working tree", dir))
	}
	return &Repo{Dir: dir}, nil
}

// WalkAction is returned by a WalkTree visitor.
type WalkAction int

const (
	// Continue visits the entry's children (if it is a directory).
	Continue WalkAction = iota
	// SkipSubtree prunes everything beneath a directory entry without
	// visiting it. Meaningless (but harmless) when returned for a file.
	SkipSubtree
)

// WalkTree enumerates HEAD's tree in pre-order, calling visit once per
// entry (file or directory) with its slash-path and whether it is a
// directory. The engine returns SkipSubtree from visit to prune an
// ignored prefix without descending into it.
func (r *Repo) WalkTree(visit func(path string, isDir bool) WalkAction) error {
	return r.walkLevel("HEAD", "", visit)
}

func (r *Repo) walkLevel(ref, dirPrefix string, visit func(path string, isDir bool) WalkAction) error {
	treeish := ref
	if dirPrefix != "" {
		treeish = ref + ":" + dirPrefix
	}
	out, err := runGit(r.Dir, "ls-tree", treeish)
	if err != nil {
		// An unborn branch (no commits yet) has no HEAD tree to walk; treat
		// it as an empty tree rather than a fatal error.
		if dirPrefix == "" && isUnbornHead(err) {
			return nil
		}
		return careerr.Wrap(careerr.KindRepo, fmt.Sprintf("listing tree at %q", dirPrefix), err)
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		meta, name, ok := strings.Cut(line, "\t")
		if !ok {
			return careerr.New(careerr.KindRepo, fmt.Sprintf("unparseable ls-tree line: %q", line))
		}
		fields := strings.Fields(meta)
		if len(fields) < 2 {
			return careerr.New(careerr.KindRepo, fmt.Sprintf("unparseable ls-tree line: %q", line))
		}
		objType := fields[1]
		isDir := objType == "tree"
		path := name
		if dirPrefix != "" {
			path = dirPrefix + "/" + name
		}
		action := visit(path, isDir)
		if isDir && action != SkipSubtree {
			if err := r.walkLevel(ref, path, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// isUnbornHead matches the git diagnostics for resolving HEAD in a repo
// with no commits yet; the exact wording varies across git versions.
func isUnbornHead(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a valid object name") ||
		strings.Contains(msg, "ambiguous argument")
}

// StatusKind classifies one working-tree status entry.
type StatusKind string

const (
	StatusNew      StatusKind = "new"
	StatusModified StatusKind = "modified"
	StatusDeleted  StatusKind = "deleted"
	StatusOther    StatusKind = "other"
)

// StatusEntry is one line of working-tree status.
type StatusEntry struct {
	Path string
	Kind StatusKind
}

// Statuses returns the working-tree status (including untracked files),
// excluding any path for which isIgnored reports true.
func (r *Repo) Statuses(isIgnored func(path string) bool) ([]StatusEntry, error) {
	out, err := runGit(r.Dir, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, careerr.Wrap(careerr.KindRepo, "reading working-tree status", err)
	}
	var entries []StatusEntry
	fields := splitNUL(out)
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if entry == "" {
			continue
		}
		if len(entry) < 4 {
			return nil, careerr.New(careerr.KindRepo, fmt.Sprintf("unparseable status entry: %q", entry))
		}
		xy := entry[:2]
		path := entry[3:]
		if xy[0] == 'R' || xy[0] == 'C' {
			// Rename/copy entries carry the original path as a second
			// NUL-terminated field; consume it.
			i++
		}
		if isIgnored != nil && isIgnored(path) {
			continue
		}
		entries = append(entries, StatusEntry{Path: path, Kind: classifyStatus(xy)})
	}
	return entries, nil
}

func classifyStatus(xy string) StatusKind {
	if xy == "??" {
		return StatusNew
	}
	// An entry already touched in the index (staged, renamed, copied,
	// unmerged) is not a plain working-tree change; apply refuses it.
	if xy[0] != ' ' {
		return StatusOther
	}
	switch xy[1] {
	case 'M':
		return StatusModified
	case 'D':
		return StatusDeleted
	case 'A':
		return StatusNew
	default:
		return StatusOther
	}
}

func splitNUL(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\x00")
	return strings.Split(s, "\x00")
}

// StatusesAreEmpty is a convenience wrapper reporting whether Statuses
// returns no entries.
func (r *Repo) StatusesAreEmpty(isIgnored func(path string) bool) (bool, error) {
	entries, err := r.Statuses(isIgnored)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Index is a staging handle into the repo's git index.
type Index struct {
	repo *Repo
}

// OpenIndex returns a staging handle for the repo's index.
func (r *Repo) OpenIndex() *Index {
	return &Index{repo: r}
}

// AddPath stages path as added/modified.
func (ix *Index) AddPath(path string) error {
	if _, err := runGit(ix.repo.Dir, "add", "--", path); err != nil {
		return careerr.Wrap(careerr.KindRepo, fmt.Sprintf("staging %q", path), err).With("path", path)
	}
	return nil
}

// RemovePath stages path's deletion from the index without touching the
// (already-absent) working tree file.
func (ix *Index) RemovePath(path string) error {
	if _, err := runGit(ix.repo.Dir, "rm", "--cached", "--ignore-unmatch", "--", path); err != nil {
		return careerr.Wrap(careerr.KindRepo, fmt.Sprintf("unstaging %q", path), err).With("path", path)
	}
	return nil
}

// Write flushes pending index changes to disk. Each AddPath/RemovePath
// call above already runs a standalone git invocation that persists the
// on-disk index file synchronously, so Write has nothing left to do; it
// exists so call sites can follow the same write-after-every-mutation
// shape as the rest of the reconciliation algorithm.
func (ix *Index) Write() error {
	return nil
}
