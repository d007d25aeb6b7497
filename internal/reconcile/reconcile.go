// Package reconcile implements the three verbs the rest of this system
// exists to serve: draft (desired -> shadow), check (real -> shadow,
// verify against desired), and apply (shadow -> real). It is the
// orchestration layer tying together the wire codec, effector registry,
// shadow repo adapter, and path set into a diff between real disk, the
// shadow git tree, and the declared script.
package reconcile

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/gitshadow"
	"github.com/kilnforge/care/internal/pathset"
	"github.com/kilnforge/care/internal/registry"
	"github.com/kilnforge/care/internal/runid"
	"github.com/kilnforge/care/internal/scriptfile"
)

// Engine holds the state one verb invocation needs: the validated
// script, the live effector registry, and a logger.
type Engine struct {
	Script   *scriptfile.Script
	Registry *registry.Registry
	Logger   *slog.Logger
	RunID    string
}

// New builds an Engine. A nil logger discards everything.
func New(script *scriptfile.Script, reg *registry.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{Script: script, Registry: reg, Logger: logger, RunID: runid.New()}
}

func (e *Engine) log() *slog.Logger {
	return e.Logger.With("run_id", e.RunID)
}

func (e *Engine) isIgnored(path string) bool {
	return pathset.IsIgnored(path, e.Script.Ignores)
}

// Draft materializes the script's declared contents into the shadow
// working tree, so the operator can review git diff before applying. No
// effector is consulted; no git staging is performed.
func (e *Engine) Draft(ctx context.Context) error {
	log := e.log()
	repo, err := gitshadow.Open(e.Script.ShadowDir)
	if err != nil {
		return err
	}

	gitPaths := pathset.New()
	err = repo.WalkTree(func(path string, isDir bool) gitshadow.WalkAction {
		if e.isIgnored(path) {
			return gitshadow.SkipSubtree
		}
		if !isDir {
			gitPaths.Insert(path)
		}
		return gitshadow.Continue
	})
	if err != nil {
		return err
	}

	for _, entry := range e.Script.Paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.isIgnored(entry.Path) {
			return careerr.New(careerr.KindIgnoredPath, fmt.Sprintf("script path %q matches an ignore pattern", entry.Path)).With("path", entry.Path)
		}
		full := filepath.Join(e.Script.ShadowDir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return careerr.Wrap(careerr.KindIO, fmt.Sprintf("creating parent directories for %q", entry.Path), err).With("path", entry.Path)
		}
		if err := os.WriteFile(full, entry.Contents, 0o644); err != nil {
			return careerr.Wrap(careerr.KindIO, fmt.Sprintf("writing %q", entry.Path), err).With("path", entry.Path)
		}
		log.Debug("wrote draft file", "path", entry.Path, "fingerprint", fingerprint(entry.Contents))
		gitPaths.Remove(entry.Path)
	}

	for _, stray := range gitPaths.Sorted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(e.Script.ShadowDir, filepath.FromSlash(stray))
		if err := os.Remove(full); err != nil {
			return careerr.Wrap(careerr.KindIO, fmt.Sprintf("removing stray %q", stray), err).With("path", stray)
		}
		log.Debug("removed stray draft file", "path", stray)
	}
	return nil
}

// Check refreshes the shadow working tree from the machine's current
// state via effector detect/gather calls, then verifies the result
// matches what is already committed in git.
func (e *Engine) Check(ctx context.Context) error {
	log := e.log()
	repo, err := gitshadow.Open(e.Script.ShadowDir)
	if err != nil {
		return err
	}

	clean, err := repo.StatusesAreEmpty(e.isIgnored)
	if err != nil {
		return err
	}
	if !clean {
		return careerr.New(careerr.KindDirtyRepo, "shadow repo must be clean before check")
	}

	paths := pathset.New()
	caseIdx := pathset.NewCaseFoldIndex()
	err = repo.WalkTree(func(path string, isDir bool) gitshadow.WalkAction {
		if e.isIgnored(path) {
			return gitshadow.SkipSubtree
		}
		if !isDir {
			// A root-level file has no effector prefix and cannot be
			// dispatched; leave it out of the universe.
			if !strings.Contains(path, "/") {
				log.Debug("skipping non-dispatchable root-level path", "path", path)
				return gitshadow.Continue
			}
			caseIdx.Observe(path)
			paths.Insert(path)
		}
		return gitshadow.Continue
	})
	if err != nil {
		return err
	}
	for _, entry := range e.Script.Paths {
		if e.isIgnored(entry.Path) {
			continue
		}
		if err := caseIdx.CheckInsert(entry.Path); err != nil {
			return err
		}
		paths.Insert(entry.Path)
	}

	for _, path := range paths.Sorted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(e.Script.ShadowDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return careerr.Wrap(careerr.KindIO, fmt.Sprintf("creating parent directories for %q", path), err).With("path", path)
		}

		present, err := e.Registry.Detect(ctx, path)
		if err != nil {
			return err
		}
		if !present {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return careerr.Wrap(careerr.KindIO, fmt.Sprintf("removing %q after absent detect", path), err).With("path", path)
			}
			log.Debug("detected absent", "path", path)
			continue
		}

		if err := e.Registry.Gather(ctx, path, e.Script.ShadowDir); err != nil {
			return err
		}
		if data, readErr := os.ReadFile(full); readErr == nil {
			log.Debug("gathered", "path", path, "fingerprint", fingerprint(data))
		}
	}

	clean, err = repo.StatusesAreEmpty(e.isIgnored)
	if err != nil {
		return err
	}
	if !clean {
		return careerr.New(careerr.KindDrift, "machine state disagrees with committed expectation after gather; inspect git diff in the shadow directory")
	}
	return nil
}

// Apply pushes operator-approved changes from the shadow working tree
// out to the machine via effector affect calls, staging the git index as
// it goes. No commit is performed; the operator commits the result.
func (e *Engine) Apply(ctx context.Context) error {
	log := e.log()
	repo, err := gitshadow.Open(e.Script.ShadowDir)
	if err != nil {
		return err
	}
	index := repo.OpenIndex()

	entries, err := repo.Statuses(e.isIgnored)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !utf8.ValidString(entry.Path) {
			return careerr.New(careerr.KindIO, fmt.Sprintf("path %q is not valid UTF-8", entry.Path)).With("path", entry.Path)
		}
		if !strings.Contains(entry.Path, "/") {
			log.Debug("skipping non-dispatchable root-level path", "path", entry.Path)
			continue
		}

		if err := e.Registry.Affect(ctx, entry.Path, e.Script.ShadowDir); err != nil {
			return err
		}

		switch entry.Kind {
		case gitshadow.StatusNew, gitshadow.StatusModified:
			if err := index.AddPath(entry.Path); err != nil {
				return err
			}
		case gitshadow.StatusDeleted:
			if err := index.RemovePath(entry.Path); err != nil {
				return err
			}
		default:
			return careerr.New(careerr.KindUnsupported, fmt.Sprintf("path %q has unsupported status %q", entry.Path, entry.Kind)).With("path", entry.Path)
		}
		if err := index.Write(); err != nil {
			return err
		}
		log.Debug("applied", "path", entry.Path, "status", string(entry.Kind))
	}
	return nil
}

func fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
