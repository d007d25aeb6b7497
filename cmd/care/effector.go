package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/effector"
	"github.com/kilnforge/care/internal/registry"
)

// effectorMain implements the hidden `care effector <prefix>` verb: it runs
// the callee side of the mana protocol on stdin/stdout, backed by one of
// the handlers this binary knows how to be.
//
// The engine treats effectors as external black boxes; `fs`, below, exists
// only so a freshly cloned checkout of this repo has at least one real,
// runnable effector to exercise end to end instead of only the test
// fixtures.
func effectorMain(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: care effector <prefix> [--root <dir>]")
	}
	prefix := args[0]
	root := "."
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--root":
			i++
			if i >= len(args) {
				return fmt.Errorf("--root requires a value")
			}
			root = args[i]
		default:
			return fmt.Errorf("unknown arg: %s", args[i])
		}
	}

	var h effector.Handler
	switch prefix {
	case "fs":
		h = &fsHandler{root: root}
	default:
		return fmt.Errorf("no built-in effector for prefix %q (only %q is bundled)", prefix, "fs")
	}

	return registry.Serve(os.Stdin, os.Stdout, h)
}

// fsHandler is a minimal plain-file effector: subpaths are resolved
// relative to root on the real filesystem, and the shadow copy lives at
// shadowRoot/fs/<subpath> — an effector writes only under its own prefix
// during gather.
type fsHandler struct {
	root string
}

func (h *fsHandler) realPath(subpath string) string {
	return filepath.Join(h.root, filepath.FromSlash(subpath))
}

func (h *fsHandler) shadowPath(shadowRoot, subpath string) string {
	return filepath.Join(shadowRoot, "fs", filepath.FromSlash(subpath))
}

func (h *fsHandler) Detect(subpath string) (bool, error) {
	_, err := os.Stat(h.realPath(subpath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, careerr.Wrap(careerr.KindIO, fmt.Sprintf("stat %q", subpath), err).With("path", subpath)
}

// Gather copies the real file's contents into the shadow tree.
func (h *fsHandler) Gather(subpath, shadowRoot string) error {
	dst := h.shadowPath(shadowRoot, subpath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("creating shadow parent for %q", subpath), err).With("path", subpath)
	}
	return copyFile(h.realPath(subpath), dst)
}

// Affect copies the shadow tree's contents onto the real file, or removes
// the real file if the shadow copy is absent (the working-tree entry that
// drove this call was a deletion).
func (h *fsHandler) Affect(subpath, shadowRoot string) error {
	src := h.shadowPath(shadowRoot, subpath)
	dst := h.realPath(subpath)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return careerr.Wrap(careerr.KindIO, fmt.Sprintf("removing %q", subpath), err).With("path", subpath)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("creating parent for %q", subpath), err).With("path", subpath)
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("opening %q", src), err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("stat %q", src), err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("creating %q", dst), err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return careerr.Wrap(careerr.KindIO, fmt.Sprintf("copying %q to %q", src, dst), err)
	}
	return nil
}
