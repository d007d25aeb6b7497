// Command fixture is a minimal effector used only by effector_test.go to
// exercise effector.Spawn and the mana wire codec against a real child
// process instead of an in-process fake.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilnforge/care/internal/registry"
)

type handler struct{}

func (handler) Detect(subpath string) (bool, error) {
	return strings.HasSuffix(subpath, "present"), nil
}

func (handler) Gather(subpath, shadowRoot string) error {
	return writeMarker(shadowRoot, subpath+".gathered")
}

func (handler) Affect(subpath, shadowRoot string) error {
	return writeMarker(shadowRoot, subpath+".affected")
}

func writeMarker(shadowRoot, rel string) error {
	dst := filepath.Join(shadowRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("ok"), 0o644)
}

func main() {
	if err := registry.Serve(os.Stdin, os.Stdout, handler{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
