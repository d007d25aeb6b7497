package effector

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kilnforge/care/internal/careerr"
)

// buildFixture compiles testdata/fixture, a minimal real subprocess
// effector, so Spawn/Detect/Gather/Affect are exercised against an actual
// child process instead of only the in-process fake.
func buildFixture(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	bin := filepath.Join(t.TempDir(), "fixture")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fixture")
	cmd.Dir = wd
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build fixture: %v\n%s", err, out)
	}
	return bin
}

func TestSpawn_HandshakeAndCalls(t *testing.T) {
	bin := buildFixture(t)
	ctx := context.Background()

	sess, err := Spawn(ctx, "fs", Descriptor{Executable: bin}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sess.Close()

	present, err := sess.Detect(ctx, "some/present")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !present {
		t.Errorf("Detect(.../present) = false, want true")
	}

	present, err = sess.Detect(ctx, "some/absent")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if present {
		t.Errorf("Detect(.../absent) = true, want false")
	}

	shadowRoot := t.TempDir()
	if err := sess.Gather(ctx, "a/b", shadowRoot); err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if _, err := os.Stat(filepath.Join(shadowRoot, "a/b.gathered")); err != nil {
		t.Errorf("expected gathered marker file: %v", err)
	}

	if err := sess.Affect(ctx, "c/d", shadowRoot); err != nil {
		t.Fatalf("Affect: %v", err)
	}
	if _, err := os.Stat(filepath.Join(shadowRoot, "c/d.affected")); err != nil {
		t.Errorf("expected affected marker file: %v", err)
	}
}

func TestSpawn_HandshakeFailure(t *testing.T) {
	ctx := context.Background()
	// "cat" echoes stdin to stdout instead of ever sending the expected
	// handshake response, so Spawn must fail with HandshakeError.
	_, err := Spawn(ctx, "fs", Descriptor{Executable: "cat"}, nil)
	if !careerr.Is(err, careerr.KindHandshake) {
		t.Fatalf("Spawn err = %v, want KindHandshake", err)
	}
}

func TestSpawn_MissingExecutable(t *testing.T) {
	ctx := context.Background()
	_, err := Spawn(ctx, "fs", Descriptor{Executable: "care-effector-does-not-exist"}, nil)
	if err == nil {
		t.Fatal("expected an error for a missing executable")
	}
}
