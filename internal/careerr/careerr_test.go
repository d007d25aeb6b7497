package careerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap_NilCauseIsNil(t *testing.T) {
	if err := Wrap(KindIO, "irrelevant", nil); err != nil {
		t.Fatalf("Wrap(..., nil) = %v, want nil", err)
	}
}

func TestWith_ChainsContext(t *testing.T) {
	err := New(KindProtocol, "bad frame").With("verb", "detect").With("path", "fs/a")
	msg := err.Error()
	if !strings.Contains(msg, "verb=detect") || !strings.Contains(msg, "path=fs/a") {
		t.Fatalf("Error() = %q, missing context", msg)
	}
}

func TestErrorsAs_RoundTripsThroughWrapping(t *testing.T) {
	inner := New(KindRepo, "no such repo")
	wrapped := fmt.Errorf("opening shadow: %w", inner)

	var ce *Error
	if !errors.As(wrapped, &ce) {
		t.Fatal("errors.As failed to find *Error through fmt.Errorf wrapping")
	}
	if ce.Kind != KindRepo {
		t.Errorf("ce.Kind = %v, want KindRepo", ce.Kind)
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("context: %w", New(KindDrift, "diverged"))
	if !Is(err, KindDrift) {
		t.Fatal("Is(err, KindDrift) = false, want true")
	}
	if Is(err, KindRepo) {
		t.Fatal("Is(err, KindRepo) = true, want false")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindIO) {
		t.Fatal("Is() matched a plain error")
	}
}
