package pathset

import (
	"reflect"
	"testing"

	"github.com/kilnforge/care/internal/careerr"
)

func TestSet_SortedIsDeterministic(t *testing.T) {
	s := New()
	for _, p := range []string{"fs/b", "fs/a", "pkg/curl", "fs/a"} {
		s.Insert(p)
	}
	got := s.Sorted()
	want := []string{"fs/a", "fs/b", "pkg/curl"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestSet_RemoveAndContains(t *testing.T) {
	s := New()
	s.Insert("fs/a")
	if !s.Contains("fs/a") {
		t.Fatal("expected fs/a to be present")
	}
	s.Remove("fs/a")
	if s.Contains("fs/a") {
		t.Fatal("expected fs/a to be gone after Remove")
	}
	s.Remove("fs/never-inserted") // no-op, must not panic
}

func TestIsIgnored_ExactPrefixOnly(t *testing.T) {
	ignores := []string{"fs/.cache/"}
	cases := map[string]bool{
		"fs/.cache/blob": true,
		"fs/.cache":      false, // pattern has trailing slash; not a prefix of this
		"fs/other":       false,
		"pkg/curl":       false,
	}
	for path, want := range cases {
		if got := IsIgnored(path, ignores); got != want {
			t.Errorf("IsIgnored(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestIsIgnored_NoGlobExpansion(t *testing.T) {
	// "*" is not special; it must match only as a literal character.
	if IsIgnored("fs/anything", []string{"fs/*"}) {
		t.Error("IsIgnored treated '*' as a glob; matching must be a plain prefix test")
	}
}

func TestCaseFoldIndex_ObserveThenCheckInsert(t *testing.T) {
	idx := NewCaseFoldIndex()
	idx.Observe("fs/Readme")

	if err := idx.CheckInsert("fs/README"); !careerr.Is(err, careerr.KindCaseMismatch) {
		t.Fatalf("CheckInsert(fs/README) = %v, want KindCaseMismatch", err)
	}
	if err := idx.CheckInsert("fs/Readme"); err != nil {
		t.Fatalf("CheckInsert with identical casing should succeed, got %v", err)
	}
	if err := idx.CheckInsert("fs/other"); err != nil {
		t.Fatalf("CheckInsert(fs/other) = %v, want nil", err)
	}
}
