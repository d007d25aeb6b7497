package registry

import (
	"strings"
	"testing"

	"github.com/kilnforge/care/internal/wire"
)

type call struct {
	verb       string
	path       string
	shadowRoot string
}

type recordingHandler struct {
	calls       []call
	detectTimes int
}

func (h *recordingHandler) Detect(subpath string) (bool, error) {
	h.calls = append(h.calls, call{verb: "detect", path: subpath})
	present := h.detectTimes%2 == 0
	h.detectTimes++
	return present, nil
}

func (h *recordingHandler) Gather(subpath, shadowRoot string) error {
	h.calls = append(h.calls, call{verb: "gather", path: subpath, shadowRoot: shadowRoot})
	return nil
}

func (h *recordingHandler) Affect(subpath, shadowRoot string) error {
	h.calls = append(h.calls, call{verb: "affect", path: subpath, shadowRoot: shadowRoot})
	return nil
}

func TestServe_ProtocolDispatch(t *testing.T) {
	input := strings.Join([]string{
		wire.HandshakeRequest,
		"detect foo/bar/baz",
		"detect fee/fo/fum",
		"gather bee/bop zee/zam",
		"affect a/b c/d",
		"",
	}, "\n")

	h := &recordingHandler{}
	var out strings.Builder
	if err := Serve(strings.NewReader(input), &out, h); err != nil {
		t.Fatal(err)
	}

	wantCalls := []call{
		{verb: "detect", path: "foo/bar/baz"},
		{verb: "detect", path: "fee/fo/fum"},
		{verb: "gather", path: "bee/bop", shadowRoot: "zee/zam"},
		{verb: "affect", path: "a/b", shadowRoot: "c/d"},
	}
	if len(h.calls) != len(wantCalls) {
		t.Fatalf("calls = %+v, want %+v", h.calls, wantCalls)
	}
	for i, want := range wantCalls {
		if h.calls[i] != want {
			t.Errorf("call[%d] = %+v, want %+v", i, h.calls[i], want)
		}
	}

	wantOut := strings.Join([]string{
		wire.HandshakeResponse,
		"detected present",
		"detected absent",
		"gathered bee/bop zee/zam",
		"affected a/b c/d",
		"",
	}, "\n")
	if out.String() != wantOut {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), wantOut)
	}
}

func TestServe_UnknownVerbIsFatal(t *testing.T) {
	h := &recordingHandler{}
	var out strings.Builder
	err := Serve(strings.NewReader("not.the.right.token\n"), &out, h)
	if err == nil {
		t.Fatal("expected error on an unrecognized line")
	}
	if len(h.calls) != 0 {
		t.Errorf("handler was called %d times on a bad stream", len(h.calls))
	}
}

func TestSplitEffectorPath(t *testing.T) {
	prefix, subpath := SplitEffectorPath("fs/etc/motd")
	if prefix != "fs" || subpath != "etc/motd" {
		t.Errorf("SplitEffectorPath = (%q, %q), want (%q, %q)", prefix, subpath, "fs", "etc/motd")
	}
}

func TestSplitEffectorPath_NoSeparatorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on path with no '/'")
		}
	}()
	SplitEffectorPath("noslash")
}
