// Package wire implements the mana coordination protocol: a newline-framed,
// percent-encoded request/response grammar spoken between the reconciliation
// engine (caller) and an effector child process (callee) over stdin/stdout.
package wire

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kilnforge/care/internal/careerr"
)

// HandshakeRequest and HandshakeResponse are the fixed version tokens
// exchanged before any verb traffic.
const (
	HandshakeRequest  = "com.akavel.mana.v2.rq"
	HandshakeResponse = "com.akavel.mana.v2.rs"
)

// Verb identifies one of the three caller-issued operations.
type Verb string

const (
	VerbDetect Verb = "detect"
	VerbGather Verb = "gather"
	VerbAffect Verb = "affect"
)

// ackVerb is the callee's response verb for a given caller verb: "detect" ->
// "detected", "gather" -> "gathered", "affect" -> "affected".
func ackVerb(v Verb) string {
	return string(v) + "ed"
}

// EncodePath percent-encodes a slash-path argument: every byte outside the
// URL unreserved set (ALPHA / DIGIT / "-" / "_" / "." / "~") becomes %XX, so
// a space, newline, or percent sign can never appear unescaped. net/url's
// PathEscape is not strict enough here: it leaves sub-delims like '@' and
// '&' alone.
func EncodePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}

// DecodePath reverses EncodePath. A malformed escape sequence is a
// ProtocolError.
func DecodePath(enc string) (string, error) {
	p, err := url.PathUnescape(enc)
	if err != nil {
		return "", careerr.Wrap(careerr.KindProtocol, "malformed percent-encoding in wire argument", err).With("path", enc)
	}
	return p, nil
}

// Request is one caller->callee line, split into verb, decoded arguments,
// and the raw encoded tokens as received (needed to echo them verbatim in
// the gather/affect ack).
type Request struct {
	Verb Verb
	Path string
	// ShadowRoot is set for gather/affect, empty for detect.
	ShadowRoot string

	PathEncoded       string
	ShadowRootEncoded string
}

// EncodeCallLine renders the line the caller writes to the child's stdin for
// a detect/gather/affect call.
func EncodeCallLine(v Verb, path string, shadowRoot string) string {
	switch v {
	case VerbDetect:
		return fmt.Sprintf("%s %s\n", v, EncodePath(path))
	default:
		return fmt.Sprintf("%s %s %s\n", v, EncodePath(path), EncodePath(shadowRoot))
	}
}

// EncodeCallArgs returns the percent-encoded tokens for path and shadowRoot,
// for callers that need to compare them against an echoed ack response.
func EncodeCallArgs(path, shadowRoot string) (encPath, encShadowRoot string) {
	return EncodePath(path), EncodePath(shadowRoot)
}

// ParseRequestLine parses one line read by the callee side (registry.Serve).
// line must not include its trailing newline.
func ParseRequestLine(line string) (Request, error) {
	if line == "" {
		return Request{}, careerr.New(careerr.KindProtocol, "empty line is not a valid protocol frame")
	}
	fields := strings.Split(line, " ")
	verb := Verb(fields[0])
	switch verb {
	case VerbDetect:
		if len(fields) != 2 {
			return Request{}, careerr.New(careerr.KindProtocol, fmt.Sprintf("expected exactly 1 arg to %q, got %d", verb, len(fields)-1))
		}
		path, err := DecodePath(fields[1])
		if err != nil {
			return Request{}, err
		}
		return Request{Verb: verb, Path: path, PathEncoded: fields[1]}, nil
	case VerbGather, VerbAffect:
		if len(fields) != 3 {
			return Request{}, careerr.New(careerr.KindProtocol, fmt.Sprintf("expected exactly 2 args to %q, got %d", verb, len(fields)-1))
		}
		path, err := DecodePath(fields[1])
		if err != nil {
			return Request{}, err
		}
		root, err := DecodePath(fields[2])
		if err != nil {
			return Request{}, err
		}
		return Request{Verb: verb, Path: path, ShadowRoot: root, PathEncoded: fields[1], ShadowRootEncoded: fields[2]}, nil
	default:
		return Request{}, careerr.New(careerr.KindProtocol, fmt.Sprintf("unknown verb %q", fields[0]))
	}
}

// EncodeDetectedLine renders the callee's answer to a detect call.
func EncodeDetectedLine(present bool) string {
	if present {
		return "detected present\n"
	}
	return "detected absent\n"
}

// EncodeAckLine renders the callee's echo response to a gather/affect
// call; the response echoes the caller's encoded arguments verbatim.
func EncodeAckLine(v Verb, encodedPath, encodedShadowRoot string) string {
	return fmt.Sprintf("%s %s %s\n", ackVerb(v), encodedPath, encodedShadowRoot)
}

// ParseDetectedResponse parses the callee's answer to a detect call.
func ParseDetectedResponse(line string) (present bool, err error) {
	switch line {
	case "detected present":
		return true, nil
	case "detected absent":
		return false, nil
	default:
		return false, careerr.New(careerr.KindProtocol, fmt.Sprintf("bad mana protocol response to detect: %q", line))
	}
}

// ParseAckResponse validates that line is the expected ack for verb v and
// returns its trailing argument text (kept encoded, since callers already
// hold the encoded form they sent and only need to confirm the echo).
func ParseAckResponse(v Verb, line string) (string, error) {
	prefix := ackVerb(v) + " "
	suffix, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", careerr.New(careerr.KindProtocol, fmt.Sprintf("bad mana protocol response to %s: %q", v, line))
	}
	return suffix, nil
}
