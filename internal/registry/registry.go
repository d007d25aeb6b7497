// Package registry provides both sides of the effector coordination point:
// on the caller side, a prefix -> Session map used to dispatch a full
// slash-path to the right spawned child; on the callee side, the
// line-dispatch loop, driving an effector.Handler, that a binary
// re-invoked as `effector` runs.
package registry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/effector"
	"github.com/kilnforge/care/internal/wire"
)

// Registry maps an effector prefix to its live Session, in the order the
// descriptors were spawned.
type Registry struct {
	prefixes []string
	sessions map[string]effector.Session
}

// Init spawns one session per descriptor, eagerly, in insertion order. On
// the first spawn failure it closes whatever sessions already started and
// returns an error naming the offending prefix.
func Init(ctx context.Context, order []string, descriptors map[string]effector.Descriptor, logger *slog.Logger) (*Registry, error) {
	r := &Registry{sessions: map[string]effector.Session{}}
	for _, prefix := range order {
		d, ok := descriptors[prefix]
		if !ok {
			r.closeAll()
			return nil, careerr.New(careerr.KindUnknownEffect, fmt.Sprintf("no descriptor for effector prefix %q", prefix))
		}
		sess, err := effector.Spawn(ctx, prefix, d, logger)
		if err != nil {
			r.closeAll()
			return nil, careerr.Wrap(careerr.KindHandshake, fmt.Sprintf("initializing effector %q", prefix), err).With("effector", prefix)
		}
		r.prefixes = append(r.prefixes, prefix)
		r.sessions[prefix] = sess
	}
	return r, nil
}

// NewForTesting builds a Registry directly from already-live sessions
// (typically effector.NewInProcess wrapping a Handler fake), bypassing
// subprocess spawning entirely.
func NewForTesting(sessions map[string]effector.Session) *Registry {
	r := &Registry{sessions: map[string]effector.Session{}}
	for prefix, sess := range sessions {
		r.prefixes = append(r.prefixes, prefix)
		r.sessions[prefix] = sess
	}
	return r
}

func (r *Registry) closeAll() {
	for _, prefix := range r.prefixes {
		_ = r.sessions[prefix].Close()
	}
}

// Close tears down every spawned session: closes its stdin and waits for
// the child to exit.
func (r *Registry) Close() error {
	var first error
	for _, prefix := range r.prefixes {
		if err := r.sessions[prefix].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SplitEffectorPath splits a slash-path into its effector prefix and
// subpath at the first '/'. The caller must have already filtered out
// paths with no '/' — that is a programmer error here, not a dispatchable
// failure.
func SplitEffectorPath(path string) (prefix, subpath string) {
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		panic(fmt.Sprintf("registry: path %q has no effector prefix separator", path))
	}
	return path[:idx], path[idx+1:]
}

func (r *Registry) resolve(path string) (effector.Session, string, error) {
	prefix, subpath := SplitEffectorPath(path)
	sess, ok := r.sessions[prefix]
	if !ok {
		return nil, "", careerr.New(careerr.KindUnknownEffect, fmt.Sprintf("no spawned effector for prefix %q", prefix)).With("path", path).With("effector", prefix)
	}
	return sess, subpath, nil
}

// Detect dispatches a full slash-path to the owning effector's Detect call.
func (r *Registry) Detect(ctx context.Context, path string) (bool, error) {
	sess, subpath, err := r.resolve(path)
	if err != nil {
		return false, err
	}
	return sess.Detect(ctx, subpath)
}

// Gather dispatches a full slash-path to the owning effector's Gather call.
func (r *Registry) Gather(ctx context.Context, path, shadowRoot string) error {
	sess, subpath, err := r.resolve(path)
	if err != nil {
		return err
	}
	return sess.Gather(ctx, subpath, shadowRoot)
}

// Affect dispatches a full slash-path to the owning effector's Affect call.
func (r *Registry) Affect(ctx context.Context, path, shadowRoot string) error {
	sess, subpath, err := r.resolve(path)
	if err != nil {
		return err
	}
	return sess.Affect(ctx, subpath, shadowRoot)
}

// Serve runs the callee-side line-dispatch loop: answer the handshake
// request wherever it appears, and read and answer detect/gather/affect
// calls until EOF. It is the entry point a binary re-invoked as
// `effector` uses.
func Serve(in io.Reader, out io.Writer, h effector.Handler) error {
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil
			}
			return careerr.Wrap(careerr.KindIO, "reading request line", err)
		}
		if trimNewline(line) == wire.HandshakeRequest {
			if _, err := io.WriteString(out, wire.HandshakeResponse+"\n"); err != nil {
				return careerr.Wrap(careerr.KindIO, "writing handshake response", err)
			}
			continue
		}
		req, err := wire.ParseRequestLine(trimNewline(line))
		if err != nil {
			return err
		}
		if err := dispatch(out, h, req); err != nil {
			return err
		}
	}
}

func dispatch(out io.Writer, h effector.Handler, req wire.Request) error {
	switch req.Verb {
	case wire.VerbDetect:
		present, err := h.Detect(req.Path)
		if err != nil {
			return careerr.Wrap(careerr.KindEffector, "handler detect failed", err).With("path", req.Path)
		}
		_, err = io.WriteString(out, wire.EncodeDetectedLine(present))
		return ioErr(err)
	case wire.VerbGather:
		if err := h.Gather(req.Path, req.ShadowRoot); err != nil {
			return careerr.Wrap(careerr.KindEffector, "handler gather failed", err).With("path", req.Path)
		}
		_, err := io.WriteString(out, wire.EncodeAckLine(wire.VerbGather, req.PathEncoded, req.ShadowRootEncoded))
		return ioErr(err)
	case wire.VerbAffect:
		if err := h.Affect(req.Path, req.ShadowRoot); err != nil {
			return careerr.Wrap(careerr.KindEffector, "handler affect failed", err).With("path", req.Path)
		}
		_, err := io.WriteString(out, wire.EncodeAckLine(wire.VerbAffect, req.PathEncoded, req.ShadowRootEncoded))
		return ioErr(err)
	default:
		return careerr.New(careerr.KindProtocol, fmt.Sprintf("unhandled verb %q", req.Verb))
	}
}

func ioErr(err error) error {
	if err == nil {
		return nil
	}
	return careerr.Wrap(careerr.KindIO, "writing response line", err)
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
