// Package effector owns one spawned effector child process per prefix: its
// stdin/stdout pipes, the mana handshake, and the three typed calls
// (detect/gather/affect). Calls on a session are strictly request-then-
// response, one line out and one line in, so outstanding pipe data never
// exceeds a single short line.
package effector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/wire"
)

// Descriptor names the executable and arguments used to spawn an effector's
// child process.
type Descriptor struct {
	Executable string
	Args       []string
}

// Handler is the callee-side capability: the concrete effector logic for
// one namespace, independent of how it's transported. A subprocess honoring
// the wire protocol and an in-process fake both ultimately just implement
// this.
type Handler interface {
	Detect(subpath string) (bool, error)
	Gather(subpath, shadowRoot string) error
	Affect(subpath, shadowRoot string) error
}

// inProcess adapts a Handler directly to the Session interface, skipping
// subprocess spawning and wire encoding entirely. Used by engine unit tests
// so they exercise real dispatch/ordering logic without forking children.
type inProcess struct {
	h Handler
}

// NewInProcess wraps h as a Session with no child process and no pipes.
func NewInProcess(h Handler) Session {
	return &inProcess{h: h}
}

func (s *inProcess) Detect(ctx context.Context, subpath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.h.Detect(subpath)
}

func (s *inProcess) Gather(ctx context.Context, subpath, shadowRoot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.h.Gather(subpath, shadowRoot)
}

func (s *inProcess) Affect(ctx context.Context, subpath, shadowRoot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.h.Affect(subpath, shadowRoot)
}

func (s *inProcess) Close() error { return nil }

// Session is a capability to detect/gather/affect artifacts under one
// effector's namespace. It is implemented either by a spawned subprocess
// (Spawn) or by an in-process Handler (NewInProcess), so engine tests never
// need to fork real children.
type Session interface {
	Detect(ctx context.Context, subpath string) (bool, error)
	Gather(ctx context.Context, subpath, shadowRoot string) error
	Affect(ctx context.Context, subpath, shadowRoot string) error
	Close() error
}

// process is the subprocess-backed Session implementation.
type process struct {
	prefix string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu sync.Mutex // calls are sequential; guards against accidental concurrent use
}

// Spawn starts the child described by d, performs the mana handshake, and
// returns a live Session. Child stderr is inherited so operators see the
// effector's own diagnostics directly.
func Spawn(ctx context.Context, prefix string, d Descriptor, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cmd := exec.CommandContext(ctx, d.Executable, d.Args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, careerr.Wrap(careerr.KindIO, "open effector stdin pipe", err).With("effector", prefix)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, careerr.Wrap(careerr.KindIO, "open effector stdout pipe", err).With("effector", prefix)
	}

	if err := cmd.Start(); err != nil {
		return nil, careerr.Wrap(careerr.KindHandshake, fmt.Sprintf("start effector %q", d.Executable), err).With("effector", prefix)
	}

	p := &process{prefix: prefix, cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	logger.Debug("spawned effector", "prefix", prefix, "executable", d.Executable, "pid", cmd.Process.Pid)

	if err := p.handshake(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *process) handshake(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := io.WriteString(p.stdin, wire.HandshakeRequest+"\n"); err != nil {
		return p.ioFailure("handshake", err)
	}
	line, err := p.readLine()
	if err != nil {
		return p.ioFailure("handshake", err)
	}
	if line != wire.HandshakeResponse {
		return careerr.New(careerr.KindHandshake, fmt.Sprintf("effector %q did not respond with %q, got %q", p.prefix, wire.HandshakeResponse, line)).With("effector", p.prefix)
	}
	return nil
}

func (p *process) Detect(ctx context.Context, subpath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := io.WriteString(p.stdin, wire.EncodeCallLine(wire.VerbDetect, subpath, "")); err != nil {
		return false, p.ioFailure("detect", err)
	}
	line, err := p.readLine()
	if err != nil {
		return false, p.ioFailure("detect", err)
	}
	present, err := wire.ParseDetectedResponse(line)
	if err != nil {
		return false, err
	}
	return present, nil
}

func (p *process) Gather(ctx context.Context, subpath, shadowRoot string) error {
	return p.call(ctx, wire.VerbGather, subpath, shadowRoot)
}

func (p *process) Affect(ctx context.Context, subpath, shadowRoot string) error {
	return p.call(ctx, wire.VerbAffect, subpath, shadowRoot)
}

func (p *process) call(ctx context.Context, v wire.Verb, subpath, shadowRoot string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	encPath, encRoot := wire.EncodeCallArgs(subpath, shadowRoot)
	if _, err := io.WriteString(p.stdin, fmt.Sprintf("%s %s %s\n", v, encPath, encRoot)); err != nil {
		return p.ioFailure(string(v), err)
	}
	line, err := p.readLine()
	if err != nil {
		return p.ioFailure(string(v), err)
	}
	echoed, err := wire.ParseAckResponse(v, line)
	if err != nil {
		return err
	}
	want := encPath + " " + encRoot
	if echoed != want {
		return careerr.New(careerr.KindProtocol, fmt.Sprintf("effector %q echoed %q, expected %q", p.prefix, echoed, want)).With("effector", p.prefix)
	}
	return nil
}

func (p *process) readLine() (string, error) {
	line, err := p.stdout.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
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

// ioFailure turns a pipe error into a diagnostic that tells the operator
// whether the child crashed or may be hung, rather than a bare "broken
// pipe"/"EOF". EOF and EPIPE mean the child closed its side of the pipe;
// for anything else, signal 0 probes whether the PID still exists.
func (p *process) ioFailure(verb string, cause error) error {
	msg := fmt.Sprintf("effector %q failed during %s call", p.prefix, verb)
	switch {
	case errors.Is(cause, io.EOF), errors.Is(cause, syscall.EPIPE):
		msg += " (child closed its pipe; it has likely exited)"
	case p.cmd.Process != nil && syscall.Kill(p.cmd.Process.Pid, 0) == nil:
		msg += " (child process is still running; it may be hung)"
	default:
		msg += " (child process has exited)"
	}
	return careerr.Wrap(careerr.KindProtocol, msg, cause).With("effector", p.prefix)
}

func (p *process) Close() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}
