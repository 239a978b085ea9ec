// Package cgi implements the spawn/drain/timeout protocol for running a
// CGI executable: pipe, fork+exec, non-blocking drain of the child's
// standard output, translated into idiomatic Go as os/exec (which
// performs the fork+exec under the hood via syscall.ForkExec) plus raw,
// manually non-blocking pipes so both the stdout read end and the stdin
// write end can be registered with our own reactor instead of Go's
// netpoller.
package cgi

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/internal/httpparse"
	"github.com/s00inx/webserv/internal/reactor"
)

// State is the per-spawned-child bookkeeping record. ReadHandle is the
// map key the owning Endpoint uses for stdout drain; StdinHandle (when
// not reactor.Invalid) is the key it uses for the stdin write.
type State struct {
	Pid        int
	ReadHandle reactor.Handle
	Client     reactor.Handle
	Output     []byte
	Start      time.Time
	// CloseAfterSend carries the requesting client's Connection preference
	// through to the response the Endpoint synthesizes once the child's
	// output is fully drained.
	CloseAfterSend bool

	// StdinHandle is the write end of the request-body pipe, registered
	// for writability while stdinSent < len(stdinBody). reactor.Invalid
	// when the request carried no body, in which case the child's stdin
	// is the null device.
	StdinHandle reactor.Handle
	stdinBody   []byte
	stdinSent   int
	stdinClosed bool

	cmd    *exec.Cmd
	closed bool
}

// Env describes the pieces of per-endpoint / per-request context needed
// to build the CGI environment per RFC 3875 §4.1.
type Env struct {
	ServerName string
	ServerPort int
}

// Spawn creates the stdout and (when the request carries a body) stdin
// pipes, starts the CGI executable with argv=[path], and returns
// bookkeeping for the owning Endpoint to register for readability (and,
// for a POST body, writability). It never blocks past process creation.
func Spawn(scriptPath string, req *httpparse.Request, env Env, client reactor.Handle) (*State, error) {
	var outFDs [2]int
	if err := unix.Pipe2(outFDs[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("cgi: stdout pipe: %w", err)
	}
	readFD, writeFD := outFDs[0], outFDs[1]
	writeFile := os.NewFile(uintptr(writeFD), "cgi-stdout-write")

	var stdinReadFD, stdinWriteFD int = -1, -1
	if len(req.Body) > 0 {
		var inFDs [2]int
		if err := unix.Pipe2(inFDs[:], unix.O_CLOEXEC); err != nil {
			writeFile.Close()
			_ = unix.Close(readFD)
			return nil, fmt.Errorf("cgi: stdin pipe: %w", err)
		}
		stdinReadFD, stdinWriteFD = inFDs[0], inFDs[1]
	}

	cmd := exec.Command(scriptPath)
	cmd.Args = []string{scriptPath}
	cmd.Env = buildEnviron(req, env)
	cmd.Stdout = writeFile
	if stdinReadFD != -1 {
		cmd.Stdin = os.NewFile(uintptr(stdinReadFD), "cgi-stdin-read")
	}

	if err := cmd.Start(); err != nil {
		writeFile.Close()
		_ = unix.Close(readFD)
		if stdinReadFD != -1 {
			_ = unix.Close(stdinReadFD)
			_ = unix.Close(stdinWriteFD)
		}
		return nil, fmt.Errorf("cgi: start %s: %w", scriptPath, err)
	}
	// The child has its own copy of each pipe end now; the parent must
	// close its copies or it will never observe EOF on the read end, and
	// the child will never observe EOF on its stdin.
	writeFile.Close()
	if stdinReadFD != -1 {
		_ = unix.Close(stdinReadFD)
	}

	if err := unix.SetNonblock(readFD, true); err != nil {
		_ = unix.Close(readFD)
		if stdinWriteFD != -1 {
			_ = unix.Close(stdinWriteFD)
		}
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("cgi: set nonblock: %w", err)
	}

	stdinHandle := reactor.Invalid
	if stdinWriteFD != -1 {
		if err := unix.SetNonblock(stdinWriteFD, true); err != nil {
			_ = unix.Close(readFD)
			_ = unix.Close(stdinWriteFD)
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("cgi: set stdin nonblock: %w", err)
		}
		stdinHandle = reactor.Handle(stdinWriteFD)
	}

	// Reap in the background. This touches no shared state the event
	// loop owns; it exists only so the kernel does not accumulate
	// zombies.
	go func() { _ = cmd.Wait() }()

	return &State{
		Pid:            cmd.Process.Pid,
		ReadHandle:     reactor.Handle(readFD),
		Client:         client,
		Start:          time.Now(),
		CloseAfterSend: req.Headers.Get("Connection") == "close",
		StdinHandle:    stdinHandle,
		stdinBody:      req.Body,
		cmd:            cmd,
	}, nil
}

// Read drains up to len(buf) bytes from the pipe. It returns the same
// three-way outcome every non-blocking I/O call in this codebase does:
// n>0 progress, n==0+err==nil EOF, or an error (including EAGAIN, which
// the caller must treat as "no progress, try again on next readiness").
func (s *State) Read(buf []byte) (int, error) {
	n, err := unix.Read(int(s.ReadHandle), buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// HasStdinPending reports whether there is still request-body data
// waiting to be written to the child's stdin.
func (s *State) HasStdinPending() bool {
	return s.StdinHandle != reactor.Invalid && s.stdinSent < len(s.stdinBody)
}

// WriteStdin writes as much of the remaining request body as the pipe
// accepts without blocking, advancing stdinSent on partial progress.
// Returns (done, err); done means the whole body has been written and
// the caller should close StdinHandle so the child observes EOF.
func (s *State) WriteStdin() (bool, error) {
	for s.stdinSent < len(s.stdinBody) {
		n, err := unix.Write(int(s.StdinHandle), s.stdinBody[s.stdinSent:])
		if n > 0 {
			s.stdinSent += n
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// CloseStdin releases the stdin write end. Idempotent and a no-op when
// the request carried no body.
func (s *State) CloseStdin() error {
	if s.StdinHandle == reactor.Invalid || s.stdinClosed {
		return nil
	}
	s.stdinClosed = true
	return unix.Close(int(s.StdinHandle))
}

// Kill sends SIGKILL to the child.
func (s *State) Kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Close releases the pipe read end and, if still open, the stdin write
// end. Idempotent: a second call is a no-op, so a caller does not need
// to track whether it already closed these handles.
func (s *State) Close() error {
	_ = s.CloseStdin()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(int(s.ReadHandle))
}

// TimedOut reports whether the child has been running longer than
// timeout.
func (s *State) TimedOut(timeout time.Duration) bool {
	return time.Since(s.Start) > timeout
}
