package iotool

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Simulator stands in for a real IOTool device in tests: it speaks the
// same line-oriented, ready-prompt-terminated protocol a Controller
// expects, without any actual hardware. Each call to Opener's returned
// func models a fresh serial connection (as happens across Reset), but
// shares the simulated device's pin and program state.
type Simulator struct {
	mu     sync.Mutex
	pins   map[string]bool
	reject map[Command]string

	// RunDelay is how long a "run" takes to finish, useful for
	// exercising WaitUntilDone cancellation.
	RunDelay time.Duration
}

// NewSimulator returns a ready Simulator with no pins driven and no
// rejected commands.
func NewSimulator() *Simulator {
	return &Simulator{pins: map[string]bool{}}
}

// Opener returns an Opener bound to this Simulator.
func (s *Simulator) Opener() Opener {
	return func() (io.ReadWriteCloser, error) {
		return s.connect(), nil
	}
}

// RejectCommand makes the simulated device respond to cmd with reason
// instead of executing it, as real hardware does for a malformed or
// out-of-range instruction.
func (s *Simulator) RejectCommand(cmd Command, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject == nil {
		s.reject = map[Command]string{}
	}
	s.reject[cmd] = reason
}

// PinHigh reports whether pin was last driven high.
func (s *Simulator) PinHigh(pin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin]
}

type session struct {
	r        *io.PipeReader
	w        *io.PipeWriter
	writeMu  sync.Mutex
	sim      *Simulator
	echo     bool
	storing  bool
	stored   []Command
	cancel   chan struct{}
	finished chan struct{}
}

func (s *Simulator) connect() *session {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	sess := &session{r: outR, w: inW, sim: s, echo: true}
	go sess.serve(inR, outW)
	return sess
}

func (sess *session) Read(p []byte) (int, error)  { return sess.r.Read(p) }
func (sess *session) Write(p []byte) (int, error) { return sess.w.Write(p) }
func (sess *session) Close() error {
	sess.w.Close()
	return sess.r.Close()
}

func (sess *session) serve(in *io.PipeReader, out *io.PipeWriter) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if sess.dispatch(line, out) {
			break
		}
	}
	out.Close()
}

// dispatch handles one line from the controller. It returns true if the
// session should stop serving (reset/close).
func (sess *session) dispatch(line string, out io.Writer) bool {
	echoed := sess.echo

	switch {
	case line == "!":
		if sess.cancel != nil {
			select {
			case <-sess.finished:
				// The last run already completed; answer like an idle
				// device.
			default:
				// A program is running; its own goroutine emits the one
				// ready prompt this abort produces.
				close(sess.cancel)
				sess.cancel = nil
				return false
			}
			sess.cancel = nil
		}
		sess.writeResp(out, echoed, line, "")
		return false
	case line == "reset":
		return true
	case line == echoOffPrefix:
		sess.echo = false
		sess.writeResp(out, echoed, line, "")
		return false
	case line == string(Program):
		sess.storing = true
		sess.stored = nil
		sess.writeResp(out, echoed, line, "")
		return false
	case line == string(End):
		sess.storing = false
		sess.writeResp(out, echoed, line, "")
		return false
	}

	cmd := Command(line)
	reason := sess.sim.rejection(cmd)

	if sess.storing {
		sess.stored = append(sess.stored, cmd)
		sess.writeResp(out, echoed, line, reason)
		return false
	}

	if strings.HasPrefix(line, "run ") {
		sess.runProgram(out, echoed, line)
		return false
	}

	if reason == "" {
		sess.sim.apply(cmd)
	}
	sess.writeResp(out, echoed, line, reason)
	return false
}

func (sess *session) runProgram(out io.Writer, echoed bool, line string) {
	var n int
	fmt.Sscanf(line, "run %d", &n)
	if echoed {
		sess.writeRaw(out, line)
	}
	cancel := make(chan struct{})
	finished := make(chan struct{})
	sess.cancel = cancel
	sess.finished = finished
	go func() {
		delay := sess.sim.RunDelay
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-cancel:
			}
		}
		for i := 0; i < n; i++ {
			select {
			case <-cancel:
				sess.writeRaw(out, ">")
				return
			default:
			}
			for _, cmd := range sess.stored {
				if sess.sim.rejection(cmd) == "" {
					sess.sim.apply(cmd)
				}
			}
		}
		close(finished)
		sess.writeRaw(out, ">")
	}()
}

func (sess *session) writeResp(out io.Writer, echoed bool, line, body string) {
	var b strings.Builder
	if echoed {
		b.WriteString(line)
	}
	b.WriteString(body)
	b.WriteString(">")
	sess.writeRaw(out, b.String())
}

func (sess *session) writeRaw(out io.Writer, s string) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	io.WriteString(out, s)
}

func (s *Simulator) rejection(cmd Command) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reject[cmd]
}

func (s *Simulator) apply(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := strings.Fields(string(cmd))
	if len(fields) < 2 {
		return
	}
	switch fields[0] {
	case "set_high":
		s.pins[fields[1]] = true
	case "set_low":
		s.pins[fields[1]] = false
	}
}
