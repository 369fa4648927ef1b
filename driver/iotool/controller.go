// package iotool drives the IOTool microcontroller: a serial
// byte-code interpreter used to time TTL/PWM signals to camera and
// illumination hardware in tight lock-step with a sequencer run.
package iotool

import (
	"bufio"
	"context"
	"io"
	"time"
)

const (
	readyPrompt = '>'

	// echoOffPrefix disables command echo on the device; sent once,
	// right after reset.
	echoOffPrefix = "\x80\xff"

	resetReopenDeadline = 5 * time.Second
	settleDelay         = 100 * time.Millisecond
)

// reopenBackoff are the delays tried, in order, when reopening the
// serial port immediately after a reset races with the OS re-enumerating
// the device node (EBUSY).
var reopenBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// Opener opens (or reopens) the serial connection to the IOTool device.
// Reset needs to close and reopen the underlying port because the
// device re-enumerates on reset, so Controller is handed an Opener
// rather than an already-open connection.
type Opener func() (io.ReadWriteCloser, error)

// Controller is a handle to a running IOTool microcontroller.
type Controller struct {
	open Opener
	conn io.ReadWriteCloser
	bufr *bufio.Reader
}

// Open resets the IOTool device via open and returns a ready Controller.
// See Reset for the protocol.
func Open(open Opener) (*Controller, error) {
	c := &Controller{open: open}
	if err := c.Reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset performs the device's reset protocol: the abort character and
// reset (no serial break is sent), close
// (the device re-enumerates), poll for the port to reappear, reopen
// with backoff, disable echo, and confirm the acknowledgement.
func (c *Controller) Reset() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := c.open()
	if err != nil {
		return &SerialError{Op: "open for reset", Err: err}
	}
	if _, err := conn.Write([]byte("!\nreset\n")); err != nil {
		conn.Close()
		return &SerialError{Op: "write reset", Err: err}
	}
	conn.Close()

	deadline := time.Now().Add(resetReopenDeadline)
	var lastErr error
	for attempt := 0; ; attempt++ {
		conn, lastErr = c.open()
		if lastErr == nil {
			break
		}
		if time.Now().After(deadline) {
			return &UnresponsiveError{Reason: "device did not come back after reset: " + lastErr.Error()}
		}
		delay := reopenBackoff[len(reopenBackoff)-1]
		if attempt < len(reopenBackoff) {
			delay = reopenBackoff[attempt]
		}
		time.Sleep(delay)
	}

	c.conn = conn
	c.bufr = bufio.NewReaderSize(conn, 256)

	if _, err := conn.Write([]byte(echoOffPrefix + "\n")); err != nil {
		return &SerialError{Op: "write echo-off", Err: err}
	}
	reply, err := c.readUntilPrompt()
	if err != nil {
		return &UnresponsiveError{Reason: "no reply to echo-off: " + err.Error()}
	}
	if reply != echoOffPrefix {
		return &UnresponsiveError{Reason: "unexpected echo-off reply: " + reply}
	}
	if err := c.assertEmptyBuffer(); err != nil {
		return err
	}
	return nil
}

// Execute runs each command in turn, waiting for the device's ready
// prompt after each before sending the next, and returns each command's
// response text (empty string if the command produced no output).
func (c *Controller) Execute(cmds ...Command) ([]string, error) {
	if err := c.assertEmptyBuffer(); err != nil {
		return nil, err
	}
	responses := make([]string, len(cmds))
	for i, cmd := range cmds {
		if _, err := c.conn.Write([]byte(string(cmd) + "\n")); err != nil {
			return nil, &SerialError{Op: "write " + string(cmd), Err: err}
		}
		resp, err := c.readUntilPrompt()
		if err != nil {
			return nil, err
		}
		responses[i] = resp
	}
	if err := c.assertEmptyBuffer(); err != nil {
		return nil, err
	}
	return responses, nil
}

// StoreProgram sends cmds to the device bracketed by program/end, but
// does not run it. It fails with ProgramError naming every command
// that produced output (the device's way of rejecting a command at
// compile time).
func (c *Controller) StoreProgram(cmds ...Command) error {
	all := make([]Command, 0, len(cmds)+2)
	all = append(all, Program)
	all = append(all, cmds...)
	all = append(all, End)
	responses, err := c.Execute(all...)
	if err != nil {
		return err
	}
	offenders := map[Command]string{}
	for i, resp := range responses {
		if resp != "" {
			offenders[all[i]] = resp
		}
	}
	if len(offenders) > 0 {
		return &ProgramError{Offenders: offenders}
	}
	return nil
}

// StartProgram runs the currently stored program iters times. If cmds
// is non-empty it is stored first. After StartProgram returns, the
// caller must eventually call WaitUntilDone.
func (c *Controller) StartProgram(iters int, cmds ...Command) error {
	if len(cmds) > 0 {
		if err := c.StoreProgram(cmds...); err != nil {
			return err
		}
	} else if err := c.assertEmptyBuffer(); err != nil {
		return err
	}
	if _, err := c.conn.Write([]byte(string(Run(iters)) + "\n")); err != nil {
		return &SerialError{Op: "write run", Err: err}
	}
	return nil
}

// WaitUntilDone blocks until the running command or program produces
// the ready prompt, returning any text it printed beforehand. If ctx is
// cancelled first, WaitUntilDone sends the abort character and waits
// for the same pending read to pick up the single ready prompt the
// abort produces, then returns ctx.Err().
//
// Only one goroutine ever calls readUntilPrompt on c.bufr at a time:
// the abort path must not start a second concurrent read.
func (c *Controller) WaitUntilDone(ctx context.Context) (string, error) {
	type result struct {
		s   string
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.readUntilPrompt()
		done <- result{s, err}
	}()
	select {
	case r := <-done:
		return r.s, r.err
	case <-ctx.Done():
		if _, err := c.conn.Write([]byte(string(Abort) + "\n")); err != nil {
			<-done
			return "", &SerialError{Op: "write abort", Err: err}
		}
		r := <-done
		if r.err != nil {
			return "", r.err
		}
		time.Sleep(settleDelay)
		if err := c.assertEmptyBuffer(); err != nil {
			return "", err
		}
		return "", ctx.Err()
	}
}

// Stop force-terminates a running program or command. It must not be
// called while a WaitUntilDone call for the same run is outstanding;
// use WaitUntilDone's ctx cancellation for that case instead.
func (c *Controller) Stop() error {
	if _, err := c.conn.Write([]byte(string(Abort) + "\n")); err != nil {
		return &SerialError{Op: "write abort", Err: err}
	}
	if _, err := c.readUntilPrompt(); err != nil {
		return err
	}
	time.Sleep(settleDelay)
	return c.assertEmptyBuffer()
}

// Close releases the underlying serial connection.
func (c *Controller) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Controller) readUntilPrompt() (string, error) {
	line, err := c.bufr.ReadString(readyPrompt)
	if err != nil {
		return "", &SerialError{Op: "read until ready prompt", Err: err}
	}
	return line[:len(line)-1], nil
}

// assertEmptyBuffer verifies there is no stray device output left over
// from a previous, desynchronised exchange. It only inspects bytes
// bufio has already pulled off the wire: the underlying serial read is
// blocking, so there is no safe way to additionally poll for bytes that
// have not arrived yet without risking a second, concurrent reader on
// c.bufr racing a subsequent readUntilPrompt call.
func (c *Controller) assertEmptyBuffer() error {
	n := c.bufr.Buffered()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	io.ReadFull(c.bufr, buf)
	return &UnexpectedOutputError{Buffered: string(buf)}
}
