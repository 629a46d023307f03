// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package subproc manages a child process whose standard input and
// output serve as the two halves of an RPC channel.
//
// The package does not interpret the bytes exchanged with the child;
// it only owns the process handle and the pipes, and guarantees that
// the child is reaped when the process is closed.
package subproc

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
)

// killDelay is the grace period between closing the child's stdin and
// forcibly killing the process.
const killDelay = 1 * time.Second

// A Proc is a running child process together with the pipes attached
// to its standard input and output. The child's standard error is
// inherited from the parent.
type Proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	tasks   *taskgroup.Group
	done    chan struct{} // closed once the child has been reaped
	waitErr error         // valid after done is closed

	closeOnce sync.Once
}

// Spawn starts exe with the given arguments and returns its process
// handle. Writes to [Proc.Stdin] are delivered to the child's standard
// input; the child's standard output is readable from [Proc.Stdout].
func Spawn(exe string, args ...string) (*Proc, error) {
	cmd := exec.Command(exe, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Proc{cmd: cmd, stdin: stdin, stdout: stdout, done: make(chan struct{})}
	p.tasks = taskgroup.New(nil)
	p.tasks.Go(func() error {
		p.waitErr = cmd.Wait()
		close(p.done)
		return nil
	})
	return p, nil
}

// Stdin returns the write half of the child's standard input. Writes
// are unbuffered: each write is delivered to the child immediately.
func (p *Proc) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read half of the child's standard output.
func (p *Proc) Stdout() io.Reader { return p.stdout }

// Close closes the child's standard input, signalling EOF, and waits
// for the child to exit. If the child has not exited within a grace
// period it is forcibly killed. Close is idempotent and always
// returns nil.
func (p *Proc) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(killDelay):
			p.cmd.Process.Kill()
			<-p.done
		}
		p.tasks.Wait()
	})
	return nil
}

// Wait blocks until the child has exited and reports its exit status.
// Unlike [Proc.Close] it does not prompt the child to exit.
func (p *Proc) Wait() error {
	<-p.done
	return p.waitErr
}
