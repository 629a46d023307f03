// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package subproc_test

import (
	"bufio"
	"io"
	"os/exec"
	"testing"

	"github.com/creachadair/syncrpc/subproc"
	"github.com/fortytw2/leaktest"
)

func TestSpawnFailure(t *testing.T) {
	defer leaktest.Check(t)()

	p, err := subproc.Spawn("/definitely/not/a/real/binary")
	if err == nil {
		p.Close()
		t.Fatal("Spawn: expected error for nonexistent executable")
	}
	t.Logf("Spawn correctly failed: %v", err)
}

// mustCat spawns the system "cat" utility, which echoes its input and
// exits cleanly at EOF, making it a convenient stand-in child.
func mustCat(t *testing.T) *subproc.Proc {
	t.Helper()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skipf("Skipping test: %v", err)
	}
	p, err := subproc.Spawn("cat")
	if err != nil {
		t.Fatalf("Spawn cat: unexpected error: %v", err)
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	p := mustCat(t)
	defer p.Close()

	const input = "binary \x00 and newline \n safe"
	if _, err := io.WriteString(p.Stdin(), input); err != nil {
		t.Fatalf("Write: unexpected error: %v", err)
	}
	buf := make([]byte, len(input))
	if _, err := io.ReadFull(bufio.NewReader(p.Stdout()), buf); err != nil {
		t.Fatalf("Read: unexpected error: %v", err)
	}
	if string(buf) != input {
		t.Errorf("Read: got %q, want %q", buf, input)
	}
}

func TestCloseIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	p := mustCat(t)
	for range 3 {
		if err := p.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait: unexpected exit status: %v", err)
	}
}

func TestCloseReaps(t *testing.T) {
	defer leaktest.Check(t)()

	p := mustCat(t)
	if err := p.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}

	// After Close the pipes are dead: reads report EOF or an error.
	if n, err := p.Stdout().Read(make([]byte, 1)); err == nil {
		t.Errorf("Read after close: got %d bytes, want error", n)
	}
}
