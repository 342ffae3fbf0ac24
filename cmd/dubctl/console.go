// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"io"
	"sync"
)

// console serialises stderr between the progress goroutine and the command.
// On a terminal the progress line is rewritten in place and terminated before
// any other message is printed.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	tty  bool
	open bool
	last string
}

func newConsole(w io.Writer) *console {
	return &console{w: w, tty: isTerminal(w)}
}

// progress shows line unless it repeats the previous one.
func (c *console) progress(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line == "" || line == c.last {
		return
	}
	c.last = line
	if c.tty {
		fmt.Fprintf(c.w, "\r\033[K%s", line)
		c.open = true
		return
	}
	fmt.Fprintln(c.w, line)
}

// printf writes a message below the current progress line.
func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
	fmt.Fprintf(c.w, format, args...)
}

// finish terminates an open progress line.
func (c *console) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
}

func (c *console) endLineLocked() {
	if c.open {
		fmt.Fprintln(c.w)
		c.open = false
	}
}
