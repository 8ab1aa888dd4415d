// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user for input.
type Prompter interface {
	// Line reads a visible line.
	Line(prompt string) (string, error)
	// Secret reads a line without echo when attached to a terminal.
	Secret(prompt string) (string, error)
	// Interactive reports whether a human can answer retries.
	Interactive() bool
}

type termPrompter struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	isTerm bool
}

func newTermPrompter(in io.Reader, out io.Writer) *termPrompter {
	p := &termPrompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
		p.isTerm = term.IsTerminal(p.fd)
	}
	return p
}

func (p *termPrompter) Line(prompt string) (string, error) {
	if p.isTerm {
		_, _ = fmt.Fprint(p.out, prompt)
	}
	return readLine(p.in)
}

func (p *termPrompter) Secret(prompt string) (string, error) {
	if !p.isTerm {
		return readLine(p.in)
	}
	_, _ = fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(p.fd)
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func (p *termPrompter) Interactive() bool { return p.isTerm }

// readLine returns one line without its terminator. EOF after a partial
// line is not an error.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
