// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// ErrPromptCancelled is returned when the user aborts a prompt.
var ErrPromptCancelled = errors.New("cancelled")

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin

	stdinReader *bufio.Reader
)

// readLine reads one line from stdin without a terminal.
func readLine() (string, error) {
	if stdinReader == nil {
		stdinReader = bufio.NewReader(stdin)
	}
	line, err := stdinReader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptUsername asks for a username with line editing on a terminal.
func promptUsername() (string, error) {
	if !IsTTY() {
		return readLine()
	}
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	name, err := line.Prompt("Username: ")
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrPromptCancelled
	}
	return strings.TrimSpace(name), err
}

// readPassword reads a password without echo on a terminal, or one line of
// stdin otherwise.
func readPassword(prompt string) (string, error) {
	if !IsTTY() {
		return readLine()
	}
	fmt.Fprint(stderr, prompt)
	b, err := term.ReadPassword(int(stdin.(*os.File).Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
