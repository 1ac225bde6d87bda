package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%sstdin is not a terminal", prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

// promptNewSecret asks twice and requires both entries to agree.
func promptNewSecret(prompt string) (string, error) {
	first, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("empty input")
	}
	second, err := promptSecret("Repeat " + prompt)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("entries do not match")
	}
	return first, nil
}
