package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptConfirm asks a yes/no question and reads the answer from in.
// Anything but "y" or "yes" counts as no.
func PromptConfirm(in io.Reader, message string) bool {
	fmt.Printf("? %s [y/N]: ", message)

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// IsInteractive returns true if stdin is a terminal and --yes flag is not set
func IsInteractive() bool {
	if IsYesMode() {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsTerminalOutput reports whether stderr, where logs go, is a terminal
func IsTerminalOutput() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
