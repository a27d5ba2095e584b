package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Prompt seams, replaced in tests.
//
//nolint:gochecknoglobals // tests swap interactive prompts
var (
	promptCodeFn    = promptCode
	promptConfirmFn = promptConfirmation
)

// out writes formatted output, ignoring write errors.
func out(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// outln writes a line, ignoring write errors.
func outln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

// promptSecret prompts for input with echo disabled.
func promptSecret(prompt string) (string, error) {
	out(os.Stderr, "%s", prompt)

	value, err := term.ReadPassword(syscall.Stdin)
	outln(os.Stderr) // newline after hidden input

	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}

// promptLine reads one line from r. Piped input is accepted, which the
// hidden prompt cannot do.
func promptLine(r io.Reader, prompt string) (string, error) {
	out(os.Stderr, "%s", prompt)

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", tserr.WithSuggestion(tserr.ErrUserCancelled, "no input provided")
	}
	return strings.TrimSpace(line), nil
}

// promptCode asks for a one-time code. An empty answer cancels.
func promptCode(destination string) (string, error) {
	prompt := fmt.Sprintf("Enter the code sent to %s: ", destination)

	var (
		code string
		err  error
	)
	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		code, err = promptSecret(prompt)
	} else {
		code, err = promptLine(os.Stdin, prompt)
	}
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", tserr.ErrUserCancelled
	}
	return code, nil
}

// promptConfirmation asks a yes/no question. Anything but yes is no.
func promptConfirmation(r io.Reader, question string) bool {
	answer, err := promptLine(r, question+" [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
