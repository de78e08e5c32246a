package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// prompter reads answers from in and writes prompts to out. Passwords are
// read without echo when stdin is a terminal.
type prompter struct {
	in       *bufio.Reader
	out      io.Writer
	fd       int
	terminal bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
		p.terminal = term.IsTerminal(p.fd)
	}
	return p
}

// line prints prompt and returns the next trimmed line. A final line without
// a newline is still returned.
func (p *prompter) line(prompt string) (string, error) {
	if prompt != "" {
		if _, err := fmt.Fprint(p.out, prompt); err != nil {
			return "", err
		}
	}
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(s) > 0 {
			return strings.TrimSpace(s), nil
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// lineDefault is line with a current value kept when the answer is empty.
func (p *prompter) lineDefault(prompt, current string) (string, error) {
	if current != "" {
		prompt = fmt.Sprintf("%s [%s]", strings.TrimSuffix(prompt, ": "), current) + ": "
	}
	s, err := p.line(prompt)
	if err != nil {
		return "", err
	}
	if s == "" {
		return current, nil
	}
	return s, nil
}

func (p *prompter) password(prompt string) (string, error) {
	if !p.terminal {
		// Piped input keeps surrounding spaces; they may be part of the password.
		if _, err := fmt.Fprint(p.out, prompt); err != nil {
			return "", err
		}
		s, err := p.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(s) > 0) {
			return "", err
		}
		return strings.TrimRight(s, "\r\n"), nil
	}
	if _, err := fmt.Fprint(p.out, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// newPassword asks for a password twice.
func (p *prompter) newPassword(prompt string) (string, error) {
	pw, err := p.password(prompt)
	if err != nil {
		return "", err
	}
	again, err := p.password("Confirm: ")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}
