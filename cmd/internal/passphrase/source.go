package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmed prompt receives two different
// entries.
var ErrMismatch = errors.New("passphrases do not match")

// Prompter reads one secret after printing label.
type Prompter func(label string) (string, error)

// Source resolves the settlement signer's keystore passphrase from an
// environment variable or a terminal prompt. The first result is cached.
type Source struct {
	envVar  string
	confirm bool
	prompt  Prompter

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice when prompting. Used when a
// new keystore is written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithPrompter replaces the terminal prompt.
func WithPrompter(p Prompter) Option {
	return func(s *Source) {
		if p != nil {
			s.prompt = p
		}
	}
}

// NewSource checks envVar before prompting.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{envVar: strings.TrimSpace(envVar), prompt: terminalPrompt}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. A set environment variable is used verbatim;
// otherwise the operator is prompted. Blank passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	first, err := s.prompt("Enter signer keystore passphrase: ")
	if err != nil {
		return "", s.promptError(err)
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("signer keystore passphrase cannot be empty")
	}
	if s.confirm {
		second, err := s.prompt("Repeat signer keystore passphrase: ")
		if err != nil {
			return "", s.promptError(err)
		}
		if second != first {
			return "", ErrMismatch
		}
	}
	return first, nil
}

var errNoTerminal = errors.New("no terminal available")

func (s *Source) promptError(err error) error {
	if !errors.Is(err, errNoTerminal) {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if s.envVar != "" {
		return fmt.Errorf("signer keystore passphrase required; set %s or run interactively", s.envVar)
	}
	return errors.New("signer keystore passphrase required and no terminal available")
}

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
