package migrate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cqldef/cqldef/database"
	"golang.org/x/term"
)

// ConfirmationProvider answers the questions asked before destructive
// changes. Only "y" (in any case) approves.
type ConfirmationProvider interface {
	Confirm(prompt string) (string, error)
}

func approved(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

type AlwaysApprove struct{}

func (AlwaysApprove) Confirm(string) (string, error) { return "y", nil }

type AlwaysReject struct{}

func (AlwaysReject) Confirm(string) (string, error) { return "n", nil }

// Prompt asks on Out and reads one line per question from In.
type Prompt struct {
	In  io.Reader
	Out io.Writer

	once    sync.Once
	scanner *bufio.Scanner
}

func (p *Prompt) Confirm(prompt string) (string, error) {
	p.once.Do(func() { p.scanner = bufio.NewScanner(p.In) })
	fmt.Fprint(p.Out, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

// Scripted replays canned answers and records the prompts it was asked.
// Once the answers run out every further question is declined.
type Scripted struct {
	Answers []string
	Prompts []string
}

func (s *Scripted) Confirm(prompt string) (string, error) {
	s.Prompts = append(s.Prompts, prompt)
	if len(s.Prompts) > len(s.Answers) {
		return "n", nil
	}
	return s.Answers[len(s.Prompts)-1], nil
}

// NewConfirmationProvider selects the provider for a run: disabled
// confirmation approves everything, a terminal on stdin gets an interactive
// prompt, and anything else is declined.
func NewConfirmationProvider(config database.GeneratorConfig) ConfirmationProvider {
	if config.DisableConfirmation {
		return AlwaysApprove{}
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return &Prompt{In: os.Stdin, Out: os.Stderr}
	}
	return AlwaysReject{}
}
