package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/tui"
)

// prompter asks the user to pick one of the offered actions.
type prompter struct {
	in       *bufio.Reader
	out      io.Writer
	renderer *tui.Renderer
}

func newPrompter(in io.Reader, out io.Writer, renderer *tui.Renderer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, renderer: renderer}
}

// Choose lists the actions and reads a choice by number or id until one
// matches. "q" or end of input returns an empty id.
func (p *prompter) Choose(actions []core.UserAction) (string, error) {
	fmt.Fprint(p.out, "\n"+p.renderer.Actions(actions))
	for {
		fmt.Fprint(p.out, "Choose an action (q to leave it paused): ")
		line, err := p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading choice: %w", err)
		}
		answer := strings.TrimSpace(line)
		if answer == "q" || (answer == "" && errors.Is(err, io.EOF)) {
			fmt.Fprintln(p.out)
			return "", nil
		}
		if id, ok := matchAction(actions, answer); ok {
			return id, nil
		}
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		fmt.Fprintf(p.out, "Unknown choice %q\n", answer)
	}
}

func matchAction(actions []core.UserAction, answer string) (string, bool) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(actions) {
			return actions[n-1].ID, true
		}
		return "", false
	}
	for _, a := range actions {
		if strings.EqualFold(a.ID, answer) {
			return a.ID, true
		}
	}
	return "", false
}
