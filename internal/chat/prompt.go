package chat

import (
	"errors"
	"io"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// Prompter reads the next line of user input. It returns io.EOF when the
// user ends the session with Ctrl-C or Ctrl-D.
type Prompter interface {
	Ask() (string, error)
}

// SurveyPrompter reads questions from the terminal.
type SurveyPrompter struct{}

func (SurveyPrompter) Ask() (string, error) {
	var line string
	prompt := &survey.Input{
		Message: "🤔 Your Question:",
		Help:    "Ask about share prices, financial performance or business updates. Type 'help' for examples, 'exit' to quit.",
	}
	err := survey.AskOne(prompt, &line)
	if errors.Is(err, terminal.InterruptErr) || errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	return line, nil
}
