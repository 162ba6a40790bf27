package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// YesOrNo asks question and returns Yes or No. No is the default.
func YesOrNo(question string) (string, error) {
	rl, err := readline.New(question + " [y/N]: ")
	if err != nil {
		return "", err
	}
	defer rl.Close()
	response, err := rl.Readline()
	if err != nil {
		return "", err
	}
	if strings.ToLower(strings.TrimSpace(response)) == Yes {
		return Yes, nil
	}
	return No, nil
}

// NewShell returns a line editor with history and completion of the given
// commands.
func NewShell(prompt, historyFile string, commands ...string) (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}
