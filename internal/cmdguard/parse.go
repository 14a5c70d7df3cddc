package cmdguard

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"

	"warden/internal/security"
)

var shellOperators = map[string]struct{}{
	";": {}, "&": {}, "&&": {}, "|": {}, "||": {}, ">": {}, ">>": {}, "<": {}, "<<": {},
}

// ParseCommandLine splits a command string into argv. Anything a shell
// would interpret (operators, substitution, redirection) is rejected since
// no shell ever sees the line.
func ParseCommandLine(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("command string is empty")
	}
	// Checked on the raw line so the parser never sees a substitution.
	if strings.Contains(line, "$(") || strings.ContainsRune(line, '`') {
		return nil, security.NewError(security.ShellInterpreterBlocked, line, "command substitution is not supported")
	}

	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	args, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if p.Position >= 0 {
		return nil, security.NewError(security.ShellInterpreterBlocked, line, "shell operators are not supported")
	}
	for _, arg := range args {
		if _, ok := shellOperators[arg]; ok {
			return nil, security.NewError(security.ShellInterpreterBlocked, line, "shell operators are not supported")
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments parsed from command string")
	}
	return args, nil
}
