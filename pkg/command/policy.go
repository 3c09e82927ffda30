package command

import (
	"fmt"
	"path/filepath"

	"github.com/kballard/go-shellquote"
)

// Policy restricts which binaries hook commands may invoke.
// An empty allowlist permits everything.
type Policy struct {
	Allowed []string
}

// Check tokenizes the command the way the shell would and matches the
// basename of its first token against the allowlist. Violations are
// reported before anything is executed.
func (p *Policy) Check(command string) error {
	if p == nil || len(p.Allowed) == 0 {
		return nil
	}

	tokens, err := shellquote.Split(command)
	if err != nil {
		return fmt.Errorf("parse command: %s", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("refusing to run an empty command")
	}

	binary := filepath.Base(tokens[0])
	for _, allowed := range p.Allowed {
		if binary == allowed {
			return nil
		}
	}

	return fmt.Errorf("command %q is not permitted by this host's hook policy", binary)
}
