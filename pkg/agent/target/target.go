package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"

	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
)

var ErrNotFound = fmt.Errorf("no target configured for repository")

func IsErrNotFound(err error) bool {
	return err == ErrNotFound
}

// Target is a deployment destination. Inbound requests claiming its
// repository are authenticated against the shared key and materialized
// into releases under the base directory.
type Target struct {
	Repository    string     `json:"repository"`
	Key           api_v1.Key `json:"key"`
	BaseDirectory string     `json:"baseDirectory"`
}

func (t Target) Validate() error {
	if len(t.Repository) == 0 {
		return fmt.Errorf("target is missing a repository")
	}
	if len(t.Key) == 0 {
		return fmt.Errorf("target %q is missing a key", t.Repository)
	}
	if !filepath.IsAbs(t.BaseDirectory) {
		return fmt.Errorf("target %q: base directory must be an absolute path", t.Repository)
	}
	return nil
}

// Table is the set of configured targets, keyed by lower-cased
// repository id. It is built once at process start and treated as
// read-only afterwards.
type Table struct {
	targets map[string]Target
}

func NewTable(targets []Target) (*Table, error) {
	table := &Table{
		targets: make(map[string]Target, len(targets)),
	}

	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		id := strings.ToLower(t.Repository)
		if _, dup := table.targets[id]; dup {
			return nil, fmt.Errorf("duplicate target for repository %q", t.Repository)
		}
		table.targets[id] = t
	}

	return table, nil
}

// Load reads target definitions from a YAML or JSON file. Keys are
// written as hex strings and decoded here.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	targets := make([]Target, 0)
	err = yaml.Unmarshal(data, &targets)
	if err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	return NewTable(targets)
}

// Lookup resolves the repository id claimed by a request. Matching is
// case-insensitive.
func (t *Table) Lookup(repository string) (Target, error) {
	tgt, ok := t.targets[strings.ToLower(repository)]
	if !ok {
		return Target{}, ErrNotFound
	}
	return tgt, nil
}

func (t *Table) Len() int {
	return len(t.targets)
}
