package release

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/command"
)

// ManifestFilename is the per-release deploy manifest. It is consumed
// before any other step so it never appears in the published tree.
// Parsed through ghodss/yaml, so operators may write YAML or JSON.
const ManifestFilename = ".deploy.yml"

type SharedResources struct {
	Files []string `json:"files,omitempty"`
	Dirs  []string `json:"dirs,omitempty"`
}

type Manifest struct {
	Shared      *SharedResources `json:"shared,omitempty"`
	PrePublish  []command.Spec   `json:"prePublish,omitempty"`
	PostPublish []command.Spec   `json:"postPublish,omitempty"`
}

// ConsumeManifest reads the manifest at the release root, deletes it,
// then parses and validates it, in that order: the file is gone even
// when its contents turn out to be invalid. A missing manifest is not
// an error and yields nil.
func ConsumeManifest(releaseDir string) (*Manifest, error) {
	path := filepath.Join(releaseDir, ManifestFilename)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	err = os.Remove(path)
	if err != nil {
		return nil, fmt.Errorf("consume manifest: %w", err)
	}

	manifest := &Manifest{}
	err = yaml.Unmarshal(data, manifest)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	err = manifest.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return manifest, nil
}

func (m *Manifest) Validate() error {
	if m.Shared != nil {
		for _, p := range m.Shared.Files {
			if err := validateRelativePath(p); err != nil {
				return fmt.Errorf("shared file %q: %w", p, err)
			}
		}
		for _, p := range m.Shared.Dirs {
			if err := validateRelativePath(p); err != nil {
				return fmt.Errorf("shared directory %q: %w", p, err)
			}
		}
	}

	hooks := make([]command.Spec, 0, len(m.PrePublish)+len(m.PostPublish))
	hooks = append(hooks, m.PrePublish...)
	hooks = append(hooks, m.PostPublish...)
	for _, spec := range hooks {
		if len(spec.Command) == 0 {
			return fmt.Errorf("publish hook with empty command")
		}
		if len(spec.Cwd) > 0 {
			if err := validateRelativePath(spec.Cwd); err != nil {
				return fmt.Errorf("hook cwd %q: %w", spec.Cwd, err)
			}
		}
	}

	return nil
}

// validateRelativePath accepts relative paths that stay inside the
// directory they are resolved against.
func validateRelativePath(p string) error {
	if len(p) == 0 {
		return fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("path must be relative")
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes its base directory")
	}
	return nil
}
