package release

import (
	"fmt"
	"os"
	"path/filepath"
)

// LinkShared symlinks the declared persistent resources from the shared
// tree into a release. Link targets are absolute paths under sharedDir
// and are not checked for existence: a missing shared resource surfaces
// when the application first touches the link, not here.
func LinkShared(shared *SharedResources, releaseDir, sharedDir string) error {
	if shared == nil {
		return nil
	}

	for _, p := range shared.Files {
		if err := link(releaseDir, sharedDir, p); err != nil {
			return fmt.Errorf("link shared file %s: %w", p, err)
		}
	}
	for _, p := range shared.Dirs {
		if err := link(releaseDir, sharedDir, p); err != nil {
			return fmt.Errorf("link shared directory %s: %w", p, err)
		}
	}

	return nil
}

func link(releaseDir, sharedDir, relpath string) error {
	linkPath := filepath.Join(releaseDir, relpath)

	err := os.MkdirAll(filepath.Dir(linkPath), 0o755)
	if err != nil {
		return err
	}

	return os.Symlink(filepath.Join(sharedDir, relpath), linkPath)
}
